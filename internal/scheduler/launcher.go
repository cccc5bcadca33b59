package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"
)

// defaultWaitDelay — сколько ждать дочерний процесс после SIGTERM.
const defaultWaitDelay = 30 * time.Second

// ProcessLauncher запускает оркестратор в отдельном процессе.
//
// Дочерний процесс изолирует состояние и память run от долгоживущего
// планировщика. Успехом считается только код выхода 0.
type ProcessLauncher struct {
	command   []string
	dir       string
	stdout    io.Writer
	stderr    io.Writer
	waitDelay time.Duration
	logger    *slog.Logger
}

// LauncherConfig — конфигурация ProcessLauncher.
type LauncherConfig struct {
	// Command — argv дочернего процесса.
	Command []string

	// Dir — рабочий каталог (по умолчанию — текущий).
	Dir string

	// Stdout/Stderr — куда направлять вывод (по умолчанию — вывод планировщика).
	Stdout io.Writer
	Stderr io.Writer

	// WaitDelay — ожидание после SIGTERM до SIGKILL при остановке.
	WaitDelay time.Duration

	Logger *slog.Logger
}

// NewProcessLauncher создаёт ProcessLauncher.
func NewProcessLauncher(cfg LauncherConfig) (*ProcessLauncher, error) {
	if len(cfg.Command) == 0 || cfg.Command[0] == "" {
		return nil, fmt.Errorf("%w: empty command", ErrLaunchFailed)
	}

	stdout := cfg.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := cfg.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	waitDelay := cfg.WaitDelay
	if waitDelay <= 0 {
		waitDelay = defaultWaitDelay
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &ProcessLauncher{
		command:   cfg.Command,
		dir:       cfg.Dir,
		stdout:    stdout,
		stderr:    stderr,
		waitDelay: waitDelay,
		logger:    logger,
	}, nil
}

// DefaultCommand возвращает команду запуска run: бинарь nightly рядом
// с текущим исполняемым файлом (или из PATH), без собственной блокировки.
func DefaultCommand(configPath string) []string {
	bin := "nightly"
	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), "nightly")
		if _, err := os.Stat(candidate); err == nil {
			bin = candidate
		}
	}
	return []string{bin, "run", "--no-lock", "--config", configPath}
}

// Launch запускает процесс и ждёт его завершения.
// Возвращает nil только при коде выхода 0.
func (l *ProcessLauncher) Launch(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, l.command[0], l.command[1:]...)
	cmd.Dir = l.dir
	cmd.Stdout = l.stdout
	cmd.Stderr = l.stderr
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = l.waitDelay

	start := time.Now()
	l.logger.Info("launching pipeline process", "command", l.command)

	err := cmd.Run()
	duration := time.Since(start)

	if err == nil {
		l.logger.Info("pipeline process finished", "exit_code", 0, "duration", duration)
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Errorf("%w: exit code %d after %s", ErrLaunchFailed, exitErr.ExitCode(), duration.Round(time.Second))
	}
	return fmt.Errorf("%w: %w", ErrLaunchFailed, err)
}
