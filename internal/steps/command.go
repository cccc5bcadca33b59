package steps

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
)

const (
	// StepTypeCommand — шаг, запускающий внешний процесс.
	StepTypeCommand = "command"

	// outputTailSize — сколько последних байт вывода попадает в ошибку.
	outputTailSize = 2048
)

// CommandStep — шаг, выполняющий внешнюю команду.
//
// Конфигурация:
//
//	- name: data_generation
//	  type: command
//	  command: ["python", "scripts/generate.py"]
//	  dir: /opt/pipeline
//	  env: {BATCH_SIZE: "1000"}
//
// Ненулевой код выхода — ошибка шага. Хвост stdout/stderr
// включается в сообщение об ошибке.
type CommandStep struct {
	name string
	args []string
	dir  string
	env  map[string]string
}

// NewCommandStep создаёт CommandStep.
func NewCommandStep(name string, args []string, dir string, env map[string]string) (*CommandStep, error) {
	if len(args) == 0 || args[0] == "" {
		return nil, fmt.Errorf("%w: step %q: command is empty", ErrInvalidConfig, name)
	}
	return &CommandStep{
		name: name,
		args: args,
		dir:  dir,
		env:  env,
	}, nil
}

// Name возвращает имя шага.
func (s *CommandStep) Name() string {
	return s.name
}

// Run запускает команду и ждёт её завершения.
func (s *CommandStep) Run(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, s.args[0], s.args[1:]...)
	cmd.Dir = s.dir
	cmd.Env = mergeEnv(os.Environ(), s.env)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if err == nil {
		return nil
	}

	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ErrStepCancelled, ctx.Err())
	}

	tail := outputTail(out.Bytes())

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if tail == "" {
			return fmt.Errorf("exit status %d", exitErr.ExitCode())
		}
		return fmt.Errorf("exit status %d: %s", exitErr.ExitCode(), tail)
	}

	return fmt.Errorf("start %q: %w", s.args[0], err)
}

// mergeEnv дополняет окружение процесса переменными шага.
// Переменные шага перекрывают унаследованные.
func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}

	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(base)+len(extra))
	for _, kv := range base {
		name, _, _ := strings.Cut(kv, "=")
		if _, overridden := extra[name]; overridden {
			continue
		}
		env = append(env, kv)
	}
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}

func outputTail(b []byte) string {
	if len(b) > outputTailSize {
		b = b[len(b)-outputTailSize:]
	}
	return strings.TrimSpace(string(b))
}
