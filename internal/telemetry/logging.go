package telemetry

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// ErrorLogFile — имя файла отдельного канала ошибок.
const ErrorLogFile = "pipeline_errors.log"

// LogLevel определяет уровень логирования из переменной окружения.
// Возможные значения: DEBUG, INFO, WARN, ERROR
// По умолчанию: INFO
func LogLevel() slog.Level {
	level := os.Getenv("LOG_LEVEL")
	switch level {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupLogger инициализирует глобальный логгер.
//
// Формат вывода определяется переменной LOG_FORMAT:
//   - "json" (по умолчанию) — JSON формат для production
//   - "text" — человекочитаемый формат для разработки
func SetupLogger() *slog.Logger {
	logger := NewLogger(os.Stdout, os.Getenv("LOG_FORMAT"), LogLevel())
	slog.SetDefault(logger)
	return logger
}

// NewLogger создаёт логгер поверх w.
func NewLogger(w io.Writer, format string, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// ErrorChannel — отдельный канал ошибок с полной диагностикой.
//
// Пишет JSON в <log_dir>/pipeline_errors.log (append) и дублирует в stderr,
// не смешиваясь с основным информационным логом.
type ErrorChannel struct {
	*slog.Logger
	file *os.File
}

// OpenErrorChannel открывает канал ошибок в каталоге dir.
func OpenErrorChannel(dir string) (*ErrorChannel, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	path := filepath.Join(dir, ErrorLogFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open error log %q: %w", path, err)
	}

	handler := slog.NewJSONHandler(io.MultiWriter(f, os.Stderr), &slog.HandlerOptions{
		Level:     slog.LevelWarn,
		AddSource: true,
	})

	return &ErrorChannel{
		Logger: slog.New(handler).With("channel", "errors"),
		file:   f,
	}, nil
}

// NewErrorChannel оборачивает произвольный логгер (используется в тестах
// и когда файловый канал недоступен).
func NewErrorChannel(logger *slog.Logger) *ErrorChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &ErrorChannel{Logger: logger}
}

// Close закрывает файл канала.
func (c *ErrorChannel) Close() error {
	if c == nil || c.file == nil {
		return nil
	}
	return c.file.Close()
}

// WithRunID возвращает логгер с добавленным run_id.
func WithRunID(logger *slog.Logger, runID string) *slog.Logger {
	return logger.With("run_id", runID)
}

// WithStep возвращает логгер с добавленным именем шага.
func WithStep(logger *slog.Logger, step string) *slog.Logger {
	return logger.With("step", step)
}
