package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/shaiso/Nightly/internal/config"
	"github.com/shaiso/Nightly/internal/domain"
	"github.com/shaiso/Nightly/internal/steps"
	"github.com/shaiso/Nightly/internal/telemetry"
)

// StepRunner выполняет один шаг с retry по фиксированному расписанию backoff.
//
// StepRunner не хранит состояния между вызовами Run, поэтому
// один экземпляр обслуживает все шаги run.
type StepRunner struct {
	maxRetries int
	backoff    []time.Duration

	logger *slog.Logger
	errors *telemetry.ErrorChannel

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// Config — конфигурация StepRunner.
type Config struct {
	// Retry — максимум попыток и расписание пауз.
	Retry config.RetryConfig

	// Logger — основной лог.
	Logger *slog.Logger

	// Errors — канал ошибок. Если nil — ошибки пишутся в Logger.
	Errors *telemetry.ErrorChannel

	// Sleep — пауза между попытками (для тестов). По умолчанию учитывает ctx.
	Sleep func(ctx context.Context, d time.Duration) error

	// Now — источник времени (для тестов).
	Now func() time.Time
}

// New создаёт StepRunner.
func New(cfg Config) *StepRunner {
	maxRetries := cfg.Retry.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	errs := cfg.Errors
	if errs == nil {
		errs = telemetry.NewErrorChannel(logger)
	}

	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	backoff := make([]time.Duration, len(cfg.Retry.Backoff))
	copy(backoff, cfg.Retry.Backoff)

	return &StepRunner{
		maxRetries: maxRetries,
		backoff:    backoff,
		logger:     logger,
		errors:     errs,
		sleep:      sleep,
		now:        now,
	}
}

// Run выполняет шаг до первого успеха или до исчерпания попыток.
//
// RetryAttempts в результате — число неудачных попыток:
// 0 при успехе с первого раза, max_retries при окончательном провале.
// Если ctx отменён во время паузы, шаг считается упавшим
// с фактическим числом попыток.
func (r *StepRunner) Run(ctx context.Context, step steps.Step) domain.StepOutcome {
	name := step.Name()
	logger := telemetry.WithStep(r.logger, name)

	ctx, span := telemetry.Tracer("worker").Start(ctx, "step "+name)
	defer span.End()

	start := r.now()
	attempts := 0

	var lastErr error
	for {
		logger.Info("step attempt started", "attempt", attempts+1, "max_retries", r.maxRetries)

		lastErr = r.attempt(ctx, step)
		telemetry.RecordStepAttempt(name, lastErr == nil)

		if lastErr == nil {
			break
		}

		attempts++
		r.errors.Error("step attempt failed",
			"step", name,
			"attempt", attempts,
			"max_retries", r.maxRetries,
			"error", lastErr,
		)

		if attempts >= r.maxRetries {
			r.errors.Error("step failed",
				"step", name,
				"error", fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, attempts, lastErr),
			)
			break
		}

		delay := r.delay(attempts)
		logger.Warn("retrying step", "attempt", attempts, "delay", delay)

		if err := r.sleep(ctx, delay); err != nil {
			lastErr = fmt.Errorf("%w: %v", steps.ErrStepCancelled, err)
			r.errors.Error("step cancelled during backoff",
				"step", name,
				"attempt", attempts,
				"error", err,
			)
			break
		}
	}

	outcome := domain.StepOutcome{
		Status:        domain.StepStatusSuccess,
		Duration:      r.now().Sub(start),
		RetryAttempts: attempts,
	}
	if lastErr != nil {
		outcome.Status = domain.StepStatusFailed
		outcome.ErrorMessage = lastErr.Error()
		telemetry.SetSpanError(span, lastErr, attribute.String(telemetry.StepNameKey, name))
	}

	span.SetAttributes(
		attribute.String(telemetry.StepNameKey, name),
		attribute.Int(telemetry.AttemptsKey, attempts),
	)
	telemetry.RecordStepOutcome(name, string(outcome.Status), outcome.Duration)

	logger.Info("step finished",
		"status", outcome.Status,
		"retry_attempts", outcome.RetryAttempts,
		"duration", outcome.Duration,
	)

	return outcome
}

// attempt выполняет одну попытку, превращая панику в ошибку.
func (r *StepRunner) attempt(ctx context.Context, step steps.Step) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrStepPanicked, p)
			r.errors.Error("step panicked",
				"step", step.Name(),
				"panic", fmt.Sprint(p),
				"stack", string(debug.Stack()),
			)
		}
	}()
	return step.Run(ctx)
}

// delay возвращает паузу после attempts неудачных попыток.
// Если расписание короче, повторяется последний элемент.
func (r *StepRunner) delay(attempts int) time.Duration {
	return backoffFor(r.backoff, attempts)
}

func backoffFor(schedule []time.Duration, attempts int) time.Duration {
	if len(schedule) == 0 || attempts <= 0 {
		return 0
	}
	idx := attempts - 1
	if idx >= len(schedule) {
		idx = len(schedule) - 1
	}
	return schedule[idx]
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

