package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/shaiso/Nightly/internal/domain"
	"github.com/shaiso/Nightly/internal/steps"
	"github.com/shaiso/Nightly/internal/telemetry"
)

const (
	// publishTimeout — ограничение на публикацию события после run.
	publishTimeout = 5 * time.Second

	// maxRunIDSeq — сколько run, стартовавших в одну секунду, различаются суффиксом.
	maxRunIDSeq = 100
)

// StepRunner выполняет шаг с retry.
type StepRunner interface {
	Run(ctx context.Context, step steps.Step) domain.StepOutcome
}

// ReportSaver сохраняет финализированный отчёт.
type ReportSaver interface {
	SaveRun(ctx context.Context, r *domain.RunReport) error
}

// Publisher публикует событие о завершении run.
type Publisher interface {
	PublishRunFinished(ctx context.Context, r *domain.RunReport) error
}

// Orchestrator выполняет шаги pipeline строго последовательно.
type Orchestrator struct {
	runner    StepRunner
	store     ReportSaver
	publisher Publisher

	logger *slog.Logger
	errors *telemetry.ErrorChannel
	now    func() time.Time
}

// Config — конфигурация Orchestrator.
type Config struct {
	Runner StepRunner
	Store  ReportSaver

	// Publisher (опционально; nil — события не публикуются)
	Publisher Publisher

	Logger *slog.Logger
	Errors *telemetry.ErrorChannel

	// Now — источник времени (для тестов).
	Now func() time.Time
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	errs := cfg.Errors
	if errs == nil {
		errs = telemetry.NewErrorChannel(logger)
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Orchestrator{
		runner:    cfg.Runner,
		store:     cfg.Store,
		publisher: cfg.Publisher,
		logger:    logger,
		errors:    errs,
		now:       now,
	}
}

// Execute выполняет pipeline и возвращает финализированный отчёт.
//
// Ошибка возвращается, если run завершился failed (ErrRunFailed)
// или отчёт не удалось сохранить. Отчёт возвращается в обоих случаях.
func (o *Orchestrator) Execute(ctx context.Context, pipeline []steps.Step) (report *domain.RunReport, err error) {
	if len(pipeline) == 0 {
		return nil, ErrNoSteps
	}
	if err := checkNames(pipeline); err != nil {
		return nil, err
	}

	report = domain.NewRunReport(o.now())
	logger := telemetry.WithRunID(o.logger, report.RunID)

	ctx, span := telemetry.Tracer("orchestrator").Start(ctx, "pipeline run")
	span.SetAttributes(attribute.String(telemetry.RunIDKey, report.RunID))
	defer span.End()

	logger.Info("pipeline run started", "steps", strings.Join(steps.Names(pipeline), ","))

	defer func() {
		if p := recover(); p != nil {
			report.AddError(fmt.Sprintf("orchestrator panic: %v", p))
			o.errors.Error("orchestrator panic", "run_id", report.RunID, "panic", fmt.Sprint(p))
		}
		err = o.finish(ctx, logger, report)
		span.SetAttributes(attribute.String(telemetry.RunStatus, string(report.Status)))
		if err != nil {
			telemetry.SetSpanError(span, err)
		}
	}()

	for _, step := range pipeline {
		name := step.Name()

		if ctxErr := ctx.Err(); ctxErr != nil {
			report.AddError(fmt.Sprintf("run cancelled before %s: %v", name, ctxErr))
			break
		}

		outcome := o.runner.Run(ctx, step)
		if recErr := report.RecordStep(name, outcome); recErr != nil {
			report.AddError(recErr.Error())
			break
		}

		if outcome.IsFailed() {
			report.AddError(fmt.Sprintf("%s failed: %s", name, outcome.ErrorMessage))
			logger.Error("step failed, stopping pipeline",
				"step", name,
				"retry_attempts", outcome.RetryAttempts,
				"error", outcome.ErrorMessage,
			)
			break
		}

		if outcome.RetryAttempts > 0 {
			report.AddWarning(fmt.Sprintf("%s succeeded after %d retries", name, outcome.RetryAttempts))
		}
	}

	return report, nil
}

// finish финализирует, сохраняет и публикует отчёт. Вызывается ровно один раз.
func (o *Orchestrator) finish(ctx context.Context, logger *slog.Logger, report *domain.RunReport) error {
	if err := report.Finalize(o.now()); err != nil {
		return fmt.Errorf("finalize report: %w", err)
	}

	// отчёт сохраняется и при отменённом контексте
	ctx = context.WithoutCancel(ctx)

	telemetry.RecordRun(string(report.Status), report.LastActivity())

	logger.Info("pipeline run finished",
		"status", report.Status,
		"steps_executed", len(report.Steps),
		"duration", report.Duration(),
		"errors", len(report.Errors),
		"warnings", len(report.Warnings),
	)

	if o.store != nil {
		if err := o.save(ctx, logger, report); err != nil {
			o.errors.Error("failed to save run report", "run_id", report.RunID, "error", err)
			return fmt.Errorf("save run report: %w", err)
		}
	}

	if o.publisher != nil {
		pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		if err := o.publisher.PublishRunFinished(pubCtx, report); err != nil {
			// Не возвращаем ошибку — отчёт уже сохранён
			logger.Warn("failed to publish run.finished", "error", err)
		}
		cancel()
	}

	if report.Status == domain.RunStatusFailed {
		return fmt.Errorf("%w: %s", ErrRunFailed, strings.Join(report.Errors, "; "))
	}
	return nil
}

// save сохраняет отчёт. Если идентификатор уже занят run, стартовавшим
// в ту же секунду, отчёт получает следующий свободный суффикс _N.
func (o *Orchestrator) save(ctx context.Context, logger *slog.Logger, report *domain.RunReport) error {
	for seq := 2; ; seq++ {
		err := o.store.SaveRun(ctx, report)
		if !errors.Is(err, domain.ErrRunIDTaken) || seq > maxRunIDSeq {
			return err
		}

		id := domain.RunIDWithSeq(report.StartTime, seq)
		logger.Warn("run id already taken, renaming report", "taken", report.RunID, "new_run_id", id)
		report.RunID = id
	}
}

func checkNames(pipeline []steps.Step) error {
	seen := make(map[string]bool, len(pipeline))
	for _, s := range pipeline {
		if seen[s.Name()] {
			return fmt.Errorf("%w: %s", ErrDuplicateStep, s.Name())
		}
		seen[s.Name()] = true
	}
	return nil
}
