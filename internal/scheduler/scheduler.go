package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"

	"github.com/shaiso/Nightly/internal/lock"
	"github.com/shaiso/Nightly/internal/retention"
	"github.com/shaiso/Nightly/internal/telemetry"
)

// defaultPollInterval — интервал проверки расписания.
const defaultPollInterval = 60 * time.Second

// Результаты срабатывания (метка nightly_scheduler_triggers_total).
const (
	ResultSucceeded     = "succeeded"
	ResultFailed        = "failed"
	ResultSkippedLocked = "skipped_locked"
	ResultError         = "error"
)

// Launcher запускает run и ждёт его завершения.
type Launcher interface {
	Launch(ctx context.Context) error
}

// Cleaner выполняет очистку после успешного run.
type Cleaner interface {
	Sweep(ctx context.Context) (retention.Result, error)
}

// Scheduler — ежедневный триггер pipeline.
//
// Каждые poll_interval проверяет, наступило ли время запуска. При срабатывании:
// захватывает блокировку, запускает run в отдельном процессе, после кода
// выхода 0 запускает очистку и освобождает блокировку.
type Scheduler struct {
	schedule cron.Schedule
	loc      *time.Location

	lock     lock.Locker
	launcher Launcher
	cleaner  Cleaner

	pollInterval time.Duration
	logger       *slog.Logger
	clock        clockwork.Clock

	// mu сериализует Tick и Trigger.
	mu sync.Mutex

	// stateMu защищает поля для чтения снаружи (API) во время run.
	stateMu    sync.RWMutex
	nextDue    time.Time
	lastResult string
	lastAt     time.Time
}

// Config — конфигурация Scheduler.
type Config struct {
	Schedule cron.Schedule
	Location *time.Location

	Lock     lock.Locker
	Launcher Launcher

	// Cleaner (опционально; nil — очистка не выполняется)
	Cleaner Cleaner

	PollInterval time.Duration // интервал проверки (default: 60s)
	Logger       *slog.Logger

	// Clock (default: реальные часы)
	Clock clockwork.Clock
}

// New создаёт новый Scheduler.
func New(cfg Config) *Scheduler {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Scheduler{
		schedule:     cfg.Schedule,
		loc:          loc,
		lock:         cfg.Lock,
		launcher:     cfg.Launcher,
		cleaner:      cfg.Cleaner,
		pollInterval: pollInterval,
		logger:       logger,
		clock:        clock,
	}
}

// Run выполняет цикл планировщика до отмены ctx.
//
// Ошибка или паника тика логируется, цикл продолжается.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", "poll_interval", s.pollInterval)

	s.safeTick(ctx, s.clock.Now())

	tk := s.clock.NewTicker(s.pollInterval)
	defer tk.Stop()

	for {
		select {
		case <-tk.Chan():
			s.safeTick(ctx, s.clock.Now())
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		}
	}
}

func (s *Scheduler) safeTick(ctx context.Context, now time.Time) {
	defer func() {
		if p := recover(); p != nil {
			telemetry.RecordTrigger(ResultError)
			s.logger.Error("scheduler tick panicked",
				"panic", fmt.Sprint(p),
				"stack", string(debug.Stack()),
			)
		}
	}()

	if err := s.Tick(ctx, now); err != nil {
		s.logger.Error("scheduler tick failed", "error", err)
	}
}

// Tick проверяет расписание на момент now и при наступлении срока запускает run.
//
// Первый вызов только вычисляет ближайшее время запуска. Следующее время
// сдвигается вперёд до запуска, поэтому пропуск или провал не приводят
// к повторному срабатыванию на том же тике.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	due := s.NextDue()
	if due.IsZero() {
		next := s.setNextDue(now)
		s.logger.Info("next pipeline run scheduled", "next_due_at", next)
		return nil
	}

	if now.Before(due) {
		return nil
	}

	next := s.setNextDue(now)
	s.logger.Info("pipeline run due",
		"due_at", due,
		"next_due_at", next,
	)

	_, err := s.trigger(ctx)
	return err
}

// Trigger немедленно запускает run вне расписания.
// Возвращает false, если run уже выполняется.
func (s *Scheduler) Trigger(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("manual pipeline trigger")
	return s.trigger(ctx)
}

// NextDue возвращает ближайшее время запуска (zero до первого тика).
func (s *Scheduler) NextDue() time.Time {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.nextDue
}

func (s *Scheduler) setNextDue(now time.Time) time.Time {
	next := CalculateNextDue(s.schedule, now, s.loc)
	s.stateMu.Lock()
	s.nextDue = next
	s.stateMu.Unlock()
	return next
}

// LastResult возвращает результат и время последнего срабатывания.
func (s *Scheduler) LastResult() (string, time.Time) {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.lastResult, s.lastAt
}

// trigger выполняет run под блокировкой.
func (s *Scheduler) trigger(ctx context.Context) (bool, error) {
	started := s.clock.Now()

	ran, err := lock.With(ctx, s.lock, func(ctx context.Context) error {
		if err := s.launcher.Launch(ctx); err != nil {
			return err
		}
		s.cleanup(ctx)
		return nil
	})

	var result string
	switch {
	case !ran && err == nil:
		result = ResultSkippedLocked
		s.logger.Warn("pipeline already running, skipping trigger")
	case errors.Is(err, ErrLaunchFailed):
		result = ResultFailed
		s.logger.Error("pipeline run failed, cleanup skipped", "error", err)
	case err != nil:
		result = ResultError
	default:
		result = ResultSucceeded
		s.logger.Info("pipeline run succeeded", "duration", s.clock.Now().Sub(started))
	}

	telemetry.RecordTrigger(result)
	s.stateMu.Lock()
	s.lastResult = result
	s.lastAt = started
	s.stateMu.Unlock()

	return ran, err
}

// cleanup запускает очистку; её ошибка не делает run неуспешным.
func (s *Scheduler) cleanup(ctx context.Context) {
	if s.cleaner == nil {
		return
	}

	res, err := s.cleaner.Sweep(ctx)
	if err != nil {
		s.logger.Error("retention sweep failed", "error", err, "deleted", res.Deleted)
		return
	}
	s.logger.Info("retention sweep finished", "deleted", res.Deleted, "preserved", res.Preserved)
}
