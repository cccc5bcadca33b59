// Package monitor оценивает здоровье pipeline.
//
// Monitor объединяет последний RunReport и живые сигналы backing store
// в MonitoringReport. Пять проверок выполняются независимо: ошибка или
// паника одной проверки делает её critical и попадает в evaluation_errors,
// остальные проверки вычисляются как обычно.
//
// Каждая не-ok проверка даёт ровно один алерт (critical только для статуса
// critical). health_score = max(0, 100 − penalty×alerts).
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/shaiso/Nightly/internal/config"
	"github.com/shaiso/Nightly/internal/domain"
	"github.com/shaiso/Nightly/internal/telemetry"
)

// defaultCheckTimeout — ограничение времени одной проверки.
const defaultCheckTimeout = 30 * time.Second

// Signals — живые сигналы backing store.
type Signals interface {
	LatestTimestamp(ctx context.Context, table, column string) (*time.Time, error)
	DailyCounts(ctx context.Context, table, dateColumn string, days int, now time.Time) ([]domain.VolumePoint, error)
	OrphanCount(ctx context.Context, factTable, factKey, dimTable, dimKey string) (int64, error)
	NullCount(ctx context.Context, table string, columns []string) (int64, error)
	Ping(ctx context.Context) (domain.Connectivity, error)
}

// ReportReader читает последний RunReport.
type ReportReader interface {
	LatestRun(ctx context.Context) (*domain.RunReport, error)
}

// ReportWriter сохраняет MonitoringReport.
type ReportWriter interface {
	SaveMonitoring(ctx context.Context, r *domain.MonitoringReport) error
}

// AlertPublisher публикует алерты.
type AlertPublisher interface {
	PublishAlert(ctx context.Context, a domain.Alert) error
}

// Monitor — оценка здоровья pipeline.
type Monitor struct {
	cfg       config.MonitorConfig
	signals   Signals
	reports   ReportReader
	store     ReportWriter
	publisher AlertPublisher

	checkTimeout time.Duration
	logger       *slog.Logger
	errors       *telemetry.ErrorChannel
	now          func() time.Time
}

// Config — конфигурация Monitor.
type Config struct {
	// Monitor — пороги и источники сигналов.
	Monitor config.MonitorConfig

	// Signals (nil — проверки живых сигналов завершаются ошибкой вычисления)
	Signals Signals

	Reports ReportReader

	// Store (опционально; nil — отчёт не сохраняется)
	Store ReportWriter

	// Publisher (опционально; nil — алерты не публикуются)
	Publisher AlertPublisher

	CheckTimeout time.Duration
	Logger       *slog.Logger
	Errors       *telemetry.ErrorChannel
	Now          func() time.Time
}

// New создаёт Monitor.
func New(cfg Config) *Monitor {
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

	timeout := cfg.CheckTimeout
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}

	return &Monitor{
		cfg:          cfg.Monitor,
		signals:      cfg.Signals,
		reports:      cfg.Reports,
		store:        cfg.Store,
		publisher:    cfg.Publisher,
		checkTimeout: timeout,
		logger:       logger,
		errors:       errs,
		now:          now,
	}
}

// Evaluate вычисляет MonitoringReport. Не сохраняет и не публикует его.
func (m *Monitor) Evaluate(ctx context.Context) *domain.MonitoringReport {
	now := m.now().UTC()

	checks := []struct {
		name string
		fn   checkFunc
	}{
		{domain.CheckLastExecution, m.checkLastExecution},
		{domain.CheckDataFreshness, m.checkDataFreshness},
		{domain.CheckVolumeAnomaly, m.checkVolumeAnomaly},
		{domain.CheckDataQuality, m.checkDataQuality},
		{domain.CheckConnectivity, m.checkConnectivity},
	}

	rep := &domain.MonitoringReport{
		Timestamp: now,
		Checks:    make(map[string]domain.CheckResult, len(checks)),
		Alerts:    []domain.Alert{},
	}

	for _, c := range checks {
		res, err := m.runCheck(ctx, c.name, c.fn, now)
		if err != nil {
			res = domain.CheckResult{Status: domain.CheckStatusCritical, Error: err.Error()}
			if rep.EvaluationErrors == nil {
				rep.EvaluationErrors = make(map[string]string)
			}
			rep.EvaluationErrors[c.name] = err.Error()
			m.errors.Error("monitoring check failed", "check", c.name, "error", err)
		}
		rep.Checks[c.name] = res

		if !res.Status.IsOK() {
			rep.Alerts = append(rep.Alerts, domain.Alert{
				Severity:  res.Status.Severity(),
				Check:     c.name,
				Message:   fmt.Sprintf("Issue detected in %s: %s", c.name, res.Status),
				Timestamp: now,
			})
		}
	}

	rep.HealthScore = domain.HealthScore(len(rep.Alerts), m.cfg.AlertPenalty)
	rep.PipelineHealth = domain.HealthDegraded
	if rep.HealthScore >= m.cfg.HealthyScore {
		rep.PipelineHealth = domain.HealthHealthy
	}

	return rep
}

// Run вычисляет отчёт, сохраняет его и публикует алерты.
// Ошибка возвращается только при сбое сохранения.
func (m *Monitor) Run(ctx context.Context) (*domain.MonitoringReport, error) {
	ctx, span := telemetry.Tracer("monitor").Start(ctx, "health evaluation")
	defer span.End()

	rep := m.Evaluate(ctx)

	telemetry.RecordHealth(rep.HealthScore)
	for _, a := range rep.Alerts {
		telemetry.RecordAlert(a.Check, string(a.Severity))
		m.logger.Warn("alert raised",
			"check", a.Check,
			"severity", a.Severity,
			"message", a.Message,
		)
	}

	m.logger.Info("monitoring completed",
		"health_score", rep.HealthScore,
		"pipeline_health", rep.PipelineHealth,
		"alerts", len(rep.Alerts),
	)

	if m.publisher != nil {
		for _, a := range rep.Alerts {
			if err := m.publisher.PublishAlert(ctx, a); err != nil {
				m.logger.Warn("failed to publish alert", "check", a.Check, "error", err)
			}
		}
	}

	if m.store != nil {
		if err := m.store.SaveMonitoring(ctx, rep); err != nil {
			telemetry.SetSpanError(span, err)
			return rep, fmt.Errorf("save monitoring report: %w", err)
		}
	}

	return rep, nil
}

// runCheck выполняет проверку с таймаутом, превращая панику в ошибку.
func (m *Monitor) runCheck(ctx context.Context, name string, fn checkFunc, now time.Time) (res domain.CheckResult, err error) {
	ctx, cancel := context.WithTimeout(ctx, m.checkTimeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("check panicked: %v", p)
			m.errors.Error("monitoring check panicked",
				"check", name,
				"panic", fmt.Sprint(p),
				"stack", string(debug.Stack()),
			)
		}
	}()

	return fn(ctx, now)
}
