package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/shaiso/Nightly/internal/domain"
	"github.com/shaiso/Nightly/internal/lock"
)

// Reports — чтение сохранённых отчётов.
type Reports interface {
	ListRuns(ctx context.Context, limit int) ([]*domain.RunReport, error)
	GetRun(ctx context.Context, runID string) (*domain.RunReport, error)
	LatestRun(ctx context.Context) (*domain.RunReport, error)
	LatestMonitoring(ctx context.Context) (*domain.MonitoringReport, error)
}

// ScheduleInfo — состояние планировщика.
type ScheduleInfo interface {
	NextDue() time.Time
	LastResult() (string, time.Time)
}

// Handler — обработчик read-only API.
type Handler struct {
	reports  Reports
	lock     lock.Inspector
	schedule ScheduleInfo
	logger   *slog.Logger
}

// Config — зависимости Handler.
type Config struct {
	Reports Reports

	// Lock (опционально; nil — /lock отвечает 404)
	Lock lock.Inspector

	// Schedule (опционально; nil — /schedule отвечает 404)
	Schedule ScheduleInfo

	Logger *slog.Logger
}

// NewHandler создаёт Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		reports:  cfg.Reports,
		lock:     cfg.Lock,
		schedule: cfg.Schedule,
		logger:   logger.With("component", "api"),
	}
}
