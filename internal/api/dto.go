package api

import (
	"time"

	"github.com/shaiso/Nightly/internal/domain"
)

// RunSummary — краткое представление run для списка.
type RunSummary struct {
	RunID           string           `json:"pipeline_execution_id"`
	Status          domain.RunStatus `json:"status"`
	StartTime       time.Time        `json:"start_time"`
	EndTime         *time.Time       `json:"end_time"`
	DurationSeconds *float64         `json:"total_duration_seconds"`
	Steps           int              `json:"steps_executed"`
	Errors          int              `json:"errors"`
	Warnings        int              `json:"warnings"`
}

// RunSummaryFromDomain конвертирует RunReport в RunSummary.
func RunSummaryFromDomain(r *domain.RunReport) RunSummary {
	return RunSummary{
		RunID:           r.RunID,
		Status:          r.Status,
		StartTime:       r.StartTime,
		EndTime:         r.EndTime,
		DurationSeconds: r.TotalDurationSeconds,
		Steps:           len(r.Steps),
		Errors:          len(r.Errors),
		Warnings:        len(r.Warnings),
	}
}

// LockResponse — состояние блокировки pipeline.
type LockResponse struct {
	Held        bool       `json:"held"`
	Backend     string     `json:"backend"`
	Resource    string     `json:"resource"`
	Holder      string     `json:"holder,omitempty"`
	PID         int        `json:"pid,omitempty"`
	AcquiredAt  *time.Time `json:"acquired_at,omitempty"`
	AgeSeconds  float64    `json:"age_seconds"`
	HolderAlive *bool      `json:"holder_alive,omitempty"`
}

// ScheduleResponse — состояние планировщика.
type ScheduleResponse struct {
	NextDue     *time.Time `json:"next_due"`
	LastResult  string     `json:"last_result,omitempty"`
	LastTrigger *time.Time `json:"last_trigger,omitempty"`
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	t = t.UTC()
	return &t
}
