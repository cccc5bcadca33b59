package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "nightly"

var (
	stepAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "step_attempts_total",
		Help:      "Step attempts by result (success, failure).",
	}, []string{"step", "result"})

	stepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "step_duration_seconds",
		Help:      "Step wall-clock duration including retries and backoff.",
		Buckets:   []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600},
	}, []string{"step", "status"})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_total",
		Help:      "Finished pipeline runs by status.",
	}, []string{"status"})

	lastRunTimestamp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix time of the last finished run by status.",
	}, []string{"status"})

	schedulerTriggers = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scheduler_triggers_total",
		Help:      "Scheduler trigger outcomes (succeeded, failed, skipped_locked, error).",
	}, []string{"result"})

	healthScore = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "health_score",
		Help:      "Last computed pipeline health score (0-100).",
	})

	alertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alerts_total",
		Help:      "Alerts raised by the health monitor.",
	}, []string{"check", "severity"})

	retentionDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retention_deleted_files_total",
		Help:      "Files removed by the retention sweep.",
	})
)

// RecordStepAttempt учитывает одну попытку шага.
func RecordStepAttempt(step string, ok bool) {
	result := "failure"
	if ok {
		result = "success"
	}
	stepAttempts.WithLabelValues(normalizeLabel(step, "unknown"), result).Inc()
}

// RecordStepOutcome учитывает итог шага.
func RecordStepOutcome(step, status string, d time.Duration) {
	stepDuration.WithLabelValues(normalizeLabel(step, "unknown"), normalizeLabel(status, "unknown")).Observe(d.Seconds())
}

// RecordRun учитывает завершённый run.
func RecordRun(status string, finishedAt time.Time) {
	status = normalizeLabel(status, "unknown")
	runsTotal.WithLabelValues(status).Inc()
	lastRunTimestamp.WithLabelValues(status).Set(float64(finishedAt.Unix()))
}

// RecordTrigger учитывает срабатывание планировщика.
func RecordTrigger(result string) {
	schedulerTriggers.WithLabelValues(normalizeLabel(result, "unknown")).Inc()
}

// RecordHealth фиксирует оценку здоровья.
func RecordHealth(score int) {
	healthScore.Set(float64(score))
}

// RecordAlert учитывает алерт.
func RecordAlert(check, severity string) {
	alertsTotal.WithLabelValues(normalizeLabel(check, "unknown"), normalizeLabel(severity, "unknown")).Inc()
}

// RecordRetention учитывает удалённые файлы.
func RecordRetention(deleted int) {
	retentionDeleted.Add(float64(deleted))
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
