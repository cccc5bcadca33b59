package domain

import "time"

// Имена проверок мониторинга.
const (
	CheckLastExecution = "last_execution"
	CheckDataFreshness = "data_freshness"
	CheckVolumeAnomaly = "volume_anomaly"
	CheckDataQuality   = "data_quality"
	CheckConnectivity  = "connectivity"
)

// CheckNames — порядок выполнения проверок.
var CheckNames = []string{
	CheckLastExecution,
	CheckDataFreshness,
	CheckVolumeAnomaly,
	CheckDataQuality,
	CheckConnectivity,
}

// CheckResult — результат одной проверки.
type CheckResult struct {
	// Status — ok, warning, critical, anomaly_detected или degraded.
	Status CheckStatus `json:"status"`

	// Details — метрики, специфичные для проверки.
	Details map[string]any `json:"details,omitempty"`

	// Error — ошибка вычисления самой проверки (например, БД недоступна).
	// Такая проверка всегда critical.
	Error string `json:"error,omitempty"`
}

// Alert — алерт, порождённый не-ok проверкой.
type Alert struct {
	Severity  Severity  `json:"severity"`
	Check     string    `json:"check"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// MonitoringReport — результат одного запуска мониторинга.
type MonitoringReport struct {
	Timestamp      time.Time              `json:"monitoring_timestamp"`
	PipelineHealth HealthLabel            `json:"pipeline_health"`
	Checks         map[string]CheckResult `json:"checks"`
	Alerts         []Alert                `json:"alerts"`
	HealthScore    int                    `json:"overall_health_score"`

	// EvaluationErrors — проверки, которые не удалось вычислить (check → ошибка).
	EvaluationErrors map[string]string `json:"evaluation_errors,omitempty"`
}

// CriticalAlerts возвращает количество critical алертов.
func (r *MonitoringReport) CriticalAlerts() int {
	n := 0
	for _, a := range r.Alerts {
		if a.Severity == SeverityCritical {
			n++
		}
	}
	return n
}

// HealthScore вычисляет оценку здоровья: 100 минус penalty за каждый алерт, не ниже 0.
func HealthScore(alerts, penalty int) int {
	return max(0, 100-penalty*alerts)
}

// VolumePoint — число записей за один день.
type VolumePoint struct {
	Day   time.Time
	Count int64
}

// Connectivity — результат проверки соединения с backing store.
type Connectivity struct {
	Latency           time.Duration
	ActiveConnections int64
}
