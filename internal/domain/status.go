package domain

// RunStatus — статус выполнения pipeline run.
//
// Жизненный цикл:
//
//	running → success
//	        ↘ failed
//
// Статус меняется только при финализации отчёта (RunReport.Finalize),
// поэтому end_time задан тогда и только тогда, когда статус не running.
type RunStatus string

const (
	// RunStatusRunning — run в процессе выполнения.
	RunStatusRunning RunStatus = "running"

	// RunStatusSuccess — все шаги выполнены успешно.
	RunStatusSuccess RunStatus = "success"

	// RunStatusFailed — run прерван на первом окончательно упавшем шаге.
	RunStatusFailed RunStatus = "failed"
)

// IsTerminal возвращает true, если статус финальный (run завершён).
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSuccess, RunStatusFailed:
		return true
	default:
		return false
	}
}

// StepStatus — итог выполнения шага после всех попыток.
type StepStatus string

const (
	// StepStatusSuccess — шаг выполнен (возможно, не с первой попытки).
	StepStatusSuccess StepStatus = "success"

	// StepStatusFailed — все попытки исчерпаны.
	StepStatusFailed StepStatus = "failed"
)

// CheckStatus — результат одной проверки мониторинга.
type CheckStatus string

const (
	CheckStatusOK              CheckStatus = "ok"
	CheckStatusWarning         CheckStatus = "warning"
	CheckStatusCritical        CheckStatus = "critical"
	CheckStatusAnomalyDetected CheckStatus = "anomaly_detected"
	CheckStatusDegraded        CheckStatus = "degraded"
)

// IsOK возвращает true, если проверка не требует алерта.
func (s CheckStatus) IsOK() bool {
	return s == CheckStatusOK
}

// Severity возвращает уровень алерта для статуса проверки.
// critical → critical, любой другой не-ok статус → warning.
func (s CheckStatus) Severity() Severity {
	if s == CheckStatusCritical {
		return SeverityCritical
	}
	return SeverityWarning
}

// Severity — уровень алерта.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// HealthLabel — итоговая оценка здоровья pipeline.
type HealthLabel string

const (
	HealthHealthy  HealthLabel = "healthy"
	HealthDegraded HealthLabel = "degraded"
)
