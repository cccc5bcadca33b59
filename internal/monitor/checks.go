package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shaiso/Nightly/internal/domain"
	"github.com/shaiso/Nightly/internal/report"
)

// ErrNoSignals — backing store не настроен, живые сигналы недоступны.
var ErrNoSignals = errors.New("backing store is not configured")

// checkFunc вычисляет одну проверку.
type checkFunc func(ctx context.Context, now time.Time) (domain.CheckResult, error)

// checkLastExecution — давность последнего run.
func (m *Monitor) checkLastExecution(ctx context.Context, now time.Time) (domain.CheckResult, error) {
	threshold := m.cfg.LastRunCritical.Hours()

	last, err := m.reports.LatestRun(ctx)
	if errors.Is(err, report.ErrNotFound) {
		return domain.CheckResult{
			Status: domain.CheckStatusCritical,
			Details: map[string]any{
				"last_run":             nil,
				"last_status":          nil,
				"hours_since_last_run": nil,
				"threshold_hours":      threshold,
			},
		}, nil
	}
	if err != nil {
		return domain.CheckResult{}, fmt.Errorf("load latest run report: %w", err)
	}

	// незавершённый run отсчитывается от старта
	at := last.LastActivity()
	age := now.Sub(at)

	status := domain.CheckStatusOK
	switch {
	case age > m.cfg.LastRunCritical:
		status = domain.CheckStatusCritical
	case age > m.cfg.LastRunWarning:
		status = domain.CheckStatusWarning
	}

	return domain.CheckResult{
		Status: status,
		Details: map[string]any{
			"run_id":               last.RunID,
			"last_run":             at.UTC().Format(time.RFC3339),
			"last_status":          string(last.Status),
			"hours_since_last_run": round2(age.Hours()),
			"threshold_hours":      threshold,
		},
	}, nil
}

// checkDataFreshness — отставание самых свежих записей по уровням данных.
func (m *Monitor) checkDataFreshness(ctx context.Context, now time.Time) (domain.CheckResult, error) {
	if m.signals == nil {
		return domain.CheckResult{}, ErrNoSignals
	}

	details := make(map[string]any, len(m.cfg.Freshness)+1)

	var (
		maxLag time.Duration
		seen   bool
	)
	for _, src := range m.cfg.Freshness {
		latest, err := m.signals.LatestTimestamp(ctx, src.Table, src.Column)
		if err != nil {
			return domain.CheckResult{}, fmt.Errorf("%s tier: %w", src.Tier, err)
		}

		key := src.Tier + "_latest_record"
		if latest == nil {
			// пустой уровень не участвует в расчёте отставания
			details[key] = nil
			continue
		}
		details[key] = latest.UTC().Format(time.RFC3339)

		// запись из будущего (расхождение часов) считается свежей
		lag := max(now.Sub(*latest), 0)
		if !seen || lag > maxLag {
			maxLag = lag
			seen = true
		}
	}

	status := domain.CheckStatusOK
	details["max_lag_hours"] = nil
	if seen {
		details["max_lag_hours"] = round2(maxLag.Hours())
		switch {
		case maxLag > m.cfg.FreshnessCritical:
			status = domain.CheckStatusCritical
		case maxLag > m.cfg.FreshnessWarning:
			status = domain.CheckStatusWarning
		}
	}

	return domain.CheckResult{Status: status, Details: details}, nil
}

// checkVolumeAnomaly — отклонение сегодняшнего объёма от истории окна.
func (m *Monitor) checkVolumeAnomaly(ctx context.Context, now time.Time) (domain.CheckResult, error) {
	if m.signals == nil {
		return domain.CheckResult{}, ErrNoSignals
	}

	points, err := m.signals.DailyCounts(ctx, m.cfg.Volume.Table, m.cfg.Volume.DateColumn, m.cfg.VolumeWindowDays, now)
	if err != nil {
		return domain.CheckResult{}, fmt.Errorf("daily counts: %w", err)
	}

	return EvaluateVolume(points, now, m.cfg.VolumeMinPoints, m.cfg.AnomalySigma), nil
}

// EvaluateVolume классифицирует объём за сегодня (UTC-день now).
//
// Ряд уплотняется от первого дня с данными до сегодня: дни без строк
// считаются нулевыми, в том числе сегодняшний. μ и σ считаются по дням
// до сегодняшнего; сегодняшний объём аномален вне [μ−kσ, μ+kσ].
func EvaluateVolume(points []domain.VolumePoint, now time.Time, minPoints int, sigma float64) domain.CheckResult {
	today := startOfDay(now)
	history, actual := denseSeries(points, today)
	dataPoints := len(history) + 1

	if len(history) == 0 || dataPoints < minPoints || dataPoints < 2 {
		return domain.CheckResult{
			Status: domain.CheckStatusOK,
			Details: map[string]any{
				"expected_range":   nil,
				"actual_count":     nil,
				"anomaly_detected": false,
				"anomaly_type":     nil,
				"data_points":      dataPoints,
				"reason":           "insufficient data",
			},
		}
	}

	mu := mean(history)
	sd := sampleStdDev(history, mu)
	lower := mu - sigma*sd
	upper := mu + sigma*sd

	var anomalyType any
	status := domain.CheckStatusOK
	switch {
	case float64(actual) > upper:
		status = domain.CheckStatusAnomalyDetected
		anomalyType = "spike"
	case float64(actual) < lower:
		status = domain.CheckStatusAnomalyDetected
		anomalyType = "drop"
	}

	return domain.CheckResult{
		Status: status,
		Details: map[string]any{
			"expected_range":   fmt.Sprintf("%d-%d", int64(lower), int64(upper)),
			"mean":             round2(mu),
			"stddev":           round2(sd),
			"actual_count":     actual,
			"latest_day":       today.Format(time.DateOnly),
			"anomaly_detected": status == domain.CheckStatusAnomalyDetected,
			"anomaly_type":     anomalyType,
			"data_points":      dataPoints,
		},
	}
}

// denseSeries раскладывает точки по дням: history — дни от первого с данными
// до вчерашнего включительно (пропуски — 0), actual — объём за today.
// Точки после today отбрасываются.
func denseSeries(points []domain.VolumePoint, today time.Time) (history []float64, actual int64) {
	counts := make(map[time.Time]int64, len(points))
	first := today
	for _, p := range points {
		day := startOfDay(p.Day)
		if day.After(today) {
			continue
		}
		counts[day] += p.Count
		if day.Before(first) {
			first = day
		}
	}

	for day := first; day.Before(today); day = day.AddDate(0, 0, 1) {
		history = append(history, float64(counts[day]))
	}
	return history, counts[today]
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// checkDataQuality — orphan-ссылки и NULL в обязательных полях.
func (m *Monitor) checkDataQuality(ctx context.Context, _ time.Time) (domain.CheckResult, error) {
	if m.signals == nil {
		return domain.CheckResult{}, ErrNoSignals
	}

	q := m.cfg.Quality
	orphans, err := m.signals.OrphanCount(ctx, q.FactTable, q.FactKey, q.DimTable, q.DimKey)
	if err != nil {
		return domain.CheckResult{}, fmt.Errorf("orphan count: %w", err)
	}

	nulls, err := m.signals.NullCount(ctx, q.NullTable, q.RequiredColumns)
	if err != nil {
		return domain.CheckResult{}, fmt.Errorf("null count: %w", err)
	}

	score := QualityScore(orphans, nulls, m.cfg.OrphanPenalty, m.cfg.NullPenalty)

	status := domain.CheckStatusOK
	if score < int64(m.cfg.QualityThreshold) {
		status = domain.CheckStatusDegraded
	}

	return domain.CheckResult{
		Status: status,
		Details: map[string]any{
			"quality_score":   score,
			"orphan_records":  orphans,
			"null_violations": nulls,
		},
	}, nil
}

// QualityScore = max(0, 100 − orphanPenalty×orphans − nullPenalty×nulls).
func QualityScore(orphans, nulls int64, orphanPenalty, nullPenalty int) int64 {
	return max(0, 100-int64(orphanPenalty)*orphans-int64(nullPenalty)*nulls)
}

// checkConnectivity — liveness check backing store.
// Сбой ping — ошибка вычисления, а не статус проверки.
func (m *Monitor) checkConnectivity(ctx context.Context, _ time.Time) (domain.CheckResult, error) {
	if m.signals == nil {
		return domain.CheckResult{}, ErrNoSignals
	}

	ping, err := m.signals.Ping(ctx)
	if err != nil {
		return domain.CheckResult{}, fmt.Errorf("ping: %w", err)
	}

	return domain.CheckResult{
		Status: domain.CheckStatusOK,
		Details: map[string]any{
			"response_time_ms":   round2(float64(ping.Latency) / float64(time.Millisecond)),
			"connections_active": ping.ActiveConnections,
		},
	}, nil
}
