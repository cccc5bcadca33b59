package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Nightly/internal/config"
	"github.com/shaiso/Nightly/internal/domain"
	"github.com/shaiso/Nightly/internal/report"
)

var testNow = time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)

type fakeSignals struct {
	latest      map[string]*time.Time
	latestErr   error
	points      []domain.VolumePoint
	pointsErr   error
	orphans     int64
	nulls       int64
	qualityErr  error
	ping        domain.Connectivity
	pingErr     error
	panicOnNull bool
}

func (f *fakeSignals) LatestTimestamp(_ context.Context, table, _ string) (*time.Time, error) {
	return f.latest[table], f.latestErr
}

func (f *fakeSignals) DailyCounts(context.Context, string, string, int, time.Time) ([]domain.VolumePoint, error) {
	return f.points, f.pointsErr
}

func (f *fakeSignals) OrphanCount(context.Context, string, string, string, string) (int64, error) {
	return f.orphans, f.qualityErr
}

func (f *fakeSignals) NullCount(context.Context, string, []string) (int64, error) {
	if f.panicOnNull {
		panic("driver bug")
	}
	return f.nulls, nil
}

func (f *fakeSignals) Ping(context.Context) (domain.Connectivity, error) {
	return f.ping, f.pingErr
}

type fakeReports struct {
	latest *domain.RunReport
	err    error
}

func (f *fakeReports) LatestRun(context.Context) (*domain.RunReport, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.latest == nil {
		return nil, report.ErrNotFound
	}
	return f.latest, nil
}

type memoryStore struct {
	saved *domain.MonitoringReport
}

func (s *memoryStore) SaveMonitoring(_ context.Context, r *domain.MonitoringReport) error {
	s.saved = r
	return nil
}

type recordingPublisher struct {
	alerts []domain.Alert
}

func (p *recordingPublisher) PublishAlert(_ context.Context, a domain.Alert) error {
	p.alerts = append(p.alerts, a)
	return nil
}

func ptr(t time.Time) *time.Time { return &t }

func finishedAt(t *testing.T, end time.Time) *domain.RunReport {
	t.Helper()
	r := domain.NewRunReport(end.Add(-30 * time.Minute))
	require.NoError(t, r.Finalize(end))
	return r
}

// healthySignals — все живые сигналы в норме.
func healthySignals() *fakeSignals {
	points := make([]domain.VolumePoint, 0, 10)
	for i := 0; i < 10; i++ {
		count := int64(1000)
		if i%2 == 1 {
			count = 1010
		}
		points = append(points, domain.VolumePoint{Day: testNow.AddDate(0, 0, i-9), Count: count})
	}
	return &fakeSignals{
		latest: map[string]*time.Time{
			"staging.customers":    ptr(testNow.Add(-10 * time.Minute)),
			"production.customers": ptr(testNow.Add(-20 * time.Minute)),
			"warehouse.fact_sales": ptr(testNow.Add(-30 * time.Minute)),
		},
		points: points,
		ping:   domain.Connectivity{Latency: 1500 * time.Microsecond, ActiveConnections: 7},
	}
}

func newTestMonitor(signals Signals, reports ReportReader) *Monitor {
	return New(Config{
		Monitor: config.Default().Monitor,
		Signals: signals,
		Reports: reports,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:     func() time.Time { return testNow },
	})
}

func TestEvaluate_Healthy(t *testing.T) {
	m := newTestMonitor(healthySignals(), &fakeReports{latest: finishedAt(t, testNow.Add(-6*time.Hour))})

	rep := m.Evaluate(context.Background())

	assert.Equal(t, 100, rep.HealthScore)
	assert.Equal(t, domain.HealthHealthy, rep.PipelineHealth)
	assert.Empty(t, rep.Alerts)
	assert.Empty(t, rep.EvaluationErrors)
	require.Len(t, rep.Checks, 5)
	for _, name := range domain.CheckNames {
		assert.Equal(t, domain.CheckStatusOK, rep.Checks[name].Status, name)
	}

	conn := rep.Checks[domain.CheckConnectivity].Details
	assert.Equal(t, 1.5, conn["response_time_ms"])
	assert.Equal(t, int64(7), conn["connections_active"])
}

func TestCheckLastExecution_Thresholds(t *testing.T) {
	tests := []struct {
		name string
		age  time.Duration
		want domain.CheckStatus
	}{
		{"26h is critical", 26 * time.Hour, domain.CheckStatusCritical},
		{"24.5h is warning", 24*time.Hour + 30*time.Minute, domain.CheckStatusWarning},
		{"10h is ok", 10 * time.Hour, domain.CheckStatusOK},
		{"exactly 24h is ok", 24 * time.Hour, domain.CheckStatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMonitor(healthySignals(), &fakeReports{latest: finishedAt(t, testNow.Add(-tt.age))})
			res, err := m.checkLastExecution(context.Background(), testNow)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Status)
		})
	}
}

func TestCheckLastExecution_NoReport(t *testing.T) {
	m := newTestMonitor(healthySignals(), &fakeReports{})
	res, err := m.checkLastExecution(context.Background(), testNow)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckStatusCritical, res.Status)
	assert.Nil(t, res.Details["last_run"])
}

func TestCheckLastExecution_RunningUsesStart(t *testing.T) {
	running := domain.NewRunReport(testNow.Add(-2 * time.Hour))
	m := newTestMonitor(healthySignals(), &fakeReports{latest: running})

	res, err := m.checkLastExecution(context.Background(), testNow)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckStatusOK, res.Status)
	assert.Equal(t, "running", res.Details["last_status"])
	assert.Equal(t, 2.0, res.Details["hours_since_last_run"])
}

func TestCheckDataFreshness(t *testing.T) {
	tests := []struct {
		name string
		lag  time.Duration
		want domain.CheckStatus
	}{
		{"fresh", 30 * time.Minute, domain.CheckStatusOK},
		{"lagging", 90 * time.Minute, domain.CheckStatusWarning},
		{"stale", 3 * time.Hour, domain.CheckStatusCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := healthySignals()
			s.latest["warehouse.fact_sales"] = ptr(testNow.Add(-tt.lag))

			m := newTestMonitor(s, &fakeReports{})
			res, err := m.checkDataFreshness(context.Background(), testNow)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Status)
			assert.Equal(t, round2(tt.lag.Hours()), res.Details["max_lag_hours"])
		})
	}
}

func TestCheckDataFreshness_EmptyTierIgnored(t *testing.T) {
	s := healthySignals()
	s.latest["warehouse.fact_sales"] = nil

	m := newTestMonitor(s, &fakeReports{})
	res, err := m.checkDataFreshness(context.Background(), testNow)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckStatusOK, res.Status)
	assert.Nil(t, res.Details["analytical_latest_record"])
}

// series возвращает 30 дней истории вокруг 1000 с σ≈50 и объём latest за день testNow.
func series(latest int64) []domain.VolumePoint {
	points := make([]domain.VolumePoint, 0, 31)
	day := time.Date(2023, 12, 16, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 30; i++ {
		count := int64(950)
		if i%2 == 1 {
			count = 1050
		}
		points = append(points, domain.VolumePoint{Day: day.AddDate(0, 0, i), Count: count})
	}
	return append(points, domain.VolumePoint{Day: day.AddDate(0, 0, 30), Count: latest})
}

func TestEvaluateVolume_Spike(t *testing.T) {
	res := EvaluateVolume(series(1200), testNow, 5, 3)

	assert.Equal(t, domain.CheckStatusAnomalyDetected, res.Status)
	assert.Equal(t, "spike", res.Details["anomaly_type"])
	assert.Equal(t, true, res.Details["anomaly_detected"])
	assert.Equal(t, 1000.0, res.Details["mean"])
	assert.InDelta(t, 50.85, res.Details["stddev"], 0.01)
	assert.Equal(t, int64(1200), res.Details["actual_count"])
}

func TestEvaluateVolume_Drop(t *testing.T) {
	res := EvaluateVolume(series(700), testNow, 5, 3)
	assert.Equal(t, domain.CheckStatusAnomalyDetected, res.Status)
	assert.Equal(t, "drop", res.Details["anomaly_type"])
}

func TestEvaluateVolume_WithinRange(t *testing.T) {
	res := EvaluateVolume(series(1100), testNow, 5, 3)
	assert.Equal(t, domain.CheckStatusOK, res.Status)
	assert.Nil(t, res.Details["anomaly_type"])
	assert.Equal(t, "847-1152", res.Details["expected_range"])
}

func TestEvaluateVolume_InsufficientData(t *testing.T) {
	points := series(5000)[26:] // 5 точек: 4 истории + последняя
	assert.Equal(t, domain.CheckStatusAnomalyDetected, EvaluateVolume(points, testNow, 5, 3).Status)

	res := EvaluateVolume(points[1:], testNow, 5, 3)
	assert.Equal(t, domain.CheckStatusOK, res.Status)
	assert.Equal(t, 4, res.Details["data_points"])
}

func TestEvaluateVolume_TodayMissingIsDrop(t *testing.T) {
	// 10 дней около 1000, за сегодня строк нет
	points := make([]domain.VolumePoint, 0, 10)
	for i := 10; i >= 1; i-- {
		points = append(points, domain.VolumePoint{Day: testNow.AddDate(0, 0, -i), Count: 1000 + int64(i%2)})
	}

	res := EvaluateVolume(points, testNow, 5, 3)
	assert.Equal(t, domain.CheckStatusAnomalyDetected, res.Status)
	assert.Equal(t, "drop", res.Details["anomaly_type"])
	assert.Equal(t, int64(0), res.Details["actual_count"])
	assert.Equal(t, "2024-01-15", res.Details["latest_day"])
	assert.Equal(t, 11, res.Details["data_points"])
}

func TestEvaluateVolume_GapsCountAsZero(t *testing.T) {
	day := func(offset int) time.Time { return testNow.AddDate(0, 0, offset) }
	points := []domain.VolumePoint{
		{Day: day(-4), Count: 100},
		// day(-3) без строк
		{Day: day(-2), Count: 100},
		{Day: day(-1), Count: 100},
		{Day: day(0), Count: 100},
		{Day: day(1), Count: 9999}, // будущая дата не учитывается
	}

	res := EvaluateVolume(points, testNow, 5, 3)
	assert.Equal(t, 5, res.Details["data_points"])
	assert.Equal(t, 75.0, res.Details["mean"])
	assert.Equal(t, int64(100), res.Details["actual_count"])
	assert.Equal(t, domain.CheckStatusOK, res.Status)
}

func TestCheckVolumeAnomaly_TodayMissing(t *testing.T) {
	s := healthySignals()
	s.points = s.points[:len(s.points)-1] // сегодняшней точки нет

	m := newTestMonitor(s, &fakeReports{})
	res, err := m.checkVolumeAnomaly(context.Background(), testNow)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckStatusAnomalyDetected, res.Status)
	assert.Equal(t, "drop", res.Details["anomaly_type"])
}

func TestCheckDataFreshness_FutureTimestampIsFresh(t *testing.T) {
	s := healthySignals()
	s.latest["staging.customers"] = ptr(testNow.Add(3 * time.Hour))

	m := newTestMonitor(s, &fakeReports{})
	res, err := m.checkDataFreshness(context.Background(), testNow)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckStatusOK, res.Status)
	assert.Equal(t, 0.5, res.Details["max_lag_hours"])
}

func TestQualityScore(t *testing.T) {
	assert.Equal(t, int64(100), QualityScore(0, 0, 5, 2))
	assert.Equal(t, int64(93), QualityScore(1, 1, 5, 2))
	assert.Equal(t, int64(0), QualityScore(30, 0, 5, 2))
}

func TestCheckDataQuality(t *testing.T) {
	s := healthySignals()
	s.nulls = 2 // 96 — ok

	m := newTestMonitor(s, &fakeReports{})
	res, err := m.checkDataQuality(context.Background(), testNow)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckStatusOK, res.Status)
	assert.Equal(t, int64(96), res.Details["quality_score"])

	s.orphans = 1 // 91 — degraded
	res, err = m.checkDataQuality(context.Background(), testNow)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckStatusDegraded, res.Status)
}

func TestEvaluate_FaultIsolation(t *testing.T) {
	s := healthySignals()
	s.pingErr = errors.New("connection refused")
	s.panicOnNull = true

	m := newTestMonitor(s, &fakeReports{latest: finishedAt(t, testNow.Add(-time.Hour))})
	rep := m.Evaluate(context.Background())

	require.Len(t, rep.Checks, 5)
	assert.Equal(t, domain.CheckStatusOK, rep.Checks[domain.CheckLastExecution].Status)
	assert.Equal(t, domain.CheckStatusOK, rep.Checks[domain.CheckDataFreshness].Status)
	assert.Equal(t, domain.CheckStatusOK, rep.Checks[domain.CheckVolumeAnomaly].Status)

	quality := rep.Checks[domain.CheckDataQuality]
	assert.Equal(t, domain.CheckStatusCritical, quality.Status)
	assert.Contains(t, quality.Error, "panicked")

	conn := rep.Checks[domain.CheckConnectivity]
	assert.Equal(t, domain.CheckStatusCritical, conn.Status)
	assert.Contains(t, conn.Error, "connection refused")

	assert.Len(t, rep.EvaluationErrors, 2)
	assert.Len(t, rep.Alerts, 2)
	assert.Equal(t, 80, rep.HealthScore)
	assert.Equal(t, domain.HealthDegraded, rep.PipelineHealth)
	assert.Equal(t, 2, rep.CriticalAlerts())
}

func TestEvaluate_NoSignals(t *testing.T) {
	m := newTestMonitor(nil, &fakeReports{latest: finishedAt(t, testNow.Add(-time.Hour))})
	rep := m.Evaluate(context.Background())

	assert.Equal(t, domain.CheckStatusOK, rep.Checks[domain.CheckLastExecution].Status)
	assert.Len(t, rep.EvaluationErrors, 4)
	assert.Equal(t, 60, rep.HealthScore)
}

func TestEvaluate_AlertSeverity(t *testing.T) {
	s := healthySignals()
	s.points = series(1200)
	s.latest["staging.customers"] = ptr(testNow.Add(-90 * time.Minute))

	m := newTestMonitor(s, &fakeReports{latest: finishedAt(t, testNow.Add(-26*time.Hour))})
	rep := m.Evaluate(context.Background())

	require.Len(t, rep.Alerts, 3)

	byCheck := map[string]domain.Severity{}
	for _, a := range rep.Alerts {
		byCheck[a.Check] = a.Severity
		assert.Equal(t, testNow, a.Timestamp)
		assert.Contains(t, a.Message, "Issue detected in "+a.Check)
	}
	assert.Equal(t, domain.SeverityCritical, byCheck[domain.CheckLastExecution])
	assert.Equal(t, domain.SeverityWarning, byCheck[domain.CheckDataFreshness])
	assert.Equal(t, domain.SeverityWarning, byCheck[domain.CheckVolumeAnomaly])

	assert.Equal(t, 70, rep.HealthScore)
	assert.Equal(t, domain.HealthDegraded, rep.PipelineHealth)
}

func TestRun_PersistsAndPublishes(t *testing.T) {
	s := healthySignals()
	s.pingErr = errors.New("timeout")

	store := &memoryStore{}
	pub := &recordingPublisher{}
	m := New(Config{
		Monitor:   config.Default().Monitor,
		Signals:   s,
		Reports:   &fakeReports{latest: finishedAt(t, testNow.Add(-time.Hour))},
		Store:     store,
		Publisher: pub,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:       func() time.Time { return testNow },
	})

	rep, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Same(t, rep, store.saved)
	require.Len(t, pub.alerts, 1)
	assert.Equal(t, domain.CheckConnectivity, pub.alerts[0].Check)
}

func TestStats(t *testing.T) {
	xs := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	mu := mean(xs)
	assert.Equal(t, 5.0, mu)
	assert.InDelta(t, 2.138, sampleStdDev(xs, mu), 0.001)
	assert.Zero(t, sampleStdDev([]float64{1}, 1))
	assert.Zero(t, mean(nil))
}
