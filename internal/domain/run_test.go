package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRunID(t *testing.T) {
	ts := time.Date(2026, 10, 17, 2, 0, 5, 0, time.FixedZone("MSK", 3*3600))
	assert.Equal(t, "PIPE_20261016230005", NewRunID(ts))
}

func TestRunReport_Lifecycle(t *testing.T) {
	start := time.Date(2026, 10, 17, 2, 0, 0, 0, time.UTC)
	r := NewRunReport(start)

	assert.Equal(t, RunStatusRunning, r.Status)
	assert.Nil(t, r.EndTime)
	assert.False(t, r.IsFinished())

	require.NoError(t, r.RecordStep("a", StepOutcome{Status: StepStatusSuccess}))
	require.NoError(t, r.RecordStep("b", StepOutcome{Status: StepStatusSuccess, RetryAttempts: 1}))
	require.NoError(t, r.Finalize(start.Add(90*time.Second)))

	assert.Equal(t, RunStatusSuccess, r.Status)
	require.NotNil(t, r.EndTime)
	require.NotNil(t, r.TotalDurationSeconds)
	assert.Equal(t, 90.0, *r.TotalDurationSeconds)
	assert.Equal(t, 90*time.Second, r.Duration())

	// после финализации отчёт неизменяем
	assert.ErrorIs(t, r.RecordStep("c", StepOutcome{Status: StepStatusSuccess}), ErrReportFinalized)
	assert.ErrorIs(t, r.Finalize(start), ErrReportFinalized)
}

func TestRunReport_NoStepAfterFailure(t *testing.T) {
	r := NewRunReport(time.Now())
	require.NoError(t, r.RecordStep("a", StepOutcome{Status: StepStatusFailed, RetryAttempts: 3, ErrorMessage: "boom"}))

	err := r.RecordStep("b", StepOutcome{Status: StepStatusSuccess})
	assert.True(t, errors.Is(err, ErrStepAfterFailure))

	require.NoError(t, r.Finalize(time.Now()))
	assert.Equal(t, RunStatusFailed, r.Status)
}

func TestRunReport_ErrorsFailRun(t *testing.T) {
	r := NewRunReport(time.Now())
	r.AddError("cancelled")
	require.NoError(t, r.Finalize(time.Now()))
	assert.Equal(t, RunStatusFailed, r.Status)
}

func TestRunReport_JSONKeepsStepOrder(t *testing.T) {
	start := time.Date(2026, 10, 17, 2, 0, 0, 0, time.UTC)
	r := NewRunReport(start)
	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, r.RecordStep(name, StepOutcome{Status: StepStatusSuccess, Duration: 1500 * time.Millisecond}))
	}
	require.NoError(t, r.Finalize(start.Add(time.Minute)))

	data, err := json.Marshal(r)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, key := range []string{
		"pipeline_execution_id", "start_time", "end_time", "total_duration_seconds",
		"status", "steps_executed", "errors", "warnings",
	} {
		assert.Contains(t, raw, key)
	}

	var decoded RunReport
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, decoded.Steps.Names())

	outcome, ok := decoded.Steps.Get("alpha")
	require.True(t, ok)
	assert.Equal(t, 1500*time.Millisecond, outcome.Duration)
	assert.Empty(t, outcome.ErrorMessage)
}

func TestStepOutcome_ErrorMessageNullOnSuccess(t *testing.T) {
	data, err := json.Marshal(StepOutcome{Status: StepStatusSuccess})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"error_message":null`)

	data, err = json.Marshal(StepOutcome{Status: StepStatusFailed, RetryAttempts: 3, ErrorMessage: "boom"})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"error_message":"boom"`)
}

func TestHealthScore(t *testing.T) {
	tests := []struct {
		alerts int
		want   int
	}{
		{0, 100},
		{1, 90},
		{3, 70},
		{10, 0},
		{11, 0},
		{25, 0},
	}
	prev := 101
	for _, tt := range tests {
		got := HealthScore(tt.alerts, 10)
		assert.Equal(t, tt.want, got, "alerts=%d", tt.alerts)
		assert.LessOrEqual(t, got, prev)
		prev = got
	}
}

func TestCheckStatus_Severity(t *testing.T) {
	assert.Equal(t, SeverityCritical, CheckStatusCritical.Severity())
	assert.Equal(t, SeverityWarning, CheckStatusWarning.Severity())
	assert.Equal(t, SeverityWarning, CheckStatusAnomalyDetected.Severity())
	assert.Equal(t, SeverityWarning, CheckStatusDegraded.Severity())
	assert.True(t, CheckStatusOK.IsOK())
}
