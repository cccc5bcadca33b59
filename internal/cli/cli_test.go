package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Nightly/internal/domain"
	"github.com/shaiso/Nightly/internal/lock"
	"github.com/shaiso/Nightly/internal/mq"
	"github.com/shaiso/Nightly/internal/orchestrator"
)

type workspace struct {
	dir    string
	config string
}

func (w workspace) path(parts ...string) string {
	return filepath.Join(append([]string{w.dir}, parts...)...)
}

// newWorkspace пишет конфигурацию с заданными шагами во временный каталог.
func newWorkspace(t *testing.T, stepsYAML string) workspace {
	t.Helper()
	t.Setenv("DB_URL", "")
	t.Setenv("RABBITMQ_URL", "")

	w := workspace{dir: t.TempDir()}
	w.config = w.path("nightly.yaml")

	cfg := fmt.Sprintf(`
paths:
  reports_dir: %[1]s/reports
  lock_file: %[1]s/pipeline.lock
  log_dir: %[1]s/logs
retry:
  max_retries: 2
  backoff: [0s]
database:
  url: ""
retention:
  days: 7
  dirs: [%[1]s/raw]
  preserve: [summary]
pipeline:
  steps:
%[2]s`, w.dir, stepsYAML)
	require.NoError(t, os.WriteFile(w.config, []byte(cfg), 0o644))
	return w
}

const okSteps = `    - name: extract
      type: command
      command: ["sh", "-c", "echo extracted"]
    - name: load
      type: command
      command: ["sh", "-c", "exit 0"]
`

func execute(t *testing.T, w workspace, args ...string) (string, string, error) {
	t.Helper()

	root, closeEnv := NewRootCmd("test")
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(append([]string{"--config", w.config}, args...))

	err := root.ExecuteContext(context.Background())
	require.NoError(t, closeEnv())
	return stdout.String(), stderr.String(), err
}

func TestRun_Success(t *testing.T) {
	w := newWorkspace(t, okSteps)

	stdout, _, err := execute(t, w, "run")
	require.NoError(t, err)
	assert.Contains(t, stdout, "success")
	assert.Contains(t, stdout, "extract")
	assert.NoFileExists(t, w.path("pipeline.lock"), "lock released after run")

	stdout, _, err = execute(t, w, "--json", "report", "list")
	require.NoError(t, err)

	var runs []domain.RunReport
	require.NoError(t, json.Unmarshal([]byte(stdout), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, domain.RunStatusSuccess, runs[0].Status)
	assert.Equal(t, []string{"extract", "load"}, runs[0].Steps.Names())
}

func TestRun_FailFast(t *testing.T) {
	w := newWorkspace(t, `    - name: extract
      type: command
      command: ["sh", "-c", "echo broken >&2; exit 3"]
    - name: load
      type: command
      command: ["sh", "-c", "exit 0"]
`)

	_, _, err := execute(t, w, "run")
	require.ErrorIs(t, err, orchestrator.ErrRunFailed)

	stdout, _, err := execute(t, w, "--json", "report", "show")
	require.NoError(t, err)

	var r domain.RunReport
	require.NoError(t, json.Unmarshal([]byte(stdout), &r))
	assert.Equal(t, domain.RunStatusFailed, r.Status)
	assert.Equal(t, []string{"extract"}, r.Steps.Names())

	extract, ok := r.Steps.Get("extract")
	require.True(t, ok)
	assert.Equal(t, 2, extract.RetryAttempts)
	assert.Contains(t, extract.ErrorMessage, "broken")
	assert.NoFileExists(t, w.path("pipeline.lock"))
}

func TestRun_SkipsWhenLocked(t *testing.T) {
	w := newWorkspace(t, okSteps)
	require.NoError(t, os.WriteFile(w.path("pipeline.lock"), []byte("{}"), 0o644))

	_, stderr, err := execute(t, w, "run")
	require.NoError(t, err)
	assert.Contains(t, stderr, "already running")
	assert.NoDirExists(t, w.path("reports"), "no report for a skipped run")
	assert.FileExists(t, w.path("pipeline.lock"), "foreign lock untouched")
}

func TestRun_NoLockIgnoresMarker(t *testing.T) {
	w := newWorkspace(t, okSteps)
	require.NoError(t, os.WriteFile(w.path("pipeline.lock"), []byte("{}"), 0o644))

	_, _, err := execute(t, w, "run", "--no-lock")
	require.NoError(t, err)
	assert.FileExists(t, w.path("pipeline.lock"))
	assert.DirExists(t, w.path("reports"))
}

func TestRun_UnknownStepType(t *testing.T) {
	w := newWorkspace(t, `    - name: extract
      type: spark
`)

	_, _, err := execute(t, w, "run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extract")
}

func TestLockCommands(t *testing.T) {
	w := newWorkspace(t, okSteps)

	l := lock.NewFileLock(w.path("pipeline.lock"))
	ok, err := l.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	stdout, _, err := execute(t, w, "--json", "lock", "status")
	require.NoError(t, err)

	var st lock.Status
	require.NoError(t, json.Unmarshal([]byte(stdout), &st))
	assert.True(t, st.Held)
	assert.Equal(t, os.Getpid(), st.PID)

	// владелец жив — без --force не снимаем
	_, _, err = execute(t, w, "lock", "release")
	require.ErrorIs(t, err, ErrLockHeld)
	assert.FileExists(t, w.path("pipeline.lock"))

	_, stderr, err := execute(t, w, "lock", "release", "--force")
	require.NoError(t, err)
	assert.Contains(t, stderr, "lock released")
	assert.NoFileExists(t, w.path("pipeline.lock"))

	_, stderr, err = execute(t, w, "lock", "release")
	require.NoError(t, err)
	assert.Contains(t, stderr, "not held")
}

func TestReportShow_Errors(t *testing.T) {
	w := newWorkspace(t, okSteps)

	_, _, err := execute(t, w, "report", "show")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no runs recorded")

	_, _, err = execute(t, w, "report", "show", "yesterday")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid run id")
}

func TestCleanup(t *testing.T) {
	w := newWorkspace(t, okSteps)
	raw := w.path("raw")
	require.NoError(t, os.MkdirAll(raw, 0o755))

	old := time.Now().AddDate(0, 0, -30)
	for _, name := range []string{"customers.csv", "run_summary.csv"} {
		p := filepath.Join(raw, name)
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
		require.NoError(t, os.Chtimes(p, old, old))
	}
	require.NoError(t, os.WriteFile(filepath.Join(raw, "fresh.csv"), []byte("x"), 0o644))

	stdout, _, err := execute(t, w, "--json", "cleanup")
	require.NoError(t, err)

	var res struct{ Deleted, Preserved, Kept int }
	require.NoError(t, json.Unmarshal([]byte(stdout), &res))
	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, 2, res.Preserved)
	assert.NoFileExists(t, filepath.Join(raw, "customers.csv"))
	assert.FileExists(t, filepath.Join(raw, "run_summary.csv"))
}

func TestMonitor_WithoutBackingStore(t *testing.T) {
	w := newWorkspace(t, okSteps)

	_, _, err := execute(t, w, "run")
	require.NoError(t, err)

	stdout, _, err := execute(t, w, "--json", "monitor")
	require.NoError(t, err)

	var rep domain.MonitoringReport
	require.NoError(t, json.Unmarshal([]byte(stdout), &rep))
	assert.Equal(t, domain.CheckStatusOK, rep.Checks[domain.CheckLastExecution].Status)
	assert.Len(t, rep.EvaluationErrors, 4)
	assert.Equal(t, 60, rep.HealthScore)
	assert.FileExists(t, w.path("reports", "monitoring_report.json"))

	_, _, err = execute(t, w, "monitor", "--fail-on", "critical")
	require.ErrorIs(t, err, ErrUnhealthy)
}

func TestMonitor_InvalidFailOn(t *testing.T) {
	w := newWorkspace(t, okSteps)

	_, _, err := execute(t, w, "monitor", "--fail-on", "sometimes")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--fail-on")
}

func TestCheckFailOn(t *testing.T) {
	warn := domain.Alert{Severity: domain.SeverityWarning}
	crit := domain.Alert{Severity: domain.SeverityCritical}

	tests := []struct {
		name    string
		alerts  []domain.Alert
		failOn  string
		wantErr bool
	}{
		{"none ignores critical", []domain.Alert{crit}, failOnNone, false},
		{"critical ignores warning", []domain.Alert{warn}, failOnCritical, false},
		{"critical fails", []domain.Alert{warn, crit}, failOnCritical, true},
		{"warning fails", []domain.Alert{warn}, failOnWarning, true},
		{"warning passes clean", nil, failOnWarning, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkFailOn(&domain.MonitoringReport{Alerts: tt.alerts}, tt.failOn)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnhealthy)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOutput_Table(t *testing.T) {
	var buf bytes.Buffer
	out := NewOutput(false, &buf, &buf)

	out.Table([]string{"STEP", "STATUS"}, [][]string{{"extract", "success"}})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "STEP     STATUS", lines[0])
	assert.Equal(t, "----     ------", lines[1])
	assert.Equal(t, "extract  success", lines[2])
}

func TestAlertPrinter(t *testing.T) {
	var buf bytes.Buffer
	handler := alertPrinter(NewOutput(false, &buf, &buf))

	msg := &mq.Message{Type: "alert.raised", Payload: domain.Alert{
		Severity:  domain.SeverityCritical,
		Check:     domain.CheckConnectivity,
		Message:   "Issue detected in connectivity: critical",
		Timestamp: time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC),
	}}
	require.NoError(t, handler(context.Background(), msg))
	assert.Contains(t, buf.String(), "2024-01-15T08:00:00Z")
	assert.Contains(t, buf.String(), "Issue detected in connectivity")

	buf.Reset()
	require.NoError(t, handler(context.Background(), &mq.Message{Type: "run.finished"}))
	assert.Empty(t, buf.String())
}
