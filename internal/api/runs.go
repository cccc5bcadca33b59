package api

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/shaiso/Nightly/internal/report"
)

const (
	defaultListLimit = 30
	maxListLimit     = 365
)

// ListRuns возвращает последние run, новые первыми.
// GET /api/v1/runs?limit=...
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			BadRequest(w, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}

	runs, err := h.reports.ListRuns(r.Context(), limit)
	if HandleStoreError(w, h.logger, err, "") {
		return
	}

	result := make([]RunSummary, len(runs))
	for i, run := range runs {
		result[i] = RunSummaryFromDomain(run)
	}
	List(w, result, len(result))
}

// LatestRun возвращает полный отчёт последнего run.
// GET /api/v1/runs/latest
func (h *Handler) LatestRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.reports.LatestRun(r.Context())
	if HandleStoreError(w, h.logger, err, "no runs recorded") {
		return
	}
	Success(w, run)
}

// GetRun возвращает полный отчёт run.
// GET /api/v1/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !report.ValidRunID(id) {
		BadRequest(w, "invalid run id")
		return
	}

	run, err := h.reports.GetRun(r.Context(), id)
	if HandleStoreError(w, h.logger, err, "run not found") {
		return
	}
	Success(w, run)
}

// Health возвращает последний отчёт мониторинга.
// GET /api/v1/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	rep, err := h.reports.LatestMonitoring(r.Context())
	if HandleStoreError(w, h.logger, err, "no monitoring report recorded") {
		return
	}
	Success(w, rep)
}

// LockStatus возвращает состояние блокировки pipeline.
// GET /api/v1/lock
func (h *Handler) LockStatus(w http.ResponseWriter, r *http.Request) {
	if h.lock == nil {
		NotFound(w, "lock inspection is not configured")
		return
	}

	st, err := h.lock.Status(r.Context())
	if err != nil {
		InternalError(w, h.logger, err)
		return
	}

	Success(w, LockResponse{
		Held:        st.Held,
		Backend:     st.Backend,
		Resource:    st.Resource,
		Holder:      st.Holder,
		PID:         st.PID,
		AcquiredAt:  timePtr(st.AcquiredAt),
		AgeSeconds:  math.Round(st.Age(time.Now()).Seconds()),
		HolderAlive: st.HolderAlive,
	})
}

// Schedule возвращает время следующего запуска и итог последнего.
// GET /api/v1/schedule
func (h *Handler) Schedule(w http.ResponseWriter, _ *http.Request) {
	if h.schedule == nil {
		NotFound(w, "scheduler is not running in this process")
		return
	}

	result, at := h.schedule.LastResult()
	Success(w, ScheduleResponse{
		NextDue:     timePtr(h.schedule.NextDue()),
		LastResult:  result,
		LastTrigger: timePtr(at),
	})
}
