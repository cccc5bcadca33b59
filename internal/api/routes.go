package api

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// RegisterRoutes регистрирует маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
	)

	// Runs
	mux.Handle("GET /api/v1/runs", chain(http.HandlerFunc(h.ListRuns)))
	mux.Handle("GET /api/v1/runs/latest", chain(http.HandlerFunc(h.LatestRun)))
	mux.Handle("GET /api/v1/runs/{id}", chain(http.HandlerFunc(h.GetRun)))

	// Monitoring
	mux.Handle("GET /api/v1/health", chain(http.HandlerFunc(h.Health)))

	// Coordination
	mux.Handle("GET /api/v1/lock", chain(http.HandlerFunc(h.LockStatus)))
	mux.Handle("GET /api/v1/schedule", chain(http.HandlerFunc(h.Schedule)))
}

// Routes возвращает готовый http.Handler с трассировкой запросов.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return otelhttp.NewHandler(mux, "nightly-api")
}
