// Package telemetry обеспечивает наблюдаемость системы.
//
// Включает:
//   - logging.go — structured logging через slog и отдельный канал ошибок
//   - metrics.go — Prometheus метрики
//   - tracing.go — OpenTelemetry трассировка run и шагов
//
// Все процессы используют единый формат логирования
// и экспортируют метрики на /metrics endpoint.
package telemetry
