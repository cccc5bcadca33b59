// Package api — read-only HTTP API планировщика.
//
// Структура:
//   - handler.go    — Handler с зависимостями (отчёты, блокировка, расписание)
//   - routes.go     — регистрация маршрутов
//   - middleware.go — logging, recovery
//   - response.go   — JSON-ответы и обработка ошибок
//   - dto.go        — представления ответов
//   - runs.go       — обработчики /runs, /health, /lock, /schedule
//
// API только читает состояние: запуск run и снятие блокировки
// выполняются через CLI.
package api
