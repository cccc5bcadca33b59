// Package steps содержит шаги pipeline.
//
// # Интерфейс Step
//
//	type Step interface {
//	    Name() string
//	    Run(ctx context.Context) error
//	}
//
// Шаг — чёрный ящик: он выполняется один раз и возвращает ошибку.
// Retry, учёт времени и запись в отчёт делают worker.StepRunner
// и orchestrator.Orchestrator.
//
// # Типы шагов
//
//   - command (command.go) — внешний процесс; ненулевой код выхода = ошибка
//   - sql (sql.go) — SQL-скрипт в одной транзакции (pgx)
//
// Для тестов и встраивания есть адаптер NewFunc.
//
// # Registry
//
// Registry хранит фабрики по типу и строит pipeline из конфигурации:
//
//	registry := steps.DefaultRegistry()  // command, sql
//	pipeline, err := registry.Build(cfg.Pipeline.Steps, steps.Deps{DB: pool})
//
// Неизвестный тип — ErrStepNotFound, некорректная декларация — ErrInvalidConfig.
package steps
