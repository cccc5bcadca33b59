// Package orchestrator выполняет pipeline run.
//
// Orchestrator отвечает за:
//   - Создание RunReport в статусе running
//   - Последовательное выполнение шагов через StepRunner в порядке объявления
//   - Fail-fast: после первого окончательно упавшего шага остальные не запускаются
//   - Финализацию отчёта (end_time, статус) и однократное сохранение
//   - Публикацию события run.finished
//
// Финализация выполняется в deferred-пути, поэтому отчёт сохраняется
// на любом выходе из Execute, включая панику.
package orchestrator
