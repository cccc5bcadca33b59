// Package worker выполняет шаги pipeline с retry.
//
// # StepRunner
//
// StepRunner получает неизменяемую политику retry при создании
// (config.RetryConfig) и выполняет шаг:
//
//	runner := worker.New(worker.Config{
//	    Retry:  cfg.Retry,   // max_retries=3, backoff=[1s 2s 4s]
//	    Logger: logger,
//	    Errors: errorChannel,
//	})
//	outcome := runner.Run(ctx, step)
//
// # Retry
//
// Retry выполняется в процессе. После n-й неудачной попытки
// пауза равна backoff[n-1]; если расписание короче, повторяется
// последний элемент. После max_retries неудач шаг считается упавшим
// с последней ошибкой.
//
// Паника в шаге перехватывается и считается неудачной попыткой
// (ErrStepPanicked, stack trace уходит в канал ошибок).
//
// Пауза учитывает ctx: при отмене шаг сразу завершается как failed
// с фактическим числом попыток.
//
// # Наблюдаемость
//
// Каждая неудачная попытка пишется в канал ошибок (telemetry.ErrorChannel).
// Метрики: nightly_step_attempts_total, nightly_step_duration_seconds.
// Один span "step <name>" на серию попыток.
package worker
