// Package scheduler реализует ежедневный триггер pipeline.
//
// Структура:
//   - scheduler.go — цикл Run, Tick и ручной Trigger
//   - cron.go      — расписание из run_time "HH:MM" или cron-выражения
//   - launcher.go  — запуск run в отдельном процессе
//
// Использование:
//
//	sched := scheduler.New(scheduler.Config{
//	    Schedule: schedule,   // scheduler.ParseSchedule(cfg.Scheduler)
//	    Location: cfg.Scheduler.Location(),
//	    Lock:     lock.NewFileLock(cfg.Paths.LockFile),
//	    Launcher: launcher,
//	    Cleaner:  sweeper,    // опционально
//	    Logger:   logger,
//	})
//
//	go sched.Run(ctx)
//
// Блокировку run держит планировщик, поэтому дочерний процесс
// запускается с флагом --no-lock. Ручной `nightly run` захватывает
// ту же блокировку сам.
package scheduler
