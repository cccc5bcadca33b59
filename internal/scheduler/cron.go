package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shaiso/Nightly/internal/config"
)

// cronParser — парсер cron-выражений.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// DailySpec возвращает cron-выражение триггера.
// Явный cron имеет приоритет; иначе run_time "HH:MM" превращается в "M H * * *".
func DailySpec(cfg config.SchedulerConfig) (string, error) {
	if cfg.Cron != "" {
		return cfg.Cron, nil
	}

	t, err := time.Parse("15:04", cfg.RunTime)
	if err != nil {
		return "", fmt.Errorf("invalid run time %q: expected HH:MM", cfg.RunTime)
	}
	return fmt.Sprintf("%d %d * * *", t.Minute(), t.Hour()), nil
}

// ParseSchedule строит расписание триггера из конфигурации.
func ParseSchedule(cfg config.SchedulerConfig) (cron.Schedule, error) {
	spec, err := DailySpec(cfg)
	if err != nil {
		return nil, err
	}

	sched, err := cronParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse cron expression %q: %w", spec, err)
	}
	return sched, nil
}

// CalculateNextDue вычисляет следующее время срабатывания строго после from.
//
// Расписание интерпретируется в часовом поясе loc; результат в UTC.
func CalculateNextDue(sched cron.Schedule, from time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return sched.Next(from.In(loc)).UTC()
}

// ValidateCronExpr проверяет валидность cron-выражения.
func ValidateCronExpr(cronExpr string) error {
	_, err := cronParser.Parse(cronExpr)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}
	return nil
}
