// Package retention удаляет устаревшие файлы pipeline.
//
// Очистка запускается планировщиком только после успешного run.
// В каждом каталоге (без рекурсии) удаляются файлы старше retention_days,
// кроме файлов с маркером в имени (metadata, summary, report)
// и файлов, изменённых сегодня.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shaiso/Nightly/internal/telemetry"
)

// Config — конфигурация Sweeper.
type Config struct {
	Dirs     []string
	Days     int
	Preserve []string

	Logger *slog.Logger

	// Now — источник времени (для тестов).
	Now func() time.Time
}

// Result — итог очистки.
type Result struct {
	Deleted   int `json:"deleted"`
	Preserved int `json:"preserved"`
	Kept      int `json:"kept"`
}

// Sweeper — очистка каталогов по сроку хранения.
type Sweeper struct {
	dirs     []string
	maxAge   time.Duration
	preserve []string
	logger   *slog.Logger
	now      func() time.Time
}

// New создаёт Sweeper.
func New(cfg Config) *Sweeper {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	days := cfg.Days
	if days <= 0 {
		days = 7
	}

	return &Sweeper{
		dirs:     cfg.Dirs,
		maxAge:   time.Duration(days) * 24 * time.Hour,
		preserve: cfg.Preserve,
		logger:   logger,
		now:      now,
	}
}

// Sweep выполняет очистку. Ошибки удаления отдельных файлов
// не прерывают обход и возвращаются вместе.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	var (
		res  Result
		errs []error
	)

	now := s.now()
	cutoff := now.Add(-s.maxAge)

	for _, dir := range s.dirs {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		entries, err := os.ReadDir(dir)
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Debug("retention dir does not exist, skipping", "dir", dir)
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("read %s: %w", dir, err))
			continue
		}

		for _, e := range entries {
			if !e.Type().IsRegular() {
				continue
			}

			info, err := e.Info()
			if err != nil {
				errs = append(errs, fmt.Errorf("stat %s: %w", e.Name(), err))
				continue
			}

			switch {
			case s.isPreserved(e.Name()), sameDay(info.ModTime(), now):
				res.Preserved++
			case info.ModTime().Before(cutoff):
				path := filepath.Join(dir, e.Name())
				if err := os.Remove(path); err != nil {
					errs = append(errs, fmt.Errorf("remove %s: %w", path, err))
					continue
				}
				res.Deleted++
				s.logger.Debug("deleted old file", "path", path, "modified", info.ModTime())
			default:
				res.Kept++
			}
		}
	}

	telemetry.RecordRetention(res.Deleted)
	s.logger.Info("retention sweep completed",
		"deleted", res.Deleted,
		"preserved", res.Preserved,
		"kept", res.Kept,
		"errors", len(errs),
	)

	return res, errors.Join(errs...)
}

func (s *Sweeper) isPreserved(name string) bool {
	lower := strings.ToLower(name)
	for _, marker := range s.preserve {
		if marker != "" && strings.Contains(lower, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}

func sameDay(a, b time.Time) bool {
	a = a.In(b.Location())
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}
