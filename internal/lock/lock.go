// Package lock реализует взаимоисключение pipeline run.
//
// Присутствие блокировки означает, что run выполняется. Захват никогда
// не ждёт: занятая блокировка — это false, а не ошибка.
//
// Backend'ы:
//   - FileLock — файл-маркер, создаваемый атомарно (O_CREATE|O_EXCL)
//   - AdvisoryLock — pg_try_advisory_lock на выделенном соединении
//
// Автоматического снятия «зависшей» блокировки нет: после падения процесса
// оператор проверяет `nightly lock status` и снимает её `nightly lock release --force`.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotHeld — блокировка не удерживается.
var ErrNotHeld = errors.New("lock is not held")

// Locker — блокировка run.
type Locker interface {
	// Acquire пытается захватить блокировку без ожидания.
	// Возвращает false, если блокировка уже удерживается.
	Acquire(ctx context.Context) (bool, error)

	// Release освобождает блокировку, захваченную этим экземпляром.
	// Повторный вызов — no-op.
	Release(ctx context.Context) error
}

// Inspector — операторский доступ к блокировке.
type Inspector interface {
	// Status возвращает текущее состояние блокировки.
	Status(ctx context.Context) (Status, error)

	// ForceRelease снимает блокировку независимо от владельца.
	// Возвращает ErrNotHeld, если блокировки нет.
	ForceRelease(ctx context.Context) error
}

// Status — состояние блокировки.
type Status struct {
	Held       bool      `json:"held"`
	Backend    string    `json:"backend"`
	Resource   string    `json:"resource"`
	Holder     string    `json:"holder,omitempty"`
	PID        int       `json:"pid,omitempty"`
	AcquiredAt time.Time `json:"acquired_at"`

	// HolderAlive — жив ли процесс-владелец. Nil, если проверить нельзя
	// (другой хост или backend без pid).
	HolderAlive *bool `json:"holder_alive,omitempty"`
}

// Age возвращает время удержания блокировки.
func (s Status) Age(now time.Time) time.Duration {
	if !s.Held || s.AcquiredAt.IsZero() {
		return 0
	}
	return now.Sub(s.AcquiredAt)
}

// With выполняет fn под блокировкой.
//
// Если блокировка занята, fn не вызывается и возвращается (false, nil).
// Блокировка освобождается на любом выходе из fn, включая панику
// (после освобождения паника пробрасывается дальше).
func With(ctx context.Context, l Locker, fn func(ctx context.Context) error) (acquired bool, err error) {
	ok, err := l.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return false, nil
	}

	defer func() {
		// освобождаем даже при отменённом контексте вызывающего
		relErr := l.Release(context.WithoutCancel(ctx))
		if relErr != nil {
			err = errors.Join(err, fmt.Errorf("release lock: %w", relErr))
		}
	}()

	return true, fn(ctx)
}
