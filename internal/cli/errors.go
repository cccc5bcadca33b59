package cli

import "errors"

var (
	// ErrUnhealthy — мониторинг обнаружил алерты уровня --fail-on.
	ErrUnhealthy = errors.New("pipeline is unhealthy")

	// ErrNoDatabase — database.url не задан.
	ErrNoDatabase = errors.New("database url is not configured")

	// ErrNoBroker — rabbitmq.url не задан.
	ErrNoBroker = errors.New("rabbitmq url is not configured")

	// ErrLockHeld — блокировку держит живой процесс.
	ErrLockHeld = errors.New("lock is held by a running process")
)
