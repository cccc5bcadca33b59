package lock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// BackendPostgres — имя backend'а на advisory lock.
const BackendPostgres = "postgres"

// AdvisoryLock — блокировка через pg_try_advisory_lock.
//
// Advisory lock принадлежит сессии, поэтому захват и освобождение
// выполняются на одном выделенном соединении из пула. При потере
// сессии сервер снимает блокировку сам.
type AdvisoryLock struct {
	pool sessionPool
	key  int64

	mu   sync.Mutex
	conn session
}

// sessionPool — пул, из которого берётся выделенная сессия.
type sessionPool interface {
	acquire(ctx context.Context) (session, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// session — выделенное соединение пула.
type session interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	// discard закрывает соединение, чтобы оно не вернулось в пул.
	discard(ctx context.Context)
	Release()
}

type pgxSessionPool struct {
	*pgxpool.Pool
}

func (p pgxSessionPool) acquire(ctx context.Context) (session, error) {
	conn, err := p.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return pgxSession{conn}, nil
}

type pgxSession struct {
	*pgxpool.Conn
}

func (s pgxSession) discard(ctx context.Context) {
	_ = s.Conn.Conn().Close(ctx)
}

// NewAdvisoryLock создаёт блокировку с ключом key.
func NewAdvisoryLock(pool *pgxpool.Pool, key int64) *AdvisoryLock {
	return &AdvisoryLock{pool: pgxSessionPool{pool}, key: key}
}

// advisoryKeyParts раскладывает bigint-ключ так, как он виден в pg_locks:
// classid — старшие 32 бита, objid — младшие.
func advisoryKeyParts(key int64) (classID, objID uint32) {
	return uint32(uint64(key) >> 32), uint32(uint64(key))
}

// Acquire пытается захватить advisory lock.
func (l *AdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn != nil {
		return false, nil
	}

	conn, err := l.pool.acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire conn: %w", err)
	}

	var ok bool
	if err := conn.QueryRow(ctx, "select pg_try_advisory_lock($1)", l.key).Scan(&ok); err != nil {
		conn.Release()
		return false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !ok {
		conn.Release()
		return false, nil
	}

	l.conn = conn
	return true, nil
}

// Release снимает advisory lock и возвращает соединение в пул.
func (l *AdvisoryLock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return nil
	}

	conn := l.conn
	l.conn = nil

	var unlocked bool
	err := conn.QueryRow(ctx, "select pg_advisory_unlock($1)", l.key).Scan(&unlocked)
	if err != nil {
		// соединение с неизвестным состоянием сессии не возвращаем в пул
		conn.discard(ctx)
		conn.Release()
		return fmt.Errorf("advisory unlock: %w", err)
	}
	conn.Release()

	if !unlocked {
		return fmt.Errorf("advisory unlock: %w", ErrNotHeld)
	}
	return nil
}

const holderQuery = `
	SELECT l.pid, COALESCE(a.client_addr::text, 'local'), COALESCE(a.backend_start, now())
	FROM pg_locks l
	LEFT JOIN pg_stat_activity a ON a.pid = l.pid
	WHERE l.locktype = 'advisory'
	  AND l.granted
	  AND l.objsubid = 1
	  AND l.classid = $1
	  AND l.objid = $2
	LIMIT 1`

// Status ищет держателя advisory lock в pg_locks.
func (l *AdvisoryLock) Status(ctx context.Context) (Status, error) {
	st := Status{Backend: BackendPostgres, Resource: "advisory:" + strconv.FormatInt(l.key, 10)}

	var (
		pid    int
		holder string
	)
	classID, objID := advisoryKeyParts(l.key)
	err := l.pool.QueryRow(ctx, holderQuery, classID, objID).Scan(&pid, &holder, &st.AcquiredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("query advisory lock holder: %w", err)
	}

	st.Held = true
	st.PID = pid
	st.Holder = holder
	return st, nil
}

// ForceRelease завершает сессию-держателя блокировки.
func (l *AdvisoryLock) ForceRelease(ctx context.Context) error {
	st, err := l.Status(ctx)
	if err != nil {
		return err
	}
	if !st.Held {
		return ErrNotHeld
	}

	var terminated bool
	if err := l.pool.QueryRow(ctx, "select pg_terminate_backend($1)", st.PID).Scan(&terminated); err != nil {
		return fmt.Errorf("terminate lock holder: %w", err)
	}
	if !terminated {
		return fmt.Errorf("terminate lock holder pid %d: not terminated", st.PID)
	}
	return nil
}
