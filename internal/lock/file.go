package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// BackendFile — имя файлового backend'а.
const BackendFile = "file"

// FileLock — блокировка на основе файла-маркера.
//
// Захват — атомарное создание файла (O_CREATE|O_EXCL), поэтому два процесса
// не могут одновременно увидеть отсутствие маркера и оба его создать.
// В файл пишутся pid, host и время захвата для диагностики.
type FileLock struct {
	path string
	now  func() time.Time

	mu   sync.Mutex
	held bool
}

type fileLockInfo struct {
	PID        int       `json:"pid"`
	Host       string    `json:"host"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// NewFileLock создаёт блокировку на пути path.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path, now: time.Now}
}

// Path возвращает путь к файлу-маркеру.
func (l *FileLock) Path() string {
	return l.path
}

// Acquire создаёт файл-маркер, если его нет.
func (l *FileLock) Acquire(_ context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held {
		return false, nil
	}

	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return false, fmt.Errorf("create lock dir: %w", err)
		}
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, os.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("create lock file: %w", err)
	}

	host, _ := os.Hostname()
	info := fileLockInfo{PID: os.Getpid(), Host: host, AcquiredAt: l.now().UTC()}
	encErr := json.NewEncoder(f).Encode(info)
	closeErr := f.Close()
	if err := errors.Join(encErr, closeErr); err != nil {
		_ = os.Remove(l.path)
		return false, fmt.Errorf("write lock file: %w", err)
	}

	l.held = true
	return true, nil
}

// Release удаляет файл-маркер, если он был создан этим экземпляром.
func (l *FileLock) Release(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.held {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	l.held = false
	return nil
}

// Status читает файл-маркер. Для маркера этого хоста проверяет,
// жив ли процесс-владелец.
func (l *FileLock) Status(ctx context.Context) (Status, error) {
	st := Status{Backend: BackendFile, Resource: l.path}

	fi, err := os.Stat(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("stat lock file: %w", err)
	}

	st.Held = true
	st.AcquiredAt = fi.ModTime().UTC()

	data, err := os.ReadFile(l.path)
	if err != nil {
		return st, nil
	}
	var info fileLockInfo
	if json.Unmarshal(data, &info) == nil {
		st.PID = info.PID
		st.Holder = info.Host
		if !info.AcquiredAt.IsZero() {
			st.AcquiredAt = info.AcquiredAt
		}
		st.HolderAlive = holderAlive(ctx, info)
	}
	return st, nil
}

func holderAlive(ctx context.Context, info fileLockInfo) *bool {
	if info.PID <= 0 {
		return nil
	}
	if host, _ := os.Hostname(); host != info.Host {
		return nil
	}
	alive, err := process.PidExistsWithContext(ctx, int32(info.PID))
	if err != nil {
		return nil
	}
	return &alive
}

// ForceRelease удаляет файл-маркер независимо от владельца.
func (l *FileLock) ForceRelease(_ context.Context) error {
	err := os.Remove(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotHeld
	}
	if err != nil {
		return fmt.Errorf("remove lock file: %w", err)
	}

	l.mu.Lock()
	l.held = false
	l.mu.Unlock()
	return nil
}
