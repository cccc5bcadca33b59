package lock

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLock_AcquireRelease(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "pipeline.lock")

	a := NewFileLock(path)
	b := NewFileLock(path)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.FileExists(t, path)

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must not acquire")

	ok, err = a.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "re-acquire by holder is not reentrant")

	require.NoError(t, a.Release(ctx))
	assert.NoFileExists(t, path)

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, b.Release(ctx))
}

func TestFileLock_ReleaseIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "pipeline.lock")
	l := NewFileLock(path)

	require.NoError(t, l.Release(ctx), "release without acquire is a no-op")

	ok, err := l.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, l.Release(ctx))
	require.NoError(t, l.Release(ctx))
}

func TestFileLock_ReleaseDoesNotRemoveForeignLock(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "pipeline.lock")

	holder := NewFileLock(path)
	ok, err := holder.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	other := NewFileLock(path)
	require.NoError(t, other.Release(ctx))
	assert.FileExists(t, path)
}

func TestFileLock_ConcurrentAcquire(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "pipeline.lock")

	const n = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := NewFileLock(path).Acquire(ctx)
			if err == nil && ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
}

func TestFileLock_Status(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "pipeline.lock")
	l := NewFileLock(path)
	acquiredAt := time.Date(2024, 1, 15, 2, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return acquiredAt }

	st, err := l.Status(ctx)
	require.NoError(t, err)
	assert.False(t, st.Held)
	assert.Equal(t, BackendFile, st.Backend)

	ok, err := l.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	st, err = NewFileLock(path).Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.Held)
	assert.Equal(t, os.Getpid(), st.PID)
	assert.Equal(t, acquiredAt, st.AcquiredAt)
	assert.Equal(t, 3*time.Hour, st.Age(acquiredAt.Add(3*time.Hour)))
	require.NotNil(t, st.HolderAlive)
	assert.True(t, *st.HolderAlive)
}

func TestFileLock_StatusForeignHost(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.lock")
	marker := `{"pid": 1, "host": "other-host.invalid", "acquired_at": "2024-01-15T02:00:00Z"}`
	require.NoError(t, os.WriteFile(path, []byte(marker), 0o644))

	st, err := NewFileLock(path).Status(context.Background())
	require.NoError(t, err)
	assert.True(t, st.Held)
	assert.Equal(t, 1, st.PID)
	assert.Equal(t, "other-host.invalid", st.Holder)
	assert.Nil(t, st.HolderAlive)
}

func TestFileLock_StatusForeignMarker(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.lock")
	require.NoError(t, os.WriteFile(path, []byte("locked"), 0o644))

	st, err := NewFileLock(path).Status(context.Background())
	require.NoError(t, err)
	assert.True(t, st.Held)
	assert.Zero(t, st.PID)
	assert.False(t, st.AcquiredAt.IsZero(), "falls back to file mtime")
	assert.Nil(t, st.HolderAlive)
}

func TestFileLock_ForceRelease(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "pipeline.lock")

	assert.ErrorIs(t, NewFileLock(path).ForceRelease(ctx), ErrNotHeld)

	// маркер, оставшийся после падения процесса
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))

	l := NewFileLock(path)
	ok, err := l.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.ForceRelease(ctx))

	ok, err = l.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWith_RunsAndReleases(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "pipeline.lock")
	l := NewFileLock(path)

	ran, err := With(ctx, l, func(context.Context) error {
		assert.FileExists(t, path)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.NoFileExists(t, path)
}

func TestWith_ReleasesOnError(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "pipeline.lock")

	boom := errors.New("boom")
	ran, err := With(ctx, NewFileLock(path), func(context.Context) error { return boom })
	assert.True(t, ran)
	assert.ErrorIs(t, err, boom)
	assert.NoFileExists(t, path)
}

func TestWith_ReleasesOnPanic(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "pipeline.lock")

	assert.PanicsWithValue(t, "step bug", func() {
		_, _ = With(ctx, NewFileLock(path), func(context.Context) error { panic("step bug") })
	})
	assert.NoFileExists(t, path)
}

func TestWith_SkipsWhenHeld(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "pipeline.lock")

	holder := NewFileLock(path)
	ok, err := holder.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	called := false
	ran, err := With(ctx, NewFileLock(path), func(context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, ran)
	assert.False(t, called)
	assert.FileExists(t, path, "holder's lock is untouched")
}
