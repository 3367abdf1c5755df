package lock

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryAcquireBusy(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "locks", "registry.lock")

	first, err := TryAcquire(path)
	require.NoError(t, err)

	_, err = TryAcquire(path)
	assert.ErrorIs(t, err, ErrBusy)

	require.NoError(t, first.Release())
	require.NoError(t, first.Release(), "Release should be idempotent")

	second, err := TryAcquire(path)
	require.NoError(t, err)
	require.NoError(t, second.Release())
}

func TestAcquireTimesOut(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "registry.lock")
	held, err := TryAcquire(path)
	require.NoError(t, err)
	defer held.Release()

	start := time.Now()
	_, err = Acquire(context.Background(), path, 100*time.Millisecond)
	assert.True(t, errors.Is(err, ErrTimeout), "expected ErrTimeout, got %v", err)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestAcquireWaitsForRelease(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "registry.lock")
	held, err := TryAcquire(path)
	require.NoError(t, err)

	acquired := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l, err := Acquire(context.Background(), path, 5*time.Second)
		if err != nil {
			t.Errorf("Acquire failed: %v", err)
			return
		}
		close(acquired)
		l.Release()
	}()

	time.Sleep(50 * time.Millisecond)
	select {
	case <-acquired:
		t.Fatal("second acquire should block while the lock is held")
	default:
	}

	require.NoError(t, held.Release())
	wg.Wait()

	select {
	case <-acquired:
	default:
		t.Fatal("second acquire never completed")
	}
}

func TestAcquireHonoursContext(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "registry.lock")
	held, err := TryAcquire(path)
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Acquire(ctx, path, 0)
	assert.ErrorIs(t, err, context.Canceled)
}
