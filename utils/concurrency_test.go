package utils

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeySetNoDuplicates(t *testing.T) {
	s := NewKeySet()

	assert.True(t, s.Add("ahrefs.com"), "first Add should return true")
	assert.False(t, s.Add("ahrefs.com"), "second Add of same key should return false")
	assert.True(t, s.Contains("ahrefs.com"))
	assert.False(t, s.Contains("moz.com"))
	assert.Equal(t, 1, s.Size())
}

func TestKeySetConcurrency(t *testing.T) {
	s := NewKeySet()
	var added int64

	pool := NewWorkerPool(10)
	for i := 0; i < 100; i++ {
		require.NoError(t, pool.Submit(context.Background(), func() error {
			if s.Add("semrush.com") {
				atomic.AddInt64(&added, 1)
			}
			return nil
		}))
	}
	assert.Empty(t, pool.Wait())

	assert.EqualValues(t, 1, added, "expected exactly 1 successful add")
}

func TestWorkerPoolBoundsConcurrency(t *testing.T) {
	pool := NewWorkerPool(2)

	var running, peak int64
	var mu sync.Mutex
	for i := 0; i < 8; i++ {
		require.NoError(t, pool.Submit(context.Background(), func() error {
			n := atomic.AddInt64(&running, 1)
			mu.Lock()
			if n > peak {
				peak = n
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt64(&running, -1)
			return nil
		}))
	}
	pool.Wait()

	assert.LessOrEqual(t, peak, int64(2))
}

func TestWorkerPoolCollectsErrors(t *testing.T) {
	pool := NewWorkerPool(3)
	errBad := errors.New("bad snapshot")

	for i := 0; i < 6; i++ {
		fail := i%2 == 0
		require.NoError(t, pool.Submit(context.Background(), func() error {
			if fail {
				return errBad
			}
			return nil
		}))
	}

	errs := pool.Wait()
	require.Len(t, errs, 3)
	for _, err := range errs {
		assert.ErrorIs(t, err, errBad)
	}
	assert.Empty(t, pool.Wait(), "errors are handed out once")
}

func TestWorkerPoolSubmitCancelled(t *testing.T) {
	pool := NewWorkerPool(1)
	ctx, cancel := context.WithCancel(context.Background())

	release := make(chan struct{})
	require.NoError(t, pool.Submit(ctx, func() error {
		<-release
		return nil
	}))

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	var ran int64
	err := pool.Submit(ctx, func() error {
		atomic.AddInt64(&ran, 1)
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	pool.Wait()
	assert.Zero(t, atomic.LoadInt64(&ran))
}

func TestWorkerPoolZeroWorkersIsSequential(t *testing.T) {
	pool := NewWorkerPool(0)
	var count int64
	for i := 0; i < 5; i++ {
		require.NoError(t, pool.Submit(context.Background(), func() error {
			atomic.AddInt64(&count, 1)
			return nil
		}))
	}
	pool.Wait()
	assert.EqualValues(t, 5, count)
}
