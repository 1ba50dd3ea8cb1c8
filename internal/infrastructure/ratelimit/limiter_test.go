package ratelimit

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		l, err := New(Config{})
		require.NoError(t, err)
		stats := l.Stats()
		assert.Equal(t, DefaultMaxConcurrent, stats.MaxConcurrent)
		assert.Equal(t, time.Duration(0), stats.MinInterval)
		assert.True(t, stats.LastDispatch.IsZero())
	})

	t.Run("negative bounds", func(t *testing.T) {
		_, err := New(Config{MaxConcurrent: -1})
		assert.ErrorIs(t, err, ErrInvalidConfig)

		_, err = New(Config{MaxConcurrent: 1, MinInterval: -time.Second})
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestLimiter_SpacingAndConcurrency(t *testing.T) {
	const (
		minInterval   = 500 * time.Millisecond
		maxConcurrent = 2
		tasks         = 5
	)

	var (
		mu         sync.Mutex
		dispatches []time.Time
	)
	l, err := New(Config{MaxConcurrent: maxConcurrent, MinInterval: minInterval})
	require.NoError(t, err)
	l.onDispatch = func(at time.Time) {
		mu.Lock()
		dispatches = append(dispatches, at)
		mu.Unlock()
	}

	var current, peak atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < tasks; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.Schedule(context.Background(), func(ctx context.Context) error {
				n := current.Add(1)
				defer current.Add(-1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(700 * time.Millisecond)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Len(t, dispatches, tasks)
	sort.Slice(dispatches, func(i, j int) bool { return dispatches[i].Before(dispatches[j]) })
	for i := 1; i < len(dispatches); i++ {
		gap := dispatches[i].Sub(dispatches[i-1])
		assert.GreaterOrEqual(t, gap, minInterval, "dispatch %d came %v after the previous one", i, gap)
	}
	assert.LessOrEqual(t, peak.Load(), int64(maxConcurrent))

	stats := l.Stats()
	assert.Equal(t, int64(tasks), stats.Dispatched)
	assert.LessOrEqual(t, stats.PeakInFlight, int64(maxConcurrent))
	assert.Equal(t, int64(0), stats.InFlight)
	assert.False(t, stats.LastDispatch.IsZero())
}

func TestLimiter_ReturnsTaskError(t *testing.T) {
	l, err := New(Config{MaxConcurrent: 1})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = l.Schedule(context.Background(), func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestLimiter_CancelWhileWaitingForConcurrency(t *testing.T) {
	l, err := New(Config{MaxConcurrent: 1})
	require.NoError(t, err)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = l.Schedule(context.Background(), func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var ran atomic.Bool
	err = l.Schedule(ctx, func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})
	close(release)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, ran.Load())
}

func TestLimiter_CancelWhileWaitingForInterval(t *testing.T) {
	l, err := New(Config{MaxConcurrent: 2, MinInterval: time.Hour})
	require.NoError(t, err)

	require.NoError(t, l.Schedule(context.Background(), func(ctx context.Context) error { return nil }))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	var ran atomic.Bool
	err = l.Schedule(ctx, func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, ran.Load())
	assert.Equal(t, int64(1), l.Stats().Dispatched)
}

func TestLimiter_WaitObserver(t *testing.T) {
	var observed atomic.Int64
	l, err := New(Config{MaxConcurrent: 1, MinInterval: 20 * time.Millisecond},
		WithWaitObserver(func(ctx context.Context, wait time.Duration) {
			observed.Add(1)
		}))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Schedule(context.Background(), func(ctx context.Context) error { return nil }))
	}
	assert.Equal(t, int64(3), observed.Load())
	assert.GreaterOrEqual(t, l.Stats().TotalWait, 30*time.Millisecond)
}
