// Package ratelimit provides the process-wide outbound call limiter used by
// the sync engine to stay within the remote catalog's rate limits.
package ratelimit

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/sebastiansabo/autoworld-crawl/internal/domain/integration"
)

// Defaults used when the configuration leaves a bound unset.
const (
	DefaultMaxConcurrent = 2
	DefaultMinInterval   = 500 * time.Millisecond
)

// ErrInvalidConfig is returned for non-positive bounds.
var ErrInvalidConfig = errors.New("ratelimit: max concurrent must be positive and min interval non-negative")

// Config holds limiter bounds.
type Config struct {
	// MaxConcurrent is the number of tasks allowed in flight at once
	MaxConcurrent int
	// MinInterval is the minimum spacing between two dispatches
	MinInterval time.Duration
}

// Stats is a snapshot of limiter activity.
type Stats struct {
	Dispatched    int64         `json:"dispatched"`
	InFlight      int64         `json:"in_flight"`
	PeakInFlight  int64         `json:"peak_in_flight"`
	MaxConcurrent int           `json:"max_concurrent"`
	MinInterval   time.Duration `json:"min_interval"`
	LastDispatch  time.Time     `json:"last_dispatch"`
	TotalWait     time.Duration `json:"total_wait"`
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithWaitObserver registers a callback receiving the admission wait of each task.
func WithWaitObserver(fn func(ctx context.Context, wait time.Duration)) Option {
	return func(l *Limiter) {
		l.observeWait = fn
	}
}

// Limiter admits tasks once fewer than MaxConcurrent are in flight and at
// least MinInterval has passed since the previous dispatch.
//
// Thread Safety: Safe for concurrent use. One Limiter is shared by the whole process.
type Limiter struct {
	sem           *semaphore.Weighted
	maxConcurrent int
	minInterval   time.Duration

	// gate serializes dispatch spacing; it is held while waiting for the interval.
	gate         chan struct{}
	lastDispatch time.Time

	logger      *zap.Logger
	observeWait func(ctx context.Context, wait time.Duration)
	onDispatch  func(at time.Time)
	now         func() time.Time

	dispatched   atomic.Int64
	inFlight     atomic.Int64
	peakInFlight atomic.Int64
	totalWait    atomic.Int64
	lastUnixNano atomic.Int64
}

var _ integration.CallScheduler = (*Limiter)(nil)

// New creates a limiter. Zero values in cfg fall back to the defaults.
func New(cfg Config, opts ...Option) (*Limiter, error) {
	if cfg.MaxConcurrent == 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.MaxConcurrent < 0 || cfg.MinInterval < 0 {
		return nil, ErrInvalidConfig
	}

	l := &Limiter{
		sem:           semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		maxConcurrent: cfg.MaxConcurrent,
		minInterval:   cfg.MinInterval,
		gate:          make(chan struct{}, 1),
		logger:        zap.NewNop(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Schedule blocks until the task is admitted, then runs it on the caller's goroutine.
func (l *Limiter) Schedule(ctx context.Context, task func(ctx context.Context) error) error {
	start := time.Now()

	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer l.sem.Release(1)

	if err := l.waitForSlot(ctx); err != nil {
		return err
	}

	wait := time.Since(start)
	l.totalWait.Add(int64(wait))
	if l.observeWait != nil {
		l.observeWait(ctx, wait)
	}

	current := l.inFlight.Add(1)
	defer l.inFlight.Add(-1)
	for {
		peak := l.peakInFlight.Load()
		if current <= peak || l.peakInFlight.CompareAndSwap(peak, current) {
			break
		}
	}
	l.dispatched.Add(1)

	if wait > l.minInterval*4 && l.minInterval > 0 {
		l.logger.Debug("Outbound call waited for admission",
			zap.Duration("wait", wait),
			zap.Int64("in_flight", current))
	}

	return task(ctx)
}

// waitForSlot holds the gate until MinInterval has elapsed since the last
// dispatch, then records the new dispatch instant.
func (l *Limiter) waitForSlot(ctx context.Context) error {
	select {
	case l.gate <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-l.gate }()

	for {
		now := l.now()
		if l.lastDispatch.IsZero() {
			break
		}
		remaining := l.lastDispatch.Add(l.minInterval).Sub(now)
		if remaining <= 0 {
			break
		}
		timer := time.NewTimer(remaining)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}

	l.lastDispatch = l.now()
	l.lastUnixNano.Store(l.lastDispatch.UnixNano())
	if l.onDispatch != nil {
		l.onDispatch(l.lastDispatch)
	}
	return nil
}

// Stats returns current statistics about the limiter.
func (l *Limiter) Stats() Stats {
	var last time.Time
	if ns := l.lastUnixNano.Load(); ns != 0 {
		last = time.Unix(0, ns)
	}
	return Stats{
		Dispatched:    l.dispatched.Load(),
		InFlight:      l.inFlight.Load(),
		PeakInFlight:  l.peakInFlight.Load(),
		MaxConcurrent: l.maxConcurrent,
		MinInterval:   l.minInterval,
		LastDispatch:  last,
		TotalWait:     time.Duration(l.totalWait.Load()),
	}
}
