package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sebastiansabo/autoworld-crawl/internal/domain/integration"
)

// TriggerConfig holds configuration for the interval trigger
type TriggerConfig struct {
	Interval   time.Duration
	Sources    []integration.SourceRef
	RunOnStart bool
}

// IntervalTrigger submits one job per configured source on every tick.
// A source whose previous job is still active is skipped for that tick.
type IntervalTrigger struct {
	config    TriggerConfig
	scheduler *Scheduler
	logger    *zap.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
	lastRun   time.Time
}

// NewIntervalTrigger creates a new interval trigger
func NewIntervalTrigger(config TriggerConfig, scheduler *Scheduler, logger *zap.Logger) (*IntervalTrigger, error) {
	if config.Interval <= 0 || len(config.Sources) == 0 {
		return nil, fmt.Errorf("%w: interval %s with %d sources", ErrInvalidConfig, config.Interval, len(config.Sources))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IntervalTrigger{
		config:    config,
		scheduler: scheduler,
		logger:    logger,
	}, nil
}

// Start starts the trigger loop
func (c *IntervalTrigger) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.isRunning {
		c.mu.Unlock()
		return nil
	}
	c.isRunning = true
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go c.runLoop(ctx)

	c.logger.Info("Sync trigger started",
		zap.Duration("interval", c.config.Interval),
		zap.Int("sources", len(c.config.Sources)),
		zap.Bool("run_on_start", c.config.RunOnStart),
	)
	return nil
}

// Stop stops the trigger loop. Jobs already submitted keep running until the
// scheduler stops.
func (c *IntervalTrigger) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.isRunning {
		c.mu.Unlock()
		return nil
	}
	c.isRunning = false
	c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("Sync trigger stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LastRun returns when the trigger last submitted jobs
func (c *IntervalTrigger) LastRun() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRun
}

func (c *IntervalTrigger) runLoop(ctx context.Context) {
	defer c.wg.Done()

	if c.config.RunOnStart {
		c.Trigger()
	}

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Trigger()
		}
	}
}

// Trigger submits a job for every configured source now and returns the
// number submitted.
func (c *IntervalTrigger) Trigger() int {
	c.mu.Lock()
	c.lastRun = time.Now()
	c.mu.Unlock()

	submitted := 0
	for _, src := range c.config.Sources {
		_, err := c.scheduler.Submit(src)
		switch {
		case err == nil:
			submitted++
		case errors.Is(err, ErrJobAlreadyActive):
			c.logger.Info("Skipping source, previous job still active", zap.String("source", src.Key))
		default:
			c.logger.Error("Failed to submit sync job", zap.String("source", src.Key), zap.Error(err))
		}
	}
	return submitted
}
