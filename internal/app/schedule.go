package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	syncapp "github.com/sebastiansabo/autoworld-crawl/internal/application/integration"
	"github.com/sebastiansabo/autoworld-crawl/internal/domain/integration"
	"github.com/sebastiansabo/autoworld-crawl/internal/infrastructure/scheduler"
)

// ExecuteSyncJob runs one scheduled job against the record source. Per-record
// failures leave the job successful; a source that cannot be read or a batch
// aborted on storage failures fails it so the scheduler can retry.
func (a *App) ExecuteSyncJob(ctx context.Context, job *scheduler.Job) error {
	res, err := a.Service.RunFromSource(ctx, job.BatchID(), job.Source)
	if res != nil {
		a.Logger.Info("Scheduled sync finished",
			zap.String("source", job.Source.Key),
			zap.String("batch_id", res.BatchID),
			zap.String("status", res.Status),
			zap.Int("created", res.Created),
			zap.Int("updated", res.Updated),
			zap.Int("failed", res.Failed),
		)
	}
	if err != nil {
		return err
	}
	if res.Status == string(integration.SyncStatusFailed) && res.Total > 0 {
		return fmt.Errorf("every record of %s failed", job.Source.Key)
	}
	return nil
}

// StartSchedule starts the periodic bucket sync when schedule.enabled is set.
// The returned stop function is never nil.
func (a *App) StartSchedule(ctx context.Context) (func(ctx context.Context) error, error) {
	cfg := a.Config.Schedule
	noop := func(context.Context) error { return nil }
	if !cfg.Enabled {
		return noop, nil
	}
	if a.Source == nil {
		return noop, syncapp.ErrSourceNotConfigured
	}

	sched, err := scheduler.NewScheduler(scheduler.Config{
		Workers:       cfg.Workers,
		QueueSize:     len(cfg.Objects) * 2,
		JobTimeout:    cfg.JobTimeout,
		RetryAttempts: cfg.RetryAttempts,
		RetryDelay:    cfg.RetryDelay,
	}, scheduler.ExecutorFunc(a.ExecuteSyncJob), a.Logger.Named("scheduler"))
	if err != nil {
		return noop, err
	}

	sources := make([]integration.SourceRef, 0, len(cfg.Objects))
	for _, key := range cfg.Objects {
		sources = append(sources, integration.SourceRef{Key: key, Format: cfg.Format})
	}
	trigger, err := scheduler.NewIntervalTrigger(scheduler.TriggerConfig{
		Interval:   cfg.Interval,
		Sources:    sources,
		RunOnStart: cfg.RunOnStart,
	}, sched, a.Logger.Named("scheduler"))
	if err != nil {
		return noop, err
	}

	if err := sched.Start(ctx); err != nil {
		return noop, err
	}
	if err := trigger.Start(ctx); err != nil {
		_ = sched.Stop(ctx)
		return noop, err
	}
	return func(ctx context.Context) error {
		return errors.Join(trigger.Stop(ctx), sched.Stop(ctx))
	}, nil
}
