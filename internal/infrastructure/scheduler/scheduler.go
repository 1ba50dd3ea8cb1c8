// Package scheduler runs sync jobs for record source objects on a worker
// pool, with delayed retries and at most one active job per source key.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sebastiansabo/autoworld-crawl/internal/domain/integration"
)

// Config holds scheduler configuration
type Config struct {
	Workers       int
	QueueSize     int
	JobTimeout    time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
}

// DefaultConfig returns one worker, no retries and a 30 minute job timeout
func DefaultConfig() Config {
	return Config{
		Workers:    1,
		QueueSize:  32,
		JobTimeout: 30 * time.Minute,
		RetryDelay: 5 * time.Minute,
	}
}

func (c Config) validate() error {
	if c.Workers <= 0 || c.JobTimeout <= 0 || c.RetryAttempts < 0 {
		return fmt.Errorf("%w: workers %d, job timeout %s, retry attempts %d",
			ErrInvalidConfig, c.Workers, c.JobTimeout, c.RetryAttempts)
	}
	return nil
}

// slot is the active job of one source key. retry is set while the job
// waits for its next attempt.
type slot struct {
	job   *Job
	retry *time.Timer
}

// Scheduler manages sync jobs
type Scheduler struct {
	cfg  Config
	exec JobExecutor
	log  *zap.Logger

	queue chan *Job
	wg    sync.WaitGroup

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	active  map[string]*slot
}

// NewScheduler creates a scheduler. The worker pool starts with Start.
func NewScheduler(cfg Config, exec JobExecutor, log *zap.Logger) (*Scheduler, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		cfg:    cfg,
		exec:   exec,
		log:    log,
		queue:  make(chan *Job, cfg.QueueSize),
		active: make(map[string]*slot),
	}, nil
}

// Start launches the workers. It is a no-op when already running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	s.wg.Add(s.cfg.Workers)
	for id := range s.cfg.Workers {
		go s.work(ctx, id)
	}
	s.log.Info("Sync scheduler started",
		zap.Int("workers", s.cfg.Workers),
		zap.Duration("job_timeout", s.cfg.JobTimeout),
	)
	return nil
}

// Stop cancels running jobs, drops queued jobs and pending retries, and
// waits for the workers until ctx ends. Running jobs release their source
// key when they return.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.cancel()
	for key, sl := range s.active {
		if sl.retry != nil {
			sl.retry.Stop()
			delete(s.active, key)
		}
	}
	dropped := s.drain()
	s.mu.Unlock()
	if dropped > 0 {
		s.log.Info("Dropped queued sync jobs", zap.Int("count", dropped))
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("Sync scheduler stopped")
		return nil
	case <-ctx.Done():
		s.log.Warn("Sync scheduler stop timed out")
		return ctx.Err()
	}
}

// SubmitJob queues a job. It fails when a job for the same source key is
// still pending or running.
func (s *Scheduler) SubmitJob(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case !s.running:
		return ErrSchedulerNotRunning
	case s.active[job.Source.Key] != nil:
		return ErrJobAlreadyActive
	}
	select {
	case s.queue <- job:
	default:
		return ErrJobQueueFull
	}
	s.active[job.Source.Key] = &slot{job: job}
	s.log.Debug("Job submitted", zap.Stringer("job_id", job.ID), zap.String("source", job.Source.Key))
	return nil
}

// Submit creates and queues a job for source with the configured retries
func (s *Scheduler) Submit(source integration.SourceRef) (*Job, error) {
	job := NewJob(source, s.cfg.RetryAttempts)
	if err := s.SubmitJob(job); err != nil {
		return nil, err
	}
	return job, nil
}

// Active reports whether a job for the source key is pending or running
func (s *Scheduler) Active(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active[key] != nil
}

func (s *Scheduler) work(ctx context.Context, id int) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.queue:
			s.run(ctx, job, s.log.With(
				zap.Int("worker_id", id),
				zap.Stringer("job_id", job.ID),
				zap.String("source", job.Source.Key),
			))
		}
	}
}

func (s *Scheduler) run(ctx context.Context, job *Job, log *zap.Logger) {
	job.Start()
	log = log.With(zap.String("batch_id", job.BatchID()))
	log.Info("Running sync job", zap.Int("retry_count", job.RetryCount))

	jobCtx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	err := s.exec.Execute(jobCtx, job)
	cancel()

	if err == nil {
		job.Complete()
		s.release(job)
		log.Info("Sync job completed")
		return
	}
	job.Fail(err.Error())
	log.Error("Sync job failed", zap.Error(err))
	if ctx.Err() == nil && job.ShouldRetry() {
		s.retryLater(job, log)
		return
	}
	s.release(job)
}

// retryLater requeues the job after the retry delay. The source stays
// active in between so the trigger does not start a parallel job.
func (s *Scheduler) retryLater(job *Job, log *zap.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl := s.active[job.Source.Key]
	if !s.running || sl == nil || sl.job != job {
		delete(s.active, job.Source.Key)
		return
	}

	job.prepareRetry()
	log.Info("Sync job scheduled for retry",
		zap.Int("retry_count", job.RetryCount),
		zap.Int("max_retries", job.MaxRetries),
		zap.Duration("delay", s.cfg.RetryDelay),
	)
	sl.retry = time.AfterFunc(s.cfg.RetryDelay, func() { s.requeue(sl) })
}

func (s *Scheduler) requeue(sl *slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sl.job.Source.Key
	if s.active[key] != sl {
		return
	}
	sl.retry = nil
	if !s.running {
		delete(s.active, key)
		return
	}
	select {
	case s.queue <- sl.job:
	default:
		delete(s.active, key)
		s.log.Warn("Retry dropped, job queue full", zap.Stringer("job_id", sl.job.ID))
	}
}

// drain empties the queue and frees the source keys of the dropped jobs.
// The caller holds s.mu.
func (s *Scheduler) drain() int {
	n := 0
	for {
		select {
		case job := <-s.queue:
			if sl := s.active[job.Source.Key]; sl != nil && sl.job == job {
				delete(s.active, job.Source.Key)
			}
			job.Fail("scheduler stopped")
			n++
		default:
			return n
		}
	}
}

func (s *Scheduler) release(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sl := s.active[job.Source.Key]; sl != nil && sl.job == job {
		delete(s.active, job.Source.Key)
	}
}
