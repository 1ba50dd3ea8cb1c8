package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sebastiansabo/autoworld-crawl/internal/domain/integration"
)

// JobStatus represents the status of a scheduled job
type JobStatus string

const (
	JobStatusPending JobStatus = "PENDING"
	JobStatusRunning JobStatus = "RUNNING"
	JobStatusSuccess JobStatus = "SUCCESS"
	JobStatusFailed  JobStatus = "FAILED"
)

// Job is one sync of one source object. A job is owned by a single worker
// at a time; its fields are not safe for concurrent use.
type Job struct {
	ID          uuid.UUID
	Source      integration.SourceRef
	Status      JobStatus
	Error       string
	StartedAt   *time.Time
	CompletedAt *time.Time
	RetryCount  int
	MaxRetries  int
}

// NewJob creates a pending job for source
func NewJob(source integration.SourceRef, maxRetries int) *Job {
	return &Job{ID: uuid.New(), Source: source, Status: JobStatusPending, MaxRetries: maxRetries}
}

// BatchID is the batch id the job's sync runs under. Retries keep the id
// and add the attempt number.
func (j *Job) BatchID() string {
	id := "scheduled-" + j.ID.String()[:8]
	if j.RetryCount == 0 {
		return id
	}
	return fmt.Sprintf("%s-r%d", id, j.RetryCount)
}

// Start marks the job as running
func (j *Job) Start() {
	now := time.Now()
	j.Status, j.StartedAt, j.CompletedAt, j.Error = JobStatusRunning, &now, nil, ""
}

// Complete marks the job as successful
func (j *Job) Complete() { j.finish(JobStatusSuccess, "") }

// Fail marks the job as failed with reason
func (j *Job) Fail(reason string) { j.finish(JobStatusFailed, reason) }

func (j *Job) finish(status JobStatus, reason string) {
	now := time.Now()
	j.Status, j.CompletedAt, j.Error = status, &now, reason
}

// ShouldRetry reports whether a failed job has attempts left
func (j *Job) ShouldRetry() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// prepareRetry resets the job for its next attempt
func (j *Job) prepareRetry() {
	j.RetryCount++
	j.Status, j.Error = JobStatusPending, ""
}

// JobExecutor runs one job. A returned error marks the job failed.
type JobExecutor interface {
	Execute(ctx context.Context, job *Job) error
}

// ExecutorFunc adapts a function to JobExecutor
type ExecutorFunc func(ctx context.Context, job *Job) error

// Execute calls f
func (f ExecutorFunc) Execute(ctx context.Context, job *Job) error { return f(ctx, job) }
