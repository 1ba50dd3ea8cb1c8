package integration

import (
	"time"
)

// ---------------------------------------------------------------------------
// SyncAction
// ---------------------------------------------------------------------------

// SyncAction is the per-record result kind
type SyncAction string

const (
	// SyncActionCreated indicates a remote entity was created and mapped
	SyncActionCreated SyncAction = "CREATED"
	// SyncActionUpdated indicates an existing remote entity was updated
	SyncActionUpdated SyncAction = "UPDATED"
	// SyncActionFailed indicates the record could not be synced
	SyncActionFailed SyncAction = "FAILED"
)

// IsValid returns true if the action is valid
func (a SyncAction) IsValid() bool {
	switch a {
	case SyncActionCreated, SyncActionUpdated, SyncActionFailed:
		return true
	default:
		return false
	}
}

// String returns the string representation of SyncAction
func (a SyncAction) String() string {
	return string(a)
}

// ---------------------------------------------------------------------------
// SyncStatus
// ---------------------------------------------------------------------------

// SyncStatus represents the overall status of a batch
type SyncStatus string

const (
	// SyncStatusSuccess indicates every record synced
	SyncStatusSuccess SyncStatus = "SUCCESS"
	// SyncStatusPartial indicates some records failed
	SyncStatusPartial SyncStatus = "PARTIAL"
	// SyncStatusFailed indicates no record synced
	SyncStatusFailed SyncStatus = "FAILED"
)

// IsValid returns true if the status is valid
func (s SyncStatus) IsValid() bool {
	switch s {
	case SyncStatusSuccess, SyncStatusPartial, SyncStatusFailed:
		return true
	default:
		return false
	}
}

// String returns the string representation of SyncStatus
func (s SyncStatus) String() string {
	return string(s)
}

// ---------------------------------------------------------------------------
// SyncOutcome
// ---------------------------------------------------------------------------

// SyncOutcome is the result of syncing one record
type SyncOutcome struct {
	// IdentityKey is the record's key
	IdentityKey string
	// Action is CREATED, UPDATED or FAILED
	Action SyncAction
	// Remote holds the remote ids on success
	Remote RemoteIdentity
	// Adopted is true when an existing remote entity was found by SKU
	Adopted bool
	// Attempts is the number of remote call attempts made
	Attempts int
	// Err is the underlying failure, nil on success
	Err error
	// Duration is the wall time spent on the record, lock wait included
	Duration time.Duration
}

// Succeeded reports whether the record reached the MAPPED state
func (o SyncOutcome) Succeeded() bool {
	return o.Action == SyncActionCreated || o.Action == SyncActionUpdated
}

// Reason returns a human readable failure reason
func (o SyncOutcome) Reason() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// ---------------------------------------------------------------------------
// BatchResult
// ---------------------------------------------------------------------------

// SyncFailure represents a failed record in a batch
type SyncFailure struct {
	// ItemID is the identity key of the failed record
	ItemID string
	// ErrorCode is the stable failure code
	ErrorCode string
	// ErrorMessage is the full failure reason
	ErrorMessage string
}

// BatchResult aggregates the outcomes of one run
type BatchResult struct {
	BatchID string
	Status  SyncStatus
	// Total is the number of valid records attempted
	Total   int
	Created int
	Updated int
	Failed  int
	// Dropped counts records rejected before reaching the engine
	Dropped int
	// Failures lists failed records in input order
	Failures   []SyncFailure
	Aborted    bool
	StartedAt  time.Time
	FinishedAt time.Time
}

// NewBatchResult creates an empty result for a batch
func NewBatchResult(batchID string) *BatchResult {
	return &BatchResult{
		BatchID:   batchID,
		Failures:  make([]SyncFailure, 0),
		StartedAt: time.Now(),
	}
}

// Add folds one outcome into the aggregate
func (r *BatchResult) Add(o SyncOutcome) {
	r.Total++
	switch o.Action {
	case SyncActionCreated:
		r.Created++
	case SyncActionUpdated:
		r.Updated++
	default:
		r.Failed++
		r.Failures = append(r.Failures, SyncFailure{
			ItemID:       o.IdentityKey,
			ErrorCode:    ErrorCode(o.Err),
			ErrorMessage: o.Reason(),
		})
	}
}

// Finish computes the status and stamps the finish time
func (r *BatchResult) Finish() {
	r.FinishedAt = time.Now()
	switch {
	case r.Failed == 0:
		r.Status = SyncStatusSuccess
	case r.Created+r.Updated == 0:
		r.Status = SyncStatusFailed
	default:
		r.Status = SyncStatusPartial
	}
}
