package integration

import (
	"context"
)

// RemoteIdentity holds the ids of a remote product and its single variant
type RemoteIdentity struct {
	ProductID string
	VariantID string
}

// IsZero reports whether no ids are set
func (r RemoteIdentity) IsZero() bool {
	return r.ProductID == "" && r.VariantID == ""
}

// ---------------------------------------------------------------------------
// CatalogClient Port
// ---------------------------------------------------------------------------

// CatalogClient translates normalized records into remote catalog requests.
// Implementations hold no sync state and never touch the mapping store.
type CatalogClient interface {
	// CreateEntity creates a product with exactly one variant
	CreateEntity(ctx context.Context, record NormalizedRecord) (RemoteIdentity, error)

	// UpdateEntity applies a partial update to the product and its variant
	UpdateEntity(ctx context.Context, ids RemoteIdentity, record NormalizedRecord) error

	// FindBySKU looks up a remote variant by SKU. The bool is false when none exists.
	FindBySKU(ctx context.Context, sku string) (RemoteIdentity, bool, error)

	// SKU returns the deterministic SKU the client derives for the record
	SKU(record NormalizedRecord) string
}

// ---------------------------------------------------------------------------
// CallScheduler Port
// ---------------------------------------------------------------------------

// CallScheduler admits outbound calls under a process-wide concurrency bound
// and minimum spacing. Schedule blocks until the task is admitted, then runs it
// and returns its error. A cancelled context returns the context error without
// running the task.
type CallScheduler interface {
	Schedule(ctx context.Context, task func(ctx context.Context) error) error
}

// ---------------------------------------------------------------------------
// KeyLocker Port
// ---------------------------------------------------------------------------

// KeyLocker serializes work per identity key.
// Lock blocks until the key is free or the context is done. The returned
// function releases the lock and is safe to call once.
type KeyLocker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// ---------------------------------------------------------------------------
// RecordSource Port
// ---------------------------------------------------------------------------

// RecordBatch is a decoded set of records plus those rejected at ingress
type RecordBatch struct {
	Records []NormalizedRecord
	Dropped []DroppedRecord
}

// DroppedRecord describes a record rejected before reaching the engine
type DroppedRecord struct {
	// Position is the zero-based position in the source
	Position int
	Reason   string
}

// SourceRef names a batch of records held by a RecordSource
type SourceRef struct {
	// Key is a file path or object key
	Key string
	// Format overrides detection from the key extension (json, csv, xlsx)
	Format string
}

// RecordSource fetches a batch of records by reference
type RecordSource interface {
	Fetch(ctx context.Context, ref SourceRef) (*RecordBatch, error)
}
