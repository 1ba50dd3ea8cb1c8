package integration

import (
	"context"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// IdentityMapping Entity
// ---------------------------------------------------------------------------

// IdentityMapping is the stored correspondence between an identity key and the
// remote product and variant ids. At most one mapping exists per key.
type IdentityMapping struct {
	// IdentityKey is the primary key
	IdentityKey string
	// ProductID is the remote primary entity id
	ProductID string
	// VariantID is the remote variant id
	VariantID string
	// SKU is the last SKU written to the remote variant
	SKU string
	// CreatedAt is when the mapping was first stored
	CreatedAt time.Time
	// UpdatedAt is when the mapping was last written
	UpdatedAt time.Time
}

// NewIdentityMapping builds a mapping from a successful remote creation.
func NewIdentityMapping(key string, ids RemoteIdentity, sku string) (*IdentityMapping, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, ErrRecordMissingKey
	}
	if ids.ProductID == "" || ids.VariantID == "" {
		return nil, ErrMappingInvalid
	}
	now := time.Now()
	return &IdentityMapping{
		IdentityKey: key,
		ProductID:   ids.ProductID,
		VariantID:   ids.VariantID,
		SKU:         sku,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Remote returns the remote ids held by the mapping.
func (m *IdentityMapping) Remote() RemoteIdentity {
	return RemoteIdentity{ProductID: m.ProductID, VariantID: m.VariantID}
}

// Touch records a new write of the mapping with the given SKU.
func (m *IdentityMapping) Touch(sku string) {
	m.SKU = sku
	m.UpdatedAt = time.Now()
}

// ---------------------------------------------------------------------------
// Repository Interfaces
// ---------------------------------------------------------------------------

// IdentityMappingReader defines read operations for identity mappings
type IdentityMappingReader interface {
	// FindByKey returns the mapping for the key, or ErrMappingNotFound
	FindByKey(ctx context.Context, key string) (*IdentityMapping, error)

	// Count returns the number of stored mappings
	Count(ctx context.Context) (int64, error)
}

// IdentityMappingWriter defines write operations for identity mappings
type IdentityMappingWriter interface {
	// Upsert stores the mapping, replacing any prior mapping for the key.
	// The write is durable when Upsert returns nil.
	Upsert(ctx context.Context, mapping *IdentityMapping) error

	// Delete removes the mapping for the key, or returns ErrMappingNotFound.
	// Only administrative tooling calls it.
	Delete(ctx context.Context, key string) error
}

// IdentityMappingRepository combines read and write operations
type IdentityMappingRepository interface {
	IdentityMappingReader
	IdentityMappingWriter
}
