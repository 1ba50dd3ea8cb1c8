package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sebastiansabo/autoworld-crawl/internal/domain/integration"
	"github.com/sebastiansabo/autoworld-crawl/internal/infrastructure/persistence/models"
)

// GormIdentityMappingRepository implements IdentityMappingRepository using GORM
type GormIdentityMappingRepository struct {
	db *gorm.DB
}

var _ integration.IdentityMappingRepository = (*GormIdentityMappingRepository)(nil)

// NewGormIdentityMappingRepository creates a new GormIdentityMappingRepository
func NewGormIdentityMappingRepository(db *gorm.DB) *GormIdentityMappingRepository {
	return &GormIdentityMappingRepository{db: db}
}

// ---------------------------------------------------------------------------
// IdentityMappingReader implementation
// ---------------------------------------------------------------------------

// FindByKey finds the mapping for an identity key
func (r *GormIdentityMappingRepository) FindByKey(ctx context.Context, key string) (*integration.IdentityMapping, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, integration.ErrRecordMissingKey
	}

	var model models.IdentityMappingModel
	if err := r.db.WithContext(ctx).First(&model, "identity_key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrMappingNotFound
		}
		return nil, storageError(ctx, "find", err)
	}
	return model.ToDomain(), nil
}

// Count returns the number of stored mappings
func (r *GormIdentityMappingRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.IdentityMappingModel{}).Count(&count).Error; err != nil {
		return 0, storageError(ctx, "count", err)
	}
	return count, nil
}

// ---------------------------------------------------------------------------
// IdentityMappingWriter implementation
// ---------------------------------------------------------------------------

// Upsert inserts the mapping or replaces the remote ids of the existing row.
// created_at of an existing row is preserved.
func (r *GormIdentityMappingRepository) Upsert(ctx context.Context, mapping *integration.IdentityMapping) error {
	if mapping == nil || strings.TrimSpace(mapping.IdentityKey) == "" {
		return integration.ErrRecordMissingKey
	}
	if mapping.ProductID == "" || mapping.VariantID == "" {
		return integration.ErrMappingInvalid
	}

	model := models.IdentityMappingModelFromDomain(mapping)
	now := time.Now()
	if model.CreatedAt.IsZero() {
		model.CreatedAt = now
	}
	model.UpdatedAt = now

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "identity_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"product_id", "variant_id", "sku", "updated_at"}),
		}).
		Create(model).Error
	if err != nil {
		return storageError(ctx, "upsert", err)
	}
	return nil
}

// Delete removes the mapping for an identity key
func (r *GormIdentityMappingRepository) Delete(ctx context.Context, key string) error {
	result := r.db.WithContext(ctx).Delete(&models.IdentityMappingModel{}, "identity_key = ?", strings.TrimSpace(key))
	if result.Error != nil {
		return storageError(ctx, "delete", result.Error)
	}
	if result.RowsAffected == 0 {
		return integration.ErrMappingNotFound
	}
	return nil
}

// storageError wraps a database failure. Context cancellation is passed
// through so it is not mistaken for a broken store.
func storageError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("%w: %s: %v", integration.ErrMappingStorage, op, err)
}
