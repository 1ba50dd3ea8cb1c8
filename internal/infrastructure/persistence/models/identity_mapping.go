// Package models contains GORM-specific persistence models that map to database tables.
// These models are separate from domain entities to keep the domain layer free
// from ORM concerns.
package models

import (
	"time"

	"github.com/sebastiansabo/autoworld-crawl/internal/domain/integration"
)

// IdentityMappingModel is the persistence model for identity mappings.
// The identity key is the primary key, so at most one row exists per key.
type IdentityMappingModel struct {
	IdentityKey string    `gorm:"column:identity_key;type:varchar(255);primaryKey"`
	ProductID   string    `gorm:"column:product_id;type:varchar(255);not null"`
	VariantID   string    `gorm:"column:variant_id;type:varchar(255);not null"`
	SKU         string    `gorm:"column:sku;type:varchar(255);not null"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (IdentityMappingModel) TableName() string {
	return "identity_mappings"
}

// ToDomain converts the persistence model to a domain IdentityMapping
func (m *IdentityMappingModel) ToDomain() *integration.IdentityMapping {
	return &integration.IdentityMapping{
		IdentityKey: m.IdentityKey,
		ProductID:   m.ProductID,
		VariantID:   m.VariantID,
		SKU:         m.SKU,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

// FromDomain populates the persistence model from a domain IdentityMapping
func (m *IdentityMappingModel) FromDomain(mapping *integration.IdentityMapping) {
	m.IdentityKey = mapping.IdentityKey
	m.ProductID = mapping.ProductID
	m.VariantID = mapping.VariantID
	m.SKU = mapping.SKU
	m.CreatedAt = mapping.CreatedAt
	m.UpdatedAt = mapping.UpdatedAt
}

// IdentityMappingModelFromDomain creates a new persistence model from a domain IdentityMapping
func IdentityMappingModelFromDomain(mapping *integration.IdentityMapping) *IdentityMappingModel {
	m := &IdentityMappingModel{}
	m.FromDomain(mapping)
	return m
}
