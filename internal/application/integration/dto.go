package integration

import (
	"time"

	"github.com/sebastiansabo/autoworld-crawl/internal/domain/integration"
)

// ---------------------------------------------------------------------------
// Request DTOs
// ---------------------------------------------------------------------------

// RunRequest triggers one sync batch from inline records or a stored source
type RunRequest struct {
	BatchID string         `json:"batch_id,omitempty" binding:"omitempty,max=128"`
	Records []RecordDTO    `json:"records,omitempty" binding:"omitempty,dive"`
	Source  *SourceRequest `json:"source,omitempty"`
}

// SourceRequest references a record file in the configured record source
type SourceRequest struct {
	Key    string `json:"key" binding:"required"`
	Format string `json:"format,omitempty" binding:"omitempty,oneof=json csv xlsx"`
}

// RecordDTO is the wire shape of a normalized vehicle record
type RecordDTO struct {
	IdentityKey    string            `json:"identity_key"`
	Title          string            `json:"title"`
	Price          *float64          `json:"price,omitempty"`
	CompareAtPrice *float64          `json:"compare_at_price,omitempty"`
	Attributes     map[string]string `json:"attributes,omitempty"`
	Features       []string          `json:"features,omitempty"`
	Media          []MediaDTO        `json:"media,omitempty" binding:"omitempty,dive"`
	SourceURL      string            `json:"source_url,omitempty"`
}

// MediaDTO is an external media reference
type MediaDTO struct {
	URL     string `json:"url" binding:"required"`
	Caption string `json:"caption,omitempty"`
}

// ToDomain converts the DTO to a normalized record. Unknown attribute keys are ignored.
func (r RecordDTO) ToDomain() integration.NormalizedRecord {
	rec := integration.NormalizedRecord{
		IdentityKey:    r.IdentityKey,
		Title:          r.Title,
		Price:          r.Price,
		CompareAtPrice: r.CompareAtPrice,
		Features:       r.Features,
		SourceURL:      r.SourceURL,
	}
	for k, v := range r.Attributes {
		rec.Attributes.Set(k, v)
	}
	if len(r.Media) > 0 {
		rec.Media = make([]integration.MediaReference, len(r.Media))
		for i, m := range r.Media {
			rec.Media[i] = integration.MediaReference{URL: m.URL, Caption: m.Caption}
		}
	}
	return rec
}

// ToDomainRecords converts a slice of record DTOs
func ToDomainRecords(dtos []RecordDTO) []integration.NormalizedRecord {
	records := make([]integration.NormalizedRecord, len(dtos))
	for i, d := range dtos {
		records[i] = d.ToDomain()
	}
	return records
}

// ---------------------------------------------------------------------------
// Response DTOs
// ---------------------------------------------------------------------------

// BatchResultResponse summarizes one sync batch
type BatchResultResponse struct {
	BatchID    string                `json:"batch_id"`
	Status     string                `json:"status"`
	Total      int                   `json:"total"`
	Created    int                   `json:"created"`
	Updated    int                   `json:"updated"`
	Failed     int                   `json:"failed"`
	Dropped    int                   `json:"dropped"`
	Aborted    bool                  `json:"aborted"`
	Failures   []SyncFailureResponse `json:"failures"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`
	DurationMs int64                 `json:"duration_ms"`
}

// SyncFailureResponse describes one failed record
type SyncFailureResponse struct {
	ItemID       string `json:"item_id"`
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

// ToBatchResultResponse converts a batch result
func ToBatchResultResponse(r *integration.BatchResult) BatchResultResponse {
	failures := make([]SyncFailureResponse, len(r.Failures))
	for i, f := range r.Failures {
		failures[i] = SyncFailureResponse{
			ItemID:       f.ItemID,
			ErrorCode:    f.ErrorCode,
			ErrorMessage: f.ErrorMessage,
		}
	}
	return BatchResultResponse{
		BatchID:    r.BatchID,
		Status:     r.Status.String(),
		Total:      r.Total,
		Created:    r.Created,
		Updated:    r.Updated,
		Failed:     r.Failed,
		Dropped:    r.Dropped,
		Aborted:    r.Aborted,
		Failures:   failures,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		DurationMs: r.FinishedAt.Sub(r.StartedAt).Milliseconds(),
	}
}

// MappingResponse is an identity mapping in API responses
type MappingResponse struct {
	IdentityKey string    `json:"identity_key"`
	ProductID   string    `json:"product_id"`
	VariantID   string    `json:"variant_id"`
	SKU         string    `json:"sku"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ToMappingResponse converts a domain mapping
func ToMappingResponse(m *integration.IdentityMapping) MappingResponse {
	return MappingResponse{
		IdentityKey: m.IdentityKey,
		ProductID:   m.ProductID,
		VariantID:   m.VariantID,
		SKU:         m.SKU,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}
