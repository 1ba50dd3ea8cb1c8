package integration

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sebastiansabo/autoworld-crawl/internal/domain/integration"
	"github.com/sebastiansabo/autoworld-crawl/internal/infrastructure/logger"
)

// Service errors
var (
	ErrEmptyRunRequest     = errors.New("sync: request needs records or a source")
	ErrAmbiguousRunRequest = errors.New("sync: request may not carry both records and a source")
	ErrSourceNotConfigured = errors.New("sync: no record source configured")
	ErrSourceFetchFailed   = errors.New("sync: record source fetch failed")
)

// SyncService is the use-case facade behind the HTTP trigger and the CLI
type SyncService struct {
	engine   *SyncEngine
	mappings integration.IdentityMappingRepository
	source   integration.RecordSource
	logger   *zap.Logger
}

// NewSyncService creates a SyncService. source may be nil when runs only
// carry inline records.
func NewSyncService(
	engine *SyncEngine,
	mappings integration.IdentityMappingRepository,
	source integration.RecordSource,
	l *zap.Logger,
) *SyncService {
	if l == nil {
		l = zap.NewNop()
	}
	return &SyncService{
		engine:   engine,
		mappings: mappings,
		source:   source,
		logger:   l.Named("sync_service"),
	}
}

// Run executes one batch. On ErrBatchAborted or cancellation the partial result
// is returned together with the error.
func (s *SyncService) Run(ctx context.Context, req RunRequest) (*BatchResultResponse, error) {
	hasRecords := len(req.Records) > 0
	hasSource := req.Source != nil && strings.TrimSpace(req.Source.Key) != ""
	switch {
	case hasRecords && hasSource:
		return nil, ErrAmbiguousRunRequest
	case hasSource:
		return s.RunFromSource(ctx, req.BatchID, integration.SourceRef{Key: req.Source.Key, Format: req.Source.Format})
	case hasRecords:
		return s.RunRecords(ctx, req.BatchID, ToDomainRecords(req.Records), 0)
	default:
		return nil, ErrEmptyRunRequest
	}
}

// RunRecords syncs already decoded records. preDropped counts records rejected
// upstream so the response reports them.
func (s *SyncService) RunRecords(ctx context.Context, batchID string, records []integration.NormalizedRecord, preDropped int) (*BatchResultResponse, error) {
	ctx = logger.WithContext(ctx, logger.FromContextOr(ctx, s.logger))
	result, err := s.engine.RunBatch(ctx, batchID, records)
	if result == nil {
		return nil, err
	}
	result.Dropped += preDropped
	resp := ToBatchResultResponse(result)
	return &resp, err
}

// RunFromSource fetches records from the configured source and syncs them
func (s *SyncService) RunFromSource(ctx context.Context, batchID string, ref integration.SourceRef) (*BatchResultResponse, error) {
	if s.source == nil {
		return nil, ErrSourceNotConfigured
	}
	batch, err := s.source.Fetch(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSourceFetchFailed, ref.Key, err)
	}
	for _, d := range batch.Dropped {
		s.logger.Warn("Dropping record rejected by source",
			zap.String("source", ref.Key),
			zap.Int("position", d.Position),
			zap.String("reason", d.Reason),
		)
	}
	return s.RunRecords(ctx, batchID, batch.Records, len(batch.Dropped))
}

// GetMapping returns the stored mapping for a key
func (s *SyncService) GetMapping(ctx context.Context, key string) (*MappingResponse, error) {
	m, err := s.mappings.FindByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	resp := ToMappingResponse(m)
	return &resp, nil
}

// DeleteMapping removes the mapping for a key so the next sync creates or adopts again
func (s *SyncService) DeleteMapping(ctx context.Context, key string) error {
	if err := s.mappings.Delete(ctx, key); err != nil {
		return err
	}
	s.logger.Info("Identity mapping deleted", zap.String(logger.FieldIdentityKey, key))
	return nil
}

// CountMappings returns the number of stored mappings
func (s *SyncService) CountMappings(ctx context.Context) (int64, error) {
	return s.mappings.Count(ctx)
}
