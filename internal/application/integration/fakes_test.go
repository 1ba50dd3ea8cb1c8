package integration

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sebastiansabo/autoworld-crawl/internal/domain/integration"
)

// memoryStore is an in-memory IdentityMappingRepository
type memoryStore struct {
	mu      sync.Mutex
	rows    map[string]integration.IdentityMapping
	upserts int
	// upsertErr, when set, fails every Upsert
	upsertErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{rows: make(map[string]integration.IdentityMapping)}
}

func (s *memoryStore) FindByKey(_ context.Context, key string) (*integration.IdentityMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[key]
	if !ok {
		return nil, integration.ErrMappingNotFound
	}
	return &m, nil
}

func (s *memoryStore) Count(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.rows)), nil
}

func (s *memoryStore) Upsert(_ context.Context, m *integration.IdentityMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.upserts++
	if prior, ok := s.rows[m.IdentityKey]; ok {
		m.CreatedAt = prior.CreatedAt
	}
	s.rows[m.IdentityKey] = *m
	return nil
}

func (s *memoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[key]; !ok {
		return integration.ErrMappingNotFound
	}
	delete(s.rows, key)
	return nil
}

func (s *memoryStore) get(key string) (integration.IdentityMapping, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[key]
	return m, ok
}

// fakeCatalog records calls and fails according to per-key hooks
type fakeCatalog struct {
	mu        sync.Mutex
	creates   map[string]int
	updates   map[string]int
	lookups   int
	nextID    int
	existing  map[string]integration.RemoteIdentity // by sku
	createErr func(key string, call int) error
	updateErr func(key string, call int) error
	findErr   error
	delay     time.Duration
	// sku overrides the "AW-" + key SKU scheme
	sku func(rec integration.NormalizedRecord) string
	// indexCreated makes created entities findable by SKU
	indexCreated bool
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		creates:  make(map[string]int),
		updates:  make(map[string]int),
		existing: make(map[string]integration.RemoteIdentity),
	}
}

func (c *fakeCatalog) SKU(rec integration.NormalizedRecord) string {
	if c.sku != nil {
		return c.sku(rec)
	}
	return "AW-" + rec.Key()
}

func (c *fakeCatalog) CreateEntity(ctx context.Context, rec integration.NormalizedRecord) (integration.RemoteIdentity, error) {
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return integration.RemoteIdentity{}, ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creates[rec.Key()]++
	if c.createErr != nil {
		if err := c.createErr(rec.Key(), c.creates[rec.Key()]); err != nil {
			return integration.RemoteIdentity{}, err
		}
	}
	c.nextID++
	ids := integration.RemoteIdentity{
		ProductID: fmt.Sprintf("gid://shopify/Product/%d", c.nextID),
		VariantID: fmt.Sprintf("gid://shopify/ProductVariant/%d", c.nextID),
	}
	if c.indexCreated {
		c.existing[c.SKU(rec)] = ids
	}
	return ids, nil
}

func (c *fakeCatalog) UpdateEntity(_ context.Context, _ integration.RemoteIdentity, rec integration.NormalizedRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates[rec.Key()]++
	if c.updateErr != nil {
		return c.updateErr(rec.Key(), c.updates[rec.Key()])
	}
	return nil
}

func (c *fakeCatalog) FindBySKU(_ context.Context, sku string) (integration.RemoteIdentity, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lookups++
	if c.findErr != nil {
		return integration.RemoteIdentity{}, false, c.findErr
	}
	ids, ok := c.existing[sku]
	return ids, ok, nil
}

func (c *fakeCatalog) createCount(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creates[key]
}

func (c *fakeCatalog) updateCount(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updates[key]
}

// directScheduler runs tasks inline and counts them
type directScheduler struct {
	calls atomic.Int64
}

func (s *directScheduler) Schedule(ctx context.Context, task func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.calls.Add(1)
	return task(ctx)
}

// MockIdentityMappingRepository is a testify mock of the mapping repository
type MockIdentityMappingRepository struct {
	mock.Mock
}

func (m *MockIdentityMappingRepository) FindByKey(ctx context.Context, key string) (*integration.IdentityMapping, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*integration.IdentityMapping), args.Error(1)
}

func (m *MockIdentityMappingRepository) Count(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockIdentityMappingRepository) Upsert(ctx context.Context, mapping *integration.IdentityMapping) error {
	args := m.Called(ctx, mapping)
	return args.Error(0)
}

func (m *MockIdentityMappingRepository) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

// recordingMetrics counts what the engine reports
type recordingMetrics struct {
	mu       sync.Mutex
	outcomes map[integration.SyncAction]int
	retries  map[string]int
	batches  []integration.SyncStatus
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		outcomes: make(map[integration.SyncAction]int),
		retries:  make(map[string]int),
	}
}

func (m *recordingMetrics) RecordOutcome(_ context.Context, o integration.SyncOutcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[o.Action]++
}

func (m *recordingMetrics) RecordRetry(_ context.Context, op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retries[op]++
}

func (m *recordingMetrics) RecordBatch(_ context.Context, r *integration.BatchResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, r.Status)
}

func vehicle(key string) integration.NormalizedRecord {
	return integration.NormalizedRecord{
		IdentityKey: key,
		Title:       "Skoda Octavia " + key,
		Price:       integration.Amount(12345.6),
		Features:    []string{"Diesel"},
	}
}

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}
