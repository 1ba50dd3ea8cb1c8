package integration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sebastiansabo/autoworld-crawl/internal/domain/integration"
	"github.com/sebastiansabo/autoworld-crawl/internal/infrastructure/ecommerce"
	"github.com/sebastiansabo/autoworld-crawl/internal/infrastructure/ratelimit"
)

type engineFixture struct {
	store     *memoryStore
	catalog   *fakeCatalog
	scheduler *directScheduler
	metrics   *recordingMetrics
	engine    *SyncEngine
}

func newEngineFixture(t *testing.T, cfg EngineConfig) *engineFixture {
	t.Helper()
	f := &engineFixture{
		store:     newMemoryStore(),
		catalog:   newFakeCatalog(),
		scheduler: &directScheduler{},
		metrics:   newRecordingMetrics(),
	}
	if cfg.Retry == (RetryPolicy{}) {
		cfg.Retry = fastRetry()
	}
	f.engine = NewSyncEngine(f.store, f.catalog, f.scheduler, NewMemoryKeyLocker(), cfg,
		WithEngineLogger(zaptest.NewLogger(t)),
		WithEngineMetrics(f.metrics),
	)
	return f
}

func TestNewSyncEngine_Defaults(t *testing.T) {
	e := NewSyncEngine(newMemoryStore(), newFakeCatalog(), &directScheduler{}, nil, EngineConfig{})
	cfg := e.Config()
	assert.Equal(t, DefaultConcurrency, cfg.Concurrency)
	assert.Equal(t, DefaultStorageFailureThreshold, cfg.StorageFailureThreshold)
	assert.Equal(t, DefaultRetryPolicy(), cfg.Retry)
	assert.False(t, cfg.ReconcileBySKU)
}

func TestSyncEngine_IdempotentConvergence(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	ctx := context.Background()
	rec := vehicle("VIN-1")

	first := f.engine.SyncRecord(ctx, rec)
	require.NoError(t, first.Err)
	assert.Equal(t, integration.SyncActionCreated, first.Action)
	assert.Equal(t, 1, first.Attempts)

	stored, ok := f.store.get("VIN-1")
	require.True(t, ok)
	assert.Equal(t, first.Remote.ProductID, stored.ProductID)
	assert.Equal(t, "AW-VIN-1", stored.SKU)

	second := f.engine.SyncRecord(ctx, rec)
	require.NoError(t, second.Err)
	assert.Equal(t, integration.SyncActionUpdated, second.Action)
	assert.Equal(t, first.Remote, second.Remote)

	count, _ := f.store.Count(ctx)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, 1, f.catalog.createCount("VIN-1"))
	assert.Equal(t, 1, f.catalog.updateCount("VIN-1"))

	after, _ := f.store.get("VIN-1")
	assert.Equal(t, stored.CreatedAt, after.CreatedAt)
	assert.False(t, after.UpdatedAt.Before(stored.UpdatedAt))
}

func TestSyncEngine_ConcurrentSameKeyCreatesOnce(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	f.catalog.delay = 20 * time.Millisecond

	const workers = 8
	outcomes := make([]integration.SyncOutcome, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i] = f.engine.SyncRecord(context.Background(), vehicle("VIN-RACE"))
		}()
	}
	wg.Wait()

	created := 0
	for _, o := range outcomes {
		require.NoError(t, o.Err)
		if o.Action == integration.SyncActionCreated {
			created++
		} else {
			assert.Equal(t, integration.SyncActionUpdated, o.Action)
		}
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, f.catalog.createCount("VIN-RACE"))
	count, _ := f.store.Count(context.Background())
	assert.Equal(t, int64(1), count)
}

func TestRunBatch_FailureIsolation(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{Concurrency: 3})
	f.catalog.createErr = func(key string, _ int) error {
		if key == "B" {
			return fmt.Errorf("%w: status 422: title is invalid", integration.ErrPlatformRequestFailed)
		}
		return nil
	}

	result, err := f.engine.RunBatch(context.Background(), "batch-1",
		[]integration.NormalizedRecord{vehicle("A"), vehicle("B"), vehicle("C")})
	require.NoError(t, err)

	assert.Equal(t, "batch-1", result.BatchID)
	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 2, result.Created)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, integration.SyncStatusPartial, result.Status)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "B", result.Failures[0].ItemID)
	assert.Equal(t, integration.CodeRemoteRequestFailed, result.Failures[0].ErrorCode)
	assert.Contains(t, result.Failures[0].ErrorMessage, "title is invalid")

	_, ok := f.store.get("B")
	assert.False(t, ok, "no partial mapping after a failed create")
	assert.Equal(t, []integration.SyncStatus{integration.SyncStatusPartial}, f.metrics.batches)
}

func TestRunBatch_DropsInvalidRecords(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})

	result, err := f.engine.RunBatch(context.Background(), "",
		[]integration.NormalizedRecord{vehicle("A"), {Title: "no key"}, vehicle("  ")})
	require.NoError(t, err)

	assert.NotEmpty(t, result.BatchID, "a batch id is generated")
	assert.Equal(t, 1, result.Total)
	assert.Equal(t, 2, result.Dropped)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, integration.SyncStatusSuccess, result.Status)
}

func TestRunBatch_AllFailed(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	f.catalog.createErr = func(string, int) error { return integration.ErrPlatformAuthFailed }

	result, err := f.engine.RunBatch(context.Background(), "b",
		[]integration.NormalizedRecord{vehicle("A"), vehicle("B")})
	require.NoError(t, err)
	assert.Equal(t, integration.SyncStatusFailed, result.Status)
	assert.Equal(t, 2, result.Failed)
	for _, fl := range result.Failures {
		assert.Equal(t, integration.CodeRemoteAuthFailed, fl.ErrorCode)
	}
}

func TestRunBatch_FailuresKeepInputOrder(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{Concurrency: 4})
	f.catalog.createErr = func(string, int) error { return integration.ErrPlatformUnavailable }

	keys := []string{"K1", "K2", "K3", "K4", "K5", "K6"}
	records := make([]integration.NormalizedRecord, len(keys))
	for i, k := range keys {
		records[i] = vehicle(k)
	}
	result, err := f.engine.RunBatch(context.Background(), "order", records)
	require.NoError(t, err)

	got := make([]string, len(result.Failures))
	for i, fl := range result.Failures {
		got[i] = fl.ItemID
	}
	assert.Equal(t, keys, got)
}

func TestSyncEngine_RateLimitRetry(t *testing.T) {
	t.Run("recovers within the attempt budget", func(t *testing.T) {
		f := newEngineFixture(t, EngineConfig{})
		f.catalog.createErr = func(_ string, call int) error {
			if call < 3 {
				return fmt.Errorf("%w: status 429", integration.ErrPlatformRateLimited)
			}
			return nil
		}

		out := f.engine.SyncRecord(context.Background(), vehicle("VIN-T"))
		require.NoError(t, out.Err)
		assert.Equal(t, integration.SyncActionCreated, out.Action)
		assert.Equal(t, 3, out.Attempts)
		assert.Equal(t, int64(3), f.scheduler.calls.Load(), "every attempt re-enters the scheduler")
		assert.Equal(t, 2, f.metrics.retries[OpCreate])
	})

	t.Run("gives up after the last attempt", func(t *testing.T) {
		f := newEngineFixture(t, EngineConfig{})
		f.catalog.createErr = func(string, int) error { return integration.ErrPlatformRateLimited }

		out := f.engine.SyncRecord(context.Background(), vehicle("VIN-T"))
		assert.Equal(t, integration.SyncActionFailed, out.Action)
		assert.ErrorIs(t, out.Err, integration.ErrPlatformRateLimited)
		assert.Equal(t, 3, out.Attempts)
		assert.Equal(t, 3, f.catalog.createCount("VIN-T"))
	})

	t.Run("other errors are not retried", func(t *testing.T) {
		f := newEngineFixture(t, EngineConfig{})
		f.catalog.createErr = func(string, int) error { return integration.ErrPlatformUnavailable }

		out := f.engine.SyncRecord(context.Background(), vehicle("VIN-U"))
		assert.ErrorIs(t, out.Err, integration.ErrPlatformUnavailable)
		assert.Equal(t, 1, out.Attempts)
		assert.Empty(t, f.metrics.retries)
	})

	t.Run("single attempt policy", func(t *testing.T) {
		f := newEngineFixture(t, EngineConfig{Retry: RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond}})
		f.catalog.createErr = func(string, int) error { return integration.ErrPlatformRateLimited }

		out := f.engine.SyncRecord(context.Background(), vehicle("VIN-1"))
		assert.Equal(t, 1, out.Attempts)
	})

	t.Run("backoff wait honours cancellation", func(t *testing.T) {
		f := newEngineFixture(t, EngineConfig{Retry: RetryPolicy{MaxAttempts: 5, BaseDelay: time.Hour, MaxDelay: time.Hour}})
		f.catalog.createErr = func(string, int) error { return integration.ErrPlatformRateLimited }

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		start := time.Now()
		out := f.engine.SyncRecord(ctx, vehicle("VIN-C"))
		assert.Less(t, time.Since(start), 5*time.Second)
		assert.Equal(t, integration.SyncActionFailed, out.Action)
		assert.Equal(t, integration.CodeCancelled, integration.ErrorCode(out.Err))
	})
}

func TestSyncEngine_ReconcileBySKU(t *testing.T) {
	t.Run("adopts an existing remote entity", func(t *testing.T) {
		f := newEngineFixture(t, EngineConfig{ReconcileBySKU: true})
		existing := integration.RemoteIdentity{ProductID: "gid://shopify/Product/77", VariantID: "gid://shopify/ProductVariant/78"}
		f.catalog.existing["AW-VIN-LOST"] = existing

		out := f.engine.SyncRecord(context.Background(), vehicle("VIN-LOST"))
		require.NoError(t, out.Err)
		assert.Equal(t, integration.SyncActionUpdated, out.Action)
		assert.True(t, out.Adopted)
		assert.Equal(t, existing, out.Remote)
		assert.Equal(t, 2, out.Attempts, "lookup plus update")
		assert.Equal(t, 0, f.catalog.createCount("VIN-LOST"))
		assert.Equal(t, 1, f.catalog.updateCount("VIN-LOST"))

		stored, ok := f.store.get("VIN-LOST")
		require.True(t, ok)
		assert.Equal(t, existing.ProductID, stored.ProductID)
	})

	t.Run("creates when nothing matches", func(t *testing.T) {
		f := newEngineFixture(t, EngineConfig{ReconcileBySKU: true})

		out := f.engine.SyncRecord(context.Background(), vehicle("VIN-NEW"))
		require.NoError(t, out.Err)
		assert.Equal(t, integration.SyncActionCreated, out.Action)
		assert.False(t, out.Adopted)
		assert.Equal(t, 1, f.catalog.lookups)
	})

	t.Run("lookup failure fails the record", func(t *testing.T) {
		f := newEngineFixture(t, EngineConfig{ReconcileBySKU: true})
		f.catalog.findErr = integration.ErrPlatformUnavailable

		out := f.engine.SyncRecord(context.Background(), vehicle("VIN-X"))
		assert.ErrorIs(t, out.Err, integration.ErrPlatformUnavailable)
		assert.Equal(t, 0, f.catalog.createCount("VIN-X"))
	})

	t.Run("case and punctuation variants of a key stay apart", func(t *testing.T) {
		f := newEngineFixture(t, EngineConfig{ReconcileBySKU: true})
		f.catalog.sku = func(rec integration.NormalizedRecord) string { return ecommerce.DeriveSKU("aw", rec) }
		f.catalog.indexCreated = true
		ctx := context.Background()

		a := f.engine.SyncRecord(ctx, vehicle("listing-42"))
		require.NoError(t, a.Err)
		b := f.engine.SyncRecord(ctx, vehicle("LISTING_42"))
		require.NoError(t, b.Err)

		assert.Equal(t, integration.SyncActionCreated, a.Action)
		assert.Equal(t, integration.SyncActionCreated, b.Action)
		assert.False(t, b.Adopted)
		assert.NotEqual(t, a.Remote.ProductID, b.Remote.ProductID)
		assert.Equal(t, 0, f.catalog.updateCount("listing-42"))

		first, _ := f.store.get("listing-42")
		second, _ := f.store.get("LISTING_42")
		assert.NotEqual(t, first.SKU, second.SKU)
	})

	t.Run("adoption survives caller cancellation", func(t *testing.T) {
		f := newEngineFixture(t, EngineConfig{ReconcileBySKU: true})
		existing := integration.RemoteIdentity{ProductID: "gid://shopify/Product/90", VariantID: "gid://shopify/ProductVariant/91"}
		f.catalog.existing["AW-VIN-GONE"] = existing

		ctx, cancel := context.WithCancel(context.Background())
		repo := &cancelOnUpsert{memoryStore: f.store, cancel: cancel}
		e := NewSyncEngine(repo, f.catalog, f.scheduler, NewMemoryKeyLocker(), EngineConfig{ReconcileBySKU: true, Retry: fastRetry()})

		out := e.SyncRecord(ctx, vehicle("VIN-GONE"))
		assert.Equal(t, integration.SyncActionFailed, out.Action, "the update sees the cancellation")
		assert.NoError(t, repo.upsertCtxErr, "the mapping write ignores it")

		stored, ok := f.store.get("VIN-GONE")
		require.True(t, ok)
		assert.Equal(t, existing.ProductID, stored.ProductID)
	})

	t.Run("disabled skips the lookup", func(t *testing.T) {
		f := newEngineFixture(t, EngineConfig{ReconcileBySKU: false})
		f.catalog.existing["AW-VIN-LOST"] = integration.RemoteIdentity{ProductID: "p", VariantID: "v"}

		out := f.engine.SyncRecord(context.Background(), vehicle("VIN-LOST"))
		assert.Equal(t, integration.SyncActionCreated, out.Action)
		assert.Equal(t, 0, f.catalog.lookups)
	})
}

func TestSyncEngine_StorageFailures(t *testing.T) {
	t.Run("lookup failure skips the remote call", func(t *testing.T) {
		repo := new(MockIdentityMappingRepository)
		repo.On("FindByKey", mock.Anything, "VIN-1").
			Return(nil, fmt.Errorf("%w: connection refused", integration.ErrMappingStorage))
		catalog := newFakeCatalog()
		e := NewSyncEngine(repo, catalog, &directScheduler{}, nil, EngineConfig{Retry: fastRetry()})

		out := e.SyncRecord(context.Background(), vehicle("VIN-1"))
		assert.Equal(t, integration.SyncActionFailed, out.Action)
		assert.Equal(t, integration.CodeStorageError, integration.ErrorCode(out.Err))
		assert.Equal(t, 0, catalog.createCount("VIN-1"))
		repo.AssertExpectations(t)
	})

	t.Run("unclassified lookup errors count as storage errors", func(t *testing.T) {
		repo := new(MockIdentityMappingRepository)
		repo.On("FindByKey", mock.Anything, "VIN-1").Return(nil, errors.New("disk I/O error"))
		e := NewSyncEngine(repo, newFakeCatalog(), &directScheduler{}, nil, EngineConfig{})

		out := e.SyncRecord(context.Background(), vehicle("VIN-1"))
		assert.ErrorIs(t, out.Err, integration.ErrMappingStorage)
	})

	t.Run("upsert failure after create", func(t *testing.T) {
		f := newEngineFixture(t, EngineConfig{})
		f.store.upsertErr = fmt.Errorf("%w: database is locked", integration.ErrMappingStorage)

		out := f.engine.SyncRecord(context.Background(), vehicle("VIN-2"))
		assert.Equal(t, integration.SyncActionFailed, out.Action)
		assert.Equal(t, integration.CodeStorageError, integration.ErrorCode(out.Err))
		assert.False(t, out.Remote.IsZero(), "the created ids are reported")
		assert.Equal(t, 1, f.catalog.createCount("VIN-2"))
	})

	t.Run("update leaves an unchanged mapping alone", func(t *testing.T) {
		f := newEngineFixture(t, EngineConfig{})
		require.NoError(t, f.engine.SyncRecord(context.Background(), vehicle("VIN-3")).Err)
		f.store.upsertErr = errors.New("readonly database")

		out := f.engine.SyncRecord(context.Background(), vehicle("VIN-3"))
		require.NoError(t, out.Err)
		assert.Equal(t, integration.SyncActionUpdated, out.Action)
		assert.Equal(t, 1, f.store.upserts, "only the create wrote")
	})

	t.Run("failed sku refresh still reports the update", func(t *testing.T) {
		f := newEngineFixture(t, EngineConfig{})
		priced := func(rec integration.NormalizedRecord) string { return "AW-" + rec.Key() + "-" + fmt.Sprint(*rec.Price) }
		f.catalog.sku = priced
		rec := vehicle("VIN-4")
		require.NoError(t, f.engine.SyncRecord(context.Background(), rec).Err)

		rec.Price = integration.Amount(9999)
		f.store.upsertErr = errors.New("readonly database")
		out := f.engine.SyncRecord(context.Background(), rec)
		require.NoError(t, out.Err)
		assert.Equal(t, integration.SyncActionUpdated, out.Action)
		assert.Equal(t, 1, f.catalog.updateCount("VIN-4"))

		f.store.upsertErr = nil
		require.NoError(t, f.engine.SyncRecord(context.Background(), rec).Err)
		stored, _ := f.store.get("VIN-4")
		assert.Equal(t, "AW-VIN-4-9999", stored.SKU)
	})
}

func TestRunBatch_RefreshFailuresDoNotAbort(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{Concurrency: 1, StorageFailureThreshold: 2})
	f.catalog.sku = func(rec integration.NormalizedRecord) string { return "AW-" + rec.Key() + "-" + fmt.Sprint(*rec.Price) }
	records := make([]integration.NormalizedRecord, 4)
	for i := range records {
		records[i] = vehicle(fmt.Sprintf("VIN-R%d", i))
	}
	_, err := f.engine.RunBatch(context.Background(), "seed", records)
	require.NoError(t, err)

	for i := range records {
		records[i].Price = integration.Amount(1)
	}
	f.store.upsertErr = errors.New("readonly database")
	res, err := f.engine.RunBatch(context.Background(), "reprice", records)
	require.NoError(t, err)
	assert.False(t, res.Aborted)
	assert.Equal(t, 4, res.Updated)
}

// cancelOnUpsert cancels the caller's context on every write, then
// records whether the write observed it
type cancelOnUpsert struct {
	*memoryStore
	cancel       context.CancelFunc
	upsertCtxErr error
}

func (r *cancelOnUpsert) Upsert(ctx context.Context, m *integration.IdentityMapping) error {
	r.cancel()
	r.upsertCtxErr = ctx.Err()
	return r.memoryStore.Upsert(ctx, m)
}

func TestRunBatch_AbortsOnRepeatedStorageFailures(t *testing.T) {
	repo := new(MockIdentityMappingRepository)
	repo.On("FindByKey", mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("%w: connection refused", integration.ErrMappingStorage))
	catalog := newFakeCatalog()
	metrics := newRecordingMetrics()
	e := NewSyncEngine(repo, catalog, &directScheduler{}, nil,
		EngineConfig{Concurrency: 1, StorageFailureThreshold: 3, Retry: fastRetry()},
		WithEngineMetrics(metrics),
	)

	records := make([]integration.NormalizedRecord, 10)
	for i := range records {
		records[i] = vehicle(fmt.Sprintf("VIN-%02d", i))
	}

	result, err := e.RunBatch(context.Background(), "abort", records)
	require.ErrorIs(t, err, integration.ErrBatchAborted)
	require.NotNil(t, result)

	assert.True(t, result.Aborted)
	assert.Equal(t, 10, result.Total)
	assert.Equal(t, 10, result.Failed)
	assert.Equal(t, integration.SyncStatusFailed, result.Status)
	require.Len(t, result.Failures, 10)
	for i, fl := range result.Failures {
		want := integration.CodeBatchAborted
		if i < 3 {
			want = integration.CodeStorageError
		}
		assert.Equal(t, want, fl.ErrorCode, fl.ItemID)
	}
	repo.AssertNumberOfCalls(t, "FindByKey", 3)
}

func TestRunBatch_StorageFailureCounterResets(t *testing.T) {
	repo := new(MockIdentityMappingRepository)
	storageErr := fmt.Errorf("%w: timeout", integration.ErrMappingStorage)
	repo.On("FindByKey", mock.Anything, "S1").Return(nil, storageErr)
	repo.On("FindByKey", mock.Anything, "S2").Return(nil, storageErr)
	repo.On("FindByKey", mock.Anything, "OK").Return(nil, integration.ErrMappingNotFound)
	repo.On("FindByKey", mock.Anything, "S3").Return(nil, storageErr)
	repo.On("FindByKey", mock.Anything, "S4").Return(nil, storageErr)
	repo.On("Upsert", mock.Anything, mock.Anything).Return(nil)

	e := NewSyncEngine(repo, newFakeCatalog(), &directScheduler{}, nil,
		EngineConfig{Concurrency: 1, StorageFailureThreshold: 3})

	recs := []integration.NormalizedRecord{vehicle("S1"), vehicle("S2"), vehicle("OK"), vehicle("S3"), vehicle("S4")}
	result, err := e.RunBatch(context.Background(), "reset", recs)
	require.NoError(t, err)
	assert.False(t, result.Aborted)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 4, result.Failed)
}

func TestRunBatch_CallerCancellation(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := f.engine.RunBatch(ctx, "cancelled", []integration.NormalizedRecord{vehicle("A"), vehicle("B")})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, result)
	assert.Equal(t, 2, result.Failed)
	for _, fl := range result.Failures {
		assert.Equal(t, integration.CodeCancelled, fl.ErrorCode)
	}
	assert.Equal(t, 0, f.catalog.createCount("A"))
}

func TestRunBatch_SharedLimiterBoundsConcurrency(t *testing.T) {
	limiter, err := ratelimit.New(ratelimit.Config{MaxConcurrent: 2, MinInterval: 5 * time.Millisecond})
	require.NoError(t, err)

	catalog := newFakeCatalog()
	catalog.delay = 10 * time.Millisecond
	e := NewSyncEngine(newMemoryStore(), catalog, limiter, nil, EngineConfig{Concurrency: 6})

	records := make([]integration.NormalizedRecord, 8)
	for i := range records {
		records[i] = vehicle(fmt.Sprintf("L%d", i))
	}
	result, err := e.RunBatch(context.Background(), "limited", records)
	require.NoError(t, err)
	assert.Equal(t, 8, result.Created)

	stats := limiter.Stats()
	assert.Equal(t, int64(8), stats.Dispatched)
	assert.LessOrEqual(t, stats.PeakInFlight, int64(2))
}
