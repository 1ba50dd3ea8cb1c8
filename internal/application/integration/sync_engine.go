package integration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sebastiansabo/autoworld-crawl/internal/domain/integration"
	"github.com/sebastiansabo/autoworld-crawl/internal/infrastructure/logger"
	"github.com/sebastiansabo/autoworld-crawl/internal/infrastructure/telemetry"
)

// Remote operation names used in logs, spans and retry metrics
const (
	OpCreate    = "create"
	OpUpdate    = "update"
	OpFindBySKU = "find_by_sku"
)

// Engine defaults
const (
	DefaultConcurrency             = 2
	DefaultStorageFailureThreshold = 3
)

// SyncMetrics receives engine measurements. Implementations must be safe for
// concurrent use.
type SyncMetrics interface {
	RecordOutcome(ctx context.Context, outcome integration.SyncOutcome)
	RecordRetry(ctx context.Context, operation string)
	RecordBatch(ctx context.Context, result *integration.BatchResult)
}

type nopMetrics struct{}

func (nopMetrics) RecordOutcome(context.Context, integration.SyncOutcome) {}
func (nopMetrics) RecordRetry(context.Context, string)                    {}
func (nopMetrics) RecordBatch(context.Context, *integration.BatchResult)  {}

// EngineConfig tunes the sync engine
type EngineConfig struct {
	// Concurrency bounds records processed at once within a batch
	Concurrency int
	Retry       RetryPolicy
	// ReconcileBySKU looks the derived SKU up remotely before creating
	ReconcileBySKU bool
	// StorageFailureThreshold is the number of consecutive storage failures
	// after which a batch is aborted
	StorageFailureThreshold int
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.StorageFailureThreshold <= 0 {
		c.StorageFailureThreshold = DefaultStorageFailureThreshold
	}
	c.Retry = c.Retry.withDefaults()
	return c
}

// EngineOption configures a SyncEngine
type EngineOption func(*SyncEngine)

// WithEngineLogger sets the base logger
func WithEngineLogger(l *zap.Logger) EngineOption {
	return func(e *SyncEngine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithEngineMetrics sets the metrics sink
func WithEngineMetrics(m SyncMetrics) EngineOption {
	return func(e *SyncEngine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// SyncEngine turns normalized records into remote create or update calls and
// keeps the identity mapping store consistent with the remote catalog.
type SyncEngine struct {
	mappings  integration.IdentityMappingRepository
	catalog   integration.CatalogClient
	scheduler integration.CallScheduler
	locker    integration.KeyLocker
	cfg       EngineConfig
	logger    *zap.Logger
	metrics   SyncMetrics
}

// NewSyncEngine wires the engine to its ports. A nil locker falls back to an
// in-process MemoryKeyLocker.
func NewSyncEngine(
	mappings integration.IdentityMappingRepository,
	catalog integration.CatalogClient,
	scheduler integration.CallScheduler,
	locker integration.KeyLocker,
	cfg EngineConfig,
	opts ...EngineOption,
) *SyncEngine {
	if locker == nil {
		locker = NewMemoryKeyLocker()
	}
	e := &SyncEngine{
		mappings:  mappings,
		catalog:   catalog,
		scheduler: scheduler,
		locker:    locker,
		cfg:       cfg.withDefaults(),
		logger:    zap.NewNop(),
		metrics:   nopMetrics{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the effective configuration
func (e *SyncEngine) Config() EngineConfig {
	return e.cfg
}

// ---------------------------------------------------------------------------
// Single record
// ---------------------------------------------------------------------------

// SyncRecord drives one record to CREATED, UPDATED or FAILED. It never returns
// an error; failures are carried in the outcome.
func (e *SyncEngine) SyncRecord(ctx context.Context, rec integration.NormalizedRecord) integration.SyncOutcome {
	start := time.Now()
	key := rec.Key()

	ctx, span := telemetry.StartServiceSpan(ctx, "sync", "record", telemetry.WithAttribute("identity_key", key))
	defer span.End()
	ctx, log := logger.WithIdentityKey(ctx, logger.FromContextOr(ctx, e.logger), key)

	out := e.syncRecord(ctx, rec, log)
	out.IdentityKey = key
	out.Duration = time.Since(start)

	telemetry.SetAttributes(span,
		"action", out.Action.String(),
		"attempts", out.Attempts,
		"adopted", out.Adopted,
	)
	if out.Err != nil {
		telemetry.RecordError(span, out.Err)
		logger.WithTraceContext(ctx, log).Warn("Record sync failed",
			zap.String("error_code", integration.ErrorCode(out.Err)),
			zap.Int("attempts", out.Attempts),
			zap.Duration("duration", out.Duration),
			zap.Error(out.Err),
		)
	} else {
		telemetry.SetOK(span)
		logger.WithTraceContext(ctx, log).Info("Record synced",
			zap.String("action", out.Action.String()),
			zap.String("product_id", out.Remote.ProductID),
			zap.String("variant_id", out.Remote.VariantID),
			zap.Bool("adopted", out.Adopted),
			zap.Int("attempts", out.Attempts),
			zap.Duration("duration", out.Duration),
		)
	}
	e.metrics.RecordOutcome(ctx, out)
	return out
}

func (e *SyncEngine) syncRecord(ctx context.Context, rec integration.NormalizedRecord, log *zap.Logger) integration.SyncOutcome {
	if err := rec.Validate(); err != nil {
		return failed(err)
	}

	unlock, err := e.locker.Lock(ctx, rec.Key())
	if err != nil {
		return failed(fmt.Errorf("acquire key lock: %w", err))
	}
	defer unlock()

	mapping, err := e.mappings.FindByKey(ctx, rec.Key())
	switch {
	case err == nil:
		return e.update(ctx, rec, mapping, log)
	case errors.Is(err, integration.ErrMappingNotFound):
		return e.create(ctx, rec, log)
	default:
		return failed(asStorageError(err))
	}
}

// create handles the NO_MAPPING state
func (e *SyncEngine) create(ctx context.Context, rec integration.NormalizedRecord, log *zap.Logger) integration.SyncOutcome {
	var out integration.SyncOutcome
	sku := e.catalog.SKU(rec)

	if e.cfg.ReconcileBySKU && sku != "" {
		var (
			ids   integration.RemoteIdentity
			found bool
		)
		attempts, err := e.callRemote(ctx, OpFindBySKU, log, func(ctx context.Context) error {
			var err error
			ids, found, err = e.catalog.FindBySKU(ctx, sku)
			return err
		})
		out.Attempts += attempts
		if err != nil {
			out.Action = integration.SyncActionFailed
			out.Err = err
			return out
		}
		if found {
			return e.adopt(ctx, rec, ids, sku, out, log)
		}
	}

	var ids integration.RemoteIdentity
	attempts, err := e.callRemote(ctx, OpCreate, log, func(ctx context.Context) error {
		var err error
		ids, err = e.catalog.CreateEntity(ctx, rec)
		return err
	})
	out.Attempts += attempts
	if err != nil {
		out.Action = integration.SyncActionFailed
		out.Err = err
		return out
	}

	mapping, err := integration.NewIdentityMapping(rec.Key(), ids, sku)
	if err != nil {
		out.Action = integration.SyncActionFailed
		out.Err = fmt.Errorf("%w: %v", integration.ErrPlatformInvalidResponse, err)
		return out
	}
	// The remote entity exists now; the mapping write must not be lost to caller cancellation.
	if err := e.mappings.Upsert(context.WithoutCancel(ctx), mapping); err != nil {
		log.Error("Remote entity created but mapping not stored; adopt it manually",
			zap.String("product_id", ids.ProductID),
			zap.String("variant_id", ids.VariantID),
			zap.String("sku", sku),
			zap.Error(err),
		)
		out.Action = integration.SyncActionFailed
		out.Remote = ids
		out.Err = asStorageError(err)
		return out
	}

	out.Action = integration.SyncActionCreated
	out.Remote = ids
	return out
}

// adopt stores the mapping of a remote entity found by SKU, then updates it
func (e *SyncEngine) adopt(
	ctx context.Context,
	rec integration.NormalizedRecord,
	ids integration.RemoteIdentity,
	sku string,
	out integration.SyncOutcome,
	log *zap.Logger,
) integration.SyncOutcome {
	mapping, err := integration.NewIdentityMapping(rec.Key(), ids, sku)
	if err != nil {
		out.Action = integration.SyncActionFailed
		out.Err = fmt.Errorf("%w: lookup by sku: %v", integration.ErrPlatformInvalidResponse, err)
		return out
	}
	log.Info("Adopting existing remote entity by sku",
		zap.String("sku", sku),
		zap.String("product_id", ids.ProductID),
	)
	if err := e.mappings.Upsert(context.WithoutCancel(ctx), mapping); err != nil {
		out.Action = integration.SyncActionFailed
		out.Err = asStorageError(err)
		return out
	}

	res := e.update(ctx, rec, mapping, log)
	res.Attempts += out.Attempts
	res.Adopted = true
	return res
}

// update handles the HAS_MAPPING state
func (e *SyncEngine) update(ctx context.Context, rec integration.NormalizedRecord, mapping *integration.IdentityMapping, log *zap.Logger) integration.SyncOutcome {
	out := integration.SyncOutcome{Remote: mapping.Remote()}

	attempts, err := e.callRemote(ctx, OpUpdate, log, func(ctx context.Context) error {
		return e.catalog.UpdateEntity(ctx, mapping.Remote(), rec)
	})
	out.Attempts = attempts
	if err != nil {
		out.Action = integration.SyncActionFailed
		out.Err = err
		return out
	}

	out.Action = integration.SyncActionUpdated

	// The remote ids are unchanged; only a new price moves the SKU. A failed
	// refresh leaves the old SKU, which the next update overwrites.
	if sku := e.catalog.SKU(rec); sku != mapping.SKU {
		mapping.Touch(sku)
		if err := e.mappings.Upsert(context.WithoutCancel(ctx), mapping); err != nil {
			log.Warn("Remote entity updated but mapping sku not refreshed",
				zap.String("sku", sku),
				zap.Error(err),
			)
		}
	}
	return out
}

// callRemote runs fn through the scheduler, retrying throttled calls with
// exponential backoff. Every attempt re-enters the scheduler.
func (e *SyncEngine) callRemote(ctx context.Context, op string, log *zap.Logger, fn func(ctx context.Context) error) (int, error) {
	attempts := 0
	operation := func() error {
		attempts++
		err := e.scheduler.Schedule(ctx, fn)
		if err == nil || integration.IsRetryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		e.metrics.RecordRetry(ctx, op)
		log.Warn("Remote call throttled, backing off",
			zap.String("operation", op),
			zap.Int("attempt", attempts),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	err := backoff.RetryNotify(operation, e.cfg.Retry.backOff(ctx), notify)
	return attempts, err
}

func failed(err error) integration.SyncOutcome {
	return integration.SyncOutcome{Action: integration.SyncActionFailed, Err: err}
}

// asStorageError classifies a mapping store error, keeping context errors intact
func asStorageError(err error) error {
	if errors.Is(err, integration.ErrMappingStorage) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", integration.ErrMappingStorage, err)
}

// ---------------------------------------------------------------------------
// Batch driver
// ---------------------------------------------------------------------------

// RunBatch syncs records concurrently and aggregates their outcomes.
// Records failing validation are dropped and counted in Dropped. The returned
// result is always non-nil; the error is ErrBatchAborted after repeated
// storage failures, or the caller's context error.
func (e *SyncEngine) RunBatch(ctx context.Context, batchID string, records []integration.NormalizedRecord) (*integration.BatchResult, error) {
	if batchID == "" {
		batchID = uuid.NewString()
	}
	ctx, span := telemetry.StartServiceSpan(ctx, "sync", "run_batch",
		telemetry.WithAttribute("batch_id", batchID),
		telemetry.WithAttribute("records", len(records)),
	)
	defer span.End()
	ctx, log := logger.WithBatchID(ctx, logger.FromContextOr(ctx, e.logger), batchID)

	result := integration.NewBatchResult(batchID)

	valid := make([]integration.NormalizedRecord, 0, len(records))
	for i, rec := range records {
		if err := rec.Validate(); err != nil {
			result.Dropped++
			log.Warn("Dropping invalid record", zap.Int("position", i), zap.Error(err))
			continue
		}
		valid = append(valid, rec)
	}

	log.Info("Batch started",
		zap.Int("records", len(valid)),
		zap.Int("dropped", result.Dropped),
		zap.Int("concurrency", e.cfg.Concurrency),
	)

	outcomes := make([]integration.SyncOutcome, len(valid))
	started := make([]bool, len(valid))
	var (
		mu          sync.Mutex
		consecutive int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for i := range valid {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			started[i] = true
			out := e.SyncRecord(gctx, valid[i])
			outcomes[i] = out

			mu.Lock()
			defer mu.Unlock()
			if !errors.Is(out.Err, integration.ErrMappingStorage) {
				consecutive = 0
				return nil
			}
			consecutive++
			if consecutive >= e.cfg.StorageFailureThreshold {
				return integration.ErrBatchAborted
			}
			return nil
		})
	}
	waitErr := g.Wait()
	aborted := errors.Is(waitErr, integration.ErrBatchAborted)

	for i := range valid {
		if !started[i] {
			reason := ctx.Err()
			if aborted || reason == nil {
				reason = integration.ErrBatchAborted
			}
			outcomes[i] = integration.SyncOutcome{
				IdentityKey: valid[i].Key(),
				Action:      integration.SyncActionFailed,
				Err:         fmt.Errorf("record not started: %w", reason),
			}
		}
		result.Add(outcomes[i])
	}
	result.Aborted = aborted
	result.Finish()

	telemetry.SetAttributes(span,
		"status", result.Status.String(),
		"created", result.Created,
		"updated", result.Updated,
		"failed", result.Failed,
	)
	e.metrics.RecordBatch(ctx, result)
	log.Info("Batch finished",
		zap.String("status", result.Status.String()),
		zap.Int("total", result.Total),
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
		zap.Int("failed", result.Failed),
		zap.Int("dropped", result.Dropped),
		zap.Bool("aborted", result.Aborted),
		zap.Duration("duration", result.FinishedAt.Sub(result.StartedAt)),
	)

	switch {
	case aborted:
		log.Error("Batch aborted after consecutive storage failures",
			zap.Int("threshold", e.cfg.StorageFailureThreshold))
		telemetry.RecordError(span, integration.ErrBatchAborted)
		return result, integration.ErrBatchAborted
	case ctx.Err() != nil:
		return result, ctx.Err()
	default:
		telemetry.SetOK(span)
		return result, nil
	}
}
