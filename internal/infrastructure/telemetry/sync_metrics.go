package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/sebastiansabo/autoworld-crawl/internal/domain/integration"
)

// SyncMetricsMeterName is the instrumentation scope of the sync instruments
const SyncMetricsMeterName = "autoworld-crawl/sync"

// SyncMetrics records engine and limiter measurements as OTel instruments:
//
//	sync_records_total{outcome,error_code}
//	sync_record_duration_seconds{outcome}
//	sync_remote_retries_total{operation}
//	sync_batches_total{status}
//	ratelimit_wait_seconds
type SyncMetrics struct {
	records        *Counter
	recordDuration *Histogram
	retries        *Counter
	batches        *Counter
	dropped        *Counter
	limiterWait    *Histogram
}

var syncInstruments = struct {
	records, recordDuration, retries, batches, dropped, limiterWait Instrument
}{
	records:        Instrument{Name: "sync_records_total", Description: "Records processed by outcome", Unit: "{record}"},
	recordDuration: Instrument{Name: "sync_record_duration_seconds", Description: "Wall time per record including lock and limiter waits", Unit: "s", Buckets: RemoteDurationBuckets},
	retries:        Instrument{Name: "sync_remote_retries_total", Description: "Remote calls retried after throttling", Unit: "{retry}"},
	batches:        Instrument{Name: "sync_batches_total", Description: "Batches finished by status", Unit: "{batch}"},
	dropped:        Instrument{Name: "sync_batch_dropped_total", Description: "Records dropped by validation", Unit: "{record}"},
	limiterWait:    Instrument{Name: "ratelimit_wait_seconds", Description: "Time remote calls spent queued in the outbound limiter", Unit: "s", Buckets: WaitBuckets},
}

// NewSyncMetrics creates the sync instruments on meter
func NewSyncMetrics(meter metric.Meter) (*SyncMetrics, error) {
	in := syncInstruments
	m := &SyncMetrics{}
	var err error
	for _, c := range []struct {
		dst  **Counter
		inst Instrument
	}{{&m.records, in.records}, {&m.retries, in.retries}, {&m.batches, in.batches}, {&m.dropped, in.dropped}} {
		if *c.dst, err = NewCounter(meter, c.inst); err != nil {
			return nil, err
		}
	}
	if m.recordDuration, err = NewHistogram(meter, in.recordDuration); err != nil {
		return nil, err
	}
	if m.limiterWait, err = NewHistogram(meter, in.limiterWait); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordOutcome counts one record outcome
func (m *SyncMetrics) RecordOutcome(ctx context.Context, o integration.SyncOutcome) {
	outcome := AttrOutcome.String(o.Action.String())
	if o.Succeeded() {
		m.records.Inc(ctx, outcome, AttrAdopted.Bool(o.Adopted))
	} else {
		m.records.Inc(ctx, outcome, AttrErrorCode.String(integration.ErrorCode(o.Err)))
	}
	m.recordDuration.RecordDuration(ctx, o.Duration, outcome)
}

// RecordRetry counts one throttled retry of operation
func (m *SyncMetrics) RecordRetry(ctx context.Context, operation string) {
	m.retries.Inc(ctx, AttrOperation.String(operation))
}

// RecordBatch counts a finished batch
func (m *SyncMetrics) RecordBatch(ctx context.Context, r *integration.BatchResult) {
	if r == nil {
		return
	}
	m.batches.Inc(ctx, AttrStatus.String(r.Status.String()))
	if r.Dropped > 0 {
		m.dropped.Add(ctx, int64(r.Dropped))
	}
}

// ObserveLimiterWait records how long a call was queued. It matches the
// limiter's wait observer signature.
func (m *SyncMetrics) ObserveLimiterWait(ctx context.Context, wait time.Duration) {
	m.limiterWait.RecordDuration(ctx, wait)
}
