package telemetry

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type memoryExporter struct {
	mu      sync.Mutex
	records []sdklog.Record
}

func (e *memoryExporter) Export(_ context.Context, records []sdklog.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range records {
		e.records = append(e.records, r.Clone())
	}
	return nil
}

func (e *memoryExporter) Shutdown(context.Context) error   { return nil }
func (e *memoryExporter) ForceFlush(context.Context) error { return nil }

func (e *memoryExporter) bodies() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.records))
	for i, r := range e.records {
		out[i] = r.Body().AsString()
	}
	return out
}

func TestNewZapOTELCore_FiltersLevel(t *testing.T) {
	exp := &memoryExporter{}
	sdk := sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewSimpleProcessor(exp)))
	t.Cleanup(func() { _ = sdk.Shutdown(context.Background()) })

	core := NewZapOTELCore("autoworld-crawl", &LoggerProvider{sdk: sdk, log: zap.NewNop()}, zapcore.WarnLevel)
	l := zap.New(core).With(zap.String("batch_id", "b-1"))

	l.Info("Batch started")
	l.Warn("Remote call throttled, backing off")
	l.Error("Mapping upsert failed")

	assert.Equal(t, []string{"Remote call throttled, backing off", "Mapping upsert failed"}, exp.bodies())

	exp.mu.Lock()
	defer exp.mu.Unlock()
	require.Len(t, exp.records, 2)
	assert.Equal(t, log.SeverityWarn, exp.records[0].Severity())

	var batchID string
	exp.records[0].WalkAttributes(func(kv log.KeyValue) bool {
		if kv.Key == "batch_id" {
			batchID = kv.Value.AsString()
		}
		return true
	})
	assert.Equal(t, "b-1", batchID)
}

func TestNewZapOTELCore_Disabled(t *testing.T) {
	lp, err := NewLoggerProvider(context.Background(), LogsConfig{}, nil)
	require.NoError(t, err)
	assert.False(t, lp.IsEnabled())

	core := NewZapOTELCore("autoworld-crawl", lp, zapcore.InfoLevel)
	assert.False(t, core.Enabled(zapcore.ErrorLevel))
	assert.NoError(t, lp.Shutdown(context.Background()))

	var nilProvider *LoggerProvider
	assert.False(t, NewZapOTELCore("x", nilProvider, zapcore.InfoLevel).Enabled(zapcore.ErrorLevel))
}
