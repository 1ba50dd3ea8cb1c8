// Package telemetry wires OpenTelemetry traces, metrics and logs plus
// Pyroscope profiling for the sync service. Every provider degrades to a
// no-op when disabled so callers never branch on configuration.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.uber.org/zap"
)

// ServiceVersion is reported in the resource of every signal
const ServiceVersion = "1.0.0"

// shutdownTimeout bounds the final flush of each signal
const shutdownTimeout = 10 * time.Second

// Exporter addresses the OTLP/gRPC collector. All three signals share it.
type Exporter struct {
	Endpoint    string
	Insecure    bool
	ServiceName string
}

func (e Exporter) resource() (*resource.Resource, error) {
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(e.ServiceName),
		semconv.ServiceVersion(ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}
	return res, nil
}

type flusher interface {
	Shutdown(ctx context.Context) error
}

// flush shuts one SDK provider down within shutdownTimeout
func flush(ctx context.Context, signal string, p flusher, log *zap.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := p.Shutdown(ctx); err != nil {
		return fmt.Errorf("flush %s: %w", signal, err)
	}
	log.Debug("Telemetry flushed", zap.String("signal", signal))
	return nil
}
