package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/sebastiansabo/autoworld-crawl/internal/infrastructure/telemetry"
)

// HTTPMetricsMeterName scopes the HTTP server instruments
const HTTPMetricsMeterName = "autoworld-crawl/http"

// unmatchedRoute labels requests that hit no route, keeping scanner traffic
// at a single series
const unmatchedRoute = "unmatched"

// Inline record batches dominate request sizes.
var requestSizeBuckets = []float64{512, 4096, 32768, 262144, 1048576, 4194304, 16777216}

type serverInstruments struct {
	requests *telemetry.Counter
	latency  *telemetry.Histogram
	size     *telemetry.Histogram
	inFlight metric.Int64UpDownCounter
}

func newServerInstruments(meter metric.Meter) (*serverInstruments, error) {
	requests, err := telemetry.NewCounter(meter, telemetry.Instrument{
		Name:        "http_server_request_total",
		Description: "Trigger API requests by route and status",
		Unit:        "{request}",
	})
	if err != nil {
		return nil, err
	}
	latency, err := telemetry.NewHistogram(meter, telemetry.Instrument{
		Name:        "http_server_request_duration_seconds",
		Description: "Trigger API latency including inline batch runs",
		Unit:        "s",
		Buckets:     telemetry.HTTPDurationBuckets,
	})
	if err != nil {
		return nil, err
	}
	size, err := telemetry.NewHistogram(meter, telemetry.Instrument{
		Name:        "http_server_request_size_bytes",
		Description: "Declared request body size",
		Unit:        "By",
		Buckets:     requestSizeBuckets,
	})
	if err != nil {
		return nil, err
	}
	inFlight, err := meter.Int64UpDownCounter("http_server_active_requests",
		metric.WithDescription("Requests currently being served"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}
	return &serverInstruments{requests: requests, latency: latency, size: size, inFlight: inFlight}, nil
}

// HTTPMetrics returns a middleware recording request count, latency, body
// size and in-flight requests. A nil or disabled provider yields a
// pass-through middleware.
func HTTPMetrics(mp *telemetry.MeterProvider, l *zap.Logger) gin.HandlerFunc {
	if mp == nil || !mp.IsEnabled() {
		return passThrough
	}
	return HTTPMetricsWithMeter(mp.Meter(HTTPMetricsMeterName), l)
}

// HTTPMetricsWithMeter builds the middleware on an explicit meter
func HTTPMetricsWithMeter(meter metric.Meter, l *zap.Logger) gin.HandlerFunc {
	in, err := newServerInstruments(meter)
	if err != nil {
		if l != nil {
			l.Warn("HTTP metrics disabled", zap.Error(err))
		}
		return passThrough
	}
	return in.middleware
}

func (in *serverInstruments) middleware(c *gin.Context) {
	ctx := c.Request.Context()
	start := time.Now()
	declared := c.Request.ContentLength

	in.inFlight.Add(ctx, 1)
	defer in.inFlight.Add(ctx, -1)
	c.Next()

	route := c.FullPath()
	if route == "" {
		route = unmatchedRoute
	}
	attrs := []attribute.KeyValue{
		telemetry.AttrHTTPMethod.String(c.Request.Method),
		telemetry.AttrHTTPRoute.String(route),
	}
	in.latency.RecordDuration(ctx, time.Since(start), attrs...)
	if declared > 0 {
		in.size.Record(ctx, float64(declared), attrs...)
	}
	in.requests.Inc(ctx, append(attrs, telemetry.AttrHTTPStatusCode.Int(c.Writer.Status()))...)
}

func passThrough(c *gin.Context) { c.Next() }
