package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type contextKey string

const (
	loggerKey      contextKey = "logger"
	requestIDKey   contextKey = "request_id"
	batchIDKey     contextKey = "batch_id"
	identityKeyKey contextKey = "identity_key"
)

// Field names shared by every component
const (
	FieldRequestID   = "request_id"
	FieldBatchID     = "batch_id"
	FieldIdentityKey = "identity_key"
	FieldTraceID     = "trace_id"
	FieldSpanID      = "span_id"
)

// WithContext returns a new context carrying the logger
func WithContext(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext returns the logger stored in ctx, or a no-op logger
func FromContext(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(loggerKey).(*zap.Logger); ok && l != nil {
		return l
	}
	return zap.NewNop()
}

// FromContextOr returns the logger stored in ctx, or fallback when none was stored
func FromContextOr(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey).(*zap.Logger); ok && l != nil {
		return l
	}
	if fallback == nil {
		return zap.NewNop()
	}
	return fallback
}

// WithRequestID stores the request id and returns the enriched logger
func WithRequestID(ctx context.Context, l *zap.Logger, requestID string) (context.Context, *zap.Logger) {
	ctx = context.WithValue(ctx, requestIDKey, requestID)
	l = l.With(zap.String(FieldRequestID, requestID))
	return WithContext(ctx, l), l
}

// WithBatchID stores the batch id and returns the enriched logger
func WithBatchID(ctx context.Context, l *zap.Logger, batchID string) (context.Context, *zap.Logger) {
	ctx = context.WithValue(ctx, batchIDKey, batchID)
	l = l.With(zap.String(FieldBatchID, batchID))
	return WithContext(ctx, l), l
}

// WithIdentityKey stores the record identity key and returns the enriched logger
func WithIdentityKey(ctx context.Context, l *zap.Logger, key string) (context.Context, *zap.Logger) {
	ctx = context.WithValue(ctx, identityKeyKey, key)
	l = l.With(zap.String(FieldIdentityKey, key))
	return WithContext(ctx, l), l
}

// GetRequestID returns the request id in ctx, if any
func GetRequestID(ctx context.Context) string {
	return stringValue(ctx, requestIDKey)
}

// GetBatchID returns the batch id in ctx, if any
func GetBatchID(ctx context.Context) string {
	return stringValue(ctx, batchIDKey)
}

// GetIdentityKey returns the identity key in ctx, if any
func GetIdentityKey(ctx context.Context) string {
	return stringValue(ctx, identityKeyKey)
}

func stringValue(ctx context.Context, key contextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// GetTraceID returns the active trace id or an empty string
func GetTraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}

// WithTraceContext adds trace_id and span_id when ctx carries a valid span
func WithTraceContext(ctx context.Context, l *zap.Logger) *zap.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return l
	}
	return l.With(
		zap.String(FieldTraceID, sc.TraceID().String()),
		zap.String(FieldSpanID, sc.SpanID().String()),
	)
}

// L returns the context logger with trace correlation applied.
// Usage: logger.L(ctx).Info("record synced", zap.String("action", "CREATED"))
//
// Request, batch and identity fields are already on the stored logger when the
// With* helpers put them there; only trace fields are added here.
func L(ctx context.Context) *zap.Logger {
	return WithTraceContext(ctx, FromContext(ctx))
}
