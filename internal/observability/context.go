package observability

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type contextKey string

const (
	traceIDBytes = 16 // OpenTelemetry trace ID size in bytes
	spanIDBytes  = 8  // OpenTelemetry span ID size in bytes
)

// Context keys. Each one is also the log field name.
const (
	TraceIDKey   contextKey = "trace_id"
	SpanIDKey    contextKey = "span_id"
	RequestIDKey contextKey = "request_id"
	UserIDKey    contextKey = "user_id"
	OperationKey contextKey = "operation"
	ModelKey     contextKey = "model"
)

// loggedKeys is the order fields appear in log lines.
//
//nolint:gochecknoglobals // fixed table
var loggedKeys = []contextKey{TraceIDKey, SpanIDKey, RequestIDKey, UserIDKey, OperationKey, ModelKey}

// WithTrace starts a request scope with fresh trace, span and request ids.
func WithTrace(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, TraceIDKey, GenerateTraceID())
	ctx = context.WithValue(ctx, SpanIDKey, GenerateSpanID())
	return context.WithValue(ctx, RequestIDKey, uuid.NewString())
}

// WithRequestID sets a caller-supplied request id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithUserID scopes ctx to the account whose credits are in play.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithOperation scopes ctx to the AI operation being priced or billed.
func WithOperation(ctx context.Context, operation string) context.Context {
	return context.WithValue(ctx, OperationKey, operation)
}

// WithModel scopes ctx to a model name.
func WithModel(ctx context.Context, model string) context.Context {
	return context.WithValue(ctx, ModelKey, model)
}

// Value returns the string stored under key, or "".
func Value(ctx context.Context, key contextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// GetTraceID extracts the trace id.
func GetTraceID(ctx context.Context) string { return Value(ctx, TraceIDKey) }

// GetRequestID extracts the request id.
func GetRequestID(ctx context.Context) string { return Value(ctx, RequestIDKey) }

// GetUserID extracts the user id.
func GetUserID(ctx context.Context) string { return Value(ctx, UserIDKey) }

func contextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, len(loggedKeys))
	for _, key := range loggedKeys {
		if value := Value(ctx, key); value != "" {
			fields = append(fields, zap.String(string(key), value))
		}
	}
	return fields
}

// GenerateTraceID generates an OpenTelemetry-compatible trace ID (32 hex chars).
func GenerateTraceID() string {
	bytes := make([]byte, traceIDBytes)
	if _, err := rand.Read(bytes); err != nil {
		return uuid.New().String()
	}
	return hex.EncodeToString(bytes)
}

// GenerateSpanID generates an OpenTelemetry-compatible span ID (16 hex chars).
func GenerateSpanID() string {
	bytes := make([]byte, spanIDBytes)
	if _, err := rand.Read(bytes); err != nil {
		return uuid.New().String()[:16]
	}
	return hex.EncodeToString(bytes)
}
