// Package trace attaches request-scoped identifiers to contexts and loggers
// so one transcript pass or API call can be followed across packages.
package trace

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

type ctxKey struct{}

var traceCtxKey = ctxKey{}

// Context identifies a single request or transcript-processing pass.
type Context struct {
	RequestID string
}

// New creates a trace context with a fresh ID.
func New() Context {
	return Context{RequestID: uuid.NewString()}
}

// FromContext extracts trace context from context.Context.
func FromContext(ctx context.Context) (Context, bool) {
	tc, ok := ctx.Value(traceCtxKey).(Context)
	return tc, ok
}

// WithContext injects trace context into context.Context.
func WithContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, traceCtxKey, tc)
}

// EnsureContext returns the existing trace context or creates a new one.
func EnsureContext(ctx context.Context) (context.Context, Context) {
	if tc, ok := FromContext(ctx); ok {
		return ctx, tc
	}
	tc := New()
	return WithContext(ctx, tc), tc
}

// Logger returns a slog.Logger carrying the request ID.
func Logger(ctx context.Context) *slog.Logger {
	tc, ok := FromContext(ctx)
	if !ok {
		return slog.Default()
	}
	return slog.Default().With("request_id", tc.RequestID)
}
