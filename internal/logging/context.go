package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type (
	solveCtxKey   struct{}
	runCtxKey     struct{}
	ownerCtxKey   struct{}
	requestCtxKey struct{}
)

// ContextFields extracts correlation data from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 7)

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if v := stringValue(ctx, solveCtxKey{}); v != "" {
		fields = append(fields, zap.String("solve.id", v))
	}
	if v := stringValue(ctx, runCtxKey{}); v != "" {
		fields = append(fields, zap.String("run.id", v))
	}
	if v := stringValue(ctx, ownerCtxKey{}); v != "" {
		fields = append(fields, zap.String("owner.id", v))
	}
	if v := stringValue(ctx, requestCtxKey{}); v != "" {
		fields = append(fields, zap.String("request.id", v))
	}
	return fields
}

func stringValue(ctx context.Context, key any) string {
	s, _ := ctx.Value(key).(string)
	return s
}

// WithSolveID tags ctx with the solve being processed.
func WithSolveID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, solveCtxKey{}, id)
}

// WithRunID tags ctx with a single run of a solve.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runCtxKey{}, id)
}

// WithOwnerID tags ctx with the caller that owns the solve.
func WithOwnerID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ownerCtxKey{}, id)
}

// WithRequestID tags ctx with the inbound HTTP request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestCtxKey{}, id)
}

// SolveIDFromContext returns the solve id, or "".
func SolveIDFromContext(ctx context.Context) string { return stringValue(ctx, solveCtxKey{}) }

