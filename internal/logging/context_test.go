package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/trace"
)

func TestContextFields_Empty(t *testing.T) {
	assert.Empty(t, ContextFields(context.Background()))
}

func TestContextFields_AllCorrelation(t *testing.T) {
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: trace.TraceID{1},
		SpanID:  trace.SpanID{2},
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	ctx = WithSolveID(ctx, "s1")
	ctx = WithRunID(ctx, "r1")
	ctx = WithOwnerID(ctx, "o1")
	ctx = WithRequestID(ctx, "req1")

	keys := map[string]string{}
	for _, f := range ContextFields(ctx) {
		keys[f.Key] = f.String
	}

	assert.Equal(t, sc.TraceID().String(), keys["trace_id"])
	assert.Equal(t, "s1", keys["solve.id"])
	assert.Equal(t, "r1", keys["run.id"])
	assert.Equal(t, "o1", keys["owner.id"])
	assert.Equal(t, "req1", keys["request.id"])
	assert.Equal(t, "s1", SolveIDFromContext(ctx))
}
