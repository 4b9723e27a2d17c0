package mcp

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/solvd/internal/logging"
	"github.com/fyrsmithlabs/solvd/internal/solve"
	"github.com/fyrsmithlabs/solvd/internal/solving"
)

const instrumentationName = "github.com/fyrsmithlabs/solvd/internal/mcp"

// toolMetrics holds the tool instruments. Instruments that failed to
// register stay nil and are skipped.
type toolMetrics struct {
	invocations metric.Int64Counter
	duration    metric.Float64Histogram
	failures    metric.Int64Counter
	active      metric.Int64UpDownCounter
	matrixSize  metric.Int64Histogram
}

func newToolMetrics(meter metric.Meter, logger *logging.Logger) *toolMetrics {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	check := func(name string, err error) {
		if err != nil {
			logger.Warn(context.Background(), "failed to create metric", zap.String("metric", name), zap.Error(err))
		}
	}

	m := &toolMetrics{}
	var err error
	m.invocations, err = meter.Int64Counter("solvd.mcp.tool.invocations_total",
		metric.WithDescription("MCP tool calls by tool"),
		metric.WithUnit("{invocation}"))
	check("invocations_total", err)

	m.duration, err = meter.Float64Histogram("solvd.mcp.tool.duration_seconds",
		metric.WithDescription("MCP tool call latency by tool"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5))
	check("duration_seconds", err)

	m.failures, err = meter.Int64Counter("solvd.mcp.tool.errors_total",
		metric.WithDescription("Failed MCP tool calls by tool and reason"),
		metric.WithUnit("{error}"))
	check("errors_total", err)

	m.active, err = meter.Int64UpDownCounter("solvd.mcp.tool.active_requests",
		metric.WithDescription("MCP tool calls in progress"),
		metric.WithUnit("{request}"))
	check("active_requests", err)

	m.matrixSize, err = meter.Int64Histogram("solvd.mcp.submit.configs",
		metric.WithDescription("Configurations per accepted solve_submit"),
		metric.WithUnit("{config}"),
		metric.WithExplicitBucketBoundaries(1, 2, 4, 8, 16, 32, 64))
	check("submit.configs", err)
	return m
}

// begin marks a call of tool as active and returns the function that
// records its outcome.
func (m *toolMetrics) begin(ctx context.Context, tool string) func(err error) {
	start := time.Now()
	attrs := metric.WithAttributes(attribute.String("tool", tool))
	if m.active != nil {
		m.active.Add(ctx, 1, attrs)
	}
	return func(err error) {
		if m.active != nil {
			m.active.Add(ctx, -1, attrs)
		}
		if m.invocations != nil {
			m.invocations.Add(ctx, 1, attrs)
		}
		if m.duration != nil {
			m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
		}
		if err != nil && m.failures != nil {
			m.failures.Add(ctx, 1, metric.WithAttributes(
				attribute.String("tool", tool),
				attribute.String("reason", errorReason(err)),
			))
		}
	}
}

func (m *toolMetrics) submitted(ctx context.Context, configs int) {
	if m.matrixSize != nil {
		m.matrixSize.Record(ctx, int64(configs))
	}
}

// errorReason maps an error to a low-cardinality reason label.
func errorReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, solve.ErrNotFound):
		return "not_found"
	case errors.Is(err, solving.ErrNoCredential):
		return "no_credential"
	case errors.Is(err, solving.ErrNoTemplate):
		return "unavailable"
	case errors.Is(err, solve.ErrConfiguration):
		return "validation_error"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	case errors.Is(err, solve.ErrPersistence):
		return "storage_error"
	default:
		return "internal_error"
	}
}
