package workflows

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fyrsmithlabs/solvd/internal/workflows"

// Instruments are created on first use so the global meter provider set by
// telemetry.New is the one that receives them.
var instruments struct {
	once       sync.Once
	dispatches metric.Int64Counter
	activities metric.Int64Counter
	duration   metric.Float64Histogram
}

func loadInstruments() {
	instruments.once.Do(func() {
		meter := otel.Meter(instrumentationName)
		// Creation errors leave a no-op instrument behind; metrics are never
		// worth failing a solve for.
		instruments.dispatches, _ = meter.Int64Counter("solvd.workflows.dispatches",
			metric.WithDescription("Solves handed to a dispatcher, by dispatcher"),
			metric.WithUnit("{solve}"))
		instruments.activities, _ = meter.Int64Counter("solvd.workflows.activity.runs",
			metric.WithDescription("RunSolve activity executions, by outcome"),
			metric.WithUnit("{execution}"))
		instruments.duration, _ = meter.Float64Histogram("solvd.workflows.activity.duration",
			metric.WithDescription("RunSolve activity duration, by outcome"),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(1, 10, 30, 60, 300, 600, 1800, 3600))
	})
}

// recordDispatch counts a solve handed to dispatcher ("local" or "temporal").
func recordDispatch(ctx context.Context, dispatcher string) {
	loadInstruments()
	if instruments.dispatches != nil {
		instruments.dispatches.Add(ctx, 1, metric.WithAttributes(attribute.String("dispatcher", dispatcher)))
	}
}

// recordActivity records one RunSolve execution. outcome is the solve's
// final status, or the error type when the activity failed.
func recordActivity(ctx context.Context, start time.Time, outcome string) {
	loadInstruments()
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	if instruments.activities != nil {
		instruments.activities.Add(ctx, 1, attrs)
	}
	if instruments.duration != nil {
		instruments.duration.Record(ctx, time.Since(start).Seconds(), attrs)
	}
}
