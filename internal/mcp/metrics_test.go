package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/fyrsmithlabs/solvd/internal/logging"
	"github.com/fyrsmithlabs/solvd/internal/solve"
	"github.com/fyrsmithlabs/solvd/internal/solving"
)

func newTestMetrics(t *testing.T) (*toolMetrics, func() metricdata.ResourceMetrics) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m := newToolMetrics(mp.Meter(instrumentationName), logging.NewNop())
	return m, func() metricdata.ResourceMetrics {
		var rm metricdata.ResourceMetrics
		require.NoError(t, reader.Collect(context.Background(), &rm))
		return rm
	}
}

func find(rm metricdata.ResourceMetrics, name string) (metricdata.Metrics, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m, true
			}
		}
	}
	return metricdata.Metrics{}, false
}

func sumInt64(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	m, ok := find(rm, name)
	require.True(t, ok, "%s not recorded", name)
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "%s is not an int64 sum", name)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestToolMetrics_Begin(t *testing.T) {
	m, collect := newTestMetrics(t)
	ctx := context.Background()

	m.begin(ctx, "solve_get")(nil)
	m.begin(ctx, "solve_get")(solve.ErrNotFound)
	inFlight := m.begin(ctx, "solve_list")

	rm := collect()
	assert.Equal(t, int64(2), sumInt64(t, rm, "solvd.mcp.tool.invocations_total"))
	assert.Equal(t, int64(1), sumInt64(t, rm, "solvd.mcp.tool.errors_total"))
	assert.Equal(t, int64(1), sumInt64(t, rm, "solvd.mcp.tool.active_requests"))

	failures, _ := find(rm, "solvd.mcp.tool.errors_total")
	dp := failures.Data.(metricdata.Sum[int64]).DataPoints[0]
	reason, _ := dp.Attributes.Value(attribute.Key("reason"))
	assert.Equal(t, "not_found", reason.AsString())

	_, ok := find(rm, "solvd.mcp.tool.duration_seconds")
	assert.True(t, ok)

	inFlight(nil)
	assert.Equal(t, int64(0), sumInt64(t, collect(), "solvd.mcp.tool.active_requests"))
}

func TestToolMetrics_Submitted(t *testing.T) {
	m, collect := newTestMetrics(t)
	m.submitted(context.Background(), 8)

	got, ok := find(collect(), "solvd.mcp.submit.configs")
	require.True(t, ok)
	hist := got.Data.(metricdata.Histogram[int64])
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, int64(8), hist.DataPoints[0].Sum)
}

func TestErrorReason(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"not found", fmt.Errorf("solve get failed: %w", solve.ErrNotFound), "not_found"},
		{"no credential", solving.ErrNoCredential, "no_credential"},
		{"no template", solving.ErrNoTemplate, "unavailable"},
		{"configuration", solve.Configuration("submit", "issue_number must be positive"), "validation_error"},
		{"deadline", context.DeadlineExceeded, "timeout"},
		{"persistence", solve.Wrap(solve.KindPersistence, "create_solve", errors.New("disk full")), "storage_error"},
		{"other", errors.New("something went wrong"), "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errorReason(tt.err))
		})
	}
}
