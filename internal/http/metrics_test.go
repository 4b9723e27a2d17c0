package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestMetricsMiddleware(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m := newMetrics(mp.Meter(instrumentationName), nil)

	e := echo.New()
	e.Use(m.middleware())
	e.GET("/solve/:id", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.POST("/solve", func(c echo.Context) error {
		if c.QueryParam("reject") != "" {
			return c.NoContent(http.StatusPreconditionFailed)
		}
		return c.NoContent(http.StatusAccepted)
	})

	for _, target := range []string{"/solve/a", "/solve/b"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, target, nil))
	}
	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/solve", nil))
	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/solve?reject=1", nil))

	got := collect(t, reader)

	requests, ok := got["solvd.http.requests_total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	byRoute := map[string]int64{}
	for _, dp := range requests.DataPoints {
		route, _ := dp.Attributes.Value(attribute.Key("route"))
		byRoute[route.AsString()] += dp.Value
	}
	assert.Equal(t, map[string]int64{"/solve/:id": 2, "/solve": 2}, byRoute)

	hist, ok := got["solvd.http.request_duration_seconds"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(4), count)

	subs, ok := got["solvd.http.submissions_total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	outcomes := map[string]int64{}
	for _, dp := range subs.DataPoints {
		o, _ := dp.Attributes.Value(attribute.Key("outcome"))
		outcomes[o.AsString()] += dp.Value
	}
	assert.Equal(t, map[string]int64{"accepted": 1, "no_credential": 1}, outcomes)
}

func TestSubmissionOutcome(t *testing.T) {
	assert.Equal(t, "accepted", submissionOutcome(http.StatusAccepted))
	assert.Equal(t, "rate_limited", submissionOutcome(http.StatusTooManyRequests))
	assert.Equal(t, "invalid_request", submissionOutcome(http.StatusRequestEntityTooLarge))
	assert.Equal(t, "unavailable", submissionOutcome(http.StatusServiceUnavailable))
	assert.Equal(t, "error", submissionOutcome(http.StatusInternalServerError))
	assert.Equal(t, "unmatched", routeLabel(""))
}
