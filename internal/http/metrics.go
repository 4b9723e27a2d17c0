package http

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/solvd/internal/logging"
)

const instrumentationName = "github.com/fyrsmithlabs/solvd/internal/http"

// apiMetrics records request traffic and the outcome of every submission.
type apiMetrics struct {
	requests    metric.Int64Counter
	duration    metric.Float64Histogram
	inflight    metric.Int64UpDownCounter
	submissions metric.Int64Counter
}

func newMetrics(meter metric.Meter, logger *logging.Logger) *apiMetrics {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	warn := func(name string, err error) {
		if err != nil {
			logger.Warn(context.Background(), "failed to create metric", zap.String("metric", name), zap.Error(err))
		}
	}

	m := &apiMetrics{}
	var err error
	m.requests, err = meter.Int64Counter("solvd.http.requests_total",
		metric.WithDescription("HTTP requests by method, route and status"),
		metric.WithUnit("{request}"))
	warn("requests_total", err)

	m.duration, err = meter.Float64Histogram("solvd.http.request_duration_seconds",
		metric.WithDescription("HTTP request latency by method, route and status"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5))
	warn("request_duration_seconds", err)

	m.inflight, err = meter.Int64UpDownCounter("solvd.http.active_requests",
		metric.WithDescription("HTTP requests being served"),
		metric.WithUnit("{request}"))
	warn("active_requests", err)

	m.submissions, err = meter.Int64Counter("solvd.http.submissions_total",
		metric.WithDescription("POST /solve outcomes: accepted, or the rejection code"),
		metric.WithUnit("{submission}"))
	warn("submissions_total", err)
	return m
}

// middleware records every request. Echo reports the route pattern
// (/solve/:id), which keeps the route label bounded.
func (m *apiMetrics) middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			start := time.Now()
			if m.inflight != nil {
				m.inflight.Add(ctx, 1)
				defer m.inflight.Add(ctx, -1)
			}

			err := next(c)

			method, route, status := c.Request().Method, routeLabel(c.Path()), c.Response().Status
			attrs := metric.WithAttributes(
				attribute.String("method", method),
				attribute.String("route", route),
				attribute.Int("status", status),
			)
			if m.requests != nil {
				m.requests.Add(ctx, 1, attrs)
			}
			if m.duration != nil {
				m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			if m.submissions != nil && method == http.MethodPost && route == "/solve" {
				m.submissions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", submissionOutcome(status))))
			}
			return err
		}
	}
}

func routeLabel(path string) string {
	if path == "" {
		return "unmatched"
	}
	return path
}

// submissionOutcome names a POST /solve response by its status code.
func submissionOutcome(status int) string {
	switch status {
	case http.StatusAccepted:
		return "accepted"
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		return "invalid_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusPreconditionFailed:
		return "no_credential"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusServiceUnavailable:
		return "unavailable"
	default:
		return "error"
	}
}
