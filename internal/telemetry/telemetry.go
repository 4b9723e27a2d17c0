// Package telemetry wires OpenTelemetry tracing and metrics for solvd.
//
// Pipelines open one span per run and one child span per stage; HTTP
// handlers record request metrics through the global meter provider.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/fyrsmithlabs/solvd/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	Endpoint       string
	Protocol       string
	ServiceName    string
	ServiceVersion string
	// Component distinguishes the API process from standalone workers.
	Component      string
	Insecure       bool
	SampleRate     float64
	ExportInterval time.Duration
	ShutdownAfter  time.Duration
}

// ConfigFrom maps the operator settings onto a telemetry Config for the
// named component ("api" or "worker").
func ConfigFrom(o config.ObservabilityConfig, version, component string) *Config {
	return &Config{
		Component:      component,
		Enabled:        o.EnableTelemetry,
		Endpoint:       o.Endpoint,
		Protocol:       o.Protocol,
		ServiceName:    o.ServiceName,
		ServiceVersion: version,
		Insecure:       o.Insecure,
		SampleRate:     1.0,
		ExportInterval: 15 * time.Second,
		ShutdownAfter:  5 * time.Second,
	}
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Endpoint == "" {
		return errors.New("endpoint is required when telemetry is enabled")
	}
	if c.ServiceName == "" {
		return errors.New("service_name is required when telemetry is enabled")
	}
	if c.Insecure && !isLocalEndpoint(c.Endpoint) {
		return errors.New("insecure connections are only allowed to local endpoints")
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("sample rate must be between 0 and 1, got %f", c.SampleRate)
	}
	return nil
}

func isLocalEndpoint(endpoint string) bool {
	host, _, err := net.SplitHostPort(stripScheme(endpoint))
	if err != nil {
		host = stripScheme(endpoint)
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Telemetry owns the tracer and meter providers.
type Telemetry struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
}

// New initializes providers and registers them globally. A disabled config
// yields an instance that hands out the global no-op tracer and meter.
func New(ctx context.Context, cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}

	t := &Telemetry{config: cfg}
	if !cfg.Enabled {
		return t, nil
	}

	res := newResource(cfg)

	tp, err := newTracerProvider(ctx, cfg, res)
	if err != nil {
		return nil, err
	}
	mp, err := newMeterProvider(ctx, cfg, res)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, err
	}

	t.tracerProvider = tp
	t.meterProvider = mp
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return t, nil
}

// Tracer returns a tracer for the instrumentation scope.
func (t *Telemetry) Tracer(name string) trace.Tracer {
	if t == nil || t.tracerProvider == nil {
		return otel.GetTracerProvider().Tracer(name)
	}
	return t.tracerProvider.Tracer(name)
}

// Meter returns a meter for the instrumentation scope.
func (t *Telemetry) Meter(name string) metric.Meter {
	if t == nil || t.meterProvider == nil {
		return otel.GetMeterProvider().Meter(name)
	}
	return t.meterProvider.Meter(name)
}

// Shutdown flushes and stops both providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok && t.config.ShutdownAfter > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.ShutdownAfter)
		defer cancel()
	}

	var errs []error
	if t.tracerProvider != nil {
		if err := t.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trace provider shutdown: %w", err))
		}
	}
	if t.meterProvider != nil {
		if err := t.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}
