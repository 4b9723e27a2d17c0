package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/fyrsmithlabs/solvd/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), ConfigFrom(config.ObservabilityConfig{ServiceName: "solvd"}, "test", "api"))
	require.NoError(t, err)

	assert.NotNil(t, tel.Tracer("solvd/test"))
	assert.NotNil(t, tel.Meter("solvd/test"))
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_EnabledGRPC(t *testing.T) {
	cfg := ConfigFrom(config.ObservabilityConfig{
		EnableTelemetry: true,
		ServiceName:     "solvd",
		Endpoint:        "localhost:4317",
		Protocol:        "grpc",
		Insecure:        true,
	}, "test", "api")

	// Exporters connect lazily, so construction succeeds without a collector.
	tel, err := New(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, tel.tracerProvider)
	require.NotNil(t, tel.meterProvider)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		_ = tel.Shutdown(ctx)
	})

	_, span := tel.Tracer("solvd/test").Start(context.Background(), "op")
	span.End()
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"disabled skips checks", Config{}, false},
		{"missing endpoint", Config{Enabled: true, ServiceName: "s"}, true},
		{"insecure remote", Config{Enabled: true, ServiceName: "s", Endpoint: "otel.example.com:4317", Insecure: true}, true},
		{"insecure loopback", Config{Enabled: true, ServiceName: "s", Endpoint: "127.0.0.1:4317", Insecure: true, SampleRate: 1}, false},
		{"bad sample rate", Config{Enabled: true, ServiceName: "s", Endpoint: "localhost:4317", SampleRate: 2}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestIsLocalEndpoint(t *testing.T) {
	assert.True(t, isLocalEndpoint("localhost:4317"))
	assert.True(t, isLocalEndpoint("http://127.0.0.1:4318"))
	assert.True(t, isLocalEndpoint("[::1]:4317"))
	assert.False(t, isLocalEndpoint("collector:4317"))
}

func TestNewResource_Component(t *testing.T) {
	res := newResource(&Config{ServiceName: "solvd", ServiceVersion: "1.2.3", Component: "worker"})

	component, ok := res.Set().Value("solvd.component")
	require.True(t, ok)
	assert.Equal(t, "worker", component.AsString())

	_, ok = newResource(&Config{ServiceName: "solvd"}).Set().Value("solvd.component")
	assert.False(t, ok)
}

func TestCollectorFor(t *testing.T) {
	c := collectorFor(&Config{Endpoint: "https://otel.example.com:4318", Protocol: "http/protobuf"})
	assert.Equal(t, "otel.example.com:4318", c.hostPort)
	assert.True(t, c.useHTTP)
	assert.False(t, c.insecure)

	c = collectorFor(&Config{Endpoint: "localhost:4317", Protocol: "grpc", Insecure: true})
	assert.Equal(t, "localhost:4317", c.hostPort)
	assert.False(t, c.useHTTP)
	assert.True(t, c.insecure)
}
