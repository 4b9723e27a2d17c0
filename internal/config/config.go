// Package config provides configuration loading for solvd.
//
// Configuration is read from an optional YAML file and overridden by
// SOLVD_-prefixed environment variables. See LoadWithFile.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete solvd configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Store         StoreConfig         `koanf:"store"`
	Sandbox       SandboxConfig       `koanf:"sandbox"`
	Agent         AgentConfig         `koanf:"agent"`
	GitHub        GitHubConfig        `koanf:"github"`
	Orchestrator  OrchestratorConfig  `koanf:"orchestrator"`
	Temporal      TemporalConfig      `koanf:"temporal"`
	NATS          NATSConfig          `koanf:"nats"`
	Secrets       SecretsConfig       `koanf:"secrets"`
	Observability ObservabilityConfig `koanf:"observability"`
	Logging       LoggingConfig       `koanf:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `koanf:"http_port"`
	Host            string        `koanf:"http_host"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	// SubmitRate is the sustained number of POST /solve requests per second
	// allowed for one caller. Zero disables rate limiting.
	SubmitRate  float64 `koanf:"submit_rate"`
	SubmitBurst int     `koanf:"submit_burst"`
}

// StoreConfig holds the SQLite store location.
type StoreConfig struct {
	Path string `koanf:"path"`
}

// SandboxConfig selects and configures the sandbox provider.
type SandboxConfig struct {
	// Provider is "docker" or "local".
	Provider string `koanf:"provider"`
	// Template is the image (docker) or base directory (local) every sandbox
	// is created from. Submissions are rejected while it is empty.
	Template     string        `koanf:"template"`
	Runtime      string        `koanf:"runtime"`
	Network      string        `koanf:"network"`
	CloseTimeout time.Duration `koanf:"close_timeout"`
}

// AgentConfig describes the coding agent subprocess.
type AgentConfig struct {
	Command     string `koanf:"command"`
	TestCommand string `koanf:"test_command"`
}

// GitHubConfig holds source-control host settings.
type GitHubConfig struct {
	APIURL     string        `koanf:"api_url"`
	MaxRetries int           `koanf:"max_retries"`
	RetryDelay time.Duration `koanf:"retry_delay"`
}

// OrchestratorConfig is the single source of the per-job defaults applied
// when a submission omits its limits.
type OrchestratorConfig struct {
	DefaultMaxParallel int           `koanf:"default_max_parallel"`
	DefaultTimeBudget  time.Duration `koanf:"default_time_budget"`
	// AdvisoryTimeBudget turns the time budget back into metadata only.
	// By default the budget is a hard deadline on every pipeline.
	AdvisoryTimeBudget bool `koanf:"advisory_time_budget"`
}

// TemporalConfig enables durable dispatch through a Temporal cluster.
type TemporalConfig struct {
	Enabled   bool   `koanf:"enabled"`
	HostPort  string `koanf:"host_port"`
	Namespace string `koanf:"namespace"`
	TaskQueue string `koanf:"task_queue"`
}

// NATSConfig configures lifecycle event publishing. An empty URL disables it.
type NATSConfig struct {
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// SecretsConfig configures diagnostics scrubbing.
type SecretsConfig struct {
	AllowlistPath string `koanf:"allowlist_path"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool   `koanf:"enable_telemetry"`
	ServiceName     string `koanf:"service_name"`
	Endpoint        string `koanf:"endpoint"`
	// Protocol is "grpc" or "http/protobuf".
	Protocol string `koanf:"protocol"`
	Insecure bool   `koanf:"insecure"`
}

// LoggingConfig holds the subset of logging settings exposed to operators.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("invalid shutdown timeout: %v (must be positive)", c.Server.ShutdownTimeout))
	}
	if c.Server.SubmitRate < 0 {
		errs = append(errs, fmt.Errorf("invalid submit rate: %v", c.Server.SubmitRate))
	}
	if c.Store.Path == "" {
		errs = append(errs, errors.New("store path is required"))
	}
	switch c.Sandbox.Provider {
	case "docker", "local":
	default:
		errs = append(errs, fmt.Errorf("unknown sandbox provider %q (want docker or local)", c.Sandbox.Provider))
	}
	if c.Agent.Command == "" {
		errs = append(errs, errors.New("agent command is required"))
	}
	if c.Orchestrator.DefaultMaxParallel < 1 {
		errs = append(errs, fmt.Errorf("default_max_parallel must be >= 1, got %d", c.Orchestrator.DefaultMaxParallel))
	}
	if c.Orchestrator.DefaultTimeBudget < time.Second {
		errs = append(errs, fmt.Errorf("default_time_budget must be at least 1s, got %v", c.Orchestrator.DefaultTimeBudget))
	}
	if c.Temporal.Enabled && c.Temporal.HostPort == "" {
		errs = append(errs, errors.New("temporal host_port is required when temporal is enabled"))
	}
	if c.Observability.EnableTelemetry {
		switch c.Observability.Protocol {
		case "grpc", "http/protobuf":
		default:
			errs = append(errs, fmt.Errorf("unknown otlp protocol %q", c.Observability.Protocol))
		}
	}

	return errors.Join(errs...)
}
