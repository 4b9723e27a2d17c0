package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "SOLVD_"
)

// LoadWithFile loads configuration from a YAML file, then overrides it with
// environment variables.
//
// Precedence (highest to lowest):
//  1. Environment variables (SOLVD_SERVER_HTTP_PORT, SOLVD_SANDBOX_TEMPLATE, ...)
//  2. YAML config file (~/.config/solvd/config.yaml)
//  3. Defaults
//
// The file must live in ~/.config/solvd/ or /etc/solvd/, be at most 1MB and
// carry 0600 or 0400 permissions. A missing file is not an error.
//
// Environment keys drop the prefix and split on the first underscore only:
//
//	SOLVD_SERVER_HTTP_PORT            -> server.http_port
//	SOLVD_ORCHESTRATOR_DEFAULT_MAX_PARALLEL -> orchestrator.default_max_parallel
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "solvd", "config.yaml")
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		// Validate through the open descriptor to avoid a TOCTOU race.
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if err := validateConfigFileProperties(info); err != nil {
			return nil, fmt.Errorf("config file validation failed: %w", err)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applyDefaults(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// envKey maps SOLVD_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, field, found := strings.Cut(lower, "_")
	if !found {
		return lower
	}
	return section + "." + field
}

// EnsureConfigDir creates ~/.config/solvd with 0700 permissions.
func EnsureConfigDir() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	configDir := filepath.Join(home, ".config", "solvd")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", configDir, err)
	}
	return nil
}

// validateConfigPath checks the path is inside an allowed directory.
// It runs even when the file does not exist yet.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		// Nonexistent paths are validated as written.
		resolvedPath = absPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	allowedDirs := []string{
		filepath.Join(home, ".config", "solvd"),
		"/etc/solvd",
	}
	for _, dir := range allowedDirs {
		if strings.HasPrefix(resolvedPath, dir+string(filepath.Separator)) {
			return nil
		}
	}

	return fmt.Errorf("config file must be in ~/.config/solvd/ or /etc/solvd/")
}

// validateConfigFileProperties checks permissions and size of an opened file.
func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}

	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}

// applyDefaults fills zero values. Boolean options are named so that false
// is the default.
func applyDefaults(cfg *Config) error {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8484
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Server.SubmitRate > 0 && cfg.Server.SubmitBurst == 0 {
		cfg.Server.SubmitBurst = 1
	}

	if cfg.Store.Path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.Store.Path = filepath.Join(home, ".local", "share", "solvd", "solvd.db")
	}

	if cfg.Sandbox.Provider == "" {
		cfg.Sandbox.Provider = "docker"
	}
	if cfg.Sandbox.Runtime == "" {
		cfg.Sandbox.Runtime = "docker"
	}
	if cfg.Sandbox.CloseTimeout == 0 {
		cfg.Sandbox.CloseTimeout = 30 * time.Second
	}

	if cfg.Agent.Command == "" {
		cfg.Agent.Command = "solve-agent"
	}

	if cfg.GitHub.MaxRetries == 0 {
		cfg.GitHub.MaxRetries = 3
	}
	if cfg.GitHub.RetryDelay == 0 {
		cfg.GitHub.RetryDelay = time.Second
	}

	if cfg.Orchestrator.DefaultMaxParallel == 0 {
		cfg.Orchestrator.DefaultMaxParallel = 2
	}
	if cfg.Orchestrator.DefaultTimeBudget == 0 {
		cfg.Orchestrator.DefaultTimeBudget = 30 * time.Minute
	}

	if cfg.Temporal.Namespace == "" {
		cfg.Temporal.Namespace = "default"
	}
	if cfg.Temporal.TaskQueue == "" {
		cfg.Temporal.TaskQueue = "solvd-solves"
	}

	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = "solvd"
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "solvd"
	}
	if cfg.Observability.Endpoint == "" {
		cfg.Observability.Endpoint = "localhost:4317"
	}
	if cfg.Observability.Protocol == "" {
		cfg.Observability.Protocol = "grpc"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	return nil
}
