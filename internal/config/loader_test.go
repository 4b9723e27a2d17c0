package config

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupConfigDir points HOME at a temp dir and returns the allowed config dir.
func setupConfigDir(t *testing.T) string {
	t.Helper()

	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := filepath.Join(home, ".config", "solvd")
	require.NoError(t, os.MkdirAll(dir, 0700))
	return dir
}

func writeConfig(t *testing.T, dir, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	return path
}

func TestLoadWithFile_ValidYAML(t *testing.T) {
	dir := setupConfigDir(t)
	path := writeConfig(t, dir, `server:
  http_port: 9191
  shutdown_timeout: 5s
sandbox:
  provider: local
  template: /srv/solvd/template
orchestrator:
  default_max_parallel: 4
  default_time_budget: 10m
observability:
  service_name: solvd-test
`, 0600)

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "local", cfg.Sandbox.Provider)
	assert.Equal(t, "/srv/solvd/template", cfg.Sandbox.Template)
	assert.Equal(t, 4, cfg.Orchestrator.DefaultMaxParallel)
	assert.Equal(t, 10*time.Minute, cfg.Orchestrator.DefaultTimeBudget)
	assert.False(t, cfg.Orchestrator.AdvisoryTimeBudget)
	assert.Equal(t, "solvd-test", cfg.Observability.ServiceName)
}

func TestLoadWithFile_EnvironmentOverride(t *testing.T) {
	dir := setupConfigDir(t)
	path := writeConfig(t, dir, `server:
  http_port: 9191
observability:
  service_name: yaml-service
`, 0600)

	t.Setenv("SOLVD_SERVER_HTTP_PORT", "7777")
	t.Setenv("SOLVD_OBSERVABILITY_SERVICE_NAME", "env-service")
	t.Setenv("SOLVD_ORCHESTRATOR_DEFAULT_MAX_PARALLEL", "6")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, "env-service", cfg.Observability.ServiceName)
	assert.Equal(t, 6, cfg.Orchestrator.DefaultMaxParallel)
}

func TestLoadWithFile_MissingFileUsesDefaults(t *testing.T) {
	setupConfigDir(t)

	cfg, err := LoadWithFile("")
	require.NoError(t, err)

	assert.Equal(t, 8484, cfg.Server.Port)
	assert.Equal(t, "docker", cfg.Sandbox.Provider)
	assert.Equal(t, "solve-agent", cfg.Agent.Command)
	assert.Equal(t, 2, cfg.Orchestrator.DefaultMaxParallel)
	assert.Equal(t, 30*time.Minute, cfg.Orchestrator.DefaultTimeBudget)
	assert.Equal(t, "solvd-solves", cfg.Temporal.TaskQueue)
	assert.NotEmpty(t, cfg.Store.Path)
}

func TestLoadWithFile_InvalidYAML(t *testing.T) {
	dir := setupConfigDir(t)
	path := writeConfig(t, dir, "server: [unterminated\n", 0600)

	_, err := LoadWithFile(path)
	assert.Error(t, err)
}

func TestLoadWithFile_Validation(t *testing.T) {
	dir := setupConfigDir(t)
	path := writeConfig(t, dir, `sandbox:
  provider: firecracker
`, 0600)

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown sandbox provider")
}

func TestLoadWithFile_PathTraversal(t *testing.T) {
	setupConfigDir(t)

	_, err := LoadWithFile("../../../../etc/passwd")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be in ~/.config/solvd/ or /etc/solvd/")
}

func TestLoadWithFile_InsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Skipping permission test on Windows")
	}
	dir := setupConfigDir(t)
	path := writeConfig(t, dir, "server:\n  http_port: 9191\n", 0644)

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoadWithFile_FileTooLarge(t *testing.T) {
	dir := setupConfigDir(t)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("# comment line\n"), 150000), 0600))

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{}
		require.NoError(t, applyDefaults(cfg))
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults are valid", func(*Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "invalid server port"},
		{"zero parallel", func(c *Config) { c.Orchestrator.DefaultMaxParallel = -1 }, "default_max_parallel"},
		{"tiny budget", func(c *Config) { c.Orchestrator.DefaultTimeBudget = time.Millisecond }, "default_time_budget"},
		{"temporal without host", func(c *Config) { c.Temporal.Enabled = true }, "host_port"},
		{"bad otlp protocol", func(c *Config) {
			c.Observability.EnableTelemetry = true
			c.Observability.Protocol = "udp"
		}, "otlp protocol"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
