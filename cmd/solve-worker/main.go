// Package main provides a Temporal worker for solve workflows.
//
// The worker executes SolveWorkflow from the configured task queue against
// the same store, sandbox provider and GitHub client as the daemon. Run it
// next to `solvd serve --no-worker` to move sandbox load off the API host.
//
// Usage:
//
//	SOLVD_TEMPORAL_ENABLED=true \
//	SOLVD_TEMPORAL_HOST_PORT=localhost:7233 \
//	./solve-worker
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/solvd/internal/config"
	"github.com/fyrsmithlabs/solvd/internal/logging"
	"github.com/fyrsmithlabs/solvd/internal/services"
	"github.com/fyrsmithlabs/solvd/internal/telemetry"
	"github.com/fyrsmithlabs/solvd/internal/workflows"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "config file (default ~/.config/solvd/config.yaml)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// Create root context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if !cfg.Temporal.Enabled {
		return fmt.Errorf("temporal is not enabled (set temporal.enabled)")
	}

	logCfg, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}
	logger, err := logging.NewLogger(logCfg, nil)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	tel, err := telemetry.New(ctx, telemetry.ConfigFrom(cfg.Observability, version, "worker"))
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() { _ = tel.Shutdown(context.Background()) }()

	logger.Info(ctx, "solve worker starting",
		zap.String("temporal_host", cfg.Temporal.HostPort),
		zap.String("task_queue", cfg.Temporal.TaskQueue),
	)

	reg, err := services.Build(ctx, cfg, logger, services.Options{})
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	defer reg.Close()

	// Create Temporal client
	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    logger.Temporal(),
	})
	if err != nil {
		return fmt.Errorf("unable to create Temporal client: %w", err)
	}
	defer c.Close()

	logger.Info(ctx, "temporal client connected", zap.String("host", cfg.Temporal.HostPort))

	w := workflows.NewWorker(c, cfg.Temporal.TaskQueue, workflows.NewActivities(reg.Orchestrator(), logger))

	// Start worker in background
	workerErrors := make(chan error, 1)
	go func() {
		logger.Info(ctx, "worker starting")
		workerErrors <- w.Run(worker.InterruptCh())
	}()

	// Wait for shutdown signal or worker error
	select {
	case err := <-workerErrors:
		if err != nil {
			return fmt.Errorf("worker error: %w", err)
		}
	case <-ctx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	logger.Info(context.Background(), "worker stopped gracefully")
	return nil
}
