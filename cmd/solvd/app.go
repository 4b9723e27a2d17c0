package main

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/solvd/internal/config"
	"github.com/fyrsmithlabs/solvd/internal/logging"
	"github.com/fyrsmithlabs/solvd/internal/services"
	"github.com/fyrsmithlabs/solvd/internal/telemetry"
	"github.com/fyrsmithlabs/solvd/internal/workflows"
)

// app is the configuration, logger and telemetry every command starts with.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
}

// loadApp loads config and initializes logging and telemetry.
// stderr moves console logs off stdout.
func loadApp(ctx context.Context, configPath string, stderr bool) (*app, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logCfg, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("invalid logging config: %w", err)
	}
	logCfg.Output.Stderr = stderr
	logger, err := logging.NewLogger(logCfg, nil)
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	tel, err := telemetry.New(ctx, telemetry.ConfigFrom(cfg.Observability, version, "api"))
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}

	return &app{cfg: cfg, logger: logger, telemetry: tel}, nil
}

// Close flushes telemetry and the logger.
func (r *app) Close(ctx context.Context) {
	if err := r.telemetry.Shutdown(ctx); err != nil {
		r.logger.Warn(ctx, "telemetry shutdown failed", zap.Error(err))
	}
	_ = r.logger.Sync() // Best-effort sync on shutdown
}

// dispatch is the dispatcher of a process plus whatever it owns.
type dispatch struct {
	workflows.Dispatcher
	temporal client.Client
	worker   worker.Worker
}

// newDispatch runs solves in process, or through Temporal when enabled.
// With startWorker the process also executes workflows from the task queue.
func newDispatch(ctx context.Context, rt *app, reg *services.Registry, startWorker bool) (*dispatch, error) {
	orch := reg.Orchestrator()
	if !rt.cfg.Temporal.Enabled {
		rt.logger.Info(ctx, "solves run in process")
		return &dispatch{Dispatcher: workflows.NewLocalDispatcher(orch, rt.logger)}, nil
	}

	c, err := dialTemporal(rt.cfg.Temporal, rt.logger)
	if err != nil {
		return nil, err
	}
	rt.logger.Info(ctx, "temporal client connected",
		zap.String("host", rt.cfg.Temporal.HostPort),
		zap.String("task_queue", rt.cfg.Temporal.TaskQueue))

	d := &dispatch{
		Dispatcher: workflows.NewTemporalDispatcher(c, rt.cfg.Temporal.TaskQueue, orch.Config().DefaultLimits(), rt.logger),
		temporal:   c,
	}
	if startWorker {
		d.worker = workflows.NewWorker(c, rt.cfg.Temporal.TaskQueue, workflows.NewActivities(orch, rt.logger))
		if err := d.worker.Start(); err != nil {
			c.Close()
			return nil, fmt.Errorf("starting temporal worker: %w", err)
		}
		rt.logger.Info(ctx, "temporal worker started")
	}
	return d, nil
}

func dialTemporal(cfg config.TemporalConfig, logger *logging.Logger) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
		Logger:    logger.Temporal(),
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create Temporal client: %w", err)
	}
	return c, nil
}

// Close waits for local solves, then stops the worker and the client.
func (d *dispatch) Close(ctx context.Context) error {
	err := d.Dispatcher.Close(ctx)
	if d.worker != nil {
		d.worker.Stop()
	}
	if d.temporal != nil {
		d.temporal.Close()
	}
	return err
}
