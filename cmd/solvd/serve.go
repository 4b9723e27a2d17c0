package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	solvdhttp "github.com/fyrsmithlabs/solvd/internal/http"
	"github.com/fyrsmithlabs/solvd/internal/logging"
	"github.com/fyrsmithlabs/solvd/internal/services"
)

func newServeCmd(configPath *string) *cobra.Command {
	var noWorker bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the solvd HTTP daemon",
		Long: `Start the HTTP daemon.

Solves left RUNNING by a previous process are failed at startup, unless
they may belong to a separate solve-worker, and solves still PENDING are
dispatched again. With temporal.enabled the daemon starts
workflows instead of running solves itself, and also executes them unless
--no-worker is given (run solve-worker separately in that case).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return runServe(ctx, *configPath, !noWorker)
		},
	}
	cmd.Flags().BoolVar(&noWorker, "no-worker", false, "do not execute Temporal workflows in this process")
	return cmd
}

// runServe starts the daemon and blocks until ctx is cancelled.
//
//  1. Loads configuration, logging and telemetry
//  2. Builds the shared services and recovers interrupted solves
//  3. Creates the dispatcher (in process or Temporal)
//  4. Starts the HTTP server
//  5. Shuts down in reverse order
func runServe(ctx context.Context, configPath string, startWorker bool) error {
	rt, err := loadApp(ctx, configPath, false)
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())
	logger := rt.logger

	logger.Info(ctx, "starting solvd",
		zap.String("version", version),
		zap.Int("port", rt.cfg.Server.Port),
		zap.Duration("shutdown_timeout", rt.cfg.Server.ShutdownTimeout))

	reg, err := services.Build(ctx, rt.cfg, logger, services.Options{})
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	defer func() {
		if err := reg.Close(); err != nil {
			logger.Warn(context.Background(), "closing services", zap.Error(err))
		}
	}()

	// Remote workers may still be executing RUNNING solves.
	pending, err := reg.Recover(ctx, !rt.cfg.Temporal.Enabled || startWorker)
	if err != nil {
		return err
	}

	d, err := newDispatch(ctx, rt, reg, startWorker)
	if err != nil {
		return err
	}

	srv, err := solvdhttp.NewServer(reg.Solving(d), reg.Store(), logger, &solvdhttp.Config{
		Host:        rt.cfg.Server.Host,
		Port:        rt.cfg.Server.Port,
		SubmitRate:  rt.cfg.Server.SubmitRate,
		SubmitBurst: rt.cfg.Server.SubmitBurst,
	})
	if err != nil {
		_ = d.Close(ctx)
		return fmt.Errorf("failed to create http server: %w", err)
	}

	redispatch(ctx, reg, d, pending, logger)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Start()
	}()

	var runErr error
	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), rt.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "http shutdown", zap.Error(err))
	}
	if err := d.Close(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "dispatcher shutdown", zap.Error(err))
	}

	logger.Info(shutdownCtx, "server shutdown complete")
	return runErr
}

// redispatch hands the PENDING solves of a previous process to d.
func redispatch(ctx context.Context, reg *services.Registry, d *dispatch, ids []string, logger *logging.Logger) {
	for _, id := range ids {
		sv, err := reg.Store().GetSolve(ctx, id)
		if err != nil {
			logger.Warn(ctx, "pending solve unreadable", zap.String("solve.id", id), zap.Error(err))
			continue
		}
		if err := d.Dispatch(ctx, sv); err != nil {
			logger.Warn(ctx, "pending solve not dispatched", zap.String("solve.id", id), zap.Error(err))
			continue
		}
		logger.Info(ctx, "pending solve dispatched", zap.String("solve.id", id))
	}
}
