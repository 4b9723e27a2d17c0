package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/solvd/internal/mcp"
	"github.com/fyrsmithlabs/solvd/internal/services"
)

func newMCPCmd(configPath *string) *cobra.Command {
	var caller string

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the solve tools over MCP stdio",
		Long: `Serve solve_submit, solve_get and solve_list over the MCP stdio transport.

Tools act for --caller, or the current OS user when it is empty. Submitted
solves run in this process, or through Temporal when it is enabled. Logs go
to stderr.

Example Claude Code configuration:

  {"mcpServers": {"solvd": {"command": "solvd", "args": ["mcp"]}}}`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return runMCP(ctx, *configPath, caller)
		},
	}
	cmd.Flags().StringVar(&caller, "caller", "", "caller the tools act for (default: current OS user)")
	return cmd
}

func runMCP(ctx context.Context, configPath, caller string) error {
	rt, err := loadApp(ctx, configPath, true)
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	reg, err := services.Build(ctx, rt.cfg, rt.logger, services.Options{})
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	defer reg.Close()

	d, err := newDispatch(ctx, rt, reg, true)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), rt.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := d.Close(closeCtx); err != nil {
			rt.logger.Warn(closeCtx, "dispatcher shutdown", zap.Error(err))
		}
	}()

	srv, err := mcp.NewServer(&mcp.Config{
		Name:    "solvd",
		Version: version,
		Caller:  caller,
		Logger:  rt.logger,
	}, reg.Solving(d))
	if err != nil {
		return fmt.Errorf("failed to create mcp server: %w", err)
	}
	return srv.Run(ctx)
}
