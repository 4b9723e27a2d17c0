package main

import (
	"fmt"
	"os/signal"
	"os/user"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/solvd/internal/events"
	"github.com/fyrsmithlabs/solvd/internal/solve"
	"github.com/fyrsmithlabs/solvd/pkg/auth"
)

func newWatchCmd(opts *options) *cobra.Command {
	var natsURL, prefix string

	cmd := &cobra.Command{
		Use:   "watch [SOLVE_ID]",
		Short: "Stream lifecycle events from NATS",
		Long: `Stream solve and run events published by solvd on NATS.

With a SOLVE_ID the command follows that solve and exits once it is
COMPLETED or FAILED. Without one it follows every solve of the caller.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			caller := opts.caller
			if caller == "" {
				u, err := user.Current()
				if err != nil {
					return fmt.Errorf("unable to determine caller, set --caller: %w", err)
				}
				caller = u.Username
			}
			owner, err := auth.DeriveOwnerID(caller)
			if err != nil {
				return err
			}
			var solveID string
			if len(args) == 1 {
				solveID = args[0]
			}

			nc, err := nats.Connect(natsURL, nats.Name("solvctl"))
			if err != nil {
				return fmt.Errorf("failed to connect to NATS at %s: %w", natsURL, err)
			}
			defer nc.Close()

			out := cmd.OutOrStdout()
			err = events.Watch(ctx, nc, events.WatchSubjects(prefix, owner, solveID), func(subject string, ev events.Event) bool {
				if opts.jsonOut {
					_ = printJSON(out, ev)
				} else {
					fmt.Fprintln(out, describe(ev))
				}
				return solveID == "" || ev.Solve == nil || !ev.Solve.Status.IsTerminal()
			})
			if err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&natsURL, "nats", envOr("SOLVD_NATS_URL", nats.DefaultURL), "NATS server URL")
	cmd.Flags().StringVar(&prefix, "prefix", "solvd", "subject prefix")
	return cmd
}

// describe renders one event as a log line.
func describe(ev events.Event) string {
	ts := ev.Time.Local().Format(time.TimeOnly)
	switch {
	case ev.Solve != nil:
		line := fmt.Sprintf("%s  solve %s  %s", ts, ev.Solve.ID, ev.Solve.Status)
		if ev.Solve.Status == solve.StatusCompleted && ev.Solve.ChampionRunID != nil {
			line += "  champion " + *ev.Solve.ChampionRunID
		}
		if ev.Solve.ErrorMessage != "" {
			line += "  " + ev.Solve.ErrorMessage
		}
		return line
	case ev.Run != nil:
		line := fmt.Sprintf("%s  run %d %s  %s  tests=%s", ts, ev.Run.Ordinal, ev.Run.Model, ev.Run.Status, tests(ev.Run.TestsPassed))
		if ev.Run.PRURL != nil {
			line += "  " + *ev.Run.PRURL
		}
		if ev.Run.ErrorMessage != "" {
			line += "  " + ev.Run.ErrorMessage
		}
		return line
	default:
		return fmt.Sprintf("%s  %s", ts, ev.Type)
	}
}
