// Package main implements solvctl, the command-line client of the solvd
// HTTP API.
package main

import (
	"fmt"
	"os"
	"os/user"

	"github.com/spf13/cobra"

	v1 "github.com/fyrsmithlabs/solvd/pkg/api/v1"
)

var version = "dev"

// options are the persistent flags shared by every command.
type options struct {
	serverURL string
	caller    string
	jsonOut   bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "solvctl",
		Short: "CLI for the solvd HTTP API",
		Long: `solvctl submits GitHub issues to solvd and inspects solves and their runs.

The caller identity is sent in the X-Solvd-Caller header. It defaults to
$SOLVD_CALLER, then to the current OS user.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.serverURL, "server", envOr("SOLVD_SERVER", "http://127.0.0.1:8484"), "solvd server URL")
	root.PersistentFlags().StringVar(&opts.caller, "caller", os.Getenv("SOLVD_CALLER"), "caller identity")
	root.PersistentFlags().BoolVar(&opts.jsonOut, "json", false, "print raw JSON")

	root.AddCommand(
		newSubmitCmd(opts),
		newListCmd(opts),
		newGetCmd(opts),
		newRunsCmd(opts),
		newHealthCmd(opts),
		newWatchCmd(opts),
	)
	return root
}

// client builds an API client, resolving the caller lazily so commands
// that do not need one never fail on it.
func (o *options) client() (*v1.Client, error) {
	caller := o.caller
	if caller == "" {
		u, err := user.Current()
		if err != nil {
			return nil, fmt.Errorf("unable to determine caller, set --caller: %w", err)
		}
		caller = u.Username
	}
	return v1.NewClient(o.serverURL, caller), nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
