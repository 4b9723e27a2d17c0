// Solvd fixes GitHub issues by running a matrix of coding-agent
// configurations in parallel sandboxes and keeping the best pull request.
//
// Usage:
//
//	# Start the HTTP daemon
//	solvd serve
//
//	# Store the GitHub token used for a caller's pull requests
//	echo "$GITHUB_TOKEN" | solvd credential set --caller alice
//
//	# Serve the MCP tools over stdio
//	solvd mcp
//
// Configuration is read from ~/.config/solvd/config.yaml and SOLVD_*
// environment variables. See internal/config.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "solvd",
		Short: "Matrix issue-fix orchestrator",
		Long: `solvd accepts GitHub issues, runs a matrix of coding-agent configurations
against each one in isolated sandboxes and opens a pull request for every
candidate that passes the repository's tests. The smallest passing change
is kept as the champion.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/solvd/config.yaml)")

	root.AddCommand(
		newServeCmd(&configPath),
		newMCPCmd(&configPath),
		newCredentialCmd(&configPath),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "solvd by Fyrsmith Labs\n")
			fmt.Fprintf(out, "Version:    %s\n", version)
			fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	}
}
