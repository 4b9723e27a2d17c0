package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	v1 "github.com/fyrsmithlabs/solvd/pkg/api/v1"
	"github.com/fyrsmithlabs/solvd/pkg/git"
)

// fillFromCheckout defaults the repository and base branch from the git
// checkout in the working directory.
func fillFromCheckout(req *v1.SubmitRequest) error {
	if req.RepoURL != "" && req.BaseBranch != "" {
		return nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return err
	}
	if req.RepoURL == "" {
		url, err := git.RemoteURL(wd, git.DefaultRemote)
		if err != nil {
			return fmt.Errorf("--repo not given and no origin remote found: %w", err)
		}
		req.RepoURL = url
	}
	if req.BaseBranch == "" {
		branch, err := git.DetectBranch(wd)
		switch {
		case err == nil:
			req.BaseBranch = branch
		case errors.Is(err, git.ErrNotGitRepo), errors.Is(err, git.ErrDetached):
			req.BaseBranch = "main"
		default:
			return err
		}
	}
	return nil
}

func newSubmitCmd(opts *options) *cobra.Command {
	var (
		req         v1.SubmitRequest
		maxParallel int
		timeBudget  int
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit an issue to be solved",
		Long: `Submit an issue to be solved by every configuration of the matrix.

Examples:
  solvctl submit --repo https://github.com/acme/widgets --issue 42 \
    --models claude-sonnet,claude-haiku --temperatures 0,0.7 \
    --max-edits 20 --evolution none,reflect`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := fillFromCheckout(&req); err != nil {
				return err
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			if maxParallel > 0 || timeBudget > 0 {
				req.Limits = &v1.Limits{MaxParallel: maxParallel, TimeBudgetS: timeBudget}
			}
			resp, err := c.Submit(cmd.Context(), req)
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Solve %s accepted (%s)\n", resp.SolveID, resp.Status)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&req.RepoURL, "repo", "", "GitHub repository URL (default: origin of the current checkout)")
	f.IntVar(&req.IssueNumber, "issue", 0, "issue number")
	f.StringVar(&req.BaseBranch, "base", "", "base branch (default: current branch, else main)")
	f.StringSliceVar(&req.Matrix.Models, "models", nil, "model axis")
	f.Float64SliceVar(&req.Matrix.Temperatures, "temperatures", nil, "temperature axis")
	f.IntSliceVar(&req.Matrix.MaxEditBudgets, "max-edits", nil, "edit budget axis")
	f.StringSliceVar(&req.Matrix.EvolutionStrategies, "evolution", nil, "evolution strategy axis")
	f.IntVar(&maxParallel, "max-parallel", 0, "concurrent sandboxes (server default when 0)")
	f.IntVar(&timeBudget, "time-budget", 0, "time budget in seconds (server default when 0)")
	f.StringVar(&req.RequestedBy, "requested-by", "", "free-form requester label")
	_ = cmd.MarkFlagRequired("issue")
	return cmd
}

func newListCmd(opts *options) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your solves, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			solves, err := c.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), v1.SolveList{Solves: solves})
			}
			return printSolves(cmd.OutOrStdout(), solves)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of solves (server default when 0)")
	return cmd
}

func newGetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get SOLVE_ID",
		Short: "Show a solve, its runs and its champion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			d, err := c.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), d)
			}
			return printDetail(cmd.OutOrStdout(), d)
		},
	}
}

func newRunsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "runs SOLVE_ID",
		Short: "List the runs of a solve",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			runs, err := c.Runs(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), v1.RunList{Runs: runs})
			}
			return printRuns(cmd.OutOrStdout(), runs)
		},
	}
}

func newHealthCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check solvd server health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			h, err := c.Health(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to reach %s: %w", opts.serverURL, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Server Status: %s\n", h.Status)
			fmt.Fprintf(cmd.OutOrStdout(), "Server URL: %s\n", opts.serverURL)
			return nil
		},
	}
}
