package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/solvd/internal/matrix"
	"github.com/fyrsmithlabs/solvd/internal/solve"
	"github.com/fyrsmithlabs/solvd/internal/solving"
)

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() {
	s.registerSubmitTool()
	s.registerGetTool()
	s.registerListTool()
}

// instrument wraps a tool body with the active gauge and invocation metrics.
func instrument[In, Out any](s *Server, name string, fn func(ctx context.Context, args In) (Out, error)) mcp.ToolHandlerFor[In, Out] {
	return func(ctx context.Context, req *mcp.CallToolRequest, args In) (*mcp.CallToolResult, Out, error) {
		done := s.metrics.begin(ctx, name)
		out, err := fn(ctx, args)
		done(err)
		if err != nil {
			var zero Out
			return nil, zero, err
		}
		data, err := json.Marshal(out)
		if err != nil {
			var zero Out
			return nil, zero, fmt.Errorf("encode result: %w", err)
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, out, nil
	}
}

// ===== SOLVE_SUBMIT =====

type solveSubmitInput struct {
	RepoURL             string    `json:"repo_url" jsonschema:"HTTPS URL of the GitHub repository"`
	IssueNumber         int       `json:"issue_number" jsonschema:"Issue number to fix"`
	BaseBranch          string    `json:"base_branch" jsonschema:"Branch the fix is based on and the pull request targets"`
	Models              []string  `json:"models" jsonschema:"Model axis of the experiment matrix"`
	Temperatures        []float64 `json:"temperatures" jsonschema:"Temperature axis"`
	MaxEditBudgets      []int     `json:"max_edit_budgets" jsonschema:"Edit budget axis"`
	EvolutionStrategies []string  `json:"evolution_strategies" jsonschema:"Evolution strategy axis"`
	MaxParallel         int       `json:"max_parallel,omitempty" jsonschema:"Concurrent sandboxes (server default when 0)"`
	TimeBudgetS         int       `json:"time_budget_s,omitempty" jsonschema:"Time budget in seconds (server default when 0)"`
}

type solveSubmitOutput struct {
	SolveID string `json:"solve_id" jsonschema:"ID of the accepted solve"`
	Status  string `json:"status" jsonschema:"Always pending on acceptance"`
	Configs int    `json:"configs" jsonschema:"Number of configs the matrix expands to"`
}

func (s *Server) registerSubmitTool() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "solve_submit",
		Description: "Submit a GitHub issue to be fixed by a matrix of solver configurations. Returns immediately with the solve ID.",
	}, instrument(s, "solve_submit", func(ctx context.Context, args solveSubmitInput) (solveSubmitOutput, error) {
		m := matrix.ExperimentMatrix{
			Models:              args.Models,
			Temperatures:        args.Temperatures,
			MaxEditBudgets:      args.MaxEditBudgets,
			EvolutionStrategies: args.EvolutionStrategies,
		}
		sv, err := s.solves.Submit(ctx, s.ownerID, solving.SubmitRequest{
			RepoURL:     args.RepoURL,
			IssueNumber: args.IssueNumber,
			BaseBranch:  args.BaseBranch,
			Matrix:      m,
			Limits:      solve.Limits{MaxParallel: args.MaxParallel, TimeBudgetS: args.TimeBudgetS},
			RequestedBy: "mcp",
		})
		if err != nil {
			return solveSubmitOutput{}, fmt.Errorf("solve submit failed: %w", err)
		}
		s.metrics.submitted(ctx, m.Size())
		return solveSubmitOutput{SolveID: sv.ID, Status: "pending", Configs: m.Size()}, nil
	}))
}

// ===== SOLVE_GET =====

type solveGetInput struct {
	SolveID string `json:"solve_id" jsonschema:"ID returned by solve_submit"`
}

type runSummary struct {
	ID           string  `json:"id"`
	Ordinal      int     `json:"ordinal"`
	Model        string  `json:"model"`
	Temperature  float64 `json:"temperature"`
	MaxEdits     int     `json:"max_edits"`
	Evolution    string  `json:"evolution"`
	Status       string  `json:"status"`
	TestsPassed  *bool   `json:"tests_passed,omitempty"`
	PRURL        string  `json:"pr_url,omitempty"`
	FilesChanged *int    `json:"files_changed,omitempty"`
	LOCChanged   *int    `json:"loc_changed,omitempty"`
	LatencyMS    *int64  `json:"latency_ms,omitempty"`
	ErrorMessage string  `json:"error_message,omitempty"`
}

type solveSummary struct {
	ID            string `json:"id"`
	RepoURL       string `json:"repo_url"`
	IssueNumber   int    `json:"issue_number"`
	Status        string `json:"status"`
	ChampionRunID string `json:"champion_run_id,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
	CreatedAt     string `json:"created_at"`
}

type solveGetOutput struct {
	solveSummary
	ChampionPRURL string       `json:"champion_pr_url,omitempty"`
	Runs          []runSummary `json:"runs"`
}

func summarize(sv *solve.Solve) solveSummary {
	out := solveSummary{
		ID:           sv.ID,
		RepoURL:      sv.RepoURL,
		IssueNumber:  sv.IssueNumber,
		Status:       string(sv.Status),
		ErrorMessage: sv.ErrorMessage,
		CreatedAt:    sv.CreatedAt.UTC().Format(time.RFC3339),
	}
	if sv.ChampionRunID != nil {
		out.ChampionRunID = *sv.ChampionRunID
	}
	return out
}

func (s *Server) registerGetTool() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "solve_get",
		Description: "Get a solve with the status and outcome of every run and the champion pull request.",
	}, instrument(s, "solve_get", func(ctx context.Context, args solveGetInput) (solveGetOutput, error) {
		d, err := s.solves.Get(ctx, s.ownerID, args.SolveID)
		if err != nil {
			return solveGetOutput{}, fmt.Errorf("solve get failed: %w", err)
		}
		out := solveGetOutput{solveSummary: summarize(d.Solve), Runs: make([]runSummary, 0, len(d.Runs))}
		if d.Champion != nil && d.Champion.PRURL != nil {
			out.ChampionPRURL = *d.Champion.PRURL
		}
		for _, r := range d.Runs {
			rs := runSummary{
				ID:           r.ID,
				Ordinal:      r.Ordinal,
				Model:        r.Model,
				Temperature:  r.Temperature,
				MaxEdits:     r.MaxEdits,
				Evolution:    r.Evolution,
				Status:       string(r.Status),
				TestsPassed:  r.TestsPassed,
				FilesChanged: r.FilesChanged,
				LOCChanged:   r.LOCChanged,
				LatencyMS:    r.LatencyMS,
				ErrorMessage: r.ErrorMessage,
			}
			if r.PRURL != nil {
				rs.PRURL = *r.PRURL
			}
			out.Runs = append(out.Runs, rs)
		}
		return out, nil
	}))
}

// ===== SOLVE_LIST =====

type solveListInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"Maximum number of solves (default 50)"`
}

type solveListOutput struct {
	Solves []solveSummary `json:"solves"`
}

func (s *Server) registerListTool() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "solve_list",
		Description: "List your solves, newest first.",
	}, instrument(s, "solve_list", func(ctx context.Context, args solveListInput) (solveListOutput, error) {
		solves, err := s.solves.List(ctx, s.ownerID, args.Limit)
		if err != nil {
			return solveListOutput{}, fmt.Errorf("solve list failed: %w", err)
		}
		out := solveListOutput{Solves: make([]solveSummary, 0, len(solves))}
		for i := range solves {
			out.Solves = append(out.Solves, summarize(&solves[i]))
		}
		return out, nil
	}))
}
