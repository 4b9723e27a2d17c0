// Package v1 holds the wire types of the solvd HTTP API and a small client.
package v1

import "time"

// CallerHeader carries the authenticated caller, set by the fronting proxy.
const CallerHeader = "X-Solvd-Caller"

// Matrix is the experiment matrix of a submission.
type Matrix struct {
	Models              []string  `json:"models"`
	Temperatures        []float64 `json:"temperatures"`
	MaxEditBudgets      []int     `json:"max_edit_budgets"`
	EvolutionStrategies []string  `json:"evolution_strategies"`
}

// Limits caps one solve. Zero values take the server defaults.
type Limits struct {
	MaxParallel int `json:"max_parallel,omitempty"`
	TimeBudgetS int `json:"time_budget_s,omitempty"`
}

// SubmitRequest is the body of POST /solve.
type SubmitRequest struct {
	RepoURL     string  `json:"repo_url"`
	IssueNumber int     `json:"issue_number"`
	BaseBranch  string  `json:"base_branch"`
	Matrix      Matrix  `json:"matrix"`
	Limits      *Limits `json:"limits,omitempty"`
	RequestedBy string  `json:"requested_by,omitempty"`
}

// SubmitResponse is the 202 body of POST /solve.
type SubmitResponse struct {
	SolveID string `json:"solve_id"`
	Status  string `json:"status"`
}

// Solve is a solve as returned by the API.
type Solve struct {
	ID            string     `json:"id"`
	RepoURL       string     `json:"repo_url"`
	IssueNumber   int        `json:"issue_number"`
	BaseBranch    string     `json:"base_branch"`
	Status        string     `json:"status"`
	Matrix        Matrix     `json:"matrix"`
	Limits        Limits     `json:"limits"`
	ChampionRunID *string    `json:"champion_run_id,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	RequestedBy   string     `json:"requested_by,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Run is one candidate of a solve.
type Run struct {
	ID           string     `json:"id"`
	SolveID      string     `json:"solve_id"`
	Ordinal      int        `json:"ordinal"`
	Model        string     `json:"model"`
	Temperature  float64    `json:"temperature"`
	MaxEdits     int        `json:"max_edits"`
	Evolution    string     `json:"evolution"`
	Status       string     `json:"status"`
	SandboxID    *string    `json:"sandbox_id,omitempty"`
	BranchName   string     `json:"branch_name,omitempty"`
	TestsPassed  *bool      `json:"tests_passed,omitempty"`
	PRURL        *string    `json:"pr_url,omitempty"`
	FilesChanged *int       `json:"files_changed,omitempty"`
	LOCChanged   *int       `json:"loc_changed,omitempty"`
	LatencyMS    *int64     `json:"latency_ms,omitempty"`
	Diagnostics  string     `json:"diagnostics,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// SolveDetail is the body of GET /solve/{id}.
type SolveDetail struct {
	Solve
	Runs     []Run `json:"runs"`
	Champion *Run  `json:"champion,omitempty"`
}

// SolveList is the body of GET /solve.
type SolveList struct {
	Solves []Solve `json:"solves"`
}

// RunList is the body of GET /solve/{id}/runs.
type RunList struct {
	Runs []Run `json:"runs"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}
