// Package solve defines the persisted job and run model shared by the
// orchestrator, the store and the API surfaces.
package solve

import (
	"time"

	"github.com/fyrsmithlabs/solvd/internal/config"
	"github.com/fyrsmithlabs/solvd/internal/matrix"
)

// Status is the lifecycle state of a solve or a run.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// MaxTimeBudget is the longest time budget a solve may request.
const MaxTimeBudget = 24 * time.Hour

// Limits caps the resources of one solve.
type Limits struct {
	MaxParallel int `json:"max_parallel"`
	TimeBudgetS int `json:"time_budget_s"`
}

// TimeBudget returns the budget as a duration, clamped to MaxTimeBudget.
func (l Limits) TimeBudget() time.Duration {
	if l.TimeBudgetS > int(MaxTimeBudget/time.Second) {
		return MaxTimeBudget
	}
	return time.Duration(l.TimeBudgetS) * time.Second
}

// WithDefaults fills unset fields from d.
func (l Limits) WithDefaults(d Limits) Limits {
	if l.MaxParallel <= 0 {
		l.MaxParallel = d.MaxParallel
	}
	if l.TimeBudgetS <= 0 {
		l.TimeBudgetS = d.TimeBudgetS
	}
	return l
}

// Solve is the parent job: fix one issue across a matrix of configs.
type Solve struct {
	ID            string                  `json:"id"`
	Owner         string                  `json:"owner"`
	RepoURL       string                  `json:"repo_url"`
	IssueNumber   int                     `json:"issue_number"`
	BaseBranch    string                  `json:"base_branch"`
	Status        Status                  `json:"status"`
	Matrix        matrix.ExperimentMatrix `json:"matrix"`
	Limits        Limits                  `json:"limits"`
	ChampionRunID *string                 `json:"champion_run_id,omitempty"`
	ErrorMessage  string                  `json:"error_message,omitempty"`
	RequestedBy   string                  `json:"requested_by,omitempty"`
	StartedAt     *time.Time              `json:"started_at,omitempty"`
	CompletedAt   *time.Time              `json:"completed_at,omitempty"`
	CreatedAt     time.Time               `json:"created_at"`
	UpdatedAt     time.Time               `json:"updated_at"`
}

// Run is one matrix config executed end to end in its own sandbox.
type Run struct {
	ID      string `json:"id"`
	SolveID string `json:"solve_id"`
	matrix.ExperimentConfig
	Status       Status     `json:"status"`
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
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Passed reports whether the run's test gate succeeded.
func (r Run) Passed() bool {
	return r.TestsPassed != nil && *r.TestsPassed
}

// RunPatch is a partial update of a run. Nil fields are left unchanged.
type RunPatch struct {
	Status       *Status
	SandboxID    *string
	BranchName   *string
	TestsPassed  *bool
	PRURL        *string
	FilesChanged *int
	LOCChanged   *int
	LatencyMS    *int64
	Diagnostics  *string
	ErrorMessage *string
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

// Empty reports whether the patch changes nothing.
func (p RunPatch) Empty() bool {
	return p == RunPatch{}
}

// Ptr returns a pointer to v. Used to build patches and nullable fields.
func Ptr[T any](v T) *T {
	return &v
}

// Credential is a per-owner forge token read from the credential table.
type Credential struct {
	Owner     string
	Provider  string
	Token     config.Secret
	UpdatedAt time.Time
}
