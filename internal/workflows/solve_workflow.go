package workflows

import (
	"context"
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/solvd/internal/logging"
	"github.com/fyrsmithlabs/solvd/internal/solve"
	"github.com/fyrsmithlabs/solvd/internal/store"
)

const (
	// DefaultActivityTimeout bounds RunSolve when the input carries no budget.
	DefaultActivityTimeout = 2 * time.Hour

	// activityGrace covers bootstrap, finalize and sandbox teardown on top
	// of the time budget.
	activityGrace = 5 * time.Minute

	// Non-retryable application error types.
	errTypeAlreadyBootstrapped = "AlreadyBootstrapped"
	errTypeConfiguration       = "Configuration"
	errTypeNotFound            = "NotFound"
)

// Runner executes a stored solve by id.
type Runner interface {
	RunByID(ctx context.Context, solveID string) (*solve.Solve, error)
}

// SolveInput is the workflow and activity argument.
type SolveInput struct {
	SolveID    string
	TimeBudget time.Duration
}

// SolveResult summarizes a finished solve.
type SolveResult struct {
	Status        solve.Status
	ChampionRunID string
	ErrorMessage  string
}

// SolveWorkflow runs one solve through the RunSolve activity.
//
// Bootstrap and finalize are transactional, so a retried activity either
// starts from a clean PENDING solve or stops at AlreadyBootstrapped.
func SolveWorkflow(ctx workflow.Context, in SolveInput) (*SolveResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting solve", "solve_id", in.SolveID)

	timeout := DefaultActivityTimeout
	if in.TimeBudget > 0 {
		timeout = in.TimeBudget + activityGrace
	}
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval: 5 * time.Second,
			MaximumAttempts: 3,
			NonRetryableErrorTypes: []string{
				errTypeAlreadyBootstrapped,
				errTypeConfiguration,
				errTypeNotFound,
			},
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var a *Activities
	var result SolveResult
	if err := workflow.ExecuteActivity(ctx, a.RunSolve, in).Get(ctx, &result); err != nil {
		logger.Error("Solve activity failed", "solve_id", in.SolveID, "error", err)
		return nil, err
	}

	logger.Info("Solve complete",
		"solve_id", in.SolveID,
		"status", result.Status,
		"champion_run_id", result.ChampionRunID)
	return &result, nil
}

// Activities holds the dependencies of the solve activities.
type Activities struct {
	runner Runner
	logger *logging.Logger
}

// NewActivities wires the activities to a runner.
func NewActivities(runner Runner, logger *logging.Logger) *Activities {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Activities{runner: runner, logger: logger.Named("workflows")}
}

// RunSolve executes the solve. Failures the solve itself records are not
// activity errors; only pre-flight errors are returned.
func (a *Activities) RunSolve(ctx context.Context, in SolveInput) (*SolveResult, error) {
	start := time.Now()
	ctx = logging.WithSolveID(ctx, in.SolveID)

	sv, err := a.runner.RunByID(ctx, in.SolveID)
	if err != nil {
		err = classify(err)
		recordActivity(ctx, start, errorType(err))
		a.logger.Warn(ctx, "solve activity failed", zap.Error(err))
		return nil, err
	}
	recordActivity(ctx, start, string(sv.Status))

	result := &SolveResult{Status: sv.Status, ErrorMessage: sv.ErrorMessage}
	if sv.ChampionRunID != nil {
		result.ChampionRunID = *sv.ChampionRunID
	}
	return result, nil
}

// classify marks errors that a retry cannot fix.
func classify(err error) error {
	switch {
	case errors.Is(err, store.ErrAlreadyBootstrapped):
		return temporal.NewNonRetryableApplicationError(err.Error(), errTypeAlreadyBootstrapped, err)
	case errors.Is(err, solve.ErrNotFound):
		return temporal.NewNonRetryableApplicationError(err.Error(), errTypeNotFound, err)
	case solve.KindOf(err) == solve.KindConfiguration:
		return temporal.NewNonRetryableApplicationError(err.Error(), errTypeConfiguration, err)
	}
	return err
}

// errorType names a classified activity error for metrics.
func errorType(err error) string {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) && appErr.Type() != "" {
		return appErr.Type()
	}
	return "error"
}
