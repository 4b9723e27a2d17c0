package workflows

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/solvd/internal/logging"
	"github.com/fyrsmithlabs/solvd/internal/solve"
)

// ErrDispatcherClosed is returned by Dispatch after Close.
var ErrDispatcherClosed = errors.New("dispatcher closed")

// Dispatcher hands an accepted PENDING solve to an executor. Dispatch
// returns once the solve is scheduled, not when it finishes.
type Dispatcher interface {
	Dispatch(ctx context.Context, sv *solve.Solve) error
	Close(ctx context.Context) error
}

// LocalDispatcher runs solves on goroutines of this process.
type LocalDispatcher struct {
	runner Runner
	logger *logging.Logger

	base   context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewLocalDispatcher creates a dispatcher whose solves outlive the request
// that submitted them.
func NewLocalDispatcher(runner Runner, logger *logging.Logger) *LocalDispatcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	base, cancel := context.WithCancel(context.Background())
	return &LocalDispatcher{
		runner: runner,
		logger: logger.Named("dispatch"),
		base:   base,
		cancel: cancel,
	}
}

// Dispatch starts the solve in the background.
func (d *LocalDispatcher) Dispatch(ctx context.Context, sv *solve.Solve) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDispatcherClosed
	}

	recordDispatch(ctx, "local")
	id := sv.ID
	runCtx := logging.WithOwnerID(logging.WithSolveID(d.base, id), sv.Owner)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error(runCtx, "solve panicked", zap.Any("panic", r))
			}
		}()
		if _, err := d.runner.RunByID(runCtx, id); err != nil {
			d.logger.Warn(runCtx, "solve did not run", zap.Error(err))
		}
	}()
	d.logger.Debug(ctx, "solve dispatched", zap.String("solve.id", id))
	return nil
}

// Close stops accepting solves and waits for running ones. When ctx ends
// first, running solves are cancelled and Close still waits for them to
// record their outcome.
func (d *LocalDispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.logger.Warn(ctx, "cancelling running solves")
		d.cancel()
		<-done
		return ctx.Err()
	}
}

// WorkflowStarter is the part of client.Client the dispatcher uses.
type WorkflowStarter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
}

// TemporalDispatcher starts one SolveWorkflow per solve.
type TemporalDispatcher struct {
	starter       WorkflowStarter
	taskQueue     string
	defaultBudget solve.Limits
	logger        *logging.Logger
}

// NewTemporalDispatcher creates a dispatcher on taskQueue. defaults fills
// the time budget of solves that do not set one.
func NewTemporalDispatcher(starter WorkflowStarter, taskQueue string, defaults solve.Limits, logger *logging.Logger) *TemporalDispatcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &TemporalDispatcher{
		starter:       starter,
		taskQueue:     taskQueue,
		defaultBudget: defaults,
		logger:        logger.Named("dispatch"),
	}
}

// WorkflowID is the Temporal workflow id of a solve.
func WorkflowID(solveID string) string {
	return "solve-" + solveID
}

// Dispatch starts the workflow. The workflow id is derived from the solve
// id, so a solve is started at most once while its workflow is open.
func (d *TemporalDispatcher) Dispatch(ctx context.Context, sv *solve.Solve) error {
	limits := sv.Limits.WithDefaults(d.defaultBudget)
	options := client.StartWorkflowOptions{
		ID:        WorkflowID(sv.ID),
		TaskQueue: d.taskQueue,
	}
	we, err := d.starter.ExecuteWorkflow(ctx, options, SolveWorkflow, SolveInput{
		SolveID:    sv.ID,
		TimeBudget: limits.TimeBudget(),
	})
	if err != nil {
		return fmt.Errorf("failed to start workflow: %w", err)
	}
	recordDispatch(ctx, "temporal")

	d.logger.Info(ctx, "workflow started",
		zap.String("workflow_id", we.GetID()),
		zap.String("run.id", we.GetRunID()),
	)
	return nil
}

// Close is a no-op; the Temporal client is owned by the caller.
func (d *TemporalDispatcher) Close(context.Context) error {
	return nil
}

// NewWorker creates a worker for taskQueue with the solve workflow and
// activities registered.
func NewWorker(c client.Client, taskQueue string, acts *Activities) worker.Worker {
	w := worker.New(c, taskQueue, worker.Options{})
	w.RegisterWorkflow(SolveWorkflow)
	w.RegisterActivity(acts)
	return w
}
