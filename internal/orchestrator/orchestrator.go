package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/cenkalti/backoff/v5"

	"github.com/fyrsmithlabs/solvd/internal/config"
	"github.com/fyrsmithlabs/solvd/internal/forge"
	"github.com/fyrsmithlabs/solvd/internal/logging"
	"github.com/fyrsmithlabs/solvd/internal/matrix"
	"github.com/fyrsmithlabs/solvd/internal/pipeline"
	"github.com/fyrsmithlabs/solvd/internal/solve"
	"github.com/fyrsmithlabs/solvd/internal/store"
)

const instrumentationName = "github.com/fyrsmithlabs/solvd/internal/orchestrator"

// lostRunMessage is recorded on runs whose terminal status never reached
// the store.
const lostRunMessage = "terminal run status could not be recorded"

// terminalWriteTries bounds the attempts at a run's terminal update.
const terminalWriteTries = 4

// Store is the persistence the orchestrator needs.
type Store interface {
	GetSolve(ctx context.Context, id string) (*solve.Solve, error)
	ResolveCredential(ctx context.Context, owner string) (solve.Credential, error)
	Bootstrap(ctx context.Context, solveID string, configs []matrix.ExperimentConfig, limits solve.Limits) ([]solve.Run, error)
	UpdateRun(ctx context.Context, runID string, patch solve.RunPatch) error
	Finalize(ctx context.Context, solveID string) (*solve.Solve, error)
	FailOpenRuns(ctx context.Context, solveID, message string) (int, error)
	MarkFailed(ctx context.Context, solveID, message string) error
}

// Executor runs one job to a terminal outcome.
type Executor interface {
	Execute(ctx context.Context, job pipeline.Job) pipeline.Outcome
}

// Notifier is told about lifecycle changes. Implementations must not block.
type Notifier interface {
	SolveChanged(ctx context.Context, sv *solve.Solve)
	RunFinished(ctx context.Context, run *solve.Run)
}

// Config holds the per-solve defaults. It is the only place they live.
type Config struct {
	// DefaultMaxParallel applies when a submission omits max_parallel.
	DefaultMaxParallel int
	// DefaultTimeBudget applies when a submission omits time_budget_s.
	DefaultTimeBudget time.Duration
	// EnforceTimeBudget turns the budget into a deadline on every run.
	EnforceTimeBudget bool
}

// ConfigFrom builds a Config from the loaded configuration.
func ConfigFrom(c config.OrchestratorConfig) Config {
	return Config{
		DefaultMaxParallel: c.DefaultMaxParallel,
		DefaultTimeBudget:  c.DefaultTimeBudget,
		EnforceTimeBudget:  !c.AdvisoryTimeBudget,
	}
}

// DefaultLimits returns the limits applied to unset submission fields.
func (c Config) DefaultLimits() solve.Limits {
	return solve.Limits{
		MaxParallel: c.DefaultMaxParallel,
		TimeBudgetS: int(c.DefaultTimeBudget / time.Second),
	}
}

// Request is one solve to run.
type Request struct {
	Solve *solve.Solve
	Token config.Secret
}

// Orchestrator runs solves.
type Orchestrator struct {
	cfg      Config
	store    Store
	exec     Executor
	notifier Notifier
	logger   *logging.Logger
	tracer   trace.Tracer
	metrics  *metrics
	now      func() time.Time

	// writeBackoff paces retries of terminal run updates.
	writeBackoff func() backoff.BackOff
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithNotifier sets the lifecycle notifier.
func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// New creates an Orchestrator.
func New(cfg Config, st Store, exec Executor, opts ...Option) *Orchestrator {
	if cfg.DefaultMaxParallel <= 0 {
		cfg.DefaultMaxParallel = 2
	}
	if cfg.DefaultTimeBudget <= 0 {
		cfg.DefaultTimeBudget = 30 * time.Minute
	}
	o := &Orchestrator{
		cfg:      cfg,
		store:    st,
		exec:     exec,
		notifier: nopNotifier{},
		logger:   logging.NewNop(),
		tracer:   otel.Tracer(instrumentationName),
		metrics:  newMetrics(),
		now:      time.Now,

		writeBackoff: terminalWriteBackoff,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.Named("orchestrator")
	return o
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// RunByID loads a PENDING solve, resolves its owner's credential and runs
// it. Dispatchers call this with nothing but the id.
func (o *Orchestrator) RunByID(ctx context.Context, solveID string) (*solve.Solve, error) {
	sv, err := o.store.GetSolve(ctx, solveID)
	if err != nil {
		return nil, err
	}
	cred, err := o.store.ResolveCredential(ctx, sv.Owner)
	if err != nil {
		if errors.Is(err, store.ErrNoCredential) {
			cfgErr := solve.Configuration("resolve_credential", "no credential for owner")
			o.markFailed(ctx, solveID, cfgErr)
			return nil, cfgErr
		}
		return nil, err
	}
	return o.Run(ctx, Request{Solve: sv, Token: cred.Token})
}

// Run executes req.Solve and returns it finalized. Only pre-flight
// failures, which happen before any run exists, are returned as errors;
// run failures are recorded on the runs.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*solve.Solve, error) {
	sv := req.Solve
	ctx = logging.WithSolveID(logging.WithOwnerID(ctx, sv.Owner), sv.ID)
	ctx, span := o.tracer.Start(ctx, "orchestrator.run", trace.WithAttributes(
		attribute.String("solve.id", sv.ID),
		attribute.Int("solve.issue", sv.IssueNumber),
	))
	defer span.End()

	configs, err := matrix.Expand(sv.Matrix)
	if err != nil {
		return nil, o.preflightFailed(ctx, span, sv.ID, solve.Wrap(solve.KindConfiguration, "expand", err))
	}
	repo, err := forge.ParseRepoURL(sv.RepoURL)
	if err != nil {
		return nil, o.preflightFailed(ctx, span, sv.ID, solve.Wrap(solve.KindConfiguration, "parse_repo", err))
	}

	limits := sv.Limits.WithDefaults(o.cfg.DefaultLimits())
	runs, err := o.store.Bootstrap(ctx, sv.ID, configs, limits)
	if err != nil {
		if errors.Is(err, store.ErrAlreadyBootstrapped) {
			// Another worker owns this solve.
			return nil, err
		}
		return nil, o.preflightFailed(ctx, span, sv.ID, err)
	}
	started := time.Now()
	sv.Status, sv.Limits = solve.StatusRunning, limits
	o.notifier.SolveChanged(ctx, sv)

	span.SetAttributes(
		attribute.Int("solve.runs", len(runs)),
		attribute.Int("solve.max_parallel", limits.MaxParallel))
	o.logger.Info(ctx, "solve started",
		zap.Int("runs", len(runs)),
		zap.Int("max_parallel", limits.MaxParallel),
		zap.Duration("time_budget", limits.TimeBudget()),
		zap.Bool("budget_enforced", o.cfg.EnforceTimeBudget))

	runCtx := ctx
	if o.cfg.EnforceTimeBudget {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(ctx, started.Add(limits.TimeBudget()))
		defer cancel()
	}

	gate := semaphore.NewWeighted(int64(limits.MaxParallel))
	var g errgroup.Group
	for _, run := range runs {
		job := pipeline.Job{Solve: sv, Run: run, Repo: repo, Token: req.Token}
		g.Go(func() error {
			o.supervise(runCtx, gate, job)
			return nil
		})
	}
	// Supervisors never return an error, so Wait always sees every run out.
	_ = g.Wait()

	final, err := o.finalize(context.WithoutCancel(ctx), sv.ID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.logger.Error(ctx, "finalize failed", zap.Error(err))
		return nil, solve.Wrap(solve.KindPersistence, "finalize", err)
	}

	o.metrics.solvesTotal.WithLabelValues(string(final.Status)).Inc()
	o.metrics.solveDuration.Observe(time.Since(started).Seconds())
	span.SetAttributes(attribute.String("solve.status", string(final.Status)))
	fields := []zap.Field{zap.String("status", string(final.Status)), zap.Duration("duration", time.Since(started))}
	if final.ChampionRunID != nil {
		fields = append(fields, zap.String("champion_run_id", *final.ChampionRunID))
	}
	o.logger.Info(ctx, "solve finished", fields...)
	o.notifier.SolveChanged(ctx, final)
	return final, nil
}

// supervise runs one job and guarantees exactly one terminal update for
// its run, whatever happens inside.
func (o *Orchestrator) supervise(ctx context.Context, gate *semaphore.Weighted, job pipeline.Job) {
	ctx = logging.WithRunID(ctx, job.Run.ID)
	var out pipeline.Outcome

	defer func() {
		if v := recover(); v != nil {
			o.logger.Error(ctx, "run supervisor recovered panic",
				zap.Any("panic", v),
				zap.Stack("stack"))
			out = pipeline.Outcome{
				Status: solve.StatusFailed,
				Err:    solve.Wrap(solve.KindPipelineStage, "execute", fmt.Errorf("panic: %v", v)),
			}
		}
		o.finishRun(ctx, job.Run, out)
	}()

	o.metrics.runsWaiting.Inc()
	err := gate.Acquire(ctx, 1)
	o.metrics.runsWaiting.Dec()
	if err != nil {
		reason := errors.New("cancelled before start")
		if errors.Is(err, context.DeadlineExceeded) {
			reason = fmt.Errorf("%w before start", pipeline.ErrTimeBudgetExceeded)
		}
		out = pipeline.Outcome{Status: solve.StatusFailed, Err: solve.Wrap(solve.KindPipelineStage, "schedule", reason)}
		return
	}
	defer gate.Release(1)

	o.metrics.runsInFlight.Inc()
	defer o.metrics.runsInFlight.Dec()
	out = o.exec.Execute(ctx, job)
}

// finishRun writes the terminal update on a context that outlives
// cancellation. A failed write is logged and dropped.
func (o *Orchestrator) finishRun(ctx context.Context, run solve.Run, out pipeline.Outcome) {
	if !out.Status.IsTerminal() {
		out.Status = solve.StatusFailed
		if out.Err == nil {
			out.Err = solve.Wrap(solve.KindPipelineStage, "execute", errors.New("run ended without a terminal status"))
		}
	}
	now := o.now()
	patch := out.Patch(now)
	write := func() (struct{}, error) {
		return struct{}{}, o.store.UpdateRun(context.WithoutCancel(ctx), run.ID, patch)
	}
	if _, err := backoff.Retry(context.WithoutCancel(ctx), write,
		backoff.WithBackOff(o.writeBackoff()),
		backoff.WithMaxTries(terminalWriteTries),
		backoff.WithNotify(func(err error, wait time.Duration) {
			o.logger.Warn(ctx, "retrying terminal run update", zap.Duration("wait", wait), zap.Error(err))
		}),
	); err != nil {
		o.logger.Error(ctx, "failed to record terminal run status",
			zap.String("status", string(out.Status)),
			zap.Error(err))
	}

	applyPatch(&run, patch)
	o.notifier.RunFinished(ctx, &run)
}

func terminalWriteBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return b
}

// finalize closes a solve after every run task has returned. Runs left open
// at that point lost their terminal write; they are failed so the solve
// never stays RUNNING. If even that fails the solve is marked FAILED.
func (o *Orchestrator) finalize(ctx context.Context, solveID string) (*solve.Solve, error) {
	final, err := o.store.Finalize(ctx, solveID)
	if !errors.Is(err, store.ErrRunsInFlight) {
		return final, err
	}

	n, failErr := o.store.FailOpenRuns(ctx, solveID, lostRunMessage)
	if failErr == nil {
		o.logger.Warn(ctx, "failed runs with unrecorded terminal status", zap.Int("runs", n))
		return o.store.Finalize(ctx, solveID)
	}

	o.logger.Error(ctx, "failed to close open runs", zap.Error(failErr))
	if markErr := o.store.MarkFailed(ctx, solveID, lostRunMessage); markErr != nil {
		return nil, errors.Join(err, markErr)
	}
	return o.store.GetSolve(ctx, solveID)
}

// preflightFailed marks the solve FAILED before any run exists.
func (o *Orchestrator) preflightFailed(ctx context.Context, span trace.Span, solveID string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	o.markFailed(ctx, solveID, err)
	return err
}

func (o *Orchestrator) markFailed(ctx context.Context, solveID string, cause error) {
	ctx = context.WithoutCancel(ctx)
	o.logger.Warn(ctx, "solve failed before any run started", zap.Error(cause))
	if err := o.store.MarkFailed(ctx, solveID, cause.Error()); err != nil {
		o.logger.Error(ctx, "failed to mark solve failed", zap.Error(err))
		return
	}
	o.metrics.solvesTotal.WithLabelValues(string(solve.StatusFailed)).Inc()
	if sv, err := o.store.GetSolve(ctx, solveID); err == nil {
		o.notifier.SolveChanged(ctx, sv)
	}
}

func applyPatch(r *solve.Run, p solve.RunPatch) {
	r.Status = *p.Status
	r.TestsPassed = p.TestsPassed
	r.FilesChanged = p.FilesChanged
	r.LOCChanged = p.LOCChanged
	r.LatencyMS = p.LatencyMS
	r.CompletedAt = p.CompletedAt
	if p.SandboxID != nil {
		r.SandboxID = p.SandboxID
	}
	if p.BranchName != nil {
		r.BranchName = *p.BranchName
	}
	if p.PRURL != nil {
		r.PRURL = p.PRURL
	}
	if p.ErrorMessage != nil {
		r.ErrorMessage = *p.ErrorMessage
	}
}

type nopNotifier struct{}

func (nopNotifier) SolveChanged(context.Context, *solve.Solve) {}
func (nopNotifier) RunFinished(context.Context, *solve.Run) {}
