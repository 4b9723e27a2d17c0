// Package pipeline runs one matrix configuration end to end inside its own
// sandbox: provision, clone, install, run the agent, measure the diff, test
// and, when the tests pass, open a pull request.
//
// Execute never returns an error. Every failure, including a panic, is
// folded into the Outcome, and the sandbox is closed on every path.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/solvd/internal/config"
	"github.com/fyrsmithlabs/solvd/internal/forge"
	"github.com/fyrsmithlabs/solvd/internal/logging"
	"github.com/fyrsmithlabs/solvd/internal/sandbox"
	"github.com/fyrsmithlabs/solvd/internal/solve"
)

const instrumentationName = "github.com/fyrsmithlabs/solvd/internal/pipeline"

// Stage names one step of a pipeline.
type Stage string

const (
	StageProvision   Stage = "provision"
	StageCredentials Stage = "credentials"
	StageClone       Stage = "clone"
	StageInstall     Stage = "install"
	StageBaseline    Stage = "baseline"
	StageAgent       Stage = "agent"
	StageDiffStat    Stage = "diffstat"
	StageTest        Stage = "test"
	StagePublish     Stage = "publish"
	StageCleanup     Stage = "cleanup"
)

// ErrTimeBudgetExceeded marks a run stopped by its solve's deadline.
var ErrTimeBudgetExceeded = errors.New("time budget exceeded")

// RunUpdater records non-terminal progress of a run.
type RunUpdater interface {
	UpdateRun(ctx context.Context, runID string, patch solve.RunPatch) error
}

// PullRequester opens pull requests.
type PullRequester interface {
	CreatePullRequest(ctx context.Context, token config.Secret, pr forge.PullRequest) (string, error)
}

// Scrubber removes secrets from text bound for diagnostics.
type Scrubber interface {
	Scrub(content string, known ...string) string
}

// Config holds pipeline settings.
type Config struct {
	// Template is the sandbox template every run is created from.
	Template string
	// AgentCommand is the coding agent executable.
	AgentCommand string
	// TestCommand overrides manifest-based test detection.
	TestCommand string
	// CloseTimeout bounds sandbox teardown.
	CloseTimeout time.Duration

	MaxStageOutput int
	MaxDiagnostics int
}

// ConfigFrom builds a Config from the loaded configuration.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Template:     cfg.Sandbox.Template,
		AgentCommand: cfg.Agent.Command,
		TestCommand:  cfg.Agent.TestCommand,
		CloseTimeout: cfg.Sandbox.CloseTimeout,
	}
}

// Job is one run to execute.
type Job struct {
	Solve *solve.Solve
	Run   solve.Run
	Repo  forge.Repo
	Token config.Secret
}

// Outcome is the terminal result of one run.
type Outcome struct {
	Status       solve.Status
	SandboxID    string
	BranchName   string
	TestsPassed  bool
	PRURL        string
	FilesChanged *int
	LOCChanged   *int
	Latency      time.Duration
	Diagnostics  string
	// Stage is where a failed run stopped.
	Stage Stage
	// Err is the classified failure of a FAILED run.
	Err error
}

// Patch converts the outcome into the terminal update of its run.
func (o Outcome) Patch(completedAt time.Time) solve.RunPatch {
	p := solve.RunPatch{
		Status:       solve.Ptr(o.Status),
		TestsPassed:  solve.Ptr(o.TestsPassed),
		FilesChanged: o.FilesChanged,
		LOCChanged:   o.LOCChanged,
		LatencyMS:    solve.Ptr(o.Latency.Milliseconds()),
		Diagnostics:  solve.Ptr(o.Diagnostics),
		CompletedAt:  solve.Ptr(completedAt),
	}
	if o.SandboxID != "" {
		p.SandboxID = solve.Ptr(o.SandboxID)
	}
	if o.BranchName != "" {
		p.BranchName = solve.Ptr(o.BranchName)
	}
	if o.PRURL != "" {
		p.PRURL = solve.Ptr(o.PRURL)
	}
	if o.Err != nil {
		p.ErrorMessage = solve.Ptr(o.Err.Error())
	}
	return p
}

// Pipeline executes jobs. It is safe for concurrent use.
type Pipeline struct {
	cfg      Config
	provider sandbox.Provider
	runs     RunUpdater
	forge    PullRequester
	scrubber Scrubber
	logger   *logging.Logger
	tracer   trace.Tracer
	metrics  *metrics
	now      func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithScrubber sets the diagnostics scrubber. Without one only the job
// token is removed.
func WithScrubber(s Scrubber) Option {
	return func(p *Pipeline) { p.scrubber = s }
}

// WithClock overrides time.Now for recorded timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New creates a Pipeline.
func New(cfg Config, provider sandbox.Provider, runs RunUpdater, pr PullRequester, opts ...Option) *Pipeline {
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = 30 * time.Second
	}
	if cfg.AgentCommand == "" {
		cfg.AgentCommand = "solve-agent"
	}
	p := &Pipeline{
		cfg:      cfg,
		provider: provider,
		runs:     runs,
		forge:    pr,
		logger:   logging.NewNop(),
		tracer:   otel.Tracer(instrumentationName),
		metrics:  newMetrics(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Named("pipeline")
	return p
}

// Execute runs job to a terminal Outcome. It never panics and never
// returns early without closing the sandbox it provisioned.
func (p *Pipeline) Execute(ctx context.Context, job Job) (out Outcome) {
	start := time.Now()
	ctx = logging.WithRunID(logging.WithSolveID(ctx, job.Run.SolveID), job.Run.ID)
	ctx, span := p.tracer.Start(ctx, "pipeline.execute", trace.WithAttributes(
		attribute.String("solve.id", job.Run.SolveID),
		attribute.String("run.id", job.Run.ID),
		attribute.Int("run.ordinal", job.Run.Ordinal),
		attribute.String("run.model", job.Run.Model),
		attribute.Float64("run.temperature", job.Run.Temperature),
	))
	defer span.End()

	e := &execution{
		p:      p,
		job:    job,
		diag:   newDiagnostics(p.cfg.MaxStageOutput, p.cfg.MaxDiagnostics),
		branch: BranchName(job.Solve.IssueNumber, job.Run.ID),
	}

	defer func() {
		if v := recover(); v != nil {
			p.logger.Error(ctx, "pipeline panicked",
				zap.String("stage", string(e.stage)),
				zap.Any("panic", v),
				zap.Stack("stack"))
			out = e.fail(ctx, e.stage, fmt.Errorf("panic: %v", v))
		}
		e.cleanup(ctx)
		out.Latency = time.Since(start)
		out.Diagnostics = e.scrub(e.diag.String())

		p.metrics.runsTotal.WithLabelValues(string(out.Status), strconv.FormatBool(out.TestsPassed)).Inc()
		span.SetAttributes(
			attribute.String("run.status", string(out.Status)),
			attribute.Bool("run.tests_passed", out.TestsPassed))
		if out.Err != nil {
			span.RecordError(out.Err)
			span.SetStatus(codes.Error, out.Err.Error())
		}
		p.logger.Info(ctx, "pipeline finished",
			zap.String("status", string(out.Status)),
			zap.Bool("tests_passed", out.TestsPassed),
			zap.Duration("latency", out.Latency),
			zap.String("failed_stage", string(out.Stage)))
	}()

	return e.run(ctx)
}

// BranchName derives the candidate branch for a run. The run id suffix
// keeps concurrent runs on one issue from colliding.
func BranchName(issue int, runID string) string {
	short := runID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("solvd/issue-%d-%s", issue, short)
}

// budgetError reports whether err or ctx indicates the solve deadline.
func budgetError(ctx context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
}
