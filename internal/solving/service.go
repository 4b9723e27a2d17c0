// Package solving accepts solve submissions and serves their state.
//
// Submit validates everything that can be checked without running a
// sandbox, stores the solve as PENDING and hands it to a dispatcher. The
// caller gets the id back immediately; execution happens elsewhere.
package solving

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/solvd/internal/forge"
	"github.com/fyrsmithlabs/solvd/internal/logging"
	"github.com/fyrsmithlabs/solvd/internal/matrix"
	"github.com/fyrsmithlabs/solvd/internal/solve"
	"github.com/fyrsmithlabs/solvd/internal/store"
)

const instrumentationName = "github.com/fyrsmithlabs/solvd/internal/solving"

// DefaultMaxConfigs caps the number of configs one submission may expand to.
const DefaultMaxConfigs = 64

var (
	// ErrNoTemplate is returned while no sandbox template is configured.
	ErrNoTemplate = errors.New("no sandbox template configured")
	// ErrNoCredential is returned when the caller has no stored forge token.
	ErrNoCredential = errors.New("no credential for caller")
	// ErrOwnerRequired is returned for anonymous calls.
	ErrOwnerRequired = errors.New("caller identity required")
)

// Store is the persistence the service reads and writes.
type Store interface {
	CreateSolve(ctx context.Context, sv *solve.Solve) error
	GetSolveForOwner(ctx context.Context, id, owner string) (*solve.Solve, error)
	ListSolves(ctx context.Context, owner string, limit int) ([]solve.Solve, error)
	ListRuns(ctx context.Context, solveID string) ([]solve.Run, error)
	ResolveCredential(ctx context.Context, owner string) (solve.Credential, error)
}

// Dispatcher schedules a stored PENDING solve.
type Dispatcher interface {
	Dispatch(ctx context.Context, sv *solve.Solve) error
}

// Notifier is told about accepted submissions.
type Notifier interface {
	SolveChanged(ctx context.Context, sv *solve.Solve)
}

// SubmitRequest is a new solve as the caller describes it.
type SubmitRequest struct {
	RepoURL     string
	IssueNumber int
	BaseBranch  string
	Matrix      matrix.ExperimentMatrix
	Limits      solve.Limits
	RequestedBy string
}

// Detail is a solve with its runs and champion.
type Detail struct {
	Solve    *solve.Solve
	Runs     []solve.Run
	Champion *solve.Run
}

// Config configures the service.
type Config struct {
	// Template is the sandbox template. Empty rejects every submission.
	Template   string
	MaxConfigs int
}

// Service implements submission and queries.
type Service struct {
	cfg        Config
	store      Store
	dispatcher Dispatcher
	notifier   Notifier
	logger     *logging.Logger
	tracer     trace.Tracer
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithNotifier sets the event notifier.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// NewService creates a Service.
func NewService(cfg Config, st Store, d Dispatcher, opts ...Option) *Service {
	if cfg.MaxConfigs <= 0 {
		cfg.MaxConfigs = DefaultMaxConfigs
	}
	s := &Service{
		cfg:        cfg,
		store:      st,
		dispatcher: d,
		logger:     logging.NewNop(),
		tracer:     otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("solving")
	return s
}

// Submit validates req, stores it as a PENDING solve owned by owner and
// dispatches it.
//
// Errors: ErrOwnerRequired, ErrNoTemplate, ErrNoCredential, configuration
// errors (solve.ErrConfiguration) for a bad body, and persistence or
// dispatch failures.
func (s *Service) Submit(ctx context.Context, owner string, req SubmitRequest) (*solve.Solve, error) {
	ctx, span := s.tracer.Start(ctx, "solving.submit", trace.WithAttributes(
		attribute.String("repo_url", req.RepoURL),
		attribute.Int("issue", req.IssueNumber),
	))
	defer span.End()

	sv, err := s.submit(ctx, owner, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("solve.id", sv.ID))
	return sv, nil
}

func (s *Service) submit(ctx context.Context, owner string, req SubmitRequest) (*solve.Solve, error) {
	if owner == "" {
		return nil, ErrOwnerRequired
	}
	ctx = logging.WithOwnerID(ctx, owner)

	if strings.TrimSpace(s.cfg.Template) == "" {
		return nil, ErrNoTemplate
	}
	if err := s.validate(req); err != nil {
		return nil, err
	}

	if _, err := s.store.ResolveCredential(ctx, owner); err != nil {
		if errors.Is(err, store.ErrNoCredential) {
			return nil, ErrNoCredential
		}
		return nil, err
	}

	sv := &solve.Solve{
		Owner:       owner,
		RepoURL:     strings.TrimSpace(req.RepoURL),
		IssueNumber: req.IssueNumber,
		BaseBranch:  strings.TrimSpace(req.BaseBranch),
		Matrix:      req.Matrix,
		Limits:      req.Limits,
		RequestedBy: req.RequestedBy,
	}
	if err := s.store.CreateSolve(ctx, sv); err != nil {
		return nil, fmt.Errorf("create solve: %w", err)
	}
	ctx = logging.WithSolveID(ctx, sv.ID)
	s.logger.Info(ctx, "solve accepted",
		logging.RepoURL("repo_url", sv.RepoURL),
		zap.Int("issue", sv.IssueNumber),
		zap.Int("configs", sv.Matrix.Size()),
	)
	if s.notifier != nil {
		s.notifier.SolveChanged(ctx, sv)
	}

	if err := s.dispatcher.Dispatch(ctx, sv); err != nil {
		// The solve stays PENDING and is picked up again on restart.
		s.logger.Error(ctx, "failed to dispatch solve", zap.Error(err))
		return nil, fmt.Errorf("dispatch solve %s: %w", sv.ID, err)
	}
	return sv, nil
}

func (s *Service) validate(req SubmitRequest) error {
	if _, err := forge.ParseRepoURL(strings.TrimSpace(req.RepoURL)); err != nil {
		return solve.Wrap(solve.KindConfiguration, "repo_url", err)
	}
	if req.IssueNumber <= 0 {
		return solve.Configuration("issue_number", "issue_number must be positive, got %d", req.IssueNumber)
	}
	if strings.TrimSpace(req.BaseBranch) == "" {
		return solve.Configuration("base_branch", "base_branch is required")
	}
	if err := req.Matrix.Validate(); err != nil {
		return solve.Wrap(solve.KindConfiguration, "matrix", err)
	}
	if n := req.Matrix.Size(); n > s.cfg.MaxConfigs {
		return solve.Configuration("matrix", "matrix expands to %d configs, at most %d allowed", n, s.cfg.MaxConfigs)
	}
	if req.Limits.MaxParallel < 0 {
		return solve.Configuration("limits", "max_parallel must not be negative")
	}
	if req.Limits.TimeBudgetS < 0 {
		return solve.Configuration("limits", "time_budget_s must not be negative")
	}
	if maxS := int(solve.MaxTimeBudget / time.Second); req.Limits.TimeBudgetS > maxS {
		return solve.Configuration("limits", "time_budget_s must be at most %d, got %d", maxS, req.Limits.TimeBudgetS)
	}
	return nil
}

// Get returns owner's solve with its runs and champion.
func (s *Service) Get(ctx context.Context, owner, id string) (*Detail, error) {
	sv, err := s.store.GetSolveForOwner(ctx, id, owner)
	if err != nil {
		return nil, err
	}
	runs, err := s.store.ListRuns(ctx, id)
	if err != nil {
		return nil, err
	}
	d := &Detail{Solve: sv, Runs: runs}
	if sv.ChampionRunID != nil {
		for i := range runs {
			if runs[i].ID == *sv.ChampionRunID {
				d.Champion = &runs[i]
				break
			}
		}
	}
	return d, nil
}

// List returns owner's solves, newest first.
func (s *Service) List(ctx context.Context, owner string, limit int) ([]solve.Solve, error) {
	return s.store.ListSolves(ctx, owner, limit)
}

// Runs returns the runs of owner's solve in ordinal order.
func (s *Service) Runs(ctx context.Context, owner, id string) ([]solve.Run, error) {
	if _, err := s.store.GetSolveForOwner(ctx, id, owner); err != nil {
		return nil, err
	}
	return s.store.ListRuns(ctx, id)
}
