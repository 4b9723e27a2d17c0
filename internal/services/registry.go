package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/solvd/internal/config"
	"github.com/fyrsmithlabs/solvd/internal/events"
	"github.com/fyrsmithlabs/solvd/internal/forge"
	"github.com/fyrsmithlabs/solvd/internal/logging"
	"github.com/fyrsmithlabs/solvd/internal/orchestrator"
	"github.com/fyrsmithlabs/solvd/internal/pipeline"
	"github.com/fyrsmithlabs/solvd/internal/sandbox"
	"github.com/fyrsmithlabs/solvd/internal/secrets"
	"github.com/fyrsmithlabs/solvd/internal/solve"
	"github.com/fyrsmithlabs/solvd/internal/solving"
	"github.com/fyrsmithlabs/solvd/internal/store"
)

// Publisher receives lifecycle events. events.Publisher and events.Nop
// implement it.
type Publisher interface {
	SolveChanged(ctx context.Context, sv *solve.Solve)
	RunFinished(ctx context.Context, run *solve.Run)
	Close() error
}

// Options overrides components Build would otherwise create from config.
type Options struct {
	Provider      sandbox.Provider
	PullRequester pipeline.PullRequester
	Publisher     Publisher
}

// Registry holds the shared components. Close releases them.
type Registry struct {
	cfg          *config.Config
	logger       *logging.Logger
	store        *store.Store
	provider     sandbox.Provider
	pipeline     *pipeline.Pipeline
	publisher    Publisher
	orchestrator *orchestrator.Orchestrator
}

// Build creates every shared component from cfg.
func Build(ctx context.Context, cfg *config.Config, logger *logging.Logger, opts Options) (*Registry, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	r := &Registry{cfg: cfg, logger: logger}

	if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0700); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}
	st, err := store.Open(ctx, cfg.Store.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	r.store = st

	r.provider = opts.Provider
	if r.provider == nil {
		if r.provider, err = NewProvider(cfg.Sandbox, logger); err != nil {
			_ = st.Close()
			return nil, err
		}
	}

	allowlist, err := secrets.LoadAllowlist(cfg.Secrets.AllowlistPath)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("loading secrets allowlist: %w", err)
	}
	redactor, err := secrets.NewRedactor(allowlist)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("creating redactor: %w", err)
	}

	pr := opts.PullRequester
	if pr == nil {
		gh, err := forge.NewClient(cfg.GitHub, logger)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("creating github client: %w", err)
		}
		pr = gh
	}

	r.publisher = opts.Publisher
	if r.publisher == nil {
		if r.publisher, err = NewPublisher(cfg.NATS, logger); err != nil {
			_ = st.Close()
			return nil, err
		}
	}

	r.pipeline = pipeline.New(pipeline.ConfigFrom(cfg), r.provider, st, pr,
		pipeline.WithLogger(logger),
		pipeline.WithScrubber(redactor),
	)
	r.orchestrator = orchestrator.New(orchestrator.ConfigFrom(cfg.Orchestrator), st, r.pipeline,
		orchestrator.WithLogger(logger),
		orchestrator.WithNotifier(r.publisher),
	)

	logger.Info(ctx, "services initialized",
		zap.String("store", cfg.Store.Path),
		zap.String("sandbox_provider", r.provider.Name()),
		zap.Bool("template_configured", cfg.Sandbox.Template != ""),
		zap.Bool("events_enabled", cfg.NATS.URL != ""),
	)
	return r, nil
}

// NewProvider selects the sandbox provider named in cfg.
func NewProvider(cfg config.SandboxConfig, logger *logging.Logger) (sandbox.Provider, error) {
	switch cfg.Provider {
	case "", "docker":
		return sandbox.NewDockerProvider(cfg.Runtime, cfg.Network, logger), nil
	case "local":
		return sandbox.NewLocalProvider(logger), nil
	default:
		return nil, fmt.Errorf("unknown sandbox provider %q", cfg.Provider)
	}
}

// NewPublisher connects to NATS when a URL is configured and returns a
// no-op publisher otherwise.
func NewPublisher(cfg config.NATSConfig, logger *logging.Logger) (Publisher, error) {
	if cfg.URL == "" {
		return events.Nop{}, nil
	}
	p, err := events.Connect(cfg.URL, cfg.SubjectPrefix, logger)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	return p, nil
}

func (r *Registry) Store() *store.Store                      { return r.store }
func (r *Registry) Provider() sandbox.Provider               { return r.provider }
func (r *Registry) Pipeline() *pipeline.Pipeline             { return r.pipeline }
func (r *Registry) Events() Publisher                        { return r.publisher }
func (r *Registry) Orchestrator() *orchestrator.Orchestrator { return r.orchestrator }

// Solving returns a submission service that hands accepted solves to d.
func (r *Registry) Solving(d solving.Dispatcher) *solving.Service {
	return solving.NewService(solving.Config{Template: r.cfg.Sandbox.Template}, r.store, d,
		solving.WithLogger(r.logger),
		solving.WithNotifier(r.publisher),
	)
}

// Recover returns the PENDING solves that still need a dispatch. With
// failRunning it first fails the solves left RUNNING by a previous process;
// callers pass false when remote workers may still be executing them.
func (r *Registry) Recover(ctx context.Context, failRunning bool) ([]string, error) {
	if failRunning {
		n, err := r.store.FailInterrupted(ctx, "interrupted by restart")
		if err != nil {
			return nil, fmt.Errorf("failing interrupted solves: %w", err)
		}
		if n > 0 {
			r.logger.Warn(ctx, "failed interrupted solves", zap.Int("count", n))
		}
	}
	return r.store.PendingSolveIDs(ctx)
}

// Close releases the publisher and the store.
func (r *Registry) Close() error {
	var errs []error
	if r.publisher != nil {
		if err := r.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing publisher: %w", err))
		}
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing store: %w", err))
		}
	}
	return errors.Join(errs...)
}
