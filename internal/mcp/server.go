package mcp

import (
	"context"
	"fmt"
	"os/user"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/solvd/internal/logging"
	"github.com/fyrsmithlabs/solvd/internal/solve"
	"github.com/fyrsmithlabs/solvd/internal/solving"
	"github.com/fyrsmithlabs/solvd/pkg/auth"
)

// Solves is the service the tools call.
type Solves interface {
	Submit(ctx context.Context, owner string, req solving.SubmitRequest) (*solve.Solve, error)
	Get(ctx context.Context, owner, id string) (*solving.Detail, error)
	List(ctx context.Context, owner string, limit int) ([]solve.Solve, error)
}

// Server is an MCP server backed by the solving service.
type Server struct {
	mcp     *mcp.Server
	solves  Solves
	ownerID string
	metrics *toolMetrics
	logger  *logging.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "solvd")
	Name string

	// Version is the server version (default: "1.0.0")
	Version string

	// Caller names the user the tools act for. Empty means the current
	// OS user.
	Caller string

	// Logger for structured logging
	Logger *logging.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "solvd",
		Version: "1.0.0",
		Logger:  logging.NewNop(),
	}
}

// NewServer creates a new MCP server with the given service.
func NewServer(cfg *Config, solves Solves) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if solves == nil {
		return nil, fmt.Errorf("solve service is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if cfg.Name == "" {
		cfg.Name = "solvd"
	}
	if cfg.Version == "" {
		cfg.Version = "1.0.0"
	}

	caller := cfg.Caller
	if caller == "" {
		u, err := user.Current()
		if err != nil {
			return nil, fmt.Errorf("unable to determine user identity: %w", err)
		}
		caller = u.Username
	}
	ownerID, err := auth.DeriveOwnerID(caller)
	if err != nil {
		return nil, fmt.Errorf("derive owner ID: %w", err)
	}

	logger := cfg.Logger.Named("mcp")
	s := &Server{
		mcp: mcp.NewServer(
			&mcp.Implementation{
				Name:    cfg.Name,
				Version: cfg.Version,
			},
			nil,
		),
		solves:  solves,
		ownerID: ownerID,
		metrics: newToolMetrics(nil, logger),
		logger:  logger,
	}

	s.registerTools()

	return s, nil
}

// Run starts the MCP server on the stdio transport.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info(ctx, "starting MCP server on stdio transport", zap.String("owner_id", s.ownerID))
	transport := &mcp.StdioTransport{}
	if err := s.mcp.Run(ctx, transport); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// MCPServer returns the underlying SDK server, for in-memory transports.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}
