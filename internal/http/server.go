// Package http serves the solvd HTTP API.
//
// Routes:
//
//	POST /solve            submit a solve (202)
//	GET  /solve            list the caller's solves
//	GET  /solve/:id        one solve with its runs and champion
//	GET  /solve/:id/runs   the runs of one solve
//	GET  /health           liveness and store reachability
//	GET  /metrics          Prometheus metrics
//
// Every /solve route requires the caller header (see pkg/auth).
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/solvd/internal/logging"
	"github.com/fyrsmithlabs/solvd/internal/solve"
	"github.com/fyrsmithlabs/solvd/internal/solving"
	v1 "github.com/fyrsmithlabs/solvd/pkg/api/v1"
	"github.com/fyrsmithlabs/solvd/pkg/auth"
)

// Solves is the service behind the /solve routes.
type Solves interface {
	Submit(ctx context.Context, owner string, req solving.SubmitRequest) (*solve.Solve, error)
	Get(ctx context.Context, owner, id string) (*solving.Detail, error)
	List(ctx context.Context, owner string, limit int) ([]solve.Solve, error)
	Runs(ctx context.Context, owner, id string) ([]solve.Run, error)
}

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Server provides HTTP endpoints for solvd.
type Server struct {
	echo    *echo.Echo
	solves  Solves
	health  HealthChecker
	limiter *callerLimiter
	logger  *logging.Logger
	config  *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
	// SubmitRate is the sustained POST /solve rate per caller, per second.
	// Zero disables the limit.
	SubmitRate  float64
	SubmitBurst int
}

// NewServer creates a new HTTP server.
func NewServer(solves Solves, health HealthChecker, logger *logging.Logger, cfg *Config) (*Server, error) {
	if solves == nil {
		return nil, fmt.Errorf("solve service cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "127.0.0.1",
			Port: 8484,
		}
	}
	logger = logger.Named("http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(newMetrics(nil, logger).middleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			requestID := c.Response().Header().Get(echo.HeaderXRequestID)
			ctx := logging.WithRequestID(c.Request().Context(), requestID)
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			logger.Info(ctx, "http request",
				zap.String("method", c.Request().Method),
				zap.String("route", c.Path()),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return nil
		}
	})

	s := &Server{
		echo:    e,
		solves:  solves,
		health:  health,
		limiter: newCallerLimiter(cfg.SubmitRate, cfg.SubmitBurst),
		logger:  logger,
		config:  cfg,
	}

	s.registerRoutes()

	return s, nil
}

// maxSubmitBody bounds POST /solve bodies; larger requests get 413.
const maxSubmitBody = "256K"

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	g := s.echo.Group("/solve", auth.CallerMiddleware(""))
	g.POST("", s.handleSubmit, s.rateLimit(), middleware.BodyLimit(maxSubmitBody))
	g.GET("", s.handleList)
	g.GET("/:id", s.handleGet)
	g.GET("/:id/runs", s.handleRuns)
}

// Handler exposes the router, mainly for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// handleHealth reports ok when the store answers.
func (s *Server) handleHealth(c echo.Context) error {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := s.health.Ping(ctx); err != nil {
			s.logger.Warn(ctx, "health check failed", zap.Error(err))
			return c.JSON(http.StatusServiceUnavailable, v1.HealthResponse{Status: "unavailable"})
		}
	}
	return c.JSON(http.StatusOK, v1.HealthResponse{Status: "ok"})
}

// writeError maps service errors to status codes. Unclassified errors are
// logged and reported without detail.
func (s *Server) writeError(c echo.Context, err error) error {
	status, code := http.StatusInternalServerError, v1.CodeInternal
	switch {
	case errors.Is(err, solving.ErrOwnerRequired):
		status, code = http.StatusUnauthorized, v1.CodeUnauthorized
	case errors.Is(err, solving.ErrNoTemplate):
		status, code = http.StatusServiceUnavailable, v1.CodeUnavailable
	case errors.Is(err, solving.ErrNoCredential):
		status, code = http.StatusPreconditionFailed, v1.CodeNoCredential
	case errors.Is(err, solve.ErrConfiguration):
		status, code = http.StatusBadRequest, v1.CodeInvalidRequest
	case errors.Is(err, solve.ErrNotFound):
		return c.JSON(http.StatusNotFound, v1.ErrorResponse{Code: v1.CodeNotFound, Message: "solve not found"})
	}

	if status == http.StatusInternalServerError {
		s.logger.Error(c.Request().Context(), "request failed", zap.Error(err))
		return c.JSON(status, v1.ErrorResponse{Code: code, Message: "internal error"})
	}
	return c.JSON(status, v1.ErrorResponse{Code: code, Message: err.Error()})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
