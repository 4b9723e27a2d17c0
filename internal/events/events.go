// Package events publishes solve and run lifecycle changes to NATS.
//
// Subjects:
//
//	<prefix>.solves.<owner_id>.<solve_id>.<event>
//	<prefix>.runs.<solve_id>.<run_id>.<status>
//
// where event is submitted, running, completed or failed and status is
// the lowercased run status. Publishing is fire-and-forget: a failure is
// logged and never reaches the solve.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/solvd/internal/logging"
	"github.com/fyrsmithlabs/solvd/internal/solve"
)

// Event is the payload of every message.
type Event struct {
	Type    string       `json:"type"`
	Solve   *solve.Solve `json:"solve,omitempty"`
	Run     *solve.Run   `json:"run,omitempty"`
	TraceID string       `json:"trace_id,omitempty"`
	Time    time.Time    `json:"time"`
}

// Publisher publishes lifecycle events on a NATS connection.
type Publisher struct {
	nc     *nats.Conn
	prefix string
	logger *logging.Logger
}

// Connect dials url and returns a Publisher owning the connection.
func Connect(url, prefix string, logger *logging.Logger) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("solvd"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return NewPublisher(nc, prefix, logger), nil
}

// NewPublisher wraps an existing connection.
func NewPublisher(nc *nats.Conn, prefix string, logger *logging.Logger) *Publisher {
	if prefix == "" {
		prefix = "solvd"
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Publisher{nc: nc, prefix: prefix, logger: logger.Named("events")}
}

// SolveSubject returns the subject for a solve event.
func SolveSubject(prefix, owner, solveID, event string) string {
	return strings.Join([]string{prefix, "solves", token(owner), token(solveID), event}, ".")
}

// RunSubject returns the subject for a run event.
func RunSubject(prefix, solveID, runID string, status solve.Status) string {
	return strings.Join([]string{prefix, "runs", token(solveID), token(runID), strings.ToLower(string(status))}, ".")
}

// SolveEvent names the event for a solve status.
func SolveEvent(s solve.Status) string {
	if s == solve.StatusPending {
		return "submitted"
	}
	return strings.ToLower(string(s))
}

// SolveChanged publishes the solve's current status.
func (p *Publisher) SolveChanged(ctx context.Context, sv *solve.Solve) {
	event := SolveEvent(sv.Status)
	p.publish(ctx, SolveSubject(p.prefix, sv.Owner, sv.ID, event), Event{Type: "solve." + event, Solve: sv})
}

// RunFinished publishes a run's terminal status.
func (p *Publisher) RunFinished(ctx context.Context, run *solve.Run) {
	p.publish(ctx, RunSubject(p.prefix, run.SolveID, run.ID, run.Status),
		Event{Type: "run." + strings.ToLower(string(run.Status)), Run: run})
}

func (p *Publisher) publish(ctx context.Context, subject string, ev Event) {
	ev.Time = time.Now().UTC()
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		ev.TraceID = sc.TraceID().String()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		p.logger.Warn(ctx, "failed to encode event", zap.String("subject", subject), zap.Error(err))
		return
	}
	if err := p.nc.Publish(subject, data); err != nil {
		p.logger.Warn(ctx, "failed to publish event", zap.String("subject", subject), zap.Error(err))
		return
	}
	p.logger.Trace(ctx, "event published", zap.String("subject", subject))
}

// Close flushes pending messages and closes the connection.
func (p *Publisher) Close() error {
	return p.nc.Drain()
}

// token makes s safe as a single subject token.
func token(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}

// Nop discards every event.
type Nop struct{}

func (Nop) SolveChanged(context.Context, *solve.Solve) {}
func (Nop) RunFinished(context.Context, *solve.Run) {}
func (Nop) Close() error { return nil }
