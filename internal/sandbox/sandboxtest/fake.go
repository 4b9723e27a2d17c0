// Package sandboxtest provides an in-memory sandbox provider for tests.
package sandboxtest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fyrsmithlabs/solvd/internal/sandbox"
)

// Handler scripts the result of a command run in sb.
type Handler func(ctx context.Context, sb *Sandbox, cmd string) (sandbox.Result, error)

// Provider is a fake sandbox.Provider that tracks how many sandboxes are
// open at once.
type Provider struct {
	// Handler answers commands. Nil means every command succeeds silently.
	Handler Handler
	// CreateErr, when set, fails every Create.
	CreateErr error

	mu        sync.Mutex
	seq       int
	open      int
	maxOpen   int
	sandboxes []*Sandbox
}

func (p *Provider) Name() string { return "fake" }

// Create returns a new fake sandbox.
func (p *Provider) Create(ctx context.Context, template string, env map[string]string) (sandbox.Sandbox, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.CreateErr != nil {
		return nil, p.CreateErr
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	p.open++
	if p.open > p.maxOpen {
		p.maxOpen = p.open
	}
	sb := &Sandbox{
		provider: p,
		id:       fmt.Sprintf("fake-%d", p.seq),
		Template: template,
		Env:      env,
		Files:    map[string][]byte{},
	}
	p.sandboxes = append(p.sandboxes, sb)
	return sb, nil
}

// MaxOpen is the highest number of simultaneously open sandboxes seen.
func (p *Provider) MaxOpen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxOpen
}

// Open is the number of sandboxes not yet closed.
func (p *Provider) Open() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

// Sandboxes returns every sandbox created so far.
func (p *Provider) Sandboxes() []*Sandbox {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Sandbox(nil), p.sandboxes...)
}

// Sandbox is a fake sandbox recording what ran in it.
type Sandbox struct {
	provider *Provider
	id       string

	Template string
	Env      map[string]string

	mu       sync.Mutex
	Files    map[string][]byte
	commands []string
	closed   bool
}

func (s *Sandbox) ID() string { return s.id }

func (s *Sandbox) WriteFile(_ context.Context, path string, content []byte, _ os.FileMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return sandbox.ErrClosed
	}
	s.Files[path] = append([]byte(nil), content...)
	return nil
}

func (s *Sandbox) Run(ctx context.Context, cmd string) (sandbox.Result, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return sandbox.Result{}, sandbox.ErrClosed
	}
	s.commands = append(s.commands, cmd)
	s.mu.Unlock()

	if s.provider.Handler == nil {
		return sandbox.Result{}, nil
	}
	return s.provider.Handler(ctx, s, cmd)
}

func (s *Sandbox) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("fake sandbox closed twice")
	}
	s.closed = true

	s.provider.mu.Lock()
	s.provider.open--
	s.provider.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (s *Sandbox) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Commands returns the commands run so far.
func (s *Sandbox) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Ran reports whether any command so far contains substr.
func (s *Sandbox) Ran(substr string) bool {
	for _, c := range s.Commands() {
		if strings.Contains(c, substr) {
			return true
		}
	}
	return false
}
