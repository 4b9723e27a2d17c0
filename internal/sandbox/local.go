package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fyrsmithlabs/solvd/internal/logging"
	"go.uber.org/zap"
)

// LocalProvider runs each sandbox in a fresh temporary directory on the
// host. It isolates files but not processes, so it is meant for
// development and tests only.
type LocalProvider struct {
	logger *logging.Logger
}

// NewLocalProvider creates a host-directory provider.
func NewLocalProvider(logger *logging.Logger) *LocalProvider {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &LocalProvider{logger: logger.Named("sandbox.local")}
}

func (p *LocalProvider) Name() string { return "local" }

// Create makes a temp directory under template (or the system temp dir
// when template is "" or "local"). HOME points at the directory so git
// configuration stays inside it.
func (p *LocalProvider) Create(ctx context.Context, template string, env map[string]string) (Sandbox, error) {
	base := template
	if base == "local" {
		base = ""
	}
	root, err := os.MkdirTemp(base, "solvd-sbx-")
	if err != nil {
		return nil, fmt.Errorf("create sandbox dir: %w", err)
	}

	vars := []string{
		"HOME=" + root,
		"PATH=" + os.Getenv("PATH"),
		"GIT_TERMINAL_PROMPT=0",
	}
	vars = append(vars, envList(env)...)

	p.logger.Debug(ctx, "sandbox dir created", zap.String("dir", root))
	return &localSandbox{provider: p, root: root, env: vars}, nil
}

// waitDelay bounds how long Run waits for output pipes after the command
// is killed, in case a descendant escaped the process group.
const waitDelay = 2 * time.Second

type localSandbox struct {
	provider *LocalProvider
	root     string
	env      []string

	mu     sync.Mutex
	closed bool
}

func (s *localSandbox) ID() string { return "local:" + filepath.Base(s.root) }

func (s *localSandbox) resolve(p string) (string, error) {
	full := filepath.Join(s.root, strings.TrimPrefix(filepath.Clean("/"+p), "/"))
	if !strings.HasPrefix(full, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes sandbox", p)
	}
	return full, nil
}

func (s *localSandbox) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *localSandbox) WriteFile(_ context.Context, p string, content []byte, mode os.FileMode) error {
	if s.isClosed() {
		return ErrClosed
	}
	full, err := s.resolve(p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0700); err != nil {
		return err
	}
	return os.WriteFile(full, content, mode)
}

func (s *localSandbox) Run(ctx context.Context, cmdline string) (Result, error) {
	if s.isClosed() {
		return Result{}, ErrClosed
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, "sh", "-c", cmdline)
	cmd.Dir = s.root
	cmd.Env = s.env
	ownProcessGroup(cmd)
	cmd.WaitDelay = waitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout, cmd.Stderr = &stdout, &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String(), Duration: time.Since(start)}
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	code, ran := exitCode(err)
	if !ran {
		return res, fmt.Errorf("run: %w", err)
	}
	res.ExitCode = code
	return res, nil
}

func (s *localSandbox) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if err := os.RemoveAll(s.root); err != nil {
		return fmt.Errorf("remove sandbox dir: %w", err)
	}
	s.provider.logger.Debug(ctx, "sandbox dir removed", zap.String("dir", s.root))
	return nil
}
