package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fyrsmithlabs/solvd/internal/logging"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DockerWorkdir is the working directory inside every container.
const DockerWorkdir = "/workspace"

// DockerProvider runs each sandbox as a long-lived container and executes
// commands in it with `docker exec`. Any docker-compatible CLI works.
type DockerProvider struct {
	runtime string
	network string
	logger  *logging.Logger
}

// NewDockerProvider creates a provider using the given CLI ("docker",
// "podman"). network is passed to --network when non-empty.
func NewDockerProvider(runtime, network string, logger *logging.Logger) *DockerProvider {
	if runtime == "" {
		runtime = "docker"
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &DockerProvider{runtime: runtime, network: network, logger: logger.Named("sandbox.docker")}
}

func (p *DockerProvider) Name() string { return "docker" }

// Create starts a detached container from the template image.
func (p *DockerProvider) Create(ctx context.Context, template string, env map[string]string) (Sandbox, error) {
	if template == "" {
		return nil, fmt.Errorf("docker sandbox requires an image template")
	}

	name := "solvd-" + uuid.NewString()[:12]
	args := []string{"run", "-d", "--rm", "--name", name, "--label", "solvd.sandbox=1", "-w", DockerWorkdir}
	if p.network != "" {
		args = append(args, "--network", p.network)
	}

	// Pass only variable names; values come from the CLI's own environment.
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-e", k)
	}
	args = append(args, template, "sleep", "infinity")

	cmd := exec.CommandContext(ctx, p.runtime, args...)
	cmd.Env = append(os.Environ(), envList(env)...)
	cmd.WaitDelay = waitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout, cmd.Stderr = &stdout, &stderr
	if err := cmd.Run(); err != nil {
		// The daemon may have created the container before the CLI died.
		p.removeOrphan(ctx, name)
		return nil, fmt.Errorf("%s run: %w: %s", p.runtime, err, strings.TrimSpace(stderr.String()))
	}

	p.logger.Debug(ctx, "container started",
		zap.String("container", name),
		zap.String("container_id", strings.TrimSpace(stdout.String())),
		zap.String("image", template))
	return &dockerSandbox{provider: p, name: name}, nil
}

// orphanRemoveTimeout bounds the cleanup of a container whose creation
// failed.
const orphanRemoveTimeout = 30 * time.Second

// removeOrphan force-removes name on a context that survives ctx's
// cancellation. A missing container is not an error worth reporting.
func (p *DockerProvider) removeOrphan(ctx context.Context, name string) {
	rmCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), orphanRemoveTimeout)
	defer cancel()

	out, err := exec.CommandContext(rmCtx, p.runtime, "rm", "-f", name).CombinedOutput()
	if err != nil {
		p.logger.Warn(ctx, "failed to remove container after create error",
			zap.String("container", name),
			zap.String("output", strings.TrimSpace(string(out))),
			zap.Error(err))
		return
	}
	p.logger.Debug(ctx, "removed container after create error", zap.String("container", name))
}

type dockerSandbox struct {
	provider *DockerProvider
	name     string

	mu     sync.Mutex
	closed bool
}

func (s *dockerSandbox) ID() string { return s.name }

func (s *dockerSandbox) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *dockerSandbox) exec(ctx context.Context, stdin []byte, cmdline string) (Result, error) {
	if s.isClosed() {
		return Result{}, ErrClosed
	}

	args := []string{"exec"}
	if stdin != nil {
		args = append(args, "-i")
	}
	args = append(args, "-w", DockerWorkdir, s.name, "sh", "-c", cmdline)

	start := time.Now()
	cmd := exec.CommandContext(ctx, s.provider.runtime, args...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
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
		return res, fmt.Errorf("%s exec: %w", s.provider.runtime, err)
	}
	res.ExitCode = code
	return res, nil
}

func (s *dockerSandbox) Run(ctx context.Context, cmd string) (Result, error) {
	return s.exec(ctx, nil, cmd)
}

func (s *dockerSandbox) WriteFile(ctx context.Context, p string, content []byte, mode os.FileMode) error {
	if !path.IsAbs(p) {
		p = path.Join(DockerWorkdir, p)
	}
	script := fmt.Sprintf("mkdir -p %s && cat > %s && chmod %o %s",
		Quote(path.Dir(p)), Quote(p), mode.Perm(), Quote(p))
	res, err := s.exec(ctx, content, script)
	if err != nil {
		return err
	}
	if !res.OK() {
		return fmt.Errorf("write %s: exit %d: %s", p, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return nil
}

func (s *dockerSandbox) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	cmd := exec.CommandContext(ctx, s.provider.runtime, "rm", "-f", s.name)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s rm %s: %w: %s", s.provider.runtime, s.name, err, strings.TrimSpace(string(out)))
	}
	s.provider.logger.Debug(ctx, "container removed", zap.String("container", s.name))
	return nil
}
