// Package sandbox provides ephemeral, isolated execution environments.
//
// A Sandbox is owned by exactly one pipeline run. Whoever calls
// Provider.Create must call Close on every exit path; Close is idempotent.
package sandbox

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"time"
)

// ErrClosed is returned by operations on a closed sandbox.
var ErrClosed = errors.New("sandbox is closed")

// Result is the outcome of one command. A non-zero ExitCode is not an error.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// OK reports a zero exit code.
func (r Result) OK() bool {
	return r.ExitCode == 0
}

// Sandbox is a live execution environment.
type Sandbox interface {
	// ID identifies the environment for traceability (container id, dir).
	ID() string
	// WriteFile writes content at path. Relative paths resolve against the
	// sandbox working directory.
	WriteFile(ctx context.Context, path string, content []byte, mode os.FileMode) error
	// Run executes a shell command in the working directory. The error is
	// non-nil only when the command could not be run at all.
	Run(ctx context.Context, cmd string) (Result, error)
	// Close tears the environment down.
	Close(ctx context.Context) error
}

// Provider creates sandboxes from a template.
type Provider interface {
	// Create provisions a sandbox. env is exported to every command and is
	// never placed on a process command line.
	Create(ctx context.Context, template string, env map[string]string) (Sandbox, error)
	Name() string
}

// Quote single-quotes s for POSIX sh.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// exitCode extracts the exit status from an exec error. ok is false when
// the process never ran.
func exitCode(err error) (code int, ok bool) {
	if err == nil {
		return 0, true
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), true
	}
	return -1, false
}

func envList(env map[string]string) []string {
	list := make([]string, 0, len(env))
	for k, v := range env {
		list = append(list, k+"="+v)
	}
	return list
}
