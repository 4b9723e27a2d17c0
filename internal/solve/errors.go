package solve

import (
	"errors"
	"fmt"
)

// Kind classifies a failure by where it happens and how far it propagates.
type Kind string

const (
	// KindConfiguration covers bad submissions: an empty matrix axis, a
	// missing sandbox template or an unresolvable credential. Surfaced at
	// submission when detectable, else the solve is marked FAILED.
	KindConfiguration Kind = "configuration"
	// KindProvisioning means a sandbox could not be created. Fails one run.
	KindProvisioning Kind = "provisioning"
	// KindPipelineStage covers clone, install, agent, test and PR failures.
	// Recorded on the run, never propagated.
	KindPipelineStage Kind = "pipeline_stage"
	// KindPersistence is a store write failure. Logged and dropped.
	KindPersistence Kind = "persistence"
)

// Sentinels for errors.Is matching on a Kind.
var (
	ErrConfiguration = &Error{Kind: KindConfiguration}
	ErrProvisioning  = &Error{Kind: KindProvisioning}
	ErrPipelineStage = &Error{Kind: KindPipelineStage}
	ErrPersistence   = &Error{Kind: KindPersistence}

	// ErrNotFound is returned when a solve or run does not exist or is not
	// visible to the caller.
	ErrNotFound = errors.New("not found")
)

// Error is a classified failure. Op names the step that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err == nil:
		return fmt.Sprintf("%s error in %s", e.Kind, e.Op)
	case e.Op == "":
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same Kind, so the package sentinels work
// with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

// Wrap classifies err. It returns nil for a nil err.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Configuration builds a configuration error from a message.
func Configuration(op, format string, args ...any) error {
	return &Error{Kind: KindConfiguration, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the Kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
