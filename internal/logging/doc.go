// Package logging provides structured logging for solvd on top of zap.
//
// The Logger adds:
//   - a Trace level (-2, below Debug)
//   - stdout and optional OpenTelemetry output
//   - correlation fields pulled from the context (trace, solve, run, owner, request)
//   - secret redaction by field name and value pattern
//   - level-aware sampling where errors are never sampled
//
// Usage:
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig(), nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithSolveID(ctx, solveID)
//	ctx = logging.WithRunID(ctx, runID)
//	logger.Info(ctx, "stage finished", zap.String("stage", "clone"))
//
// Tokens are logged only through Secret, and repository URLs through RepoURL.
package logging
