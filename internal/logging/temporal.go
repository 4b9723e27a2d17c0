package logging

import (
	"go.temporal.io/sdk/log"
	"go.uber.org/zap"
)

// temporalLogger adapts Logger to the Temporal SDK, whose logger takes
// alternating key/value pairs instead of typed fields.
type temporalLogger struct {
	s *zap.SugaredLogger
}

// Temporal returns a logger for Temporal clients and workers. Entries go
// through the same core, so redaction and sampling apply.
func (l *Logger) Temporal() log.Logger {
	return temporalLogger{s: l.zap.Named("temporal").WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (t temporalLogger) Debug(msg string, keyvals ...interface{}) { t.s.Debugw(msg, keyvals...) }
func (t temporalLogger) Info(msg string, keyvals ...interface{})  { t.s.Infow(msg, keyvals...) }
func (t temporalLogger) Warn(msg string, keyvals ...interface{})  { t.s.Warnw(msg, keyvals...) }
func (t temporalLogger) Error(msg string, keyvals ...interface{}) { t.s.Errorw(msg, keyvals...) }

// With implements log.WithLogger.
func (t temporalLogger) With(keyvals ...interface{}) log.Logger {
	return temporalLogger{s: t.s.With(keyvals...)}
}

var _ log.WithLogger = temporalLogger{}
