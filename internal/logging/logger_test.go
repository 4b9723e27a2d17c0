package logging

import (
	"context"
	"testing"

	"github.com/fyrsmithlabs/solvd/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tlog "go.temporal.io/sdk/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(NewDefaultConfig(), nil)
	require.NoError(t, err)
	require.NotNil(t, logger.Underlying())
	assert.True(t, logger.Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Enabled(zapcore.DebugLevel))
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"

	_, err := NewLogger(cfg, nil)
	assert.Error(t, err)
}

func TestLogger_LevelsCarryContextFields(t *testing.T) {
	logger := NewTestLogger()
	ctx := WithRunID(WithSolveID(context.Background(), "solve-1"), "run-7")

	logger.Trace(ctx, "trace message")
	logger.Debug(ctx, "debug message")
	logger.Info(ctx, "info message", zap.String("stage", "clone"))
	logger.Warn(ctx, "warn message")
	logger.Error(ctx, "error message")

	require.Len(t, logger.All(), 5)
	logger.AssertLogged(t, TraceLevel, "trace message")
	logger.AssertLogged(t, zapcore.WarnLevel, "warn message")
	logger.AssertField(t, "info message", "solve.id", "solve-1")
	logger.AssertField(t, "info message", "run.id", "run-7")
	logger.AssertField(t, "info message", "stage", "clone")
}

func TestLogger_WithAndNamed(t *testing.T) {
	logger := NewTestLogger()

	child := logger.Named("pipeline").With(zap.String("component", "sandbox"))
	child.Info(context.Background(), "provisioned")

	entries := logger.FilterMessage("provisioned").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "pipeline", entries[0].LoggerName)
}

func TestLevelFromString(t *testing.T) {
	lvl, err := LevelFromString("trace")
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, lvl)

	lvl, err = LevelFromString("warn")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, lvl)

	_, err = LevelFromString("loud")
	assert.Error(t, err)
}

func TestFromSettings(t *testing.T) {
	cfg, err := FromSettings(config.LoggingConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, cfg.Level)
	assert.Equal(t, "console", cfg.Format)

	_, err = FromSettings(config.LoggingConfig{Level: "nope"})
	assert.Error(t, err)
}

func TestNewSampledCore_ErrorsNeverDropped(t *testing.T) {
	cfg := NewDefaultConfig().Sampling
	cfg.Levels[zapcore.InfoLevel] = LevelSamplingConfig{Initial: 1}

	test := NewTestLogger()
	core := newSampledCore(test.Underlying().Core(), cfg)
	l := &Logger{zap: zap.New(core), config: NewDefaultConfig()}

	for i := 0; i < 5; i++ {
		l.Info(context.Background(), "repeated")
		l.Error(context.Background(), "failure")
	}

	assert.Equal(t, 1, test.FilterMessage("repeated").Len())
	assert.Equal(t, 5, test.FilterMessage("failure").Len())
}

func TestTemporalLogger(t *testing.T) {
	logger := NewTestLogger()
	tl := logger.Temporal()

	tl.Info("workflow started", "WorkflowID", "solve-1", "Attempt", 1)
	tl.Debug("poll", "TaskQueue", "solvd-solves")

	with, ok := tl.(tlog.WithLogger)
	require.True(t, ok)
	with.With("Namespace", "default").Warn("activity retry")

	logger.AssertLogged(t, zapcore.InfoLevel, "workflow started")
	logger.AssertField(t, "workflow started", "WorkflowID", "solve-1")
	logger.AssertField(t, "activity retry", "Namespace", "default")
	logger.AssertLogged(t, zapcore.DebugLevel, "poll")
	assert.Equal(t, "temporal", logger.FilterMessage("workflow started").All()[0].LoggerName)
}
