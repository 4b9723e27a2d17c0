package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fyrsmithlabs/solvd/internal/logging"
	"github.com/fyrsmithlabs/solvd/internal/matrix"
	"github.com/fyrsmithlabs/solvd/internal/solve"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func newTestStore(t *testing.T, opts ...Option) (*Store, *logging.TestLogger) {
	t.Helper()
	logger := logging.NewTestLogger()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "solvd.db"), logger.Logger, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, logger
}

func testMatrix() matrix.ExperimentMatrix {
	return matrix.ExperimentMatrix{
		Models:              []string{"a", "b"},
		Temperatures:        []float64{0.1},
		MaxEditBudgets:      []int{5},
		EvolutionStrategies: []string{"x"},
	}
}

func createSolve(t *testing.T, s *Store, owner string) *solve.Solve {
	t.Helper()
	sv := &solve.Solve{
		Owner:       owner,
		RepoURL:     "https://github.com/acme/widgets",
		IssueNumber: 42,
		BaseBranch:  "main",
		Matrix:      testMatrix(),
		Limits:      solve.Limits{MaxParallel: 1, TimeBudgetS: 600},
		RequestedBy: "alice",
	}
	require.NoError(t, s.CreateSolve(context.Background(), sv))
	return sv
}

func bootstrap(t *testing.T, s *Store, sv *solve.Solve) []solve.Run {
	t.Helper()
	configs, err := matrix.Expand(sv.Matrix)
	require.NoError(t, err)
	runs, err := s.Bootstrap(context.Background(), sv.ID, configs, sv.Limits)
	require.NoError(t, err)
	return runs
}

func finish(t *testing.T, s *Store, runID string, passed bool, files, loc int) {
	t.Helper()
	status := solve.StatusFailed
	if passed {
		status = solve.StatusCompleted
	}
	require.NoError(t, s.UpdateRun(context.Background(), runID, solve.RunPatch{
		Status:       solve.Ptr(status),
		TestsPassed:  solve.Ptr(passed),
		FilesChanged: solve.Ptr(files),
		LOCChanged:   solve.Ptr(loc),
		LatencyMS:    solve.Ptr[int64](100),
		CompletedAt:  solve.Ptr(time.Now()),
	}))
}

func TestCreateAndGetSolve(t *testing.T) {
	s, _ := newTestStore(t)
	sv := createSolve(t, s, "owner-1")

	got, err := s.GetSolve(context.Background(), sv.ID)
	require.NoError(t, err)
	assert.Equal(t, solve.StatusPending, got.Status)
	assert.Equal(t, testMatrix(), got.Matrix)
	assert.Equal(t, 42, got.IssueNumber)
	assert.Equal(t, "alice", got.RequestedBy)
	assert.Nil(t, got.ChampionRunID)
	assert.Nil(t, got.StartedAt)

	_, err = s.GetSolve(context.Background(), "missing")
	assert.ErrorIs(t, err, solve.ErrNotFound)
}

func TestGetSolveForOwner_HidesOtherOwners(t *testing.T) {
	s, _ := newTestStore(t)
	sv := createSolve(t, s, "owner-1")

	_, err := s.GetSolveForOwner(context.Background(), sv.ID, "owner-2")
	assert.ErrorIs(t, err, solve.ErrNotFound)

	got, err := s.GetSolveForOwner(context.Background(), sv.ID, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, sv.ID, got.ID)
}

func TestListSolves_NewestFirstPerOwner(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s, _ := newTestStore(t, WithClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}))

	first := createSolve(t, s, "owner-1")
	second := createSolve(t, s, "owner-1")
	createSolve(t, s, "owner-2")

	list, err := s.ListSolves(context.Background(), "owner-1", 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)
}

func TestBootstrap(t *testing.T) {
	s, _ := newTestStore(t)
	sv := createSolve(t, s, "owner-1")

	runs := bootstrap(t, s, sv)
	require.Len(t, runs, 2)

	got, err := s.GetSolve(context.Background(), sv.ID)
	require.NoError(t, err)
	assert.Equal(t, solve.StatusRunning, got.Status)
	assert.NotNil(t, got.StartedAt)

	stored, err := s.ListRuns(context.Background(), sv.ID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	for i, r := range stored {
		assert.Equal(t, i, r.Ordinal)
		assert.Equal(t, solve.StatusPending, r.Status)
		assert.Nil(t, r.TestsPassed)
	}
	assert.Equal(t, "a", stored[0].Model)
	assert.Equal(t, "b", stored[1].Model)
}

func TestBootstrap_OnlyOnce(t *testing.T) {
	s, _ := newTestStore(t)
	sv := createSolve(t, s, "owner-1")
	configs, err := matrix.Expand(sv.Matrix)
	require.NoError(t, err)

	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Bootstrap(context.Background(), sv.ID, configs, sv.Limits)
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrAlreadyBootstrapped)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	runs, err := s.ListRuns(context.Background(), sv.ID)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestBootstrap_MissingSolve(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Bootstrap(context.Background(), "nope", nil, solve.Limits{})
	assert.ErrorIs(t, err, solve.ErrNotFound)
}

func TestUpdateRun_MissingRowIsLoggedNotRaised(t *testing.T) {
	s, logger := newTestStore(t)

	err := s.UpdateRun(context.Background(), "ghost", solve.RunPatch{Status: solve.Ptr(solve.StatusRunning)})
	require.NoError(t, err)
	logger.AssertLogged(t, zapcore.WarnLevel, "update_run skipped")
}

func TestUpdateRun_TerminalRunIsImmutable(t *testing.T) {
	s, logger := newTestStore(t)
	sv := createSolve(t, s, "owner-1")
	runs := bootstrap(t, s, sv)

	require.NoError(t, s.UpdateRun(context.Background(), runs[0].ID, solve.RunPatch{
		Status:    solve.Ptr(solve.StatusRunning),
		SandboxID: solve.Ptr("sbx-1"),
	}))
	finish(t, s, runs[0].ID, true, 1, 2)
	require.NoError(t, s.UpdateRun(context.Background(), runs[0].ID, solve.RunPatch{
		Status:       solve.Ptr(solve.StatusFailed),
		ErrorMessage: solve.Ptr("late write"),
	}))

	got, err := s.GetRun(context.Background(), runs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, solve.StatusCompleted, got.Status)
	assert.Equal(t, "sbx-1", *got.SandboxID)
	assert.Empty(t, got.ErrorMessage)
	assert.True(t, got.Passed())
	logger.AssertLogged(t, zapcore.WarnLevel, "update_run skipped")
}

func TestFinalize_Completed(t *testing.T) {
	s, _ := newTestStore(t)
	sv := createSolve(t, s, "owner-1")
	runs := bootstrap(t, s, sv)

	finish(t, s, runs[0].ID, true, 3, 30)
	finish(t, s, runs[1].ID, true, 1, 10)

	got, err := s.Finalize(context.Background(), sv.ID)
	require.NoError(t, err)
	assert.Equal(t, solve.StatusCompleted, got.Status)
	require.NotNil(t, got.ChampionRunID)
	assert.Equal(t, runs[1].ID, *got.ChampionRunID)
	assert.NotNil(t, got.CompletedAt)
	assert.Empty(t, got.ErrorMessage)
}

func TestFinalize_NoPassingRun(t *testing.T) {
	s, _ := newTestStore(t)
	sv := createSolve(t, s, "owner-1")
	runs := bootstrap(t, s, sv)

	finish(t, s, runs[0].ID, false, 1, 1)
	finish(t, s, runs[1].ID, false, 0, 0)

	got, err := s.Finalize(context.Background(), sv.ID)
	require.NoError(t, err)
	assert.Equal(t, solve.StatusFailed, got.Status)
	assert.Nil(t, got.ChampionRunID)
	assert.Equal(t, NoChampionMessage, got.ErrorMessage)
}

func TestFinalize_RefusesRunsInFlight(t *testing.T) {
	s, _ := newTestStore(t)
	sv := createSolve(t, s, "owner-1")
	runs := bootstrap(t, s, sv)
	finish(t, s, runs[0].ID, true, 1, 1)

	_, err := s.Finalize(context.Background(), sv.ID)
	assert.ErrorIs(t, err, ErrRunsInFlight)

	got, err := s.GetSolve(context.Background(), sv.ID)
	require.NoError(t, err)
	assert.Equal(t, solve.StatusRunning, got.Status)
}

func TestMarkFailed(t *testing.T) {
	s, _ := newTestStore(t)
	sv := createSolve(t, s, "owner-1")

	require.NoError(t, s.MarkFailed(context.Background(), sv.ID, "matrix axis is empty: models"))

	got, err := s.GetSolve(context.Background(), sv.ID)
	require.NoError(t, err)
	assert.Equal(t, solve.StatusFailed, got.Status)
	assert.Equal(t, "matrix axis is empty: models", got.ErrorMessage)
	assert.NotNil(t, got.CompletedAt)

	// Terminal solves are left alone.
	require.NoError(t, s.MarkFailed(context.Background(), sv.ID, "second"))
	got, err = s.GetSolve(context.Background(), sv.ID)
	require.NoError(t, err)
	assert.Equal(t, "matrix axis is empty: models", got.ErrorMessage)
}

func TestFailOpenRuns(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	sv := createSolve(t, s, "owner-1")

	_, err := s.FailOpenRuns(ctx, sv.ID, "lost")
	assert.ErrorIs(t, err, ErrNotRunning)
	_, err = s.FailOpenRuns(ctx, "missing", "lost")
	assert.ErrorIs(t, err, solve.ErrNotFound)

	runs := bootstrap(t, s, sv)
	finish(t, s, runs[0].ID, true, 1, 2)

	_, err = s.Finalize(ctx, sv.ID)
	require.ErrorIs(t, err, ErrRunsInFlight)

	n, err := s.FailOpenRuns(ctx, sv.ID, "lost")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	kept, err := s.GetRun(ctx, runs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, solve.StatusCompleted, kept.Status)
	closed, err := s.GetRun(ctx, runs[1].ID)
	require.NoError(t, err)
	assert.Equal(t, solve.StatusFailed, closed.Status)
	assert.Equal(t, "lost", closed.ErrorMessage)

	final, err := s.Finalize(ctx, sv.ID)
	require.NoError(t, err)
	assert.Equal(t, solve.StatusCompleted, final.Status)
	require.NotNil(t, final.ChampionRunID)
	assert.Equal(t, runs[0].ID, *final.ChampionRunID)
}

func TestFailInterruptedAndPending(t *testing.T) {
	s, _ := newTestStore(t)
	running := createSolve(t, s, "owner-1")
	runs := bootstrap(t, s, running)
	pending := createSolve(t, s, "owner-1")

	n, err := s.FailInterrupted(context.Background(), "interrupted")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetSolve(context.Background(), running.ID)
	require.NoError(t, err)
	assert.Equal(t, solve.StatusFailed, got.Status)

	run, err := s.GetRun(context.Background(), runs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, solve.StatusFailed, run.Status)
	assert.Equal(t, "interrupted", run.ErrorMessage)

	ids, err := s.PendingSolveIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{pending.ID}, ids)
}

func TestCredentials(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.ResolveCredential(ctx, "owner-1")
	assert.ErrorIs(t, err, ErrNoCredential)

	require.NoError(t, s.SaveCredential(ctx, solve.Credential{Owner: "owner-1", Token: "ghp_first"}))
	require.NoError(t, s.SaveCredential(ctx, solve.Credential{Owner: "owner-1", Token: "ghp_second"}))

	cred, err := s.ResolveCredential(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, "ghp_second", cred.Token.Value())
	assert.Equal(t, ProviderGitHub, cred.Provider)
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "solvd.db")

	s, err := Open(context.Background(), path, nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(context.Background(), path, nil)
	require.NoError(t, err)
	defer s.Close()

	v, err := schemaVersion(context.Background(), s.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, v)
}
