package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/solvd/internal/solve"
	"go.uber.org/zap"
)

const runColumns = `id, solve_id, ordinal, model, temperature, max_edits, evolution, status,
	sandbox_id, branch_name, tests_passed, pr_url, files_changed, loc_changed, latency_ms,
	diagnostics, error_message, started_at, completed_at, created_at, updated_at`

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryRuns(ctx context.Context, q querier, solveID string) ([]solve.Run, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+runColumns+` FROM solve_runs WHERE solve_id = ? ORDER BY ordinal`, solveID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []solve.Run{}
	for rows.Next() {
		var (
			r                           solve.Run
			status                      string
			sandboxID, prURL            sql.NullString
			passed, files, loc, latency sql.NullInt64
			startedAt, completedAt      sql.NullString
			createdAt, updatedAt        string
		)
		if err := rows.Scan(&r.ID, &r.SolveID, &r.Ordinal, &r.Model, &r.Temperature, &r.MaxEdits, &r.Evolution,
			&status, &sandboxID, &r.BranchName, &passed, &prURL, &files, &loc, &latency,
			&r.Diagnostics, &r.ErrorMessage, &startedAt, &completedAt, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		r.Status = solve.Status(status)
		r.SandboxID = nullString(sandboxID)
		r.PRURL = nullString(prURL)
		r.TestsPassed = nullBool(passed)
		r.FilesChanged = nullInt(files)
		r.LOCChanged = nullInt(loc)
		r.LatencyMS = nullInt64(latency)
		r.StartedAt = parseNullTime(startedAt)
		r.CompletedAt = parseNullTime(completedAt)
		r.CreatedAt = parseTime(createdAt)
		r.UpdatedAt = parseTime(updatedAt)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ListRuns returns the runs of a solve ordered by ordinal.
func (s *Store) ListRuns(ctx context.Context, solveID string) ([]solve.Run, error) {
	runs, err := queryRuns(ctx, s.db, solveID)
	if err != nil {
		return nil, solve.Wrap(solve.KindPersistence, "list_runs", err)
	}
	return runs, nil
}

// UpdateRun applies patch to one run in its own transaction. Terminal runs
// are immutable. A run that is missing or already terminal is logged and
// skipped, never reported as an error: only the run's own task writes it.
func (s *Store) UpdateRun(ctx context.Context, runID string, patch solve.RunPatch) error {
	if patch.Empty() {
		return nil
	}

	sets, args := runAssignments(patch)
	sets = append(sets, "updated_at = ?")
	args = append(args, s.timestamp(), runID, string(solve.StatusCompleted), string(solve.StatusFailed))

	query := `UPDATE solve_runs SET ` + strings.Join(sets, ", ") + ` WHERE id = ? AND status NOT IN (?, ?)`

	return s.withTx(ctx, "update_run", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			s.logger.Warn(ctx, "update_run skipped: run missing or already terminal", zap.String("run.id", runID))
		}
		return nil
	})
}

func runAssignments(p solve.RunPatch) ([]string, []any) {
	var (
		sets []string
		args []any
	)
	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}

	if p.Status != nil {
		add("status", string(*p.Status))
	}
	if p.SandboxID != nil {
		add("sandbox_id", *p.SandboxID)
	}
	if p.BranchName != nil {
		add("branch_name", *p.BranchName)
	}
	if p.TestsPassed != nil {
		add("tests_passed", boolInt(*p.TestsPassed))
	}
	if p.PRURL != nil {
		add("pr_url", *p.PRURL)
	}
	if p.FilesChanged != nil {
		add("files_changed", *p.FilesChanged)
	}
	if p.LOCChanged != nil {
		add("loc_changed", *p.LOCChanged)
	}
	if p.LatencyMS != nil {
		add("latency_ms", *p.LatencyMS)
	}
	if p.Diagnostics != nil {
		add("diagnostics", *p.Diagnostics)
	}
	if p.ErrorMessage != nil {
		add("error_message", *p.ErrorMessage)
	}
	if p.StartedAt != nil {
		add("started_at", formatTime(*p.StartedAt))
	}
	if p.CompletedAt != nil {
		add("completed_at", formatTime(*p.CompletedAt))
	}
	return sets, args
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// GetRun loads a single run.
func (s *Store) GetRun(ctx context.Context, runID string) (*solve.Run, error) {
	var solveID string
	err := s.db.QueryRowContext(ctx, `SELECT solve_id FROM solve_runs WHERE id = ?`, runID).Scan(&solveID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, solve.ErrNotFound)
	}
	if err != nil {
		return nil, solve.Wrap(solve.KindPersistence, "get_run", err)
	}
	runs, err := s.ListRuns(ctx, solveID)
	if err != nil {
		return nil, err
	}
	for i := range runs {
		if runs[i].ID == runID {
			return &runs[i], nil
		}
	}
	return nil, fmt.Errorf("run %s: %w", runID, solve.ErrNotFound)
}
