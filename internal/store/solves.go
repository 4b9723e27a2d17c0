package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/solvd/internal/champion"
	"github.com/fyrsmithlabs/solvd/internal/matrix"
	"github.com/fyrsmithlabs/solvd/internal/solve"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const solveColumns = `id, owner, repo_url, issue_number, base_branch, status, matrix,
	max_parallel, time_budget_s, champion_run_id, error_message, requested_by,
	started_at, completed_at, created_at, updated_at`

// NoChampionMessage is recorded on a solve whose runs all failed.
const NoChampionMessage = "no candidate passed tests"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSolve(row rowScanner) (*solve.Solve, error) {
	var (
		sv                     solve.Solve
		status, matrixJSON     string
		champion               sql.NullString
		startedAt, completedAt sql.NullString
		createdAt, updatedAt   string
	)
	err := row.Scan(&sv.ID, &sv.Owner, &sv.RepoURL, &sv.IssueNumber, &sv.BaseBranch, &status, &matrixJSON,
		&sv.Limits.MaxParallel, &sv.Limits.TimeBudgetS, &champion, &sv.ErrorMessage, &sv.RequestedBy,
		&startedAt, &completedAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(matrixJSON), &sv.Matrix); err != nil {
		return nil, fmt.Errorf("decode matrix of solve %s: %w", sv.ID, err)
	}
	sv.Status = solve.Status(status)
	sv.ChampionRunID = nullString(champion)
	sv.StartedAt = parseNullTime(startedAt)
	sv.CompletedAt = parseNullTime(completedAt)
	sv.CreatedAt = parseTime(createdAt)
	sv.UpdatedAt = parseTime(updatedAt)
	return &sv, nil
}

// CreateSolve inserts sv as PENDING, assigning an id when it has none.
func (s *Store) CreateSolve(ctx context.Context, sv *solve.Solve) error {
	if sv.ID == "" {
		sv.ID = uuid.NewString()
	}
	matrixJSON, err := json.Marshal(sv.Matrix)
	if err != nil {
		return fmt.Errorf("encode matrix: %w", err)
	}

	now := s.now()
	sv.Status = solve.StatusPending
	sv.CreatedAt, sv.UpdatedAt = now, now

	return s.withTx(ctx, "create_solve", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO solves
			(id, owner, repo_url, issue_number, base_branch, status, matrix, max_parallel, time_budget_s,
			 requested_by, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sv.ID, sv.Owner, sv.RepoURL, sv.IssueNumber, sv.BaseBranch, string(sv.Status), string(matrixJSON),
			sv.Limits.MaxParallel, sv.Limits.TimeBudgetS, sv.RequestedBy, formatTime(now), formatTime(now))
		return err
	})
}

// GetSolve loads one solve by id.
func (s *Store) GetSolve(ctx context.Context, id string) (*solve.Solve, error) {
	sv, err := scanSolve(s.db.QueryRowContext(ctx, `SELECT `+solveColumns+` FROM solves WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("solve %s: %w", id, solve.ErrNotFound)
	}
	if err != nil {
		return nil, solve.Wrap(solve.KindPersistence, "get_solve", err)
	}
	return sv, nil
}

// GetSolveForOwner loads a solve only if owner owns it. Solves of other
// owners are reported as not found.
func (s *Store) GetSolveForOwner(ctx context.Context, id, owner string) (*solve.Solve, error) {
	sv, err := s.GetSolve(ctx, id)
	if err != nil {
		return nil, err
	}
	if sv.Owner != owner {
		return nil, fmt.Errorf("solve %s: %w", id, solve.ErrNotFound)
	}
	return sv, nil
}

// ListSolves returns owner's solves, newest first.
func (s *Store) ListSolves(ctx context.Context, owner string, limit int) ([]solve.Solve, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+solveColumns+` FROM solves
		WHERE owner = ? ORDER BY created_at DESC, id LIMIT ?`, owner, limit)
	if err != nil {
		return nil, solve.Wrap(solve.KindPersistence, "list_solves", err)
	}
	defer rows.Close()

	solves := []solve.Solve{}
	for rows.Next() {
		sv, err := scanSolve(rows)
		if err != nil {
			return nil, solve.Wrap(solve.KindPersistence, "list_solves", err)
		}
		solves = append(solves, *sv)
	}
	return solves, rows.Err()
}

// Bootstrap moves a PENDING solve to RUNNING, stamps its limits and
// inserts one PENDING run per config, all in one transaction.
func (s *Store) Bootstrap(ctx context.Context, solveID string, configs []matrix.ExperimentConfig, limits solve.Limits) ([]solve.Run, error) {
	var runs []solve.Run

	err := s.withTx(ctx, "bootstrap", func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx, `SELECT status FROM solves WHERE id = ?`, solveID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("solve %s: %w", solveID, solve.ErrNotFound)
		}
		if err != nil {
			return err
		}
		if solve.Status(status) != solve.StatusPending {
			return fmt.Errorf("solve %s is %s: %w", solveID, status, ErrAlreadyBootstrapped)
		}

		now := s.now()
		ts := formatTime(now)
		if _, err := tx.ExecContext(ctx, `UPDATE solves
			SET status = ?, max_parallel = ?, time_budget_s = ?, started_at = ?, updated_at = ?
			WHERE id = ?`,
			string(solve.StatusRunning), limits.MaxParallel, limits.TimeBudgetS, ts, ts, solveID); err != nil {
			return err
		}

		runs = make([]solve.Run, 0, len(configs))
		for _, cfg := range configs {
			r := solve.Run{
				ID:               uuid.NewString(),
				SolveID:          solveID,
				ExperimentConfig: cfg,
				Status:           solve.StatusPending,
				CreatedAt:        now,
				UpdatedAt:        now,
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO solve_runs
				(id, solve_id, ordinal, model, temperature, max_edits, evolution, status, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				r.ID, solveID, cfg.Ordinal, cfg.Model, cfg.Temperature, cfg.MaxEdits, cfg.Evolution,
				string(r.Status), ts, ts); err != nil {
				return fmt.Errorf("insert run %d: %w", cfg.Ordinal, err)
			}
			runs = append(runs, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return runs, nil
}

// Finalize selects the champion among the solve's runs and moves the solve
// to COMPLETED, or to FAILED when no run passed. All runs must be terminal.
func (s *Store) Finalize(ctx context.Context, solveID string) (*solve.Solve, error) {
	err := s.withTx(ctx, "finalize", func(tx *sql.Tx) error {
		runs, err := queryRuns(ctx, tx, solveID)
		if err != nil {
			return err
		}
		for _, r := range runs {
			if !r.Status.IsTerminal() {
				return fmt.Errorf("run %s is %s: %w", r.ID, r.Status, ErrRunsInFlight)
			}
		}

		status, championID, message := solve.StatusFailed, sql.NullString{}, NoChampionMessage
		if best := champion.Select(runs); best != nil {
			status, championID, message = solve.StatusCompleted, sql.NullString{String: best.ID, Valid: true}, ""
		}

		ts := s.timestamp()
		res, err := tx.ExecContext(ctx, `UPDATE solves
			SET status = ?, champion_run_id = ?, error_message = ?, completed_at = ?, updated_at = ?
			WHERE id = ? AND status = ?`,
			string(status), championID, message, ts, ts, solveID, string(solve.StatusRunning))
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("solve %s: %w", solveID, ErrNotRunning)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetSolve(ctx, solveID)
}

// MarkFailed moves a non-terminal solve to FAILED with message. Runs that
// are still open are failed with it.
func (s *Store) MarkFailed(ctx context.Context, solveID, message string) error {
	return s.withTx(ctx, "mark_failed", func(tx *sql.Tx) error {
		ts := s.timestamp()
		res, err := tx.ExecContext(ctx, `UPDATE solves
			SET status = ?, error_message = ?, champion_run_id = NULL, completed_at = ?, updated_at = ?
			WHERE id = ? AND status IN (?, ?)`,
			string(solve.StatusFailed), message, ts, ts, solveID,
			string(solve.StatusPending), string(solve.StatusRunning))
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			s.logger.Warn(ctx, "mark_failed skipped: solve missing or already terminal", zap.String("solve.id", solveID))
			return nil
		}
		_, err = failOpenRuns(ctx, tx, solveID, message, ts)
		return err
	})
}

// FailOpenRuns fails the PENDING and RUNNING runs of a RUNNING solve and
// returns how many it touched. The orchestrator calls it once every run
// task has returned, so an open run is one whose terminal write was lost.
func (s *Store) FailOpenRuns(ctx context.Context, solveID, message string) (int, error) {
	var n int64
	err := s.withTx(ctx, "fail_open_runs", func(tx *sql.Tx) error {
		var status string
		if err := tx.QueryRowContext(ctx, `SELECT status FROM solves WHERE id = ?`, solveID).Scan(&status); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("solve %s: %w", solveID, solve.ErrNotFound)
			}
			return err
		}
		if solve.Status(status) != solve.StatusRunning {
			return fmt.Errorf("solve %s is %s: %w", solveID, status, ErrNotRunning)
		}
		var err error
		n, err = failOpenRuns(ctx, tx, solveID, message, s.timestamp())
		return err
	})
	return int(n), err
}

func failOpenRuns(ctx context.Context, tx *sql.Tx, solveID, message, ts string) (int64, error) {
	res, err := tx.ExecContext(ctx, `UPDATE solve_runs
		SET status = ?, error_message = ?, completed_at = ?, updated_at = ?
		WHERE solve_id = ? AND status IN (?, ?)`,
		string(solve.StatusFailed), message, ts, ts, solveID,
		string(solve.StatusPending), string(solve.StatusRunning))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// FailInterrupted fails every RUNNING solve. It is called at startup, when
// no pipeline of this process can still be alive.
func (s *Store) FailInterrupted(ctx context.Context, message string) (int, error) {
	ids, err := s.solveIDsWithStatus(ctx, solve.StatusRunning)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if err := s.MarkFailed(ctx, id, message); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

// PendingSolveIDs lists solves accepted but never bootstrapped, oldest first.
func (s *Store) PendingSolveIDs(ctx context.Context) ([]string, error) {
	return s.solveIDsWithStatus(ctx, solve.StatusPending)
}

func (s *Store) solveIDsWithStatus(ctx context.Context, status solve.Status) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM solves WHERE status = ? ORDER BY created_at`, string(status))
	if err != nil {
		return nil, solve.Wrap(solve.KindPersistence, "list_by_status", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
