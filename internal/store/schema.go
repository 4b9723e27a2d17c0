package store

import (
	"context"
	"database/sql"
	"fmt"
)

// CurrentSchemaVersion is the schema version this binary writes.
const CurrentSchemaVersion = 1

var schemaV1 = []string{
	`CREATE TABLE IF NOT EXISTS solves (
		id              TEXT PRIMARY KEY,
		owner           TEXT NOT NULL,
		repo_url        TEXT NOT NULL,
		issue_number    INTEGER NOT NULL,
		base_branch     TEXT NOT NULL,
		status          TEXT NOT NULL CHECK (status IN ('PENDING','RUNNING','COMPLETED','FAILED')),
		matrix          TEXT NOT NULL,
		max_parallel    INTEGER NOT NULL,
		time_budget_s   INTEGER NOT NULL,
		champion_run_id TEXT,
		error_message   TEXT NOT NULL DEFAULT '',
		requested_by    TEXT NOT NULL DEFAULT '',
		started_at      TEXT,
		completed_at    TEXT,
		created_at      TEXT NOT NULL,
		updated_at      TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_solves_owner_created ON solves(owner, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_solves_status ON solves(status)`,
	`CREATE TABLE IF NOT EXISTS solve_runs (
		id            TEXT PRIMARY KEY,
		solve_id      TEXT NOT NULL REFERENCES solves(id) ON DELETE CASCADE,
		ordinal       INTEGER NOT NULL,
		model         TEXT NOT NULL,
		temperature   REAL NOT NULL,
		max_edits     INTEGER NOT NULL,
		evolution     TEXT NOT NULL,
		status        TEXT NOT NULL CHECK (status IN ('PENDING','RUNNING','COMPLETED','FAILED')),
		sandbox_id    TEXT,
		branch_name   TEXT NOT NULL DEFAULT '',
		tests_passed  INTEGER,
		pr_url        TEXT,
		files_changed INTEGER,
		loc_changed   INTEGER,
		latency_ms    INTEGER,
		diagnostics   TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		started_at    TEXT,
		completed_at  TEXT,
		created_at    TEXT NOT NULL,
		updated_at    TEXT NOT NULL,
		UNIQUE (solve_id, ordinal)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_solve_runs_solve ON solve_runs(solve_id, ordinal)`,
	`CREATE TABLE IF NOT EXISTS credentials (
		owner      TEXT NOT NULL,
		provider   TEXT NOT NULL,
		token      TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (owner, provider)
	)`,
}

// migrate brings the database to CurrentSchemaVersion.
func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version    INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	current, err := schemaVersion(ctx, db)
	if err != nil {
		return err
	}
	if current > CurrentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", current, CurrentSchemaVersion)
	}

	for version := current + 1; version <= CurrentSchemaVersion; version++ {
		if err := applyMigration(ctx, db, version); err != nil {
			return fmt.Errorf("migration to version %d failed: %w", version, err)
		}
	}
	return nil
}

func schemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_version`).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return int(version.Int64), nil
}

func applyMigration(ctx context.Context, db *sql.DB, version int) error {
	var stmts []string
	switch version {
	case 1:
		stmts = schemaV1
	default:
		return fmt.Errorf("unknown migration version: %d", version)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to execute %q: %w", firstLine(stmt), err)
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (?)`, version); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
