// Package store persists solves, runs and caller credentials in SQLite.
//
// Every exported method is its own short unit of work: it opens a
// transaction, touches only the database and commits. No method spans
// sandbox or network I/O, so long pipelines never hold a transaction.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fyrsmithlabs/solvd/internal/logging"
	"github.com/fyrsmithlabs/solvd/internal/solve"

	_ "modernc.org/sqlite" // SQLite driver
)

var (
	// ErrAlreadyBootstrapped is returned when Bootstrap finds the solve
	// past PENDING.
	ErrAlreadyBootstrapped = errors.New("solve already bootstrapped")
	// ErrRunsInFlight is returned when Finalize finds a non-terminal run.
	ErrRunsInFlight = errors.New("solve has runs that are not terminal")
	// ErrNotRunning is returned when Finalize targets a solve that is not RUNNING.
	ErrNotRunning = errors.New("solve is not running")
	// ErrNoCredential is returned when no forge token is stored for an owner.
	ErrNoCredential = errors.New("no credential for owner")
)

// Store is the SQLite-backed persistence gateway.
type Store struct {
	db     *sql.DB
	logger *logging.Logger
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens (creating if needed) the database at path and migrates it.
//
// BEGIN IMMEDIATE (_txlock=immediate) takes the write lock when a
// transaction starts, which serializes concurrent bootstraps of one solve.
func Open(ctx context.Context, path string, logger *logging.Logger, opts ...Option) (*Store, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_txlock=immediate",
		path,
	)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite has a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s := &Store{db: db, logger: logger.Named("store"), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// withTx runs fn in one transaction, committing on nil and rolling back
// otherwise. Database failures are classified as persistence errors.
func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return solve.Wrap(solve.KindPersistence, op, fmt.Errorf("begin: %w", err))
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		if isDomainError(err) {
			return err
		}
		return solve.Wrap(solve.KindPersistence, op, err)
	}
	if err := tx.Commit(); err != nil {
		return solve.Wrap(solve.KindPersistence, op, fmt.Errorf("commit: %w", err))
	}
	return nil
}

func isDomainError(err error) bool {
	for _, target := range []error{
		solve.ErrNotFound, ErrAlreadyBootstrapped, ErrRunsInFlight, ErrNotRunning, ErrNoCredential,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (s *Store) timestamp() string {
	return formatTime(s.now())
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, v)
	return t
}

func parseNullTime(v sql.NullString) *time.Time {
	if !v.Valid || v.String == "" {
		return nil
	}
	t := parseTime(v.String)
	return &t
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func nullInt64(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}

func nullBool(v sql.NullInt64) *bool {
	if !v.Valid {
		return nil
	}
	b := v.Int64 != 0
	return &b
}
