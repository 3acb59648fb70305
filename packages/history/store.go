package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/ledger"
	"github.com/abdul-hamid-achik/hitsuite/packages/core/runner"

	// SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when no run matches an ID.
var ErrNotFound = errors.New("run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id              TEXT PRIMARY KEY,
	suite           TEXT NOT NULL,
	source          TEXT NOT NULL DEFAULT '',
	started         INTEGER NOT NULL,
	duration_ms     INTEGER NOT NULL,
	passed          INTEGER NOT NULL,
	failed          INTEGER NOT NULL,
	skipped         INTEGER NOT NULL,
	config_failures INTEGER NOT NULL,
	timed_out       INTEGER NOT NULL DEFAULT 0,
	bailed          INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS runs_suite_started ON runs (suite, started);
CREATE TABLE IF NOT EXISTS unit_results (
	run_id      TEXT NOT NULL,
	unit        TEXT NOT NULL,
	config      TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	cause       TEXT NOT NULL DEFAULT '',
	invocations INTEGER NOT NULL,
	attempts    INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, unit)
);
CREATE INDEX IF NOT EXISTS unit_results_unit ON unit_results (unit);
`

// Run is the stored summary of one suite execution.
type Run struct {
	ID             string
	Suite          string
	Source         string
	Started        time.Time
	Duration       time.Duration
	Passed         int
	Failed         int
	Skipped        int
	ConfigFailures int
	TimedOut       bool
	Bailed         bool
}

// OK reports whether the run had no failures.
func (r *Run) OK() bool {
	return r.Failed == 0 && r.ConfigFailures == 0
}

// UnitRecord is the stored aggregate of one unit within a run.
type UnitRecord struct {
	RunID       string
	Unit        string
	Config      string
	Status      string
	Cause       string
	Invocations int
	Attempts    int
	Duration    time.Duration
	Error       string
	Started     time.Time // start of the owning run, filled by UnitHistory
}

// Store keeps run history in a SQLite database.
type Store struct {
	db           *sql.DB
	path         string
	queryTimeout time.Duration
}

// Open opens (creating if needed) the history database at path. Both
// plain paths and sqlite:// or sqlite: URLs are accepted.
func Open(path string) (*Store, error) {
	dsn := parseDSN(path)
	if dsn == "" {
		return nil, fmt.Errorf("history database path is empty")
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to history database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create history schema: %w", err)
	}

	return &Store{db: db, path: dsn, queryTimeout: 30 * time.Second}, nil
}

// parseDSN strips the sqlite:// and sqlite: prefixes.
func parseDSN(path string) string {
	path = strings.TrimSpace(path)
	if strings.HasPrefix(path, "sqlite://") {
		return strings.TrimPrefix(path, "sqlite://")
	}
	return strings.TrimPrefix(path, "sqlite:")
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the database file in use.
func (s *Store) Path() string {
	return s.path
}

// Save stores result and the aggregate of each of its units in a single
// transaction.
func (s *Store) Save(ctx context.Context, result *runner.RunResult) error {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `INSERT INTO runs
		(id, suite, source, started, duration_ms, passed, failed, skipped, config_failures, timed_out, bailed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.RunID, result.Suite.Name, result.Suite.Source, result.Started.UnixNano(),
		result.Duration.Milliseconds(), result.Passed, result.Failed, result.Skipped,
		result.ConfigFailures, result.TimedOut, result.Bailed)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", result.RunID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO unit_results
		(run_id, unit, config, status, cause, invocations, attempts, duration_ms, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare unit insert: %w", err)
	}
	defer stmt.Close()

	for _, ur := range result.Units {
		o := ur.Outcome
		var msg string
		if o.Err != nil {
			msg = o.Err.Error()
		}
		_, err := stmt.ExecContext(ctx, result.RunID, ur.Unit.ID(), string(ur.Unit.Config),
			string(o.Status), string(o.Cause), len(ledger.Finals(ur.Attempts)), len(ur.Attempts),
			o.Duration().Milliseconds(), msg)
		if err != nil {
			return fmt.Errorf("failed to save unit %s: %w", ur.Unit.ID(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run %s: %w", result.RunID, err)
	}
	return nil
}

const runColumns = `id, suite, source, started, duration_ms, passed, failed, skipped, config_failures, timed_out, bailed`

func scanRun(row interface{ Scan(...any) error }) (*Run, error) {
	var r Run
	var started, durationMS int64
	if err := row.Scan(&r.ID, &r.Suite, &r.Source, &started, &durationMS,
		&r.Passed, &r.Failed, &r.Skipped, &r.ConfigFailures, &r.TimedOut, &r.Bailed); err != nil {
		return nil, err
	}
	r.Started = time.Unix(0, started)
	r.Duration = time.Duration(durationMS) * time.Millisecond
	return &r, nil
}

// Recent returns up to limit runs, newest first. An empty suite matches
// every suite.
func (s *Store) Recent(ctx context.Context, suiteName string, limit int) ([]*Run, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs
		WHERE (? = '' OR suite = ?)
		ORDER BY started DESC LIMIT ?`, suiteName, suiteName, limit)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return runs, nil
}

// Previous returns the latest run of suiteName that started before t, or
// nil when there is none.
func (s *Store) Previous(ctx context.Context, suiteName string, t time.Time) (*Run, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs
		WHERE suite = ? AND started < ?
		ORDER BY started DESC LIMIT 1`, suiteName, t.UnixNano())
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	return r, nil
}

// Get returns a run and its unit records. id may be any unique prefix of a
// run ID.
func (s *Store) Get(ctx context.Context, id string) (*Run, []*UnitRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	if id == "" {
		return nil, nil, ErrNotFound
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs
		WHERE substr(id, 1, ?) = ? LIMIT 2`, len(id), id)
	if err != nil {
		return nil, nil, fmt.Errorf("query failed: %w", err)
	}
	var matches []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			rows.Close()
			return nil, nil, fmt.Errorf("failed to scan row: %w", err)
		}
		matches = append(matches, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("row iteration error: %w", err)
	}

	switch len(matches) {
	case 0:
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	case 1:
	default:
		return nil, nil, fmt.Errorf("run ID prefix %q is ambiguous", id)
	}

	run := matches[0]
	units, err := s.units(ctx, `WHERE u.run_id = ? ORDER BY u.rowid`, run.ID)
	if err != nil {
		return nil, nil, err
	}
	return run, units, nil
}

// UnitHistory returns the latest limit records of one unit across runs of
// suiteName, newest first.
func (s *Store) UnitHistory(ctx context.Context, suiteName, unit string, limit int) ([]*UnitRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	if limit <= 0 {
		limit = -1
	}
	return s.units(ctx, `WHERE r.suite = ? AND u.unit = ? ORDER BY r.started DESC LIMIT ?`, suiteName, unit, limit)
}

func (s *Store) units(ctx context.Context, where string, args ...any) ([]*UnitRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT u.run_id, u.unit, u.config, u.status, u.cause,
		u.invocations, u.attempts, u.duration_ms, u.error, r.started
		FROM unit_results u JOIN runs r ON r.id = u.run_id `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var records []*UnitRecord
	for rows.Next() {
		var rec UnitRecord
		var durationMS, started int64
		if err := rows.Scan(&rec.RunID, &rec.Unit, &rec.Config, &rec.Status, &rec.Cause,
			&rec.Invocations, &rec.Attempts, &durationMS, &rec.Error, &started); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		rec.Started = time.Unix(0, started)
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return records, nil
}

// Prune deletes runs that started before t and returns how many went.
func (s *Store) Prune(ctx context.Context, t time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM unit_results
		WHERE run_id IN (SELECT id FROM runs WHERE started < ?)`, t.UnixNano()); err != nil {
		return 0, fmt.Errorf("failed to prune unit results: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE started < ?`, t.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, tx.Commit()
}
