// Package runlog keeps a local history of processing runs.
//
// The history is an operator convenience (runs list, runs gc) and is never
// consulted for resume decisions: the CSV ledger published alongside the
// outputs remains the durable source of truth. The database lives under
// the app data directory; a nil *Store records nothing, so callers can
// leave the run log unconfigured without guarding every call.
package runlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const schemaVersion = 1

// State is the lifecycle state of a recorded run.
type State string

const (
	// StateRunning indicates the run is in progress.
	StateRunning State = "running"

	// StateCompleted indicates the run finished. Individual files may
	// still have failed; the counts carry that detail.
	StateCompleted State = "completed"

	// StateFailed indicates the run aborted on a fatal error.
	StateFailed State = "failed"

	// StateInterrupted indicates the run was cancelled before finishing.
	StateInterrupted State = "interrupted"
)

// Run is one recorded processing run.
type Run struct {
	RunID       string
	Fingerprint string
	Name        string
	Source      string
	Destination string
	Operation   string
	StartedAt   time.Time
	EndedAt     *time.Time
	State       State
	Counts      Counts
}

// Counts carries the per-run outcome counters.
type Counts struct {
	Discovered int64
	Planned    int64
	Completed  int64
	Failed     int64
	Skipped    int64
	Demoted    int64
}

// FileEvent is one per-file outcome within a run.
type FileEvent struct {
	Identity   string
	Status     string
	Result     string
	Error      string
	Duration   time.Duration
	OccurredAt time.Time
}

// Config configures the run log database.
type Config struct {
	// Path is the local filesystem path to the run log database.
	// Parent directories are created if needed.
	Path string
}

// Store is a SQLite-backed run history. The zero value is not usable;
// open one with Open. A nil Store is a valid no-op recorder.
type Store struct {
	db *sql.DB
}

// Open opens (and creates if needed) the run log database and ensures
// the schema is current.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping run log: %w", err)
	}
	if err := configureConn(ctx, db, dsn); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database. Safe on a nil Store.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buildDSN(cfg Config) (string, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return "", errors.New("run log path is required")
	}
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "file:") {
		return path, nil
	}

	dir := filepath.Dir(filepath.Clean(path))
	if dir != "." && dir != string(filepath.Separator) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create run log directory: %w", err)
		}
	}
	return "file:" + filepath.Clean(path), nil
}

func configureConn(ctx context.Context, db *sql.DB, dsn string) error {
	if dsn == ":memory:" {
		return nil
	}

	// Keep a single connection and use WAL to reduce lock contention.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var journalMode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	var busyTimeout int
	if err := db.QueryRowContext(ctx, "PRAGMA busy_timeout=5000").Scan(&busyTimeout); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	return nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	var current int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if current >= schemaVersion {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			fingerprint TEXT NOT NULL,
			name TEXT,
			source TEXT NOT NULL,
			destination TEXT NOT NULL,
			operation TEXT NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			state TEXT NOT NULL,
			discovered INTEGER NOT NULL DEFAULT 0,
			planned INTEGER NOT NULL DEFAULT 0,
			completed INTEGER NOT NULL DEFAULT 0,
			failed INTEGER NOT NULL DEFAULT 0,
			skipped INTEGER NOT NULL DEFAULT 0,
			demoted INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_fingerprint ON runs(fingerprint);`,

		`CREATE TABLE IF NOT EXISTS file_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			identity TEXT NOT NULL,
			status TEXT NOT NULL,
			result TEXT,
			error TEXT,
			duration_ns INTEGER NOT NULL DEFAULT 0,
			occurred_at TEXT NOT NULL,
			FOREIGN KEY(run_id) REFERENCES runs(run_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_file_events_run_id ON file_events(run_id);`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}

	// PRAGMA does not take bind parameters.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// BeginRun records a run in running state. A nil Store records nothing.
func (s *Store) BeginRun(ctx context.Context, run Run) error {
	if s == nil || s.db == nil {
		return nil
	}

	startedAt := run.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs
		 (run_id, fingerprint, name, source, destination, operation, started_at, state)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.Fingerprint, run.Name, run.Source, run.Destination,
		run.Operation, formatTime(startedAt), string(StateRunning))
	if err != nil {
		return fmt.Errorf("record run start: %w", err)
	}
	return nil
}

// FinishRun records the final state and counters of a run.
// A nil Store records nothing.
func (s *Store) FinishRun(ctx context.Context, runID string, state State, counts Counts) error {
	if s == nil || s.db == nil {
		return nil
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE runs
		 SET state = ?, ended_at = ?,
		     discovered = ?, planned = ?, completed = ?, failed = ?, skipped = ?, demoted = ?
		 WHERE run_id = ?`,
		string(state), formatTime(time.Now().UTC()),
		counts.Discovered, counts.Planned, counts.Completed, counts.Failed,
		counts.Skipped, counts.Demoted, runID)
	if err != nil {
		return fmt.Errorf("record run finish: %w", err)
	}
	return nil
}

// RecordFile records one per-file outcome. A nil Store records nothing.
func (s *Store) RecordFile(ctx context.Context, runID string, ev FileEvent) error {
	if s == nil || s.db == nil {
		return nil
	}

	occurredAt := ev.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO file_events
		 (run_id, identity, status, result, error, duration_ns, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, ev.Identity, ev.Status, ev.Result, ev.Error,
		ev.Duration.Nanoseconds(), formatTime(occurredAt))
	if err != nil {
		return fmt.Errorf("record file event: %w", err)
	}
	return nil
}

// ListRuns returns recorded runs, newest first. A limit <= 0 returns all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("run log is not open")
	}
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, fingerprint, name, source, destination, operation,
		        started_at, ended_at, state,
		        discovered, planned, completed, failed, skipped, demoted
		 FROM runs
		 ORDER BY started_at DESC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		var r Run
		var startedAt string
		var endedAt sql.NullString
		var state string

		err := rows.Scan(
			&r.RunID, &r.Fingerprint, &r.Name, &r.Source, &r.Destination, &r.Operation,
			&startedAt, &endedAt, &state,
			&r.Counts.Discovered, &r.Counts.Planned, &r.Counts.Completed,
			&r.Counts.Failed, &r.Counts.Skipped, &r.Counts.Demoted)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}

		r.State = State(state)
		if r.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, fmt.Errorf("scan run %s: %w", r.RunID, err)
		}
		if endedAt.Valid {
			t, err := parseTime(endedAt.String)
			if err != nil {
				return nil, fmt.Errorf("scan run %s: %w", r.RunID, err)
			}
			r.EndedAt = &t
		}

		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ListFileEvents returns the per-file outcomes of a run, oldest first.
func (s *Store) ListFileEvents(ctx context.Context, runID string) ([]FileEvent, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("run log is not open")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT identity, status, result, error, duration_ns, occurred_at
		 FROM file_events
		 WHERE run_id = ?
		 ORDER BY id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("list file events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []FileEvent
	for rows.Next() {
		var ev FileEvent
		var durationNS int64
		var occurredAt string

		if err := rows.Scan(&ev.Identity, &ev.Status, &ev.Result, &ev.Error, &durationNS, &occurredAt); err != nil {
			return nil, fmt.Errorf("scan file event: %w", err)
		}
		ev.Duration = time.Duration(durationNS)
		if ev.OccurredAt, err = parseTime(occurredAt); err != nil {
			return nil, fmt.Errorf("scan file event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// GC deletes runs that started before the cutoff, along with their file
// events, and reports how many runs were removed. Running runs are kept.
func (s *Store) GC(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("run log is not open")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin gc tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	bound := formatTime(cutoff.UTC())

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM file_events WHERE run_id IN (
			SELECT run_id FROM runs WHERE started_at < ? AND state != ?
		 )`, bound, string(StateRunning)); err != nil {
		return 0, fmt.Errorf("gc file events: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`DELETE FROM runs WHERE started_at < ? AND state != ?`,
		bound, string(StateRunning))
	if err != nil {
		return 0, fmt.Errorf("gc runs: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("gc rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit gc tx: %w", err)
	}
	return removed, nil
}

// Timestamps are stored as RFC3339Nano text so both drivers roundtrip
// them identically.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}
