// Package history persists suite reports in a local SQLite database so
// past runs against a hub can be listed and compared.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/wondertwin-ai/hubverify/internal/suite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	hub_url     TEXT NOT NULL,
	started_at  INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	passed      INTEGER NOT NULL,
	failed      INTEGER NOT NULL,
	report      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_started_at ON runs(started_at);
`

// ErrNotFound is returned by Get for an unknown run ID.
var ErrNotFound = errors.New("history: run not found")

// Run is the summary row of one stored report.
type Run struct {
	RunID     string
	HubURL    string
	StartedAt time.Time
	Duration  time.Duration
	Passed    int
	Failed    int
}

// Store is a run history database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the history database at path. ":memory:"
// opens a private in-memory database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("history: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open: %w", err)
	}
	// Each connection to ":memory:" is its own database.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("history: %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores a report. Saving the same run ID twice replaces the row.
func (s *Store) Save(ctx context.Context, r *suite.Report) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("history: marshal report: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs (run_id, hub_url, started_at, duration_ms, passed, failed, report)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.HubURL, r.StartedAt.UnixMilli(), r.Duration.Milliseconds(), r.Passed, r.Failed, string(data),
	)
	if err != nil {
		return fmt.Errorf("history: save %s: %w", r.RunID, err)
	}
	return nil
}

// Recent returns up to n runs, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, hub_url, started_at, duration_ms, passed, failed
		 FROM runs ORDER BY started_at DESC, run_id LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r                   Run
			startedMs, duration int64
		)
		if err := rows.Scan(&r.RunID, &r.HubURL, &startedMs, &duration, &r.Passed, &r.Failed); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		r.StartedAt = time.UnixMilli(startedMs).UTC()
		r.Duration = time.Duration(duration) * time.Millisecond
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Get returns the full stored report for a run.
func (s *Store) Get(ctx context.Context, runID string) (*suite.Report, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT report FROM runs WHERE run_id = ?`, runID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("history: get %s: %w", runID, err)
	}
	var r suite.Report
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return nil, fmt.Errorf("history: decode %s: %w", runID, err)
	}
	return &r, nil
}

// PrintRuns writes one line per run.
func PrintRuns(w io.Writer, runs []Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}
	for _, r := range runs {
		status := "PASS"
		if r.Failed > 0 {
			status = "FAIL"
		}
		fmt.Fprintf(w, "  %s  %s  %s  %d passed, %d failed  (%s)  %s\n",
			status, r.StartedAt.Format(time.RFC3339), r.RunID, r.Passed, r.Failed,
			r.Duration.Round(time.Millisecond), r.HubURL)
	}
}
