// Package auditlog persists a write-only, append-only forensic trail of
// terminal jobs (completed and failed) for operator debugging. It is
// explicitly not the job system of record: JobStore (in-memory) owns live
// job state, and this log is never read back to reconstruct it.
package auditlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/clipvault/extractor-api/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS job_outcomes (
	row_id       INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id       TEXT NOT NULL,
	provider     TEXT NOT NULL,
	url          TEXT NOT NULL,
	final_state  TEXT NOT NULL,
	error_code   TEXT,
	attempt_count INTEGER NOT NULL,
	duration_ms  INTEGER NOT NULL,
	recorded_at  DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_job_outcomes_job_id ON job_outcomes(job_id);
`

// Log is the SQLite-backed audit trail.
type Log struct {
	db *sql.DB
}

// Open creates (or reuses) the SQLite file at path, initializing its
// schema.
func Open(path string) (*Log, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create audit log directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit log database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize audit log schema: %w", err)
	}
	return &Log{db: db}, nil
}

// Close releases the underlying database handle.
func (l *Log) Close() error {
	return l.db.Close()
}

// RecordOutcome appends one row for a job that reached a terminal state.
// Never returns job data to a caller; this is a write path only.
func (l *Log) RecordOutcome(ctx context.Context, job domain.Job) error {
	var durationMs int64
	if job.StartedAt != nil && job.CompletedAt != nil {
		durationMs = job.CompletedAt.Sub(*job.StartedAt).Milliseconds()
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO job_outcomes (job_id, provider, url, final_state, error_code, attempt_count, duration_ms, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Provider, job.URL, string(job.State), sql.NullString{String: job.ErrorCode, Valid: job.ErrorCode != ""}, job.AttemptCount, durationMs, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("record job outcome: %w", err)
	}
	return nil
}
