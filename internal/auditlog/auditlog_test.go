package auditlog

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/clipvault/extractor-api/internal/domain"
	"github.com/stretchr/testify/require"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "audit.db")
	l, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestOpenCreatesSchemaAndNestedDirectory(t *testing.T) {
	t.Parallel()

	l := openTestLog(t)

	var count int
	err := l.db.QueryRow(`SELECT COUNT(*) FROM job_outcomes`).Scan(&count)
	require.NoError(t, err)
	require.Equal(t, 0, count)
}

func TestRecordOutcomePersistsCompletedJob(t *testing.T) {
	t.Parallel()

	l := openTestLog(t)
	started := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	completed := started.Add(45 * time.Second)

	job := domain.Job{
		ID:           "job-1",
		State:        domain.JobCompleted,
		URL:          "https://example.com/watch?v=abc",
		Provider:     "youtube",
		AttemptCount: 2,
		StartedAt:    &started,
		CompletedAt:  &completed,
	}
	require.NoError(t, l.RecordOutcome(context.Background(), job))

	var (
		jobID        string
		provider     string
		finalState   string
		errorCode    sql.NullString
		attemptCount int
		durationMs   int64
	)
	err := l.db.QueryRow(
		`SELECT job_id, provider, final_state, error_code, attempt_count, duration_ms FROM job_outcomes WHERE job_id = ?`,
		"job-1",
	).Scan(&jobID, &provider, &finalState, &errorCode, &attemptCount, &durationMs)
	require.NoError(t, err)

	require.Equal(t, "job-1", jobID)
	require.Equal(t, "youtube", provider)
	require.Equal(t, "COMPLETED", finalState)
	require.False(t, errorCode.Valid)
	require.Equal(t, 2, attemptCount)
	require.Equal(t, int64(45000), durationMs)
}

func TestRecordOutcomePersistsFailedJobErrorCode(t *testing.T) {
	t.Parallel()

	l := openTestLog(t)
	job := domain.Job{
		ID:        "job-2",
		State:     domain.JobFailed,
		URL:       "https://example.com/watch?v=def",
		Provider:  "vimeo",
		ErrorCode: string(domain.ErrDownloadFailed),
	}
	require.NoError(t, l.RecordOutcome(context.Background(), job))

	var errorCode string
	err := l.db.QueryRow(`SELECT error_code FROM job_outcomes WHERE job_id = ?`, "job-2").Scan(&errorCode)
	require.NoError(t, err)
	require.Equal(t, string(domain.ErrDownloadFailed), errorCode)
}

func TestRecordOutcomeAllowsMultipleRowsPerJobID(t *testing.T) {
	t.Parallel()

	l := openTestLog(t)
	job := domain.Job{ID: "job-3", State: domain.JobFailed, Provider: "youtube"}
	require.NoError(t, l.RecordOutcome(context.Background(), job))
	require.NoError(t, l.RecordOutcome(context.Background(), job))

	var count int
	err := l.db.QueryRow(`SELECT COUNT(*) FROM job_outcomes WHERE job_id = ?`, "job-3").Scan(&count)
	require.NoError(t, err)
	require.Equal(t, 2, count)
}
