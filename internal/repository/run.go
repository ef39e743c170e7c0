package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

// RunRepository is the run ledger: one row per (job, claim), opened
// before any network call and finalized exactly once. Purely
// observational; job state never depends on it.
type RunRepository struct {
	db     *sqlx.DB
	logger zerolog.Logger
}

func NewRunRepository(db *sqlx.DB, logger zerolog.Logger) *RunRepository {
	return &RunRepository{db: db, logger: logger}
}

// Start opens a run row for a freshly claimed job and returns its id.
func (r *RunRepository) Start(ctx context.Context, jobID int64, startedAt time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO crawl_runs (job_id, started_at, request_count) VALUES (?, ?, 0)`,
		jobID, startedAt.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to start run for job %d: %w", jobID, err)
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get run id: %w", err)
	}
	return runID, nil
}

// Finish closes a run with its outcome, the number of upstream
// requests it consumed, and an optional free-text note.
func (r *RunRepository) Finish(ctx context.Context, runID int64, success bool, requestCount int, errMsg, notes string) error {
	var errVal, notesVal any
	if errMsg != "" {
		errVal = errMsg
	}
	if notes != "" {
		notesVal = notes
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE crawl_runs
		SET finished_at = ?, success = ?, request_count = ?, error_message = ?, notes = ?
		WHERE id = ? AND finished_at IS NULL`,
		time.Now().UTC(), success, requestCount, errVal, notesVal, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run %d: %w", runID, err)
	}
	return nil
}
