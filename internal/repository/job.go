package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"relic-crawler/internal/constants"
	"relic-crawler/internal/domain"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

// JobRepository manages the crawl job queue. Claims are a select plus a
// conditional update so that two workers racing for the same row end up
// with exactly one winner.
type JobRepository struct {
	db     *sqlx.DB
	logger zerolog.Logger
}

func NewJobRepository(db *sqlx.DB, logger zerolog.Logger) *JobRepository {
	return &JobRepository{db: db, logger: logger}
}

// Enqueue inserts a new pending job. A uniqueness conflict on
// (kind, profile_id) means the job already exists and is reported as
// created=false with no error.
func (r *JobRepository) Enqueue(ctx context.Context, kind, profileID, alias string, priority int) (bool, error) {
	if profileID == "" {
		return false, domain.ErrMissingProfileID
	}

	payload, err := json.Marshal(domain.JobPayload{ProfileID: profileID, Alias: alias})
	if err != nil {
		return false, fmt.Errorf("failed to marshal job payload: %w", err)
	}

	now := time.Now().UTC()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO crawl_jobs (kind, profile_id, payload, status, attempts, priority, run_after, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?)`,
		kind, profileID, string(payload), domain.JobStatusPending, priority, now, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			r.logger.Debug().Str("kind", kind).Str("profile_id", profileID).Msg("job already queued")
			return false, nil
		}
		return false, fmt.Errorf("failed to enqueue job: %w", err)
	}

	r.logger.Debug().Str("kind", kind).Str("profile_id", profileID).Int("priority", priority).Msg("job enqueued")
	return true, nil
}

// ClaimNext claims the eligible pending job with the smallest
// (priority, run_after, id). The update is predicated on the row still
// being pending; losing that race falls back to reselection. Returns
// ErrNoEligibleJob when the queue has nothing runnable.
func (r *JobRepository) ClaimNext(ctx context.Context) (*domain.CrawlJob, error) {
	for i := 0; i <= constants.ClaimReselects; i++ {
		now := time.Now().UTC()

		var job domain.CrawlJob
		err := r.db.GetContext(ctx, &job, `
			SELECT id, kind, profile_id, payload, status, attempts, priority, run_after, last_error, created_at, updated_at
			FROM crawl_jobs
			WHERE status = ? AND run_after <= ?
			ORDER BY priority, run_after, id
			LIMIT 1`,
			domain.JobStatusPending, now,
		)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNoEligibleJob
		}
		if err != nil {
			return nil, fmt.Errorf("failed to select next job: %w", err)
		}

		res, err := r.db.ExecContext(ctx, `
			UPDATE crawl_jobs
			SET status = ?, attempts = attempts + 1, updated_at = ?
			WHERE id = ? AND status = ?`,
			domain.JobStatusInProgress, now, job.ID, domain.JobStatusPending,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to claim job %d: %w", job.ID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to get rows affected: %w", err)
		}
		if affected == 0 {
			// another worker won the race, reselect
			r.logger.Debug().Int64("job_id", job.ID).Msg("lost claim race, reselecting")
			continue
		}

		job.Status = domain.JobStatusInProgress
		job.Attempts++
		job.UpdatedAt = now
		return &job, nil
	}
	return nil, domain.ErrNoEligibleJob
}

// MarkDone finishes a job successfully.
func (r *JobRepository) MarkDone(ctx context.Context, jobID int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE crawl_jobs SET status = ?, last_error = NULL, updated_at = ? WHERE id = ?`,
		domain.JobStatusDone, time.Now().UTC(), jobID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark job %d done: %w", jobID, err)
	}
	return nil
}

// MarkFailed puts a job in its terminal failed state. Failed jobs are
// never reclaimed.
func (r *JobRepository) MarkFailed(ctx context.Context, jobID int64, errMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE crawl_jobs SET status = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		domain.JobStatusFailed, errMsg, time.Now().UTC(), jobID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark job %d failed: %w", jobID, err)
	}
	return nil
}

// MarkRetry reschedules a job to run no earlier than runAfter, keeping
// the attempts consumed by the claim.
func (r *JobRepository) MarkRetry(ctx context.Context, jobID int64, runAfter time.Time, errMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE crawl_jobs SET status = ?, run_after = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		domain.JobStatusPending, runAfter.UTC(), errMsg, time.Now().UTC(), jobID,
	)
	if err != nil {
		return fmt.Errorf("failed to reschedule job %d: %w", jobID, err)
	}
	return nil
}

// Release returns a cooldown-deferred job to pending without consuming
// the attempt the claim charged for it.
func (r *JobRepository) Release(ctx context.Context, jobID int64, runAfter time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE crawl_jobs
		SET status = ?, run_after = ?, attempts = attempts - 1, updated_at = ?
		WHERE id = ?`,
		domain.JobStatusPending, runAfter.UTC(), time.Now().UTC(), jobID,
	)
	if err != nil {
		return fmt.Errorf("failed to release job %d: %w", jobID, err)
	}
	return nil
}

// ResetStale returns in_progress jobs whose updated_at is older than
// the threshold back to pending. This is the manual recovery path for
// workers killed mid-job; it runs only when the operator asks for it.
func (r *JobRepository) ResetStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := r.db.ExecContext(ctx, `
		UPDATE crawl_jobs SET status = ?, updated_at = ? WHERE status = ? AND updated_at < ?`,
		domain.JobStatusPending, time.Now().UTC(), domain.JobStatusInProgress, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to reset stale jobs: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected, nil
}

// CountByStatus returns queue depth per status for operational logging.
func (r *JobRepository) CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error) {
	rows := []struct {
		Status domain.JobStatus `db:"status"`
		N      int              `db:"n"`
	}{}
	err := r.db.SelectContext(ctx, &rows, `SELECT status, COUNT(*) AS n FROM crawl_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	counts := make(map[domain.JobStatus]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.N
	}
	return counts, nil
}

// Get fetches a single job by id.
func (r *JobRepository) Get(ctx context.Context, jobID int64) (*domain.CrawlJob, error) {
	var job domain.CrawlJob
	err := r.db.GetContext(ctx, &job, `
		SELECT id, kind, profile_id, payload, status, attempts, priority, run_after, last_error, created_at, updated_at
		FROM crawl_jobs WHERE id = ?`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get job %d: %w", jobID, err)
	}
	return &job, nil
}
