package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"relic-crawler/internal/api"
	"relic-crawler/internal/config"
	"relic-crawler/internal/constants"
	"relic-crawler/internal/domain"
	"relic-crawler/internal/normalize"
	"relic-crawler/internal/repository"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// MatchHistoryAPI is the slice of the upstream client the worker needs.
type MatchHistoryAPI interface {
	RecentMatchHistoryByProfileID(ctx context.Context, profileID string, count int) (map[string]any, error)
	RecentMatchHistoryByAlias(ctx context.Context, alias string, count int) (map[string]any, error)
}

// Worker runs the queue-driven crawl loop. Jobs are processed strictly
// sequentially within one worker process; multiple worker processes may
// share the same job store, with the claim predicate keeping them off
// each other's jobs.
type Worker struct {
	cfg      *config.Config
	jobs     *repository.JobRepository
	runs     *repository.RunRepository
	players  *repository.PlayerRepository
	pipeline *repository.Pipeline
	frontier *Frontier
	client   MatchHistoryAPI
	limiter  *api.RateLimiter
	logger   zerolog.Logger
	workerID string
}

func NewWorker(
	cfg *config.Config,
	jobs *repository.JobRepository,
	runs *repository.RunRepository,
	players *repository.PlayerRepository,
	pipeline *repository.Pipeline,
	frontier *Frontier,
	client MatchHistoryAPI,
	limiter *api.RateLimiter,
	logger zerolog.Logger,
) *Worker {
	workerID := uuid.New().String()
	return &Worker{
		cfg:      cfg,
		jobs:     jobs,
		runs:     runs,
		players:  players,
		pipeline: pipeline,
		frontier: frontier,
		client:   client,
		limiter:  limiter,
		logger:   logger.With().Str("worker_id", workerID).Logger(),
		workerID: workerID,
	}
}

// Run executes the crawl loop until the context is canceled, the idle
// limit is reached, or the request cap is exhausted.
func (w *Worker) Run(ctx context.Context) error {
	if w.cfg.ResetStaleAfter > 0 {
		reset, err := w.jobs.ResetStale(ctx, w.cfg.ResetStaleAfter)
		if err != nil {
			return fmt.Errorf("failed to reset stale jobs: %w", err)
		}
		if reset > 0 {
			w.logger.Warn().Int64("reset", reset).Msg("stale in_progress jobs returned to pending")
		}
	}

	if err := w.seed(ctx); err != nil {
		return err
	}

	w.logger.Info().Msg("crawl loop started")

	idleRounds := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		job, err := w.jobs.ClaimNext(ctx)
		if errors.Is(err, domain.ErrNoEligibleJob) {
			idleRounds++
			w.logQueueDepth(ctx)
			if w.cfg.MaxIdleRounds > 0 && idleRounds >= w.cfg.MaxIdleRounds {
				w.logger.Info().Int("idle_rounds", idleRounds).Msg("idle limit reached, exiting")
				return nil
			}
			if !sleepCtx(ctx, w.cfg.IdleSleep) {
				return nil
			}
			continue
		}
		if err != nil {
			w.logger.Error().Err(err).Msg("failed to claim job")
			if !sleepCtx(ctx, w.cfg.IdleSleep) {
				return nil
			}
			continue
		}

		idleRounds = 0
		if err := w.processClaimed(ctx, job); errors.Is(err, domain.ErrRateCapExceeded) {
			w.logger.Warn().Int("requests_used", w.limiter.Used()).Msg("request cap exhausted, exiting")
			return nil
		}
	}
}

func (w *Worker) seed(ctx context.Context) error {
	for _, profileID := range w.cfg.SeedProfileIDs {
		created, err := w.jobs.Enqueue(ctx, domain.JobKindPlayerMatches, profileID, "", constants.SeedPriority)
		if err != nil {
			return fmt.Errorf("failed to seed profile %s: %w", profileID, err)
		}
		if created {
			w.logger.Info().Str("profile_id", profileID).Msg("seed job enqueued")
		}
	}
	return nil
}

// processClaimed runs one claimed job end to end: run ledger open,
// cooldown check, fetch, normalize, persist, frontier expansion,
// terminal update. It returns the processing error so the loop can
// react to a spent request cap; the job itself is always left in a
// consistent state before returning.
func (w *Worker) processClaimed(ctx context.Context, job *domain.CrawlJob) error {
	runToken, _ := gonanoid.New()
	logger := w.logger.With().
		Int64("job_id", job.ID).
		Str("profile_id", job.ProfileID).
		Str("run_token", runToken).
		Int("attempts", job.Attempts).
		Logger()

	startedAt := time.Now().UTC()
	runID, err := w.runs.Start(ctx, job.ID, startedAt)
	if err != nil {
		// the ledger is observational; the job still runs
		logger.Warn().Err(err).Msg("failed to open crawl run")
	}
	requestsBefore := w.limiter.Used()

	var payload domain.JobPayload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil || payload.ProfileID == "" {
		return w.failJob(ctx, logger, job, runID, requestsBefore, domain.ErrMissingProfileID)
	}

	// Cooldown: a player seen inside the window is not re-fetched. The
	// job goes back to pending at last_seen + cooldown and keeps the
	// attempts it had before this claim.
	lastSeen, err := w.players.LastSeenAt(ctx, payload.ProfileID)
	if err != nil {
		return w.failJob(ctx, logger, job, runID, requestsBefore, err)
	}
	if lastSeen != nil && startedAt.Sub(*lastSeen) < w.cfg.Cooldown {
		runAfter := lastSeen.Add(w.cfg.Cooldown)
		if err := w.jobs.Release(ctx, job.ID, runAfter); err != nil {
			logger.Error().Err(err).Msg("failed to release job on cooldown")
			return err
		}
		w.finishRun(ctx, logger, runID, true, 0, "", fmt.Sprintf("deferred by cooldown until %s", runAfter.Format(time.RFC3339)))
		logger.Info().Time("run_after", runAfter).Msg("player on cooldown, job deferred")
		return nil
	}

	raw, err := w.fetchHistory(ctx, payload)
	if err != nil {
		return w.failJob(ctx, logger, job, runID, requestsBefore, err)
	}

	rows := normalize.Normalize(normalize.Input{
		Payload:       raw,
		SelfProfileID: payload.ProfileID,
		SourceAlias:   payload.Alias,
		Now:           time.Now().UTC(),
	})

	if err := w.pipeline.Persist(ctx, rows); err != nil {
		return w.failJob(ctx, logger, job, runID, requestsBefore, err)
	}

	enqueued, err := w.frontier.Expand(ctx, rows.DiscoveredProfileIDs, rows.AliasHints, job.Priority)
	if err != nil {
		return w.failJob(ctx, logger, job, runID, requestsBefore, err)
	}

	if err := w.jobs.MarkDone(ctx, job.ID); err != nil {
		logger.Error().Err(err).Msg("failed to mark job done")
		return err
	}

	notes := fmt.Sprintf("matches=%d participants=%d players=%d discovered=%d enqueued=%d",
		len(rows.Matches), len(rows.Participants), len(rows.Players), len(rows.DiscoveredProfileIDs), enqueued)
	w.finishRun(ctx, logger, runID, true, w.limiter.Used()-requestsBefore, "", notes)

	logger.Info().
		Int("matches", len(rows.Matches)).
		Int("participants", len(rows.Participants)).
		Int("enqueued", enqueued).
		Msg("job completed")
	return nil
}

func (w *Worker) fetchHistory(ctx context.Context, payload domain.JobPayload) (map[string]any, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, constants.ExternalAPITimeout)
	defer cancel()

	if payload.Alias != "" {
		return w.client.RecentMatchHistoryByAlias(fetchCtx, payload.Alias, w.cfg.MatchCount)
	}
	return w.client.RecentMatchHistoryByProfileID(fetchCtx, payload.ProfileID, w.cfg.MatchCount)
}

// failJob routes any processing error through the backoff controller:
// back to pending with an escalating run_after, or terminally failed
// once the attempt ceiling is hit. Returns the original error.
func (w *Worker) failJob(ctx context.Context, logger zerolog.Logger, job *domain.CrawlJob, runID int64, requestsBefore int, cause error) error {
	msg := cause.Error()

	if job.Attempts >= w.cfg.MaxAttempts {
		if err := w.jobs.MarkFailed(ctx, job.ID, msg); err != nil {
			logger.Error().Err(err).Msg("failed to mark job failed")
		}
		logger.Error().Err(cause).Int("attempts", job.Attempts).Msg("job failed terminally")
	} else {
		delay := backoffDelay(job.Attempts)
		runAfter := time.Now().UTC().Add(delay)
		if err := w.jobs.MarkRetry(ctx, job.ID, runAfter, msg); err != nil {
			logger.Error().Err(err).Msg("failed to reschedule job")
		}
		logger.Warn().Err(cause).Dur("backoff", delay).Msg("job rescheduled after failure")
	}

	w.finishRun(ctx, logger, runID, false, w.limiter.Used()-requestsBefore, msg, "")
	return cause
}

func (w *Worker) finishRun(ctx context.Context, logger zerolog.Logger, runID int64, success bool, requestCount int, errMsg, notes string) {
	if runID == 0 {
		return
	}
	if err := w.runs.Finish(ctx, runID, success, requestCount, errMsg, notes); err != nil {
		logger.Warn().Err(err).Msg("failed to finish crawl run")
	}
}

func (w *Worker) logQueueDepth(ctx context.Context) {
	counts, err := w.jobs.CountByStatus(ctx)
	if err != nil {
		w.logger.Warn().Err(err).Msg("failed to count queue")
		return
	}
	w.logger.Info().
		Int("pending", counts[domain.JobStatusPending]).
		Int("in_progress", counts[domain.JobStatusInProgress]).
		Int("done", counts[domain.JobStatusDone]).
		Int("failed", counts[domain.JobStatusFailed]).
		Msg("queue idle")
}

// sleepCtx sleeps for d unless the context ends first. Reports whether
// the caller should keep running.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
