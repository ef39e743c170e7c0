package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"relic-crawler/internal/api"
	"relic-crawler/internal/config"
	"relic-crawler/internal/database"
	"relic-crawler/internal/domain"
	"relic-crawler/internal/repository"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHistoryAPI stands in for the upstream client. It charges the
// shared limiter the way the real client does so request accounting in
// the run ledger stays observable.
type fakeHistoryAPI struct {
	limiter      *api.RateLimiter
	payload      string
	err          error
	profileCalls int
	aliasCalls   int
}

func (f *fakeHistoryAPI) fetch() (map[string]any, error) {
	if f.limiter != nil {
		if err := f.limiter.Allow(); err != nil {
			return nil, err
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.limiter != nil {
		f.limiter.RecordAndPace()
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(f.payload), &decoded); err != nil {
		return nil, err
	}
	return decoded, nil
}

func (f *fakeHistoryAPI) RecentMatchHistoryByProfileID(ctx context.Context, profileID string, count int) (map[string]any, error) {
	f.profileCalls++
	return f.fetch()
}

func (f *fakeHistoryAPI) RecentMatchHistoryByAlias(ctx context.Context, alias string, count int) (map[string]any, error) {
	f.aliasCalls++
	return f.fetch()
}

const historyPayload = `{
	"matchHistoryStats": [{
		"id": 999,
		"matchtype_id": 1,
		"mapname": "4p_langres",
		"description": "AUTOMATCH",
		"startgametime": 1756600000,
		"completiontime": 1756601200,
		"matchhistorymember": [
			{"profile_id": 123, "outcome": 1, "oldrating": 1500, "newrating": 1520, "teamid": 0},
			{"profile_id": 456, "outcome": 0, "oldrating": 1400, "newrating": 1385, "teamid": 1}
		]
	}],
	"profiles": [
		{"profile_id": 123, "alias": "TigerAce", "country": "de", "name": "/steam/76561198000000001"},
		{"profile_id": 456, "alias": "ScoutRushPro", "country": "us"}
	]
}`

const emptyHistoryPayload = `{"matchHistoryStats": []}`

type harness struct {
	cfg     *config.Config
	db      *sqlx.DB
	jobs    *repository.JobRepository
	runs    *repository.RunRepository
	players *repository.PlayerRepository
	limiter *api.RateLimiter
	client  *fakeHistoryAPI
	worker  *Worker
}

func newHarness(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()

	cfg := &config.Config{
		DBPath:        filepath.Join(t.TempDir(), "test.db"),
		ChunkSize:     50,
		MatchCount:    10,
		RequestCap:    100,
		Cooldown:      6 * time.Hour,
		MaxAttempts:   5,
		IdleSleep:     time.Millisecond,
		MaxIdleRounds: 1,
	}
	if mutate != nil {
		mutate(cfg)
	}

	db, err := database.New(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	jobs := repository.NewJobRepository(db, zerolog.Nop())
	runs := repository.NewRunRepository(db, zerolog.Nop())
	players := repository.NewPlayerRepository(db, cfg, zerolog.Nop())
	matches := repository.NewMatchRepository(db, cfg, zerolog.Nop())
	pipeline := repository.NewPipeline(players, matches, zerolog.Nop())
	frontier := NewFrontier(jobs, zerolog.Nop())

	limiter := api.NewRateLimiter(cfg.RequestCap, 0)
	client := &fakeHistoryAPI{limiter: limiter, payload: historyPayload}
	worker := NewWorker(cfg, jobs, runs, players, pipeline, frontier, client, limiter, zerolog.Nop())

	return &harness{
		cfg:     cfg,
		db:      db,
		jobs:    jobs,
		runs:    runs,
		players: players,
		limiter: limiter,
		client:  client,
		worker:  worker,
	}
}

func (h *harness) claim(t *testing.T) *domain.CrawlJob {
	t.Helper()
	job, err := h.jobs.ClaimNext(context.Background())
	require.NoError(t, err)
	return job
}

func (h *harness) lastRun(t *testing.T, jobID int64) domain.CrawlRun {
	t.Helper()
	var run domain.CrawlRun
	require.NoError(t, h.db.GetContext(context.Background(), &run, `
		SELECT id, job_id, started_at, finished_at, success, request_count, error_message, notes
		FROM crawl_runs WHERE job_id = ? ORDER BY id DESC LIMIT 1`, jobID))
	return run
}

func (h *harness) jobForProfile(t *testing.T, profileID string) domain.CrawlJob {
	t.Helper()
	var job domain.CrawlJob
	require.NoError(t, h.db.GetContext(context.Background(), &job, `
		SELECT id, kind, profile_id, payload, status, attempts, priority, run_after, last_error, created_at, updated_at
		FROM crawl_jobs WHERE profile_id = ?`, profileID))
	return job
}

func TestProcessClaimedHappyPath(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.jobs.Enqueue(ctx, domain.JobKindPlayerMatches, "123", "", 10)
	require.NoError(t, err)
	job := h.claim(t)

	require.NoError(t, h.worker.processClaimed(ctx, job))

	assert.Equal(t, 1, h.client.profileCalls)
	assert.Zero(t, h.client.aliasCalls)

	done := h.jobForProfile(t, "123")
	assert.Equal(t, domain.JobStatusDone, done.Status)
	assert.Nil(t, done.LastError)

	var match domain.Match
	require.NoError(t, h.db.GetContext(ctx, &match, `
		SELECT match_id, map_name, duration_seconds FROM matches WHERE match_id = ?`, "999"))
	assert.Equal(t, "4p_langres", match.MapName)
	require.NotNil(t, match.DurationSeconds)
	assert.Equal(t, int64(1200), *match.DurationSeconds)

	participants := []domain.MatchParticipant{}
	require.NoError(t, h.db.SelectContext(ctx, &participants, `
		SELECT match_id, profile_id, outcome, rating_delta FROM match_participants
		WHERE match_id = ? ORDER BY profile_id`, "999"))
	require.Len(t, participants, 2)
	assert.Equal(t, domain.OutcomeWin, participants[0].Outcome)
	require.NotNil(t, participants[0].RatingDelta)
	assert.Equal(t, 20.0, *participants[0].RatingDelta)
	assert.Equal(t, domain.OutcomeLoss, participants[1].Outcome)
	require.NotNil(t, participants[1].RatingDelta)
	assert.Equal(t, -15.0, *participants[1].RatingDelta)

	player, err := h.players.Get(ctx, "456")
	require.NoError(t, err)
	assert.Equal(t, "ScoutRushPro", player.CurrentAlias)
	assert.Equal(t, "us", player.Country)

	// the opponent is discovered, the crawled player is not re-enqueued
	discovered := h.jobForProfile(t, "456")
	assert.Equal(t, domain.JobStatusPending, discovered.Status)
	assert.Equal(t, 40, discovered.Priority)
	var discoveredPayload domain.JobPayload
	require.NoError(t, json.Unmarshal([]byte(discovered.Payload), &discoveredPayload))
	assert.Equal(t, "ScoutRushPro", discoveredPayload.Alias)

	var jobCount int
	require.NoError(t, h.db.GetContext(ctx, &jobCount, `SELECT COUNT(*) FROM crawl_jobs`))
	assert.Equal(t, 2, jobCount)

	run := h.lastRun(t, job.ID)
	require.NotNil(t, run.Success)
	assert.True(t, *run.Success)
	assert.Equal(t, 1, run.RequestCount)
	require.NotNil(t, run.Notes)
	assert.Contains(t, *run.Notes, "matches=1")
	assert.Contains(t, *run.Notes, "enqueued=1")
}

func TestProcessClaimedUsesAliasEndpoint(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.jobs.Enqueue(ctx, domain.JobKindPlayerMatches, "123", "TigerAce", 10)
	require.NoError(t, err)

	require.NoError(t, h.worker.processClaimed(ctx, h.claim(t)))

	assert.Equal(t, 1, h.client.aliasCalls)
	assert.Zero(t, h.client.profileCalls)
}

func TestCooldownDefersWithoutFetching(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	lastSeen := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	require.NoError(t, h.players.UpsertBatch(ctx, []domain.Player{
		{ProfileID: "123", CurrentAlias: "TigerAce", LastSeenAt: lastSeen},
	}))

	_, err := h.jobs.Enqueue(ctx, domain.JobKindPlayerMatches, "123", "", 10)
	require.NoError(t, err)
	job := h.claim(t)
	require.Equal(t, 1, job.Attempts)

	require.NoError(t, h.worker.processClaimed(ctx, job))

	assert.Zero(t, h.client.profileCalls)
	assert.Zero(t, h.client.aliasCalls)

	deferred := h.jobForProfile(t, "123")
	assert.Equal(t, domain.JobStatusPending, deferred.Status)
	assert.Equal(t, 0, deferred.Attempts)
	assert.Equal(t, lastSeen.Add(h.cfg.Cooldown), deferred.RunAfter.UTC())

	run := h.lastRun(t, job.ID)
	require.NotNil(t, run.Success)
	assert.True(t, *run.Success)
	assert.Zero(t, run.RequestCount)
	require.NotNil(t, run.Notes)
	assert.Contains(t, *run.Notes, "deferred by cooldown")
}

func TestFailureBacksOffAndRecordsError(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.client.err = errors.New("upstream returned 500")

	_, err := h.jobs.Enqueue(ctx, domain.JobKindPlayerMatches, "123", "", 10)
	require.NoError(t, err)
	job := h.claim(t)

	before := time.Now().UTC()
	err = h.worker.processClaimed(ctx, job)
	require.ErrorContains(t, err, "upstream returned 500")

	failed := h.jobForProfile(t, "123")
	assert.Equal(t, domain.JobStatusPending, failed.Status)
	assert.Equal(t, 1, failed.Attempts)
	require.NotNil(t, failed.LastError)
	assert.Equal(t, "upstream returned 500", *failed.LastError)

	// first retry waits roughly two minutes
	wait := failed.RunAfter.UTC().Sub(before)
	assert.GreaterOrEqual(t, wait, time.Minute)
	assert.LessOrEqual(t, wait, 3*time.Minute)

	run := h.lastRun(t, job.ID)
	require.NotNil(t, run.Success)
	assert.False(t, *run.Success)
	require.NotNil(t, run.ErrorMessage)
	assert.Equal(t, "upstream returned 500", *run.ErrorMessage)
}

func TestFailureAtAttemptCeilingIsTerminal(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) { cfg.MaxAttempts = 1 })
	ctx := context.Background()
	h.client.err = errors.New("upstream returned 500")

	_, err := h.jobs.Enqueue(ctx, domain.JobKindPlayerMatches, "123", "", 10)
	require.NoError(t, err)

	err = h.worker.processClaimed(ctx, h.claim(t))
	require.Error(t, err)

	failed := h.jobForProfile(t, "123")
	assert.Equal(t, domain.JobStatusFailed, failed.Status)

	_, err = h.jobs.ClaimNext(ctx)
	assert.ErrorIs(t, err, domain.ErrNoEligibleJob)
}

func TestMalformedPayloadFailsJob(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) { cfg.MaxAttempts = 1 })
	ctx := context.Background()

	_, err := h.jobs.Enqueue(ctx, domain.JobKindPlayerMatches, "123", "", 10)
	require.NoError(t, err)
	job := h.claim(t)
	job.Payload = `{"alias":"orphan"}`

	err = h.worker.processClaimed(ctx, job)
	assert.ErrorIs(t, err, domain.ErrMissingProfileID)
	assert.Zero(t, h.client.profileCalls)
}

func TestRunStopsWhenRequestCapSpent(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) { cfg.RequestCap = 0 })
	ctx := context.Background()

	_, err := h.jobs.Enqueue(ctx, domain.JobKindPlayerMatches, "123", "", 10)
	require.NoError(t, err)

	require.NoError(t, h.worker.Run(ctx))

	// the in-flight job is backed off, not burned
	job := h.jobForProfile(t, "123")
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.Equal(t, 1, job.Attempts)
	require.NotNil(t, job.LastError)
}

func TestRunExitsAfterIdleRounds(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) { cfg.MaxIdleRounds = 2 })

	done := make(chan error, 1)
	go func() { done <- h.worker.Run(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not exit on idle queue")
	}
}

func TestRunSeedsConfiguredProfiles(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.SeedProfileIDs = []string{"111", "222"}
		cfg.MaxIdleRounds = 1
	})
	h.client.payload = emptyHistoryPayload
	ctx := context.Background()

	require.NoError(t, h.worker.Run(ctx))

	for _, profileID := range []string{"111", "222"} {
		job := h.jobForProfile(t, profileID)
		assert.Equal(t, domain.JobStatusDone, job.Status)
		assert.Equal(t, 10, job.Priority)
	}
	assert.Equal(t, 2, h.client.profileCalls)
}

func TestRunCanceledContextStops(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) { cfg.MaxIdleRounds = 0 })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.worker.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
}
