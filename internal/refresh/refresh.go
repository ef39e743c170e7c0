package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"relic-crawler/internal/api"
	"relic-crawler/internal/config"
	"relic-crawler/internal/constants"
	"relic-crawler/internal/domain"
	"relic-crawler/internal/normalize"
	"relic-crawler/internal/repository"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// StatsAPI is the slice of the upstream client refresh mode needs.
type StatsAPI interface {
	RecentMatchHistoryByProfileID(ctx context.Context, profileID string, count int) (map[string]any, error)
	PersonalStat(ctx context.Context, steamID64 string) (map[string]any, error)
}

// Runner re-crawls the existing player set in bulk: a bounded pool of
// goroutines iterating paginated batches of known players. There is no
// job queue here; the rate limiter is shared with every other caller in
// the process, so the request budget and inter-request spacing hold
// across the whole pool.
type Runner struct {
	cfg      *config.Config
	players  *repository.PlayerRepository
	pipeline *repository.Pipeline
	client   StatsAPI
	limiter  *api.RateLimiter
	logger   zerolog.Logger
}

func NewRunner(
	cfg *config.Config,
	players *repository.PlayerRepository,
	pipeline *repository.Pipeline,
	client StatsAPI,
	limiter *api.RateLimiter,
	logger zerolog.Logger,
) *Runner {
	return &Runner{
		cfg:      cfg,
		players:  players,
		pipeline: pipeline,
		client:   client,
		limiter:  limiter,
		logger:   logger,
	}
}

// Run walks every known player once and returns. A spent request cap
// ends the batch early; any other per-player failure is logged and
// skipped.
func (r *Runner) Run(ctx context.Context) error {
	total, err := r.players.Count(ctx)
	if err != nil {
		return err
	}
	r.logger.Info().
		Int("players", total).
		Int("concurrency", r.cfg.RefreshConcurrency).
		Int("page_size", r.cfg.RefreshPageSize).
		Msg("bulk refresh started")

	refreshed := 0
	cursor := ""
	for {
		page, err := r.players.ListPageAfter(ctx, cursor, r.cfg.RefreshPageSize)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			break
		}
		cursor = page[len(page)-1].ProfileID

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.cfg.RefreshConcurrency)
		for _, player := range page {
			player := player
			g.Go(func() error {
				if err := r.refreshPlayer(gctx, player); err != nil {
					if errors.Is(err, domain.ErrRateCapExceeded) {
						return err
					}
					r.logger.Warn().Err(err).Str("profile_id", player.ProfileID).Msg("player refresh failed")
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			if errors.Is(err, domain.ErrRateCapExceeded) {
				r.logger.Warn().Int("refreshed", refreshed).Msg("request cap exhausted, stopping refresh")
				return nil
			}
			return err
		}
		refreshed += len(page)
		r.logger.Info().Int("refreshed", refreshed).Int("requests_used", r.limiter.Used()).Msg("refresh page completed")
	}

	r.logger.Info().Int("refreshed", refreshed).Msg("bulk refresh completed")
	return nil
}

func (r *Runner) refreshPlayer(ctx context.Context, player domain.Player) error {
	fetchCtx, cancel := context.WithTimeout(ctx, constants.ExternalAPITimeout)
	defer cancel()

	raw, err := r.client.RecentMatchHistoryByProfileID(fetchCtx, player.ProfileID, r.cfg.MatchCount)
	if err != nil {
		return fmt.Errorf("failed to fetch match history: %w", err)
	}

	rows := normalize.Normalize(normalize.Input{
		Payload:       raw,
		SelfProfileID: player.ProfileID,
		SourceAlias:   player.CurrentAlias,
		Now:           time.Now().UTC(),
	})
	if err := r.pipeline.Persist(ctx, rows); err != nil {
		return err
	}

	// personal-stat enrichment for players with a known steam identity
	if player.SteamID64 != nil && *player.SteamID64 != "" {
		if err := r.enrichPlayer(ctx, *player.SteamID64); err != nil {
			return err
		}
	}

	r.logger.Debug().
		Str("profile_id", player.ProfileID).
		Int("matches", len(rows.Matches)).
		Msg("player refreshed")
	return nil
}

func (r *Runner) enrichPlayer(ctx context.Context, steamID64 string) error {
	fetchCtx, cancel := context.WithTimeout(ctx, constants.ExternalAPITimeout)
	defer cancel()

	raw, err := r.client.PersonalStat(fetchCtx, steamID64)
	if err != nil {
		return fmt.Errorf("failed to fetch personal stat: %w", err)
	}
	enriched, ok := normalize.EnrichedPlayer(raw, time.Now().UTC())
	if !ok {
		return nil
	}
	return r.players.UpsertBatch(ctx, []domain.Player{enriched})
}
