package repository

import (
	"context"

	"relic-crawler/internal/domain"

	"github.com/rs/zerolog"
)

// Pipeline applies one normalized result as a sequence of idempotent
// upserts: players first so participant rows always join to a player,
// then matches, participants, alias history and the raw archive.
type Pipeline struct {
	players *PlayerRepository
	matches *MatchRepository
	logger  zerolog.Logger
}

func NewPipeline(players *PlayerRepository, matches *MatchRepository, logger zerolog.Logger) *Pipeline {
	return &Pipeline{players: players, matches: matches, logger: logger}
}

func (p *Pipeline) Persist(ctx context.Context, rows *domain.NormalizedRows) error {
	if err := p.players.UpsertBatch(ctx, rows.Players); err != nil {
		return err
	}
	if err := p.matches.UpsertMatches(ctx, rows.Matches); err != nil {
		return err
	}
	if err := p.matches.UpsertParticipants(ctx, rows.Participants); err != nil {
		return err
	}
	if err := p.matches.UpsertAliasHistory(ctx, rows.AliasHistory); err != nil {
		return err
	}
	if err := p.matches.UpsertRawPayloads(ctx, rows.RawPayloads); err != nil {
		return err
	}

	p.logger.Debug().
		Int("matches", len(rows.Matches)).
		Int("participants", len(rows.Participants)).
		Int("players", len(rows.Players)).
		Msg("normalized rows persisted")
	return nil
}
