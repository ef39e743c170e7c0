package repository

import (
	"context"
	"fmt"

	"relic-crawler/internal/config"
	"relic-crawler/internal/domain"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

// MatchRepository persists matches, their participants, alias history
// and archived raw payloads. All writes are chunked idempotent upserts.
type MatchRepository struct {
	db        *sqlx.DB
	chunkSize int
	logger    zerolog.Logger
}

func NewMatchRepository(db *sqlx.DB, cfg *config.Config, logger zerolog.Logger) *MatchRepository {
	return &MatchRepository{db: db, chunkSize: cfg.ChunkSize, logger: logger}
}

// UpsertMatches overwrites each match with the latest snapshot,
// conflict-keyed on match_id.
func (r *MatchRepository) UpsertMatches(ctx context.Context, matches []domain.Match) error {
	for i := 0; i < len(matches); i += r.chunkSize {
		chunk := matches[i:chunkEnd(i, r.chunkSize, len(matches))]

		err := withTxRetry(ctx, r.db, r.logger, func(tx *sqlx.Tx) error {
			for _, match := range chunk {
				_, err := tx.ExecContext(ctx, `
					INSERT INTO matches (match_id, match_type_id, map_name, description, max_players, creator_profile_id,
						started_at, completed_at, duration_seconds, observer_total, crawled_at, source_alias, options_blob, slot_info_blob)
					VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
					ON CONFLICT (match_id) DO UPDATE SET
						match_type_id = excluded.match_type_id,
						map_name = excluded.map_name,
						description = excluded.description,
						max_players = excluded.max_players,
						creator_profile_id = excluded.creator_profile_id,
						started_at = excluded.started_at,
						completed_at = excluded.completed_at,
						duration_seconds = excluded.duration_seconds,
						observer_total = excluded.observer_total,
						crawled_at = excluded.crawled_at,
						source_alias = excluded.source_alias,
						options_blob = excluded.options_blob,
						slot_info_blob = excluded.slot_info_blob`,
					match.MatchID, match.MatchTypeID, match.MapName, match.Description,
					match.MaxPlayers, match.CreatorProfileID, match.StartedAt, match.CompletedAt,
					match.DurationSeconds, match.ObserverTotal, match.CrawledAt.UTC(),
					match.SourceAlias, match.OptionsBlob, match.SlotInfoBlob,
				)
				if err != nil {
					return fmt.Errorf("failed to upsert match %s: %w", match.MatchID, err)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// UpsertParticipants writes participant rows, conflict-keyed on
// (match_id, profile_id).
func (r *MatchRepository) UpsertParticipants(ctx context.Context, participants []domain.MatchParticipant) error {
	for i := 0; i < len(participants); i += r.chunkSize {
		chunk := participants[i:chunkEnd(i, r.chunkSize, len(participants))]

		err := withTxRetry(ctx, r.db, r.logger, func(tx *sqlx.Tx) error {
			for _, p := range chunk {
				_, err := tx.ExecContext(ctx, `
					INSERT INTO match_participants (match_id, profile_id, team_id, race_id, statgroup_id, alias_at_match,
						outcome, outcome_raw, wins, losses, streak, arbitration, report_type,
						old_rating, new_rating, rating_delta, is_computer)
					VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
					ON CONFLICT (match_id, profile_id) DO UPDATE SET
						team_id = excluded.team_id,
						race_id = excluded.race_id,
						statgroup_id = excluded.statgroup_id,
						alias_at_match = excluded.alias_at_match,
						outcome = excluded.outcome,
						outcome_raw = excluded.outcome_raw,
						wins = excluded.wins,
						losses = excluded.losses,
						streak = excluded.streak,
						arbitration = excluded.arbitration,
						report_type = excluded.report_type,
						old_rating = excluded.old_rating,
						new_rating = excluded.new_rating,
						rating_delta = excluded.rating_delta,
						is_computer = excluded.is_computer`,
					p.MatchID, p.ProfileID, p.TeamID, p.RaceID, p.StatgroupID, p.AliasAtMatch,
					p.Outcome, p.OutcomeRaw, p.Wins, p.Losses, p.Streak, p.Arbitration, p.ReportType,
					p.OldRating, p.NewRating, p.RatingDelta, p.IsComputer,
				)
				if err != nil {
					return fmt.Errorf("failed to upsert participant %s/%s: %w", p.MatchID, p.ProfileID, err)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// UpsertAliasHistory widens each (profile, alias) interval; it never
// narrows one.
func (r *MatchRepository) UpsertAliasHistory(ctx context.Context, entries []domain.AliasHistory) error {
	for i := 0; i < len(entries); i += r.chunkSize {
		chunk := entries[i:chunkEnd(i, r.chunkSize, len(entries))]

		err := withTxRetry(ctx, r.db, r.logger, func(tx *sqlx.Tx) error {
			for _, entry := range chunk {
				_, err := tx.ExecContext(ctx, `
					INSERT INTO alias_history (profile_id, alias, first_seen_at, last_seen_at)
					VALUES (?, ?, ?, ?)
					ON CONFLICT (profile_id, alias) DO UPDATE SET
						first_seen_at = MIN(first_seen_at, excluded.first_seen_at),
						last_seen_at = MAX(last_seen_at, excluded.last_seen_at)`,
					entry.ProfileID, entry.Alias, entry.FirstSeenAt.UTC(), entry.LastSeenAt.UTC(),
				)
				if err != nil {
					return fmt.Errorf("failed to upsert alias history %s/%s: %w", entry.ProfileID, entry.Alias, err)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// UpsertRawPayloads archives the raw member lists keyed by match_id.
func (r *MatchRepository) UpsertRawPayloads(ctx context.Context, payloads []domain.RawMatchPayload) error {
	for i := 0; i < len(payloads); i += r.chunkSize {
		chunk := payloads[i:chunkEnd(i, r.chunkSize, len(payloads))]

		err := withTxRetry(ctx, r.db, r.logger, func(tx *sqlx.Tx) error {
			for _, payload := range chunk {
				_, err := tx.ExecContext(ctx, `
					INSERT INTO raw_match_payloads (match_id, payload, crawled_at)
					VALUES (?, ?, ?)
					ON CONFLICT (match_id) DO UPDATE SET
						payload = excluded.payload,
						crawled_at = excluded.crawled_at`,
					payload.MatchID, payload.Payload, payload.CrawledAt.UTC(),
				)
				if err != nil {
					return fmt.Errorf("failed to upsert raw payload %s: %w", payload.MatchID, err)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// GetMatch fetches one match row.
func (r *MatchRepository) GetMatch(ctx context.Context, matchID string) (*domain.Match, error) {
	var match domain.Match
	err := r.db.GetContext(ctx, &match, `
		SELECT match_id, match_type_id, map_name, description, max_players, creator_profile_id,
			started_at, completed_at, duration_seconds, observer_total, crawled_at, source_alias, options_blob, slot_info_blob
		FROM matches WHERE match_id = ?`, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to get match %s: %w", matchID, err)
	}
	return &match, nil
}

// GetParticipants returns all participant rows of one match.
func (r *MatchRepository) GetParticipants(ctx context.Context, matchID string) ([]domain.MatchParticipant, error) {
	participants := []domain.MatchParticipant{}
	err := r.db.SelectContext(ctx, &participants, `
		SELECT match_id, profile_id, team_id, race_id, statgroup_id, alias_at_match,
			outcome, outcome_raw, wins, losses, streak, arbitration, report_type,
			old_rating, new_rating, rating_delta, is_computer
		FROM match_participants WHERE match_id = ? ORDER BY profile_id`, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to get participants for %s: %w", matchID, err)
	}
	return participants, nil
}
