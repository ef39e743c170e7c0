package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"relic-crawler/internal/config"
	"relic-crawler/internal/domain"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

type PlayerRepository struct {
	db        *sqlx.DB
	chunkSize int
	logger    zerolog.Logger
}

func NewPlayerRepository(db *sqlx.DB, cfg *config.Config, logger zerolog.Logger) *PlayerRepository {
	return &PlayerRepository{db: db, chunkSize: cfg.ChunkSize, logger: logger}
}

// UpsertBatch writes players in chunks. Enrichment fields only ever
// improve (empty strings and NULLs never clobber known values) and
// last_seen_at is advanced, never regressed.
func (r *PlayerRepository) UpsertBatch(ctx context.Context, players []domain.Player) error {
	if len(players) == 0 {
		return nil
	}

	for i := 0; i < len(players); i += r.chunkSize {
		chunk := players[i:chunkEnd(i, r.chunkSize, len(players))]

		err := withTxRetry(ctx, r.db, r.logger, func(tx *sqlx.Tx) error {
			for _, player := range chunk {
				_, err := tx.ExecContext(ctx, `
					INSERT INTO players (profile_id, current_alias, country, statgroup_id, steam_id64, xp, level, last_seen_at)
					VALUES (?, ?, ?, ?, ?, ?, ?, ?)
					ON CONFLICT (profile_id) DO UPDATE SET
						current_alias = CASE WHEN excluded.current_alias != '' THEN excluded.current_alias ELSE current_alias END,
						country       = CASE WHEN excluded.country != '' THEN excluded.country ELSE country END,
						statgroup_id  = COALESCE(excluded.statgroup_id, statgroup_id),
						steam_id64    = COALESCE(excluded.steam_id64, steam_id64),
						xp            = COALESCE(excluded.xp, xp),
						level         = COALESCE(excluded.level, level),
						last_seen_at  = MAX(last_seen_at, excluded.last_seen_at)`,
					player.ProfileID, player.CurrentAlias, player.Country,
					player.StatgroupID, player.SteamID64, player.XP, player.Level,
					player.LastSeenAt.UTC(),
				)
				if err != nil {
					return fmt.Errorf("failed to upsert player %s: %w", player.ProfileID, err)
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

// LastSeenAt returns when a player was last observed, or nil for a
// player not yet in the dataset. Drives the cooldown check.
func (r *PlayerRepository) LastSeenAt(ctx context.Context, profileID string) (*time.Time, error) {
	var lastSeen time.Time
	err := r.db.GetContext(ctx, &lastSeen, `SELECT last_seen_at FROM players WHERE profile_id = ?`, profileID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last_seen_at for %s: %w", profileID, err)
	}
	return &lastSeen, nil
}

// Get fetches one player row.
func (r *PlayerRepository) Get(ctx context.Context, profileID string) (*domain.Player, error) {
	var player domain.Player
	err := r.db.GetContext(ctx, &player, `
		SELECT profile_id, current_alias, country, statgroup_id, steam_id64, xp, level, last_seen_at
		FROM players WHERE profile_id = ?`, profileID)
	if err != nil {
		return nil, fmt.Errorf("failed to get player %s: %w", profileID, err)
	}
	return &player, nil
}

// ListPageAfter returns the next page of players ordered by profile_id,
// strictly after the given cursor. Keyset pagination keeps the batch
// stable while refresh updates rows behind it.
func (r *PlayerRepository) ListPageAfter(ctx context.Context, afterProfileID string, limit int) ([]domain.Player, error) {
	players := []domain.Player{}
	err := r.db.SelectContext(ctx, &players, `
		SELECT profile_id, current_alias, country, statgroup_id, steam_id64, xp, level, last_seen_at
		FROM players
		WHERE profile_id > ?
		ORDER BY profile_id
		LIMIT ?`, afterProfileID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list players after %q: %w", afterProfileID, err)
	}
	return players, nil
}

func (r *PlayerRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM players`); err != nil {
		return 0, fmt.Errorf("failed to count players: %w", err)
	}
	return n, nil
}
