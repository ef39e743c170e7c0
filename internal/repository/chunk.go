package repository

import (
	"context"
	"fmt"

	"relic-crawler/internal/constants"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
)

// withTxRetry runs fn inside a transaction and retries the whole
// transaction with linear backoff when the storage layer reports a
// transient busy/locked conflict. Non-transient failures surface
// immediately.
func withTxRetry(ctx context.Context, db *sqlx.DB, logger zerolog.Logger, fn func(tx *sqlx.Tx) error) error {
	backoff := retry.WithMaxRetries(constants.ChunkWriteRetries, retry.NewConstant(constants.ChunkRetryPause))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		if err := fn(tx); err != nil {
			if isTransientConflict(err) {
				logger.Warn().Err(err).Msg("transient write conflict, retrying chunk")
				return retry.RetryableError(err)
			}
			return err
		}

		if err := tx.Commit(); err != nil {
			if isTransientConflict(err) {
				logger.Warn().Err(err).Msg("transient commit conflict, retrying chunk")
				return retry.RetryableError(err)
			}
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
		return nil
	})
}

// chunkEnd bounds one chunk of a slice of length total starting at i.
func chunkEnd(i, size, total int) int {
	end := i + size
	if end > total {
		end = total
	}
	return end
}
