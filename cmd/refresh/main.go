package main

import (
	"context"

	fxmodules "relic-crawler/internal/fx"
	"relic-crawler/internal/refresh"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

func main() {
	fx.New(
		fxmodules.Module,
		fx.Invoke(runRefresh),
	).Run()
}

func runRefresh(
	lc fx.Lifecycle,
	shutdowner fx.Shutdowner,
	runner *refresh.Runner,
	db *sqlx.DB,
	logger zerolog.Logger,
) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				if err := runner.Run(ctx); err != nil {
					logger.Error().Err(err).Msg("bulk refresh failed")
				}
				if err := shutdowner.Shutdown(); err != nil {
					logger.Error().Err(err).Msg("shutdown failed")
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			logger.Info().Msg("shutting down refresh")
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}

			if err := db.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing database connection")
			}
			logger.Info().Msg("refresh stopped gracefully")
			return nil
		},
	})
}
