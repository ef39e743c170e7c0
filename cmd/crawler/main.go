package main

import (
	"context"

	"relic-crawler/internal/crawler"
	fxmodules "relic-crawler/internal/fx"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

func main() {
	fx.New(
		fxmodules.Module,
		fx.Invoke(runCrawler),
	).Run()
}

func runCrawler(
	lc fx.Lifecycle,
	shutdowner fx.Shutdowner,
	worker *crawler.Worker,
	db *sqlx.DB,
	logger zerolog.Logger,
) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				if err := worker.Run(ctx); err != nil {
					logger.Error().Err(err).Msg("crawl loop failed")
				}
				if err := shutdowner.Shutdown(); err != nil {
					logger.Error().Err(err).Msg("shutdown failed")
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			logger.Info().Msg("shutting down crawler")
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}

			if err := db.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing database connection")
			}
			logger.Info().Msg("crawler stopped gracefully")
			return nil
		},
	})
}
