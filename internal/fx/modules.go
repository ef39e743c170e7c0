package fx

import (
	"relic-crawler/internal/api"
	"relic-crawler/internal/config"
	"relic-crawler/internal/crawler"
	"relic-crawler/internal/database"
	"relic-crawler/internal/logger"
	"relic-crawler/internal/refresh"
	"relic-crawler/internal/repository"

	"go.uber.org/fx"
)

func ProvideRateLimiter(cfg *config.Config) *api.RateLimiter {
	return api.NewRateLimiter(cfg.RequestCap, cfg.RequestDelay)
}

var Module = fx.Options(
	fx.Provide(logger.New),
	fx.Provide(config.Load),
	fx.Provide(database.New),
	// repos
	fx.Provide(repository.NewJobRepository),
	fx.Provide(repository.NewRunRepository),
	fx.Provide(repository.NewPlayerRepository),
	fx.Provide(repository.NewMatchRepository),
	fx.Provide(repository.NewPipeline),
	// api client
	fx.Provide(ProvideRateLimiter),
	fx.Provide(api.NewClient),
	fx.Provide(func(c *api.Client) crawler.MatchHistoryAPI { return c }),
	fx.Provide(func(c *api.Client) refresh.StatsAPI { return c }),
	// crawl loop + bulk refresh
	fx.Provide(crawler.NewFrontier),
	fx.Provide(crawler.NewWorker),
	fx.Provide(refresh.NewRunner),
)
