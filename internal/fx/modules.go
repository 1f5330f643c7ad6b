package fx

import (
	"tft-tracker/internal/cache"
	"tft-tracker/internal/card"
	"tft-tracker/internal/config"
	"tft-tracker/internal/constants"
	"tft-tracker/internal/database"
	"tft-tracker/internal/logger"
	"tft-tracker/internal/notify"
	"tft-tracker/internal/repository"
	"tft-tracker/internal/riot"
	"tft-tracker/internal/server"
	"tft-tracker/internal/service"

	"go.uber.org/fx"
)

func ProvideMatchCache() *cache.MatchCache {
	return cache.New(constants.MatchCacheTTL, constants.MatchCacheMaxEntries)
}

var Module = fx.Options(
	fx.Provide(logger.New),
	fx.Provide(config.Load),
	fx.Provide(database.New),
	// repos
	fx.Provide(repository.NewPlayerRepository),
	fx.Provide(repository.NewRankHistoryRepository),
	// api client
	fx.Provide(riot.NewClient),
	fx.Provide(func(c *riot.Client) service.RiotAPI { return c }),
	// cache
	fx.Provide(ProvideMatchCache),
	// discord
	fx.Provide(notify.NewSession),
	fx.Provide(notify.NewChannelNotifier),
	fx.Provide(func(n *notify.ChannelNotifier) service.Notifier { return n }),
	fx.Provide(notify.NewCommandHandler),
	// renderer
	fx.Provide(card.NewRenderer),
	fx.Provide(func(r *card.Renderer) service.CardRenderer { return r }),
	// stores as tracker collaborators
	fx.Provide(func(r *repository.PlayerRepository) service.PlayerStore { return r }),
	fx.Provide(func(r *repository.RankHistoryRepository) service.HistoryStore { return r }),
	// svc
	fx.Provide(service.NewTracker),
	// ops server
	fx.Provide(server.NewOpsServer),
)
