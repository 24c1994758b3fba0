package setup

import (
	"github.com/basement-chat/basement/internal/broker"
	"github.com/basement-chat/basement/internal/cache"
	"github.com/basement-chat/basement/internal/handler"
	"github.com/basement-chat/basement/internal/identity"
	"github.com/basement-chat/basement/internal/jwt"
	"github.com/basement-chat/basement/internal/middleware"
	"github.com/basement-chat/basement/internal/service"
	"github.com/basement-chat/basement/internal/storage/pg"
	"github.com/basement-chat/basement/shared/config"
	"github.com/basement-chat/basement/shared/logger"
)

// Dependencies struct to hold all initialized dependencies.
type Dependencies struct {
	Config         *config.Config
	Storage        *pg.Storage
	Broker         broker.Broker
	Subscriptions  *service.SubscriptionManager
	Sweeper        *service.Sweeper
	Handler        *handler.Handler
	AuthMiddleware *middleware.Auth
	Jwt            jwt.JwtService

	countsCache *cache.Counts
}

// SetupDependencies initializes all dependencies required for the application.
func SetupDependencies(cfg *config.Config) (*Dependencies, error) {
	storage, err := pg.New(cfg)
	if err != nil {
		return nil, err
	}

	jwtService := jwt.New(cfg.JwtKey(), cfg.JwtTTL())
	deriver := identity.New(cfg.Private.IdentitySalt)

	// counts cache is optional; without an address every read hits Postgres
	var countsCache *cache.Counts
	var voteCache service.CountsCache
	if cfg.Private.Redis.Addr != "" {
		countsCache, err = cache.NewCounts(&cfg.Private.Redis)
		if err != nil {
			storage.Cleanup()
			return nil, err
		}
		voteCache = countsCache
	}

	b := broker.New(broker.Options{
		Public:  cfg.Public.Broker,
		Kafka:   cfg.Private.Kafka,
		ConnStr: pg.ConnString(cfg),
		DB:      storage.DB(),
		Store:   storage,
	})

	vote := service.NewVote(storage, voteCache, deriver)
	message := service.NewMessage(storage, b, deriver, cfg.Public.MaxMessageLen, cfg.Public.MessagesPerReq)
	subs := service.NewSubscriptionManager(b)

	sweeper, err := service.NewSweeper(storage, cfg.Public.Retention)
	if err != nil {
		storage.Cleanup()
		return nil, err
	}

	h := handler.New(vote, message, subs, storage, cfg)

	return &Dependencies{
		Config:         cfg,
		Storage:        storage,
		Broker:         b,
		Subscriptions:  subs,
		Sweeper:        sweeper,
		Handler:        h,
		AuthMiddleware: middleware.NewAuth(jwtService),
		Jwt:            jwtService,
		countsCache:    countsCache,
	}, nil
}

// Cleanup releases everything in reverse dependency order: live feeds
// first, then the broker transport, then the cache and database pools.
func (d *Dependencies) Cleanup() {
	d.Subscriptions.Shutdown()
	if err := d.Broker.Close(); err != nil {
		logger.Log.Error("closing broker", "error", err)
	}
	if d.countsCache != nil {
		if err := d.countsCache.Close(); err != nil {
			logger.Log.Error("closing redis client", "error", err)
		}
	}
	if err := d.Storage.Cleanup(); err != nil {
		logger.Log.Error("closing db pool", "error", err)
	}
}
