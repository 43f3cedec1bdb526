package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/trialkit/internal/api"
	"github.com/charlesng35/trialkit/internal/app"
	"github.com/charlesng35/trialkit/internal/app/maintenance"
	iauth "github.com/charlesng35/trialkit/internal/auth"
	"github.com/charlesng35/trialkit/internal/cache"
	"github.com/charlesng35/trialkit/internal/database"
	"github.com/charlesng35/trialkit/internal/middleware"
	"github.com/charlesng35/trialkit/internal/services"
	"github.com/charlesng35/trialkit/pkg/logger"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB        *gorm.DB
	Redis     *redis.Client
	Services  api.Services
	Cleaner   *maintenance.Cleaner
	RateStore middleware.RateStore
	Router    *gin.Engine
}

// bootstrapRuntime initialises databases, caches, services, and the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			_ = stack.Shutdown(context.Background())
		}
	}()

	// enable gin debug mod
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}
	dbStore := cache.NewDatabaseStore(stack.DB)

	if cfg.Cache.Redis.Enabled {
		stack.Redis, err = cache.NewRedisClient(ctx, cfg.Cache.RedisClientConfig())
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	tracker, err := buildTracker(cfg, stack.DB, dbStore, stack.Redis)
	if err != nil {
		return nil, err
	}

	deps := api.ServiceDeps{Tracker: tracker}
	if cfg.Quota.Lock.Enabled && stack.Redis != nil {
		rs := redsync.New(goredis.NewPool(stack.Redis))
		deps.Locker = services.NewRedsyncLocker(rs, cfg.Quota.Lock.Expiry)
		log.Info("quota locking enabled", zap.Duration("expiry", cfg.Quota.Lock.Expiry))
	}

	stack.Services, err = api.NewServices(stack.DB, cfg, deps)
	if err != nil {
		return nil, err
	}

	if err := syncCampaigns(ctx, stack.Services.Campaigns, cfg); err != nil {
		return nil, err
	}

	if cfg.Maintenance.Enabled {
		// Redis expires its own keys; only the SQL store needs sweeping.
		var purger maintenance.ExpiredPurger
		if stack.Redis == nil {
			purger = dbStore
		}
		var eventsDB *gorm.DB
		if cfg.Events.Database {
			eventsDB = stack.DB
		}
		stack.Cleaner = maintenance.NewCleaner(eventsDB, purger,
			maintenance.WithCacheSchedule(cfg.Maintenance.CacheSchedule),
			maintenance.WithEventSchedule(cfg.Maintenance.EventSchedule),
			maintenance.WithEventRetentionDays(cfg.Maintenance.EventRetentionDays),
		)
		if err := stack.Cleaner.Start(); err != nil {
			return nil, fmt.Errorf("start maintenance jobs: %w", err)
		}
	}

	stack.RateStore = buildRateStore(cfg.Server.RateLimit, dbStore, stack.Redis)

	stack.Router, err = api.NewRouter(stack.DB, jwtSvc, cfg, stack.Services, stack.RateStore)
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// buildTracker assembles the event pipeline: log sink, optional database sink, and
// duplicate suppression on the shared store.
func buildTracker(cfg *app.Config, db *gorm.DB, dbStore *cache.DatabaseStore, rdb *redis.Client) (services.EventTracker, error) {
	sinks := services.MultiTracker{services.NewLogTracker(logger.WithModule("events"))}
	if cfg.Events.Database {
		dbTracker, err := services.NewDatabaseTracker(db)
		if err != nil {
			return nil, fmt.Errorf("initialise event tracker: %w", err)
		}
		sinks = append(sinks, dbTracker)
	}

	var store cache.Store = dbStore
	if rdb != nil {
		store = cache.NewRedisStore(rdb)
	}
	return services.NewDedupTracker(sinks, cache.NewDeduper(store, "events"), cfg.Events.DedupTTL), nil
}

// buildRateStore picks the rate limit backend. A Redis store without a client falls
// back to the database so a misconfigured cache never disables limiting.
func buildRateStore(cfg app.RateLimitConfig, dbStore *cache.DatabaseStore, rdb *redis.Client) middleware.RateStore {
	if !cfg.Enabled {
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Store)) {
	case "redis":
		if rdb != nil {
			return middleware.NewRedisRateStore(redis_rate.NewLimiter(rdb))
		}
		return middleware.NewCacheRateStore(dbStore)
	case "database":
		return middleware.NewCacheRateStore(dbStore)
	default:
		return middleware.NewMemoryRateStore()
	}
}

// syncCampaigns upserts the configured campaigns. Claimed slots are preserved.
func syncCampaigns(ctx context.Context, svc *services.CampaignService, cfg *app.Config) error {
	log := logger.WithModule("bootstrap")
	for _, input := range cfg.CampaignInputs() {
		campaign, err := svc.Upsert(ctx, input)
		if err != nil {
			return fmt.Errorf("sync campaign %q: %w", input.Key, err)
		}
		log.Info("campaign synced",
			zap.String("campaign", campaign.Key),
			zap.Bool("enabled", campaign.Enabled),
			zap.Int("max_slots", campaign.MaxSlots),
			zap.Int("claimed_slots", campaign.ClaimedSlots),
		)
	}
	return nil
}

// Shutdown gracefully stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}

	var errs error
	if s.Cleaner != nil {
		stopCtx := s.Cleaner.Stop()
		if stopCtx != nil {
			ctx = stopCtx
		}
		if err := s.Cleaner.RunOnce(ctx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("maintenance shutdown cleanup: %w", err))
		}
	}

	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			errs = multierr.Append(errs, fmt.Errorf("close redis: %w", err))
		}
	}

	if s.DB != nil {
		errs = multierr.Append(errs, closeDatabase(s.DB))
	}
	return errs
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.ConnectionConfig()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrateAndSeed(db); err != nil {
		_ = closeDatabase(db)
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	driver := dbCfg.Driver
	if driver == "" {
		driver = "sqlite"
	}
	logger.WithModule("database").Info("database connected", zap.String("driver", driver))

	return db, nil
}

func closeDatabase(db *gorm.DB) error {
	if db == nil {
		return nil
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("obtain sql db: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
