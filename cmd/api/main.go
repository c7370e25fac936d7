package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"stockcount-sync-api/internal/breaker"
	"stockcount-sync-api/internal/cache"
	"stockcount-sync-api/internal/config"
	"stockcount-sync-api/internal/conflict"
	"stockcount-sync-api/internal/docstore"
	"stockcount-sync-api/internal/handler"
	"stockcount-sync-api/internal/lock"
	"stockcount-sync-api/internal/logging"
	"stockcount-sync-api/internal/middleware"
	"stockcount-sync-api/internal/repository"
	"stockcount-sync-api/internal/router"
	"stockcount-sync-api/internal/service"
	"stockcount-sync-api/internal/source"
)

// sourceEvent is published on the lock events channel when the source
// database changes availability or finishes a sync.
type sourceEvent struct {
	Event   string    `json:"event"`
	Source  string    `json:"source"`
	Trigger string    `json:"trigger,omitempty"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Setup("info", false, "stockcount-sync-api")
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Pretty || cfg.App.IsDevelopment(), cfg.App.Name)
	log.Info().Str("env", cfg.App.Environment).Str("version", cfg.App.Version).Msg("starting stock count sync API")

	// Key-value store for leases, presence and rate limits
	var kv cache.Store
	switch cfg.Cache.Type {
	case "redis":
		redisStore, err := cache.NewRedisStore(cache.RedisConfig{
			Addr:     cfg.Cache.RedisAddress(),
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Cache.RedisAddress()).Msg("failed to connect to Redis")
		}
		kv = redisStore
	default:
		kv = cache.NewMemoryStore()
		log.Warn().Msg("using in-process KV store, rack locks are not shared between instances")
	}
	defer kv.Close()
	log.Info().Str("type", cfg.Cache.Type).Msg("KV store initialized")

	// Document store for records, sessions and conflicts
	var store docstore.Store
	switch cfg.DocumentDB.Type {
	case "mongodb", "mongo":
		store, err = docstore.NewMongoStore(cfg.DocumentDB.MongoURI, cfg.DocumentDB.MongoDatabase)
	default:
		store, err = docstore.NewSQLiteStore(cfg.DocumentDB.Path)
	}
	if err != nil {
		log.Fatal().Err(err).Str("type", cfg.DocumentDB.Type).Msg("failed to open document store")
	}
	defer store.Close()
	log.Info().Str("type", cfg.DocumentDB.Type).Msg("document store initialized")

	// Repositories
	records := repository.NewRecordRepository(store)
	serials := repository.NewSerialRepository(store)
	conflicts := repository.NewConflictRepository(store)
	legacy := repository.NewLegacyRepository(store)
	items := repository.NewItemRepository(store)
	runs := repository.NewSyncRunRepository(store)

	// Core components
	locks := lock.NewManager(kv, cfg.Lock.KeyPrefix)
	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		Timeout:          cfg.Breaker.Timeout,
		HalfOpenMaxCalls: cfg.Breaker.HalfOpenMaxCalls,
	})
	engine := conflict.NewEngine(conflicts, repository.NewEntityWriter(store))

	batch := service.NewBatchProcessor(service.BatchDeps{
		Records:   records,
		Serials:   serials,
		Legacy:    legacy,
		Locks:     locks,
		Conflicts: engine,
		Limiter: service.NewRateLimiter(kv, service.RateLimitConfig{
			Enabled:   cfg.RateLimit.Enabled,
			Requests:  cfg.RateLimit.Requests,
			Window:    cfg.RateLimit.Window,
			KeyPrefix: cfg.Lock.KeyPrefix,
		}),
		Breaker: breakers.Get("batch_sync"),
		Store:   store,
	}, service.BatchConfig{
		MaxBatchSize:            cfg.Sync.MaxBatchSize,
		RegisterSerialConflicts: cfg.Sync.RegisterSerialConflicts,
	})
	heartbeat := service.NewHeartbeatService(locks, cfg.Lock.PresenceTTL, cfg.Lock.RackTTL)

	// External inventory source (optional)
	var src source.Connector = source.Disabled{}
	sourceEnabled := false
	if driver := cfg.Source.Driver(); driver != "" {
		conn, err := source.OpenSQL(driver, cfg.Source.DSN(), cfg.Source.Table)
		if err != nil {
			log.Warn().Err(err).Str("driver", driver).Msg("source database unavailable, auto-sync disabled")
		} else {
			src = conn
			sourceEnabled = true
			log.Info().Str("driver", driver).Str("table", cfg.Source.Table).Msg("source database configured")
		}
	}
	defer src.Close()

	itemSync := service.NewItemSyncService(src, items, runs)
	monitor := service.NewAutoSyncMonitor(src, func(ctx context.Context, trigger string) error {
		_, err := itemSync.Run(ctx, trigger)
		return err
	}, breakers.Get("source_sync"), service.AutoSyncConfig{
		CheckInterval: cfg.AutoSync.CheckInterval,
		SyncInterval:  cfg.AutoSync.SyncInterval,
		SyncTimeout:   cfg.AutoSync.SyncTimeout,
	})

	publish := func(ev sourceEvent) {
		ev.Source = src.Name()
		ev.At = time.Now().UTC()
		payload, err := json.Marshal(ev)
		if err != nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := kv.Publish(ctx, locks.EventsChannel(), string(payload)); err != nil {
			log.Warn().Err(err).Str("event", ev.Event).Msg("failed to publish source event")
		}
	}
	monitor.OnConnectionRestored(func() { publish(sourceEvent{Event: "source_connected"}) })
	monitor.OnConnectionLost(func() { publish(sourceEvent{Event: "source_disconnected"}) })
	monitor.OnSyncCompleted(func(out service.SyncOutcome) {
		ev := sourceEvent{Event: "source_sync_completed", Trigger: out.Trigger}
		if out.Err != nil {
			ev.Event = "source_sync_failed"
			ev.Error = out.Err.Error()
		}
		publish(ev)
	})

	if cfg.AutoSync.Enabled && sourceEnabled {
		monitor.Start()
	} else {
		log.Info().Msg("auto-sync monitor not started")
	}

	retention := service.NewRetentionScheduler(engine, service.RetentionConfig{
		Retention: cfg.Conflict.Retention,
		Interval:  cfg.Conflict.CleanupInterval,
	})
	retention.Start()

	// Handlers
	healthHandler := handler.New(cfg.App.Name, cfg.App.Version, map[string]handler.CheckFunc{
		"document_store": store.Ping,
		"kv_store":       kv.Ping,
	})

	authMiddleware := middleware.NewIdentityMiddleware(middleware.IdentityConfig{
		APIKeys: cfg.App.APIKeys,
		Public:  []string{"/api/v1/health", "/api/v1/ready"},
	})

	r := router.New(router.Config{
		Handler:         healthHandler,
		SyncHandler:     handler.NewSyncHandler(batch, heartbeat),
		LockHandler:     handler.NewLockHandler(locks, cfg.Lock.RackTTL),
		ConflictHandler: handler.NewConflictHandler(engine),
		AutoSyncHandler: handler.NewAutoSyncHandler(monitor, itemSync),
		AdminHandler:    handler.NewAdminHandler(breakers, store, cfg.DocumentDB.Type, cfg.Cache.Type),
		AuthMiddleware:  authMiddleware,
		CORSOrigins:     cfg.Server.CORSOrigins,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Server.Address()).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}

	// Stop background work once requests have drained.
	monitor.Stop()
	retention.Stop()

	log.Info().Msg("server stopped")
}
