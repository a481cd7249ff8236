package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"odaiboard/internal/cache"
	"odaiboard/internal/config"
	"odaiboard/internal/database"
	"odaiboard/internal/feed"
	"odaiboard/internal/handlers"
	"odaiboard/internal/jobs"
	"odaiboard/internal/log"
	"odaiboard/internal/queue"
	"odaiboard/internal/repository"
	"odaiboard/internal/server"
	"odaiboard/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment, cfg.Logging.Level)

	ctx := context.Background()

	if cfg.Postgres.MigrateOnStart {
		if err := database.Migrate(cfg.Postgres.DSN, logger); err != nil {
			logger.Fatal().Err(err).Msg("failed to migrate postgres")
		}
	}

	dbPool, err := database.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect postgres")
	}

	redisClient, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect redis")
	}

	objectStore, err := storage.NewObjectStore(cfg.Storage)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init object store")
	}
	if err := objectStore.EnsureBuckets(ctx); err != nil {
		logger.Warn().Err(err).Msg("ensure buckets failed")
	}

	docs := repository.NewStore(dbPool, cfg.Contest.VoteAttempts, logger)
	users := repository.NewUserRepository(dbPool)
	broker := feed.NewRedisBroker(redisClient, cfg.Redis.FeedPrefix, logger)
	producer := queue.NewProducer(redisClient, cfg.Redis.Stream)

	handlerSet := handlers.NewHandlerSet(handlers.Dependencies{
		Config: cfg,
		Log:    logger,
		Store:  docs,
		Users:  users,
		Broker: broker,
		Blobs:  objectStore,
		Tasks:  producer,
		Checks: map[string]handlers.HealthCheck{
			"database": dbPool.Ping,
			"cache":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
			"storage":  objectStore.Ping,
		},
	})
	httpServer := server.NewHTTPServer(cfg, logger, handlerSet)

	phases := cache.NewPhaseCache(redisClient, cfg.Redis.PhasePrefix)
	scheduler := jobs.NewScheduler(docs, phases, producer, broker, cfg.Jobs, logger)
	if err := scheduler.Start(); err != nil {
		logger.Error().Err(err).Msg("scheduler start failed")
	}

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdown(logger, httpServer, scheduler, dbPool, redisClient)
}

func waitForShutdown(logger zerolog.Logger, srv *server.HTTPServer, scheduler *jobs.Scheduler, db *pgxpool.Pool, redisClient *redis.Client) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	select {
	case <-scheduler.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn().Msg("scheduler jobs still running at exit")
	}

	db.Close()
	if err := redisClient.Close(); err != nil {
		logger.Error().Err(err).Msg("redis close error")
	}

	logger.Info().Msg("server exited cleanly")
}
