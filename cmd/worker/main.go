package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/eldtechnologies/murmur/internal/app"
	"github.com/eldtechnologies/murmur/internal/config"
	"github.com/eldtechnologies/murmur/internal/store"
	"github.com/eldtechnologies/murmur/internal/worker"
)

// Standalone persistence worker. Run any number of these next to servers
// started with WORKER_ENABLED=false.
func main() {
	cfg := config.Load()
	logger := app.NewLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dataStore, err := app.OpenDataStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("storage initialization failed")
	}
	defer dataStore.Close()

	redisStore, err := store.NewRedisStore(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection failed")
	}
	defer redisStore.Close()

	queue, err := app.OpenQueue(ctx, cfg, redisStore)
	if err != nil {
		logger.Fatal().Err(err).Msg("queue initialization failed")
	}

	w := worker.New(queue, dataStore, worker.Options{
		BatchSize: cfg.WorkerBatchSize,
		Block:     cfg.WorkerBlock,
		Backoff:   cfg.WorkerBackoff,
	}, logger)

	logger.Info().
		Str("stream", queue.Stream()).
		Str("consumer", app.ConsumerName()).
		Msg("starting persistence worker")

	worker.Supervise(ctx, "persistence-worker", w.Run, logger)
	logger.Info().Msg("worker stopped")
}
