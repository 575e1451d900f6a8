package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/eldtechnologies/murmur/internal/api"
	"github.com/eldtechnologies/murmur/internal/api/middleware"
	"github.com/eldtechnologies/murmur/internal/app"
	"github.com/eldtechnologies/murmur/internal/auth"
	"github.com/eldtechnologies/murmur/internal/config"
	"github.com/eldtechnologies/murmur/internal/fanout"
	"github.com/eldtechnologies/murmur/internal/handlers"
	"github.com/eldtechnologies/murmur/internal/history"
	"github.com/eldtechnologies/murmur/internal/ingress"
	"github.com/eldtechnologies/murmur/internal/messaging"
	"github.com/eldtechnologies/murmur/internal/store"
	"github.com/eldtechnologies/murmur/internal/worker"
)

func main() {
	// Load configuration
	cfg := config.Load()
	logger := app.NewLogger(cfg)

	otel.SetTextMapPropagator(propagation.TraceContext{})

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Permanent storage
	dataStore, err := app.OpenDataStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("storage initialization failed")
	}
	defer dataStore.Close()

	// Redis: durable queue, presence, rate limiting
	redisStore, err := store.NewRedisStore(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection failed")
	}
	defer redisStore.Close()
	logger.Info().Msg("connected to Redis")

	queue, err := app.OpenQueue(ctx, cfg, redisStore)
	if err != nil {
		logger.Fatal().Err(err).Msg("queue initialization failed")
	}
	presence := redisStore.Presence(cfg.PresenceTTL)

	// Fan-out bus: NATS across processes, in-process otherwise
	var (
		bus fanout.Bus
		nc  *nats.Conn
	)
	if cfg.NATSURL != "" {
		nc, err = nats.Connect(cfg.NATSURL,
			nats.Name("murmur-"+app.ConsumerName()),
			nats.MaxReconnects(-1),
		)
		if err != nil {
			logger.Fatal().Err(err).Msg("nats connection failed")
		}
		bus = fanout.NewNATSBus(nc)
		logger.Info().Str("url", cfg.NATSURL).Msg("connected to NATS")
	} else {
		bus = fanout.NewLocalBus()
		logger.Warn().Msg("NATS_URL not set, fan-out limited to this process")
	}
	defer bus.Close()

	hub := fanout.NewHub(bus, logger)
	pipeline := messaging.NewPipeline(queue, hub, logger)
	reader := history.NewReader(dataStore, queue, logger)
	authenticator := auth.NewJWTAuthenticator(cfg.JWTSecret)

	// Persistence worker, supervised for the life of the process
	workerDone := make(chan struct{})
	if cfg.WorkerEnabled {
		w := worker.New(queue, dataStore, worker.Options{
			BatchSize: cfg.WorkerBatchSize,
			Block:     cfg.WorkerBlock,
			Backoff:   cfg.WorkerBackoff,
		}, logger)
		go func() {
			defer close(workerDone)
			worker.Supervise(ctx, "persistence-worker", w.Run, logger)
		}()
	} else {
		close(workerDone)
		logger.Info().Msg("persistence worker disabled, run cmd/worker separately")
	}

	realtime := ingress.NewHandler(authenticator, presence, hub, pipeline, dataStore, ingress.Options{
		AllowedOrigins:  cfg.AllowedOrigins,
		PresenceRefresh: cfg.PresenceRefresh,
	}, logger)

	router := api.NewRouter(logger, api.RouterConfig{
		Handlers: handlers.Deps{
			Store:    dataStore,
			Redis:    redisStore,
			NATS:     nc,
			Queue:    queue,
			Presence: presence,
			Sender:   pipeline,
			History:  reader,
			Hub:      hub,
		},
		Auth:           authenticator,
		Realtime:       realtime,
		Redis:          redisStore,
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimit: middleware.RateLimiterConfig{
			Whitelist:        cfg.RateLimitWhitelist,
			AutoBlockEnabled: cfg.AutoBlockEnabled,
		},
	})

	// Create server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Bool("worker", cfg.WorkerEnabled).
			Msg("starting murmur server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	// Hijacked WebSocket connections are not covered by srv.Shutdown. Close
	// them while Redis is still open so presence and groups are cleared.
	if err := realtime.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("realtime connections did not drain")
	}

	// Stop the worker between batches; anything drained but not removed is
	// redelivered on the next start.
	stop()
	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		logger.Warn().Msg("worker did not stop in time")
	}

	logger.Info().Msg("server stopped")
}
