// Package app holds the process wiring shared by the server and worker binaries.
package app

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/murmur/internal/config"
	"github.com/eldtechnologies/murmur/internal/store"
)

// NewLogger builds a console logger in development and a JSON logger otherwise.
func NewLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDevelopment() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	return zerolog.New(os.Stdout).
		With().
		Timestamp().
		Logger()
}

// OpenDataStore connects to PostgreSQL when DATABASE_URL is set, running
// migrations first, and falls back to SQLite otherwise.
func OpenDataStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (store.DataStore, error) {
	if cfg.DatabaseURL != "" {
		logger.Info().Msg("running database migrations...")
		if err := store.RunMigrations(ctx, cfg.DatabaseURL); err != nil {
			return nil, fmt.Errorf("migrations: %w", err)
		}
		logger.Info().Msg("migrations completed")

		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		logger.Info().Msg("connected to PostgreSQL")
		return pg, nil
	}

	sqlite, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}
	logger.Info().Str("path", cfg.SQLitePath).Msg("using SQLite store")
	return sqlite, nil
}

// OpenQueue opens the durable queue with a consumer name unique to this process.
func OpenQueue(ctx context.Context, cfg *config.Config, rs *store.RedisStore) (*store.RedisQueue, error) {
	return rs.Queue(ctx, store.QueueOptions{
		Stream:   cfg.QueueStream,
		Group:    cfg.QueueGroup,
		Consumer: ConsumerName(),
		MaxLen:   cfg.QueueMaxLen,
	})
}

// ConsumerName identifies this process within the queue's consumer group.
func ConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "murmur"
	}
	return host + "-" + strconv.Itoa(os.Getpid())
}
