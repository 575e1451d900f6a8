package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("QUEUE_MAX_LEN", "")
	t.Setenv("WORKER_BLOCK", "")

	cfg := Load()
	if cfg.QueueMaxLen != 100000 {
		t.Fatalf("expected default max len 100000, got %d", cfg.QueueMaxLen)
	}
	if cfg.WorkerBatchSize != 100 {
		t.Fatalf("expected batch size 100, got %d", cfg.WorkerBatchSize)
	}
	if cfg.WorkerBlock != time.Second {
		t.Fatalf("expected 1s block, got %s", cfg.WorkerBlock)
	}
	if cfg.PresenceTTL != time.Hour {
		t.Fatalf("expected 1h presence TTL, got %s", cfg.PresenceTTL)
	}
	if !cfg.IsDevelopment() {
		t.Fatal("expected development mode")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ENV", "staging")
	t.Setenv("QUEUE_MAX_LEN", "50")
	t.Setenv("PRESENCE_TTL", "90s")
	t.Setenv("ALLOWED_ORIGINS", "http://a.test, ,http://b.test")
	t.Setenv("WORKER_BATCH_SIZE", "not-a-number")

	cfg := Load()
	if cfg.QueueMaxLen != 50 {
		t.Fatalf("expected 50, got %d", cfg.QueueMaxLen)
	}
	if cfg.PresenceTTL != 90*time.Second {
		t.Fatalf("expected 90s, got %s", cfg.PresenceTTL)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "http://b.test" {
		t.Fatalf("unexpected origins %v", cfg.AllowedOrigins)
	}
	if cfg.WorkerBatchSize != 100 {
		t.Fatalf("invalid value should fall back to default, got %d", cfg.WorkerBatchSize)
	}
}

func TestLoadProductionRequiresSecrets(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("DATABASE_URL", "postgres://x")
	t.Setenv("REDIS_URL", "redis://x")
	t.Setenv("JWT_SECRET", "")

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic without JWT_SECRET")
		}
	}()
	Load()
}
