package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Redis.Addr != "127.0.0.1:6379" {
		t.Fatalf("default redis addr = %q", cfg.Redis.Addr)
	}
	if cfg.Queue.MaxAttempts != 5 {
		t.Fatalf("default max attempts = %d", cfg.Queue.MaxAttempts)
	}
	if cfg.Queue.PollInterval.Std() != 500*time.Millisecond {
		t.Fatalf("default poll interval = %v", cfg.Queue.PollInterval.Std())
	}
	if cfg.Log.Level != "info" {
		t.Fatalf("default log level = %q", cfg.Log.Level)
	}
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "tradepost.json")
	data := []byte(`{"redis":{"addr":"redis-prod:6379","db":2},"queue":{"maxAttempts":10,"pollInterval":"250ms"}}`)
	if err := os.WriteFile(file, data, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Redis.Addr != "redis-prod:6379" || cfg.Redis.DB != 2 {
		t.Fatalf("redis section = %+v", cfg.Redis)
	}
	if cfg.Queue.MaxAttempts != 10 {
		t.Fatalf("maxAttempts = %d", cfg.Queue.MaxAttempts)
	}
	if cfg.Queue.PollInterval.Std() != 250*time.Millisecond {
		t.Fatalf("pollInterval = %v", cfg.Queue.PollInterval.Std())
	}
	// untouched sections keep defaults
	if cfg.Lock.RetryInterval.Std() != 100*time.Millisecond {
		t.Fatalf("lock defaults lost: %v", cfg.Lock.RetryInterval.Std())
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "tradepost.yaml")
	data := []byte("redis:\n  addr: redis-staging:6379\nlock:\n  retryInterval: 50ms\nlog:\n  level: debug\n")
	if err := os.WriteFile(file, data, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Redis.Addr != "redis-staging:6379" {
		t.Fatalf("redis addr = %q", cfg.Redis.Addr)
	}
	if cfg.Lock.RetryInterval.Std() != 50*time.Millisecond {
		t.Fatalf("retryInterval = %v", cfg.Lock.RetryInterval.Std())
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("log level = %q", cfg.Log.Level)
	}
}

func TestLoadBadDuration(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "tradepost.json")
	if err := os.WriteFile(file, []byte(`{"queue":{"pollInterval":"soon"}}`), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(file); err == nil {
		t.Fatalf("want error for bad duration")
	}
}

func TestFromEnv(t *testing.T) {
	cfg := Default()
	t.Setenv("TRADEPOST_REDIS_ADDR", "redis-env:6379")
	t.Setenv("TRADEPOST_QUEUE_MAX_ATTEMPTS", "3")
	t.Setenv("TRADEPOST_QUEUE_POLL_INTERVAL", "1s")
	t.Setenv("TRADEPOST_LOG_LEVEL", "warn")
	FromEnv(&cfg)
	if cfg.Redis.Addr != "redis-env:6379" {
		t.Fatalf("env override addr = %q", cfg.Redis.Addr)
	}
	if cfg.Queue.MaxAttempts != 3 {
		t.Fatalf("env override maxAttempts = %d", cfg.Queue.MaxAttempts)
	}
	if cfg.Queue.PollInterval.Std() != time.Second {
		t.Fatalf("env override pollInterval = %v", cfg.Queue.PollInterval.Std())
	}
	if cfg.Log.Level != "warn" {
		t.Fatalf("env override level = %q", cfg.Log.Level)
	}
}
