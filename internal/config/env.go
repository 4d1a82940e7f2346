package config

import (
	"os"
	"strconv"
	"time"
)

// FromEnv overlays TRADEPOST_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("TRADEPOST_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("TRADEPOST_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("TRADEPOST_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = n
		}
	}
	if v := os.Getenv("TRADEPOST_LOCK_RETRY_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Lock.RetryInterval = Duration(d)
		}
	}
	if v := os.Getenv("TRADEPOST_QUEUE_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Queue.PollInterval = Duration(d)
		}
	}
	if v := os.Getenv("TRADEPOST_QUEUE_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Queue.MaxAttempts = n
		}
	}
	if v := os.Getenv("TRADEPOST_QUEUE_OP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Queue.OpTimeout = Duration(d)
		}
	}
	if v := os.Getenv("TRADEPOST_QUEUE_TASK_LOCK_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Queue.TaskLockTTL = Duration(d)
		}
	}
	if v := os.Getenv("TRADEPOST_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("TRADEPOST_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}
