package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from strings like "500ms".
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	return d.parse(s)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	return d.parse(s)
}

func (d *Duration) parse(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: bad duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the top-level configuration loaded from file/env.
type Config struct {
	Redis RedisConfig `json:"redis" yaml:"redis"`
	Lock  LockConfig  `json:"lock" yaml:"lock"`
	Queue QueueConfig `json:"queue" yaml:"queue"`
	Log   LogConfig   `json:"log" yaml:"log"`
}

// RedisConfig locates the shared store.
type RedisConfig struct {
	Addr        string   `json:"addr" yaml:"addr"`
	Password    string   `json:"password" yaml:"password"`
	DB          int      `json:"db" yaml:"db"`
	DialTimeout Duration `json:"dialTimeout" yaml:"dialTimeout"`
	ReadTimeout Duration `json:"readTimeout" yaml:"readTimeout"`
}

// LockConfig tunes the distributed lock.
type LockConfig struct {
	RetryInterval Duration `json:"retryInterval" yaml:"retryInterval"`
}

// QueueConfig tunes task queues and their pollers.
type QueueConfig struct {
	PollInterval Duration `json:"pollInterval" yaml:"pollInterval"`
	MaxAttempts  int      `json:"maxAttempts" yaml:"maxAttempts"`
	OpTimeout    Duration `json:"opTimeout" yaml:"opTimeout"`
	TaskLockTTL  Duration `json:"taskLockTtl" yaml:"taskLockTtl"`
}

// LogConfig selects log level and output format.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Redis: RedisConfig{
			Addr:        "127.0.0.1:6379",
			DialTimeout: Duration(5 * time.Second),
			ReadTimeout: Duration(3 * time.Second),
		},
		Lock: LockConfig{
			RetryInterval: Duration(100 * time.Millisecond),
		},
		Queue: QueueConfig{
			PollInterval: Duration(500 * time.Millisecond),
			MaxAttempts:  5,
			OpTimeout:    Duration(10 * time.Second),
			TaskLockTTL:  Duration(30 * time.Second),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from a JSON or YAML file (by extension), layered
// over Default(). If path is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	return cfg, nil
}
