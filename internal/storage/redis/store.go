package redisstore

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options configures the Redis store wrapper.
type Options struct {
	// Addr is the host:port of the Redis server.
	Addr string
	// Password is optional.
	Password string
	// DB selects the logical database.
	DB int
	// DialTimeout bounds connection establishment.
	DialTimeout time.Duration
	// ReadTimeout / WriteTimeout bound individual commands. Scripts that
	// retry internally must finish within these.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Store wraps a Redis client with lifecycle and clock helpers.
type Store struct {
	client *redis.Client
}

// Open connects to Redis and verifies the connection with a ping.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Addr == "" {
		opts.Addr = "localhost:6379"
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 15 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 15 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &Store{client: client}, nil
}

// Client exposes the underlying client for components.
func (s *Store) Client() *redis.Client { return s.client }

// Close closes the client connection pool.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// CheckHealth performs a simple health check.
func (s *Store) CheckHealth(ctx context.Context) error {
	if s == nil || s.client == nil {
		return errors.New("redisstore: not open")
	}
	return s.client.Ping(ctx).Err()
}

// Now returns the server clock as fractional seconds. The server clock is the
// single time source for delay scoring and expiry so that instances with
// skewed local clocks agree on "now".
func (s *Store) Now(ctx context.Context) (float64, error) {
	t, err := s.client.Time(ctx).Result()
	if err != nil {
		return 0, err
	}
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9, nil
}

// IsNotFound reports whether err is the store's key-missing sentinel.
func IsNotFound(err error) bool { return errors.Is(err, redis.Nil) }

// IsTimeout reports whether err is a command or connection timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// IsConnError reports whether err looks like a connectivity failure rather
// than a command-level error.
func IsConnError(err error) bool {
	if err == nil || errors.Is(err, redis.Nil) {
		return false
	}
	var oe *net.OpError
	return errors.As(err, &oe)
}
