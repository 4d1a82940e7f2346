package semaphore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rzbill/tradepost/internal/scripts"
	redisstore "github.com/rzbill/tradepost/internal/storage/redis"
	"github.com/rzbill/tradepost/pkg/id"
	"github.com/rzbill/tradepost/pkg/log"
)

// ErrAcquireFailed is returned when no slot frees up before the acquire
// deadline.
var ErrAcquireFailed = errors.New("semaphore: acquire failed")

// OwnersKey returns the owner zset key for a semaphore name.
func OwnersKey(name string) string { return "tradepost:sem:{" + name + "}:owners" }

// SeqKey returns the sequence zset key for a semaphore name.
func SeqKey(name string) string { return "tradepost:sem:{" + name + "}:seq" }

// CounterKey returns the admission counter key for a semaphore name.
func CounterKey(name string) string { return "tradepost:sem:{" + name + "}:counter" }

// Options tunes acquisition behavior.
type Options struct {
	// RetryInterval is the sleep between failed acquire attempts.
	RetryInterval time.Duration
	// AcquireTimeout bounds how long Acquire retries before giving up.
	// Zero means the lease TTL is used.
	AcquireTimeout time.Duration
}

// Semaphore acquires and releases slots of named permit pools.
type Semaphore struct {
	store          *redisstore.Store
	logger         log.Logger
	retry          time.Duration
	acquireTimeout time.Duration
	acquire        *scripts.Script
	release        *scripts.Script
}

// New builds a Semaphore, resolving its scripts from the catalog up front.
func New(store *redisstore.Store, catalog *scripts.Catalog, logger log.Logger, opts Options) (*Semaphore, error) {
	acquire, err := catalog.Load(scripts.CategorySemaphore, "acquire")
	if err != nil {
		return nil, err
	}
	release, err := catalog.Load(scripts.CategorySemaphore, "release")
	if err != nil {
		return nil, err
	}
	retry := opts.RetryInterval
	if retry <= 0 {
		retry = 100 * time.Millisecond
	}
	return &Semaphore{
		store:          store,
		logger:         logger.WithComponent("semaphore"),
		retry:          retry,
		acquireTimeout: opts.AcquireTimeout,
		acquire:        acquire,
		release:        release,
	}, nil
}

// Acquire takes one of limit slots, retrying until the acquire deadline.
// A held slot expires on its own after leaseTTL unless released earlier.
func (s *Semaphore) Acquire(ctx context.Context, name string, limit int, leaseTTL time.Duration) (string, error) {
	if name == "" {
		return "", errors.New("semaphore: empty name")
	}
	if limit <= 0 {
		return "", errors.New("semaphore: limit must be positive")
	}
	if leaseTTL <= 0 {
		return "", errors.New("semaphore: lease TTL must be positive")
	}
	acquireTimeout := s.acquireTimeout
	if acquireTimeout <= 0 {
		acquireTimeout = leaseTTL
	}
	token := id.NewToken()
	keys := []string{OwnersKey(name), SeqKey(name), CounterKey(name)}
	deadline := time.Now().Add(acquireTimeout)
	for {
		now, err := s.store.Now(ctx)
		if err != nil {
			return "", fmt.Errorf("semaphore: clock read: %w", err)
		}
		reply, err := s.acquire.Run(ctx, s.store.Client(), keys, token, now, leaseTTL.Seconds(), limit)
		if err != nil {
			return "", fmt.Errorf("semaphore: acquire %q: %w", name, err)
		}
		switch reply.Code() {
		case "OK":
			return token, nil
		case "FULL":
			// fall through to retry
		default:
			return "", s.acquire.UnknownReply(reply.Code())
		}
		if time.Now().Add(s.retry).After(deadline) {
			return "", fmt.Errorf("%w: %q after %s", ErrAcquireFailed, name, acquireTimeout)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(s.retry):
		}
	}
}

// Release gives a slot back. A token that already expired or was never
// admitted is not an error.
func (s *Semaphore) Release(ctx context.Context, name, token string) error {
	reply, err := s.release.Run(ctx, s.store.Client(), []string{OwnersKey(name), SeqKey(name)}, token)
	if err != nil {
		return fmt.Errorf("semaphore: release %q: %w", name, err)
	}
	if reply.Code() != "RELEASED" {
		return s.release.UnknownReply(reply.Code())
	}
	return nil
}

// WithFairSemaphore runs fn while holding a slot and releases on every exit
// path. fn's error propagates after the release.
func (s *Semaphore) WithFairSemaphore(ctx context.Context, name string, limit int, leaseTTL time.Duration, fn func(ctx context.Context) error) error {
	token, err := s.Acquire(ctx, name, limit, leaseTTL)
	if err != nil {
		return err
	}
	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if rerr := s.Release(rctx, name, token); rerr != nil {
			s.logger.Error("semaphore release failed", log.F("name", name), log.Err(rerr))
		}
	}()
	return fn(ctx)
}
