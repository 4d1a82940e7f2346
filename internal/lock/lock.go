package lock

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

// ErrAcquireTimeout is returned when the lock is still held by someone else
// once the acquire deadline passes.
var ErrAcquireTimeout = errors.New("lock: acquire timeout")

// Key returns the store key for a lock name.
func Key(name string) string { return "tradepost:lock:" + name }

// Options tunes acquisition behavior.
type Options struct {
	// RetryInterval is the sleep between failed acquire attempts.
	RetryInterval time.Duration
}

// Lock acquires and releases named distributed locks.
type Lock struct {
	store   *redisstore.Store
	logger  log.Logger
	retry   time.Duration
	acquire *scripts.Script
	release *scripts.Script
}

// New builds a Lock, resolving its scripts from the catalog up front so that
// a missing or renamed script fails at construction, not mid-request.
func New(store *redisstore.Store, catalog *scripts.Catalog, logger log.Logger, opts Options) (*Lock, error) {
	acquire, err := catalog.Load(scripts.CategoryAcquire, "lock_acquire")
	if err != nil {
		return nil, err
	}
	release, err := catalog.Load(scripts.CategoryAcquire, "lock_release")
	if err != nil {
		return nil, err
	}
	retry := opts.RetryInterval
	if retry <= 0 {
		retry = 100 * time.Millisecond
	}
	return &Lock{
		store:   store,
		logger:  logger.WithComponent("lock"),
		retry:   retry,
		acquire: acquire,
		release: release,
	}, nil
}

// Acquire takes the named lock, retrying until acquireTimeout elapses. On
// success it returns the owner token proving the acquisition; the store
// reclaims the lock automatically after leaseTTL if it is never released.
func (l *Lock) Acquire(ctx context.Context, name string, acquireTimeout, leaseTTL time.Duration) (string, error) {
	if name == "" {
		return "", errors.New("lock: empty name")
	}
	if leaseTTL <= 0 {
		return "", errors.New("lock: lease TTL must be positive")
	}
	token := id.NewToken()
	deadline := time.Now().Add(acquireTimeout)
	for {
		reply, err := l.acquire.Run(ctx, l.store.Client(), []string{Key(name)}, token, leaseTTL.Milliseconds())
		if err != nil {
			return "", fmt.Errorf("lock: acquire %q: %w", name, err)
		}
		switch reply.Code() {
		case "OK":
			return token, nil
		case "BUSY":
			// fall through to retry
		default:
			return "", l.acquire.UnknownReply(reply.Code())
		}
		if time.Now().Add(l.retry).After(deadline) {
			return "", fmt.Errorf("%w: %q after %s", ErrAcquireTimeout, name, acquireTimeout)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(l.retry):
		}
	}
}

// Release gives the lock back. Both "already expired" and "owned by someone
// else" resolve to nil: the caller's critical section is over either way,
// and deleting another holder's lock would be worse than doing nothing.
func (l *Lock) Release(ctx context.Context, name, token string) error {
	reply, err := l.release.Run(ctx, l.store.Client(), []string{Key(name)}, token)
	if err != nil {
		return fmt.Errorf("lock: release %q: %w", name, err)
	}
	switch reply.Code() {
	case "RELEASED":
		return nil
	case "NOT_FOUND":
		l.logger.Debug("lock already gone on release", log.F("name", name))
		return nil
	case "NOT_OWNER":
		l.logger.Warn("lock owned by others on release", log.F("name", name))
		return nil
	default:
		return l.release.UnknownReply(reply.Code())
	}
}

// WithLock runs fn while holding the named lock and releases on every exit
// path. fn's error propagates after the release. The release uses a context
// detached from ctx's cancellation so that a cancelled caller still returns
// its lock promptly instead of waiting out the lease.
func (l *Lock) WithLock(ctx context.Context, name string, acquireTimeout, leaseTTL time.Duration, fn func(ctx context.Context) error) error {
	token, err := l.Acquire(ctx, name, acquireTimeout, leaseTTL)
	if err != nil {
		return err
	}
	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if rerr := l.Release(rctx, name, token); rerr != nil {
			l.logger.Error("lock release failed", log.F("name", name), log.Err(rerr))
		}
	}()
	return fn(ctx)
}
