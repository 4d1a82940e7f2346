package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	cfgpkg "github.com/rzbill/tradepost/internal/config"
	"github.com/rzbill/tradepost/internal/lock"
	"github.com/rzbill/tradepost/internal/market"
	"github.com/rzbill/tradepost/internal/scripts"
	"github.com/rzbill/tradepost/internal/semaphore"
	redisstore "github.com/rzbill/tradepost/internal/storage/redis"
	"github.com/rzbill/tradepost/internal/taskqueue"
	"github.com/rzbill/tradepost/pkg/log"
)

// Options for building the Runtime.
type Options struct {
	Config cfgpkg.Config
	Logger log.Logger
}

// Runtime wires the store and coordination facades for one instance. Any
// number of instances may point at the same store; all shared state lives
// there.
type Runtime struct {
	store      *redisstore.Store
	catalog    *scripts.Catalog
	locks      *lock.Lock
	semaphores *semaphore.Semaphore
	market     *market.Engine
	logger     log.Logger
	config     cfgpkg.Config
}

// Open connects to the store and builds the facades.
func Open(ctx context.Context, opts Options) (*Runtime, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	store, err := redisstore.Open(ctx, redisstore.Options{
		Addr:        opts.Config.Redis.Addr,
		Password:    opts.Config.Redis.Password,
		DB:          opts.Config.Redis.DB,
		DialTimeout: opts.Config.Redis.DialTimeout.Std(),
		ReadTimeout: opts.Config.Redis.ReadTimeout.Std(),
	})
	if err != nil {
		return nil, fmt.Errorf("runtime: open store: %w", err)
	}
	catalog := scripts.NewCatalog()
	locks, err := lock.New(store, catalog, logger, lock.Options{
		RetryInterval: opts.Config.Lock.RetryInterval.Std(),
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	semaphores, err := semaphore.New(store, catalog, logger, semaphore.Options{
		RetryInterval: opts.Config.Lock.RetryInterval.Std(),
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	engine, err := market.New(store, catalog, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return &Runtime{
		store:      store,
		catalog:    catalog,
		locks:      locks,
		semaphores: semaphores,
		market:     engine,
		logger:     logger,
		config:     opts.Config,
	}, nil
}

// Close releases the store connection. Pollers handed out by OpenQueue must
// be stopped first.
func (r *Runtime) Close() error {
	if r.store == nil {
		return nil
	}
	return r.store.Close()
}

// CheckHealth verifies the store answers.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.store == nil {
		return errors.New("runtime: store not open")
	}
	return r.store.CheckHealth(ctx)
}

// Locks returns the distributed lock facade.
func (r *Runtime) Locks() *lock.Lock { return r.locks }

// Semaphores returns the fair semaphore facade.
func (r *Runtime) Semaphores() *semaphore.Semaphore { return r.semaphores }

// Market returns the transaction engine.
func (r *Runtime) Market() *market.Engine { return r.market }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }

// OpenedQueue bundles a queue with its background pollers.
type OpenedQueue struct {
	Queue   *taskqueue.Queue
	Pollers *taskqueue.Pollers
}

// OpenQueue opens a named queue and builds its pollers around d. The caller
// owns the pollers' lifecycle.
func (r *Runtime) OpenQueue(name string, d taskqueue.Dispatcher) (*OpenedQueue, error) {
	q, err := taskqueue.New(r.store, r.catalog, r.locks, r.logger, name, taskqueue.Options{
		PollInterval: r.config.Queue.PollInterval.Std(),
		MaxAttempts:  r.config.Queue.MaxAttempts,
		OpTimeout:    r.config.Queue.OpTimeout.Std(),
		TaskLockTTL:  r.config.Queue.TaskLockTTL.Std(),
	})
	if err != nil {
		return nil, err
	}
	return &OpenedQueue{
		Queue:   q,
		Pollers: taskqueue.NewPollers(q, d),
	}, nil
}

// LoggingDispatcher returns a dispatcher that records each delivered task.
// It stands in for a real delivery integration behind the serve command.
func LoggingDispatcher(logger log.Logger) taskqueue.Dispatcher {
	return taskqueue.DispatcherFunc(func(_ context.Context, task taskqueue.Task) error {
		logger.Info("task delivered",
			log.F("task", task.ID),
			log.F("class", task.Class),
			log.F("payload", string(task.Payload)))
		return nil
	})
}

// WithLock runs fn under a named distributed lock.
func (r *Runtime) WithLock(ctx context.Context, name string, acquireTimeout, leaseTTL time.Duration, fn func(ctx context.Context) error) error {
	return r.locks.WithLock(ctx, name, acquireTimeout, leaseTTL, fn)
}

// Enqueue is a convenience for one-shot producers (the enqueue command): it
// opens the queue without pollers and adds a single task.
func (r *Runtime) Enqueue(ctx context.Context, queue string, payload json.RawMessage, class taskqueue.Class, delay time.Duration) (string, error) {
	q, err := taskqueue.New(r.store, r.catalog, r.locks, r.logger, queue, taskqueue.Options{
		MaxAttempts: r.config.Queue.MaxAttempts,
	})
	if err != nil {
		return "", err
	}
	return q.Enqueue(ctx, payload, class, delay)
}
