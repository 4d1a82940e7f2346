package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rzbill/tradepost/internal/lock"
	"github.com/rzbill/tradepost/internal/scripts"
	redisstore "github.com/rzbill/tradepost/internal/storage/redis"
	"github.com/rzbill/tradepost/pkg/id"
	"github.com/rzbill/tradepost/pkg/log"
)

// Options configures a queue instance.
type Options struct {
	// PollInterval is the sleep between polls when nothing is due or ready.
	PollInterval time.Duration
	// MaxAttempts dead-letters a task after this many failed dispatches.
	// Zero or negative retries forever.
	MaxAttempts int
	// OpTimeout bounds each poll iteration's store round trips.
	OpTimeout time.Duration
	// TaskLockTTL is the lease on the per-task lock held across a
	// promotion or dispatch. It must outlive a slow dispatcher call.
	TaskLockTTL time.Duration
}

func (o *Options) withDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 500 * time.Millisecond
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 5
	}
	if o.OpTimeout <= 0 {
		o.OpTimeout = 10 * time.Second
	}
	if o.TaskLockTTL <= 0 {
		o.TaskLockTTL = 30 * time.Second
	}
}

// Queue is one named two-tier task queue. Many instances may open the same
// queue name; they share all state through the store.
type Queue struct {
	store    *redisstore.Store
	locks    *lock.Lock
	logger   log.Logger
	name     string
	opts     Options
	promote  *scripts.Script
	complete *scripts.Script
	fail     *scripts.Script
}

// New opens a queue, resolving its scripts from the catalog up front. The
// lock is injected rather than built here: promotion and dispatch guard each
// task with it, and it stays an independently testable primitive.
func New(store *redisstore.Store, catalog *scripts.Catalog, locks *lock.Lock, logger log.Logger, name string, opts Options) (*Queue, error) {
	if err := ValidateQueueName(name); err != nil {
		return nil, err
	}
	promote, err := catalog.Load(scripts.CategoryQueue, "promote")
	if err != nil {
		return nil, err
	}
	complete, err := catalog.Load(scripts.CategoryQueue, "complete")
	if err != nil {
		return nil, err
	}
	fail, err := catalog.Load(scripts.CategoryQueue, "fail")
	if err != nil {
		return nil, err
	}
	opts.withDefaults()
	return &Queue{
		store:    store,
		locks:    locks,
		logger:   logger.WithComponent("taskqueue").With(log.F("queue", name)),
		name:     name,
		opts:     opts,
		promote:  promote,
		complete: complete,
		fail:     fail,
	}, nil
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// Enqueue adds a task. delay == 0 makes it immediately dispatchable; a
// positive delay schedules it at storeClock+delay, using the server clock so
// instances with skewed local clocks agree on due times.
func (q *Queue) Enqueue(ctx context.Context, payload json.RawMessage, class Class, delay time.Duration) (string, error) {
	if _, err := ParseClass(string(class)); err != nil {
		return "", err
	}
	if delay < 0 {
		return "", errors.New("taskqueue: negative delay")
	}
	task := Task{
		ID:      id.NewTaskID(),
		Class:   class,
		Score:   class.Weight(),
		Payload: payload,
	}
	member, err := task.encode()
	if err != nil {
		return "", err
	}
	client := q.store.Client()
	if delay == 0 {
		if err := client.ZAdd(ctx, PriorityKey(q.name), redis.Z{Score: task.Score, Member: member}).Err(); err != nil {
			return "", fmt.Errorf("taskqueue: enqueue %s: %w", task.ID, err)
		}
		q.logger.Debug("task enqueued", log.F("task", task.ID), log.F("class", class))
		return task.ID, nil
	}
	now, err := q.store.Now(ctx)
	if err != nil {
		return "", fmt.Errorf("taskqueue: clock read: %w", err)
	}
	executeAt := now + delay.Seconds()
	if err := client.ZAdd(ctx, DelayKey(q.name), redis.Z{Score: executeAt, Member: member}).Err(); err != nil {
		return "", fmt.Errorf("taskqueue: enqueue delayed %s: %w", task.ID, err)
	}
	q.logger.Debug("task enqueued delayed",
		log.F("task", task.ID), log.F("class", class), log.F("delay", delay.String()))
	return task.ID, nil
}

// promoteDue moves at most one due task from the delay set into the priority
// set. It reports whether it did any work, so the poller can skip its sleep
// while the backlog drains.
func (q *Queue) promoteDue(ctx context.Context) (bool, error) {
	zs, err := q.store.Client().ZRangeWithScores(ctx, DelayKey(q.name), 0, 0).Result()
	if err != nil {
		return false, fmt.Errorf("taskqueue: peek delay set: %w", err)
	}
	if len(zs) == 0 {
		return false, nil
	}
	member, ok := zs[0].Member.(string)
	if !ok {
		return false, fmt.Errorf("taskqueue: unexpected delay member type %T", zs[0].Member)
	}
	now, err := q.store.Now(ctx)
	if err != nil {
		return false, fmt.Errorf("taskqueue: clock read: %w", err)
	}
	if zs[0].Score > now {
		// earliest task is not due yet; never promote early
		return false, nil
	}
	task, err := decodeTask(member)
	if err != nil {
		return false, err
	}
	// The per-task lock keeps a concurrent poller instance from racing this
	// promotion; the ZREM guard inside the script covers the remaining gap.
	err = q.locks.WithLock(ctx, TaskLockName(task.ID), q.opts.OpTimeout, q.opts.TaskLockTTL, func(ctx context.Context) error {
		reply, err := q.promote.Run(ctx, q.store.Client(),
			[]string{DelayKey(q.name), PriorityKey(q.name)}, member, task.Score)
		if err != nil {
			return err
		}
		switch reply.Code() {
		case "PROMOTED":
			q.logger.Debug("task promoted", log.F("task", task.ID))
			return nil
		case "GONE":
			q.logger.Debug("task promoted elsewhere", log.F("task", task.ID))
			return nil
		default:
			return q.promote.UnknownReply(reply.Code())
		}
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// dispatchOne takes the highest-weight ready task and hands it to the
// dispatcher. The task is removed only after the dispatcher confirms
// success; on failure it stays visible for a later cycle, or moves to the
// dead set once its attempt budget is spent.
func (q *Queue) dispatchOne(ctx context.Context, d Dispatcher) (bool, error) {
	members, err := q.store.Client().ZRevRange(ctx, PriorityKey(q.name), 0, 0).Result()
	if err != nil {
		return false, fmt.Errorf("taskqueue: peek priority set: %w", err)
	}
	if len(members) == 0 {
		return false, nil
	}
	member := members[0]
	task, err := decodeTask(member)
	if err != nil {
		return false, err
	}
	err = q.locks.WithLock(ctx, TaskLockName(task.ID), q.opts.OpTimeout, q.opts.TaskLockTTL, func(ctx context.Context) error {
		if derr := d.Dispatch(ctx, task); derr != nil {
			return q.recordFailure(ctx, member, task, derr)
		}
		reply, err := q.complete.Run(ctx, q.store.Client(),
			[]string{PriorityKey(q.name), AttemptsKey(q.name)}, member, task.ID)
		if err != nil {
			return err
		}
		if reply.Code() != "DONE" {
			return q.complete.UnknownReply(reply.Code())
		}
		q.logger.Info("task dispatched", log.F("task", task.ID), log.F("class", task.Class))
		return nil
	})
	if errors.Is(err, lock.ErrAcquireTimeout) {
		// another instance is working this task
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (q *Queue) recordFailure(ctx context.Context, member string, task Task, derr error) error {
	now, err := q.store.Now(ctx)
	if err != nil {
		return fmt.Errorf("taskqueue: clock read: %w", err)
	}
	reply, err := q.fail.Run(ctx, q.store.Client(),
		[]string{PriorityKey(q.name), AttemptsKey(q.name), DeadKey(q.name)},
		member, task.ID, q.opts.MaxAttempts, now)
	if err != nil {
		return err
	}
	switch reply.Code() {
	case "RETRY":
		q.logger.Info("dispatch failed, task kept for retry",
			log.F("task", task.ID), log.Err(derr))
		return nil
	case "DEAD":
		q.logger.Warn("dispatch failed, task dead-lettered",
			log.F("task", task.ID), log.F("maxAttempts", q.opts.MaxAttempts), log.Err(derr))
		return nil
	default:
		return q.fail.UnknownReply(reply.Code())
	}
}

// DeadTasks lists up to limit dead-lettered tasks, oldest first.
func (q *Queue) DeadTasks(ctx context.Context, limit int64) ([]Task, error) {
	if limit <= 0 {
		limit = 100
	}
	members, err := q.store.Client().ZRange(ctx, DeadKey(q.name), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("taskqueue: list dead set: %w", err)
	}
	tasks := make([]Task, 0, len(members))
	for _, m := range members {
		t, err := decodeTask(m)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// Stats summarizes the queue's three sets.
type Stats struct {
	Delayed int64
	Ready   int64
	Dead    int64
}

// Stats returns current set sizes.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	client := q.store.Client()
	var st Stats
	var err error
	if st.Delayed, err = client.ZCard(ctx, DelayKey(q.name)).Result(); err != nil {
		return Stats{}, fmt.Errorf("taskqueue: stats: %w", err)
	}
	if st.Ready, err = client.ZCard(ctx, PriorityKey(q.name)).Result(); err != nil {
		return Stats{}, fmt.Errorf("taskqueue: stats: %w", err)
	}
	if st.Dead, err = client.ZCard(ctx, DeadKey(q.name)).Result(); err != nil {
		return Stats{}, fmt.Errorf("taskqueue: stats: %w", err)
	}
	return st, nil
}
