package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/rzbill/tradepost/internal/lock"
	"github.com/rzbill/tradepost/internal/scripts"
	redisstore "github.com/rzbill/tradepost/internal/storage/redis"
	"github.com/rzbill/tradepost/pkg/log"
)

type fixture struct {
	q     *Queue
	mr    *miniredis.Miniredis
	locks *lock.Lock
	base  time.Time
}

func openTestQueue(t *testing.T, opts Options) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	base := time.Now()
	mr.SetTime(base)
	store, err := redisstore.Open(context.Background(), redisstore.Options{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	catalog := scripts.NewCatalog()
	locks, err := lock.New(store, catalog, log.NewNop(), lock.Options{RetryInterval: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("new lock: %v", err)
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = 20 * time.Millisecond
	}
	if opts.OpTimeout == 0 {
		opts.OpTimeout = 2 * time.Second
	}
	q, err := New(store, catalog, locks, log.NewNop(), "notify", opts)
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	return &fixture{q: q, mr: mr, locks: locks, base: base}
}

func payload(t *testing.T, s string) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(map[string]string{"to": s})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return b
}

func TestEnqueueImmediate(t *testing.T) {
	f := openTestQueue(t, Options{})
	ctx := context.Background()

	taskID, err := f.q.Enqueue(ctx, payload(t, "a@example.com"), ClassHigh, 0)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if taskID == "" {
		t.Fatalf("want task id")
	}
	ready, _ := f.mr.ZMembers(PriorityKey("notify"))
	if len(ready) != 1 {
		t.Fatalf("priority set size = %d, want 1", len(ready))
	}
	task, err := decodeTask(ready[0])
	if err != nil {
		t.Fatalf("decode member: %v", err)
	}
	if task.ID != taskID || task.Score != ClassHigh.Weight() {
		t.Fatalf("bad member: %+v", task)
	}
	if delayed, _ := f.mr.ZMembers(DelayKey("notify")); len(delayed) != 0 {
		t.Fatalf("delay set not empty")
	}
}

func TestEnqueueDelayed(t *testing.T) {
	f := openTestQueue(t, Options{})
	ctx := context.Background()

	if _, err := f.q.Enqueue(ctx, payload(t, "a@example.com"), ClassLow, time.Minute); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	delayed, _ := f.mr.ZMembers(DelayKey("notify"))
	if len(delayed) != 1 {
		t.Fatalf("delay set size = %d, want 1", len(delayed))
	}
	score, err := f.mr.ZScore(DelayKey("notify"), delayed[0])
	if err != nil {
		t.Fatalf("zscore: %v", err)
	}
	want := float64(f.base.Unix()) + 60
	if score < want-2 || score > want+2 {
		t.Fatalf("executeAt = %f, want ~%f", score, want)
	}
	if ready, _ := f.mr.ZMembers(PriorityKey("notify")); len(ready) != 0 {
		t.Fatalf("delayed task leaked into priority set")
	}
}

func TestEnqueueValidation(t *testing.T) {
	f := openTestQueue(t, Options{})
	ctx := context.Background()
	if _, err := f.q.Enqueue(ctx, payload(t, "x"), Class("URGENT"), 0); err == nil {
		t.Fatalf("want error for unknown class")
	}
	if _, err := f.q.Enqueue(ctx, payload(t, "x"), ClassLow, -time.Second); err == nil {
		t.Fatalf("want error for negative delay")
	}
}

func TestPromotionNeverEarly(t *testing.T) {
	f := openTestQueue(t, Options{})
	ctx := context.Background()

	if _, err := f.q.Enqueue(ctx, payload(t, "x"), ClassMedium, time.Minute); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	busy, err := f.q.promoteDue(ctx)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if busy {
		t.Fatalf("promoted before due time")
	}
	if ready, _ := f.mr.ZMembers(PriorityKey("notify")); len(ready) != 0 {
		t.Fatalf("task promoted early")
	}

	f.mr.SetTime(f.base.Add(2 * time.Minute))
	busy, err = f.q.promoteDue(ctx)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if !busy {
		t.Fatalf("due task not promoted")
	}
	ready, _ := f.mr.ZMembers(PriorityKey("notify"))
	if len(ready) != 1 {
		t.Fatalf("priority set size = %d, want 1", len(ready))
	}
	if score, _ := f.mr.ZScore(PriorityKey("notify"), ready[0]); score != ClassMedium.Weight() {
		t.Fatalf("promoted with score %f, want %f", score, ClassMedium.Weight())
	}
	if delayed, _ := f.mr.ZMembers(DelayKey("notify")); len(delayed) != 0 {
		t.Fatalf("task left in delay set after promotion")
	}
}

func TestDispatchOrderHonorsWeight(t *testing.T) {
	f := openTestQueue(t, Options{})
	ctx := context.Background()

	// insert LOW first; HIGH must still be served first
	if _, err := f.q.Enqueue(ctx, payload(t, "low"), ClassLow, 0); err != nil {
		t.Fatalf("enqueue low: %v", err)
	}
	if _, err := f.q.Enqueue(ctx, payload(t, "high"), ClassHigh, 0); err != nil {
		t.Fatalf("enqueue high: %v", err)
	}

	var order []Class
	d := DispatcherFunc(func(_ context.Context, task Task) error {
		order = append(order, task.Class)
		return nil
	})
	for i := 0; i < 2; i++ {
		busy, err := f.q.dispatchOne(ctx, d)
		if err != nil {
			t.Fatalf("dispatch %d: %v", i, err)
		}
		if !busy {
			t.Fatalf("dispatch %d found no task", i)
		}
	}
	if len(order) != 2 || order[0] != ClassHigh || order[1] != ClassLow {
		t.Fatalf("dispatch order = %v", order)
	}
}

func TestDispatchSuccessRemovesTask(t *testing.T) {
	f := openTestQueue(t, Options{})
	ctx := context.Background()

	if _, err := f.q.Enqueue(ctx, payload(t, "x"), ClassHigh, 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	ok := DispatcherFunc(func(context.Context, Task) error { return nil })
	if busy, err := f.q.dispatchOne(ctx, ok); err != nil || !busy {
		t.Fatalf("dispatch: busy=%v err=%v", busy, err)
	}
	// not redelivered
	if busy, err := f.q.dispatchOne(ctx, ok); err != nil || busy {
		t.Fatalf("redelivered after success: busy=%v err=%v", busy, err)
	}
}

func TestDispatchFailureKeepsTask(t *testing.T) {
	f := openTestQueue(t, Options{MaxAttempts: 5})
	ctx := context.Background()

	taskID, err := f.q.Enqueue(ctx, payload(t, "x"), ClassHigh, 0)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	failing := DispatcherFunc(func(context.Context, Task) error { return errors.New("smtp down") })
	if busy, err := f.q.dispatchOne(ctx, failing); err != nil || !busy {
		t.Fatalf("dispatch: busy=%v err=%v", busy, err)
	}
	if ready, _ := f.mr.ZMembers(PriorityKey("notify")); len(ready) != 1 {
		t.Fatalf("failed task removed from priority set")
	}
	if got := f.mr.HGet(AttemptsKey("notify"), taskID); got != "1" {
		t.Fatalf("attempts = %q, want 1", got)
	}
}

func TestDeadLetterAfterMaxAttempts(t *testing.T) {
	f := openTestQueue(t, Options{MaxAttempts: 2})
	ctx := context.Background()

	taskID, err := f.q.Enqueue(ctx, payload(t, "x"), ClassMedium, 0)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	failing := DispatcherFunc(func(context.Context, Task) error { return errors.New("smtp down") })
	for i := 0; i < 2; i++ {
		if busy, err := f.q.dispatchOne(ctx, failing); err != nil || !busy {
			t.Fatalf("dispatch %d: busy=%v err=%v", i, busy, err)
		}
	}
	if ready, _ := f.mr.ZMembers(PriorityKey("notify")); len(ready) != 0 {
		t.Fatalf("dead task still in priority set")
	}
	dead, err := f.q.DeadTasks(ctx, 10)
	if err != nil {
		t.Fatalf("dead tasks: %v", err)
	}
	if len(dead) != 1 || dead[0].ID != taskID {
		t.Fatalf("dead tasks = %+v", dead)
	}
	if f.mr.HGet(AttemptsKey("notify"), taskID) != "" {
		t.Fatalf("attempts not cleared for dead task")
	}
}

func TestDispatchSkipsLockedTask(t *testing.T) {
	f := openTestQueue(t, Options{OpTimeout: 200 * time.Millisecond})
	ctx := context.Background()

	taskID, err := f.q.Enqueue(ctx, payload(t, "x"), ClassHigh, 0)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	// another instance is mid-dispatch on this task
	token, err := f.locks.Acquire(ctx, TaskLockName(taskID), time.Second, time.Minute)
	if err != nil {
		t.Fatalf("acquire task lock: %v", err)
	}
	called := false
	d := DispatcherFunc(func(context.Context, Task) error { called = true; return nil })
	busy, err := f.q.dispatchOne(ctx, d)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if busy || called {
		t.Fatalf("dispatched a task locked elsewhere")
	}
	if ready, _ := f.mr.ZMembers(PriorityKey("notify")); len(ready) != 1 {
		t.Fatalf("locked task removed")
	}
	_ = f.locks.Release(ctx, TaskLockName(taskID), token)
}

func TestStats(t *testing.T) {
	f := openTestQueue(t, Options{})
	ctx := context.Background()

	if _, err := f.q.Enqueue(ctx, payload(t, "a"), ClassHigh, 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := f.q.Enqueue(ctx, payload(t, "b"), ClassLow, time.Hour); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	st, err := f.q.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Ready != 1 || st.Delayed != 1 || st.Dead != 0 {
		t.Fatalf("stats = %+v", st)
	}
}
