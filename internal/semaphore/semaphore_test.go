package semaphore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/rzbill/tradepost/internal/scripts"
	redisstore "github.com/rzbill/tradepost/internal/storage/redis"
	"github.com/rzbill/tradepost/pkg/log"
)

func openTestSemaphore(t *testing.T, opts Options) (*Semaphore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	mr.SetTime(time.Now())
	store, err := redisstore.Open(context.Background(), redisstore.Options{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if opts.RetryInterval == 0 {
		opts.RetryInterval = 10 * time.Millisecond
	}
	s, err := New(store, scripts.NewCatalog(), log.NewNop(), opts)
	if err != nil {
		t.Fatalf("new semaphore: %v", err)
	}
	return s, mr
}

func TestAcquireRespectsLimit(t *testing.T) {
	s, mr := openTestSemaphore(t, Options{AcquireTimeout: 100 * time.Millisecond})
	ctx := context.Background()

	a, err := s.Acquire(ctx, "S", 2, time.Minute)
	if err != nil {
		t.Fatalf("acquire a: %v", err)
	}
	b, err := s.Acquire(ctx, "S", 2, time.Minute)
	if err != nil {
		t.Fatalf("acquire b: %v", err)
	}
	if a == b {
		t.Fatalf("tokens collided")
	}
	if _, err := s.Acquire(ctx, "S", 2, time.Minute); !errors.Is(err, ErrAcquireFailed) {
		t.Fatalf("want ErrAcquireFailed, got %v", err)
	}
	if n, _ := mr.ZMembers(OwnersKey("S")); len(n) != 2 {
		t.Fatalf("owner count = %d, want 2", len(n))
	}
}

func TestReleaseFreesSlot(t *testing.T) {
	s, _ := openTestSemaphore(t, Options{AcquireTimeout: 100 * time.Millisecond})
	ctx := context.Background()

	a, err := s.Acquire(ctx, "S", 1, time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := s.Acquire(ctx, "S", 1, time.Minute); !errors.Is(err, ErrAcquireFailed) {
		t.Fatalf("want ErrAcquireFailed, got %v", err)
	}
	if err := s.Release(ctx, "S", a); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := s.Acquire(ctx, "S", 1, time.Minute); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	s, _ := openTestSemaphore(t, Options{})
	if err := s.Release(context.Background(), "S", "never-admitted"); err != nil {
		t.Fatalf("release: %v", err)
	}
}

func TestExpiredOwnersArePurged(t *testing.T) {
	s, mr := openTestSemaphore(t, Options{AcquireTimeout: 100 * time.Millisecond})
	ctx := context.Background()
	base := time.Now()
	mr.SetTime(base)

	if _, err := s.Acquire(ctx, "S", 1, time.Second); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := s.Acquire(ctx, "S", 1, time.Second); !errors.Is(err, ErrAcquireFailed) {
		t.Fatalf("want ErrAcquireFailed while slot is live, got %v", err)
	}
	// the holder never releases; its lease lapses
	mr.SetTime(base.Add(2 * time.Second))
	if _, err := s.Acquire(ctx, "S", 1, time.Second); err != nil {
		t.Fatalf("acquire after expiry: %v", err)
	}
	if n, _ := mr.ZMembers(OwnersKey("S")); len(n) != 1 {
		t.Fatalf("owner count = %d, want 1 after purge", len(n))
	}
}

func TestAdmissionFollowsArrivalOrder(t *testing.T) {
	// a tiny AcquireTimeout makes every Acquire a single admission bid, so
	// the test controls exactly the order in which bids reach the store
	s, mr := openTestSemaphore(t, Options{AcquireTimeout: time.Millisecond})
	ctx := context.Background()

	first, err := s.Acquire(ctx, "S", 2, time.Minute)
	if err != nil {
		t.Fatalf("acquire first: %v", err)
	}
	second, err := s.Acquire(ctx, "S", 2, time.Minute)
	if err != nil {
		t.Fatalf("acquire second: %v", err)
	}
	// the pool is full; a later bid must not displace an earlier owner
	if _, err := s.Acquire(ctx, "S", 2, time.Minute); !errors.Is(err, ErrAcquireFailed) {
		t.Fatalf("want ErrAcquireFailed, got %v", err)
	}
	seqFirst, err := mr.ZScore(SeqKey("S"), first)
	if err != nil {
		t.Fatalf("seq score first: %v", err)
	}
	seqSecond, err := mr.ZScore(SeqKey("S"), second)
	if err != nil {
		t.Fatalf("seq score second: %v", err)
	}
	if seqFirst >= seqSecond {
		t.Fatalf("admission sequence not ordered: first=%f second=%f", seqFirst, seqSecond)
	}

	// a slot frees; with two waiters bidding in a known order, the earlier
	// bid wins the slot and the later one stays out
	if err := s.Release(ctx, "S", first); err != nil {
		t.Fatalf("release: %v", err)
	}
	winner, err := s.Acquire(ctx, "S", 2, time.Minute)
	if err != nil {
		t.Fatalf("earlier waiter denied a free slot: %v", err)
	}
	if _, err := s.Acquire(ctx, "S", 2, time.Minute); !errors.Is(err, ErrAcquireFailed) {
		t.Fatalf("later waiter overtook: %v", err)
	}
	// the surviving owner kept its slot and the winner's sequence is newer
	// than every earlier admission
	if _, err := mr.ZScore(OwnersKey("S"), second); err != nil {
		t.Fatalf("earlier owner displaced: %v", err)
	}
	seqWinner, err := mr.ZScore(SeqKey("S"), winner)
	if err != nil {
		t.Fatalf("seq score winner: %v", err)
	}
	if seqWinner <= seqSecond {
		t.Fatalf("admission counter not monotone: winner=%f second=%f", seqWinner, seqSecond)
	}
}

func TestWithFairSemaphoreBoundsConcurrency(t *testing.T) {
	s, _ := openTestSemaphore(t, Options{AcquireTimeout: 5 * time.Second})
	ctx := context.Background()

	const limit = 2
	var mu sync.Mutex
	inside, maxInside := 0, 0

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.WithFairSemaphore(ctx, "S", limit, 5*time.Second, func(context.Context) error {
				mu.Lock()
				inside++
				if inside > maxInside {
					maxInside = inside
				}
				mu.Unlock()
				time.Sleep(50 * time.Millisecond)
				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("withFairSemaphore %d: %v", i, err)
		}
	}
	if maxInside > limit {
		t.Fatalf("concurrent holders = %d, want <= %d", maxInside, limit)
	}
}

func TestWithFairSemaphoreReleasesOnError(t *testing.T) {
	s, _ := openTestSemaphore(t, Options{AcquireTimeout: 100 * time.Millisecond})
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.WithFairSemaphore(ctx, "S", 1, time.Minute, func(context.Context) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("want action error, got %v", err)
	}
	if _, err := s.Acquire(ctx, "S", 1, time.Minute); err != nil {
		t.Fatalf("slot still held after failed action: %v", err)
	}
}
