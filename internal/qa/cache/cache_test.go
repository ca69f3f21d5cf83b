package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemoryExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	m := NewMemory(clock.Now)
	ctx := context.Background()

	m.Set(ctx, "k", []byte("v"), time.Hour)
	if v, err := m.Get(ctx, "k"); err != nil || string(v) != "v" {
		t.Fatalf("Get = %q, %v", v, err)
	}

	clock.Advance(59 * time.Minute)
	if _, err := m.Get(ctx, "k"); err != nil {
		t.Errorf("entry expired early: %v", err)
	}

	clock.Advance(time.Minute)
	if _, err := m.Get(ctx, "k"); !errors.Is(err, ErrMiss) {
		t.Errorf("err = %v, want ErrMiss after TTL", err)
	}
	if m.Len() != 0 {
		t.Errorf("expired entry not evicted, len = %d", m.Len())
	}
}

func TestMemorySweepsOnWrite(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	m := NewMemory(clock.Now)
	ctx := context.Background()

	m.Set(ctx, "a", []byte("1"), time.Second)
	m.Set(ctx, "b", []byte("2"), 0)
	clock.Advance(2 * time.Second)
	m.Set(ctx, "c", []byte("3"), time.Second)
	if m.Len() != 2 {
		t.Errorf("len = %d, want 2 (a swept, b kept forever)", m.Len())
	}
}

func TestMemoryDeletePrefix(t *testing.T) {
	m := NewMemory(nil)
	ctx := context.Background()
	m.Set(ctx, "qa:1", []byte("x"), 0)
	m.Set(ctx, "qa:2", []byte("x"), 0)
	m.Set(ctx, "other", []byte("x"), 0)

	n, _ := m.DeletePrefix(ctx, "qa:")
	if n != 2 || m.Len() != 1 {
		t.Errorf("deleted %d, remaining %d", n, m.Len())
	}
}

func TestBuildKey(t *testing.T) {
	a := BuildKey("doc.pdf", []string{"q1", "q2"})
	if a != BuildKey(" doc.pdf ", []string{"q1 ", "q2"}) {
		t.Error("surrounding whitespace changed the key")
	}
	if a == BuildKey("doc.pdf", []string{"q2", "q1"}) {
		t.Error("question order must change the key")
	}
	if a == BuildKey("doc.pdf", []string{"q1q2"}) {
		t.Error("question boundaries must change the key")
	}
	if BuildKey("x\x00a", []string{"b"}) == BuildKey("x", []string{"a\x00b"}) {
		t.Error("separator bytes inside fields must not collide")
	}
	if BuildKey("d", []string{"a", ""}) == BuildKey("d", []string{"a"}) {
		t.Error("an empty trailing question must change the key")
	}
}

func TestAnswerCacheRoundTripAndStats(t *testing.T) {
	c := New(NewMemory(nil), time.Hour, nil)
	ctx := context.Background()

	if _, ok := c.Get(ctx, "d", []string{"q"}); ok {
		t.Fatal("unexpected hit on empty cache")
	}
	c.Set(ctx, "d", []string{"q"}, []string{"a"})
	got, ok := c.Get(ctx, "d", []string{"q"})
	if !ok || len(got) != 1 || got[0] != "a" {
		t.Fatalf("Get = %v, %v", got, ok)
	}
	hits, misses := c.Stats()
	if hits != 1 || misses != 1 {
		t.Errorf("stats = %d/%d, want 1/1", hits, misses)
	}
}

func TestGetOrComputeCollapsesConcurrentCalls(t *testing.T) {
	c := New(NewMemory(nil), time.Hour, nil)
	var calls atomic.Int64
	release := make(chan struct{})

	compute := func(ctx context.Context) ([]string, bool, error) {
		calls.Add(1)
		<-release
		return []string{"answer"}, true, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, _, err := c.GetOrCompute(context.Background(), "d", []string{"q"}, compute)
			if err != nil || got[0] != "answer" {
				t.Errorf("GetOrCompute = %v, %v", got, err)
			}
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("compute ran %d times, want 1", calls.Load())
	}
	if _, hit, _ := c.GetOrCompute(context.Background(), "d", []string{"q"}, compute); !hit {
		t.Error("second request should be served from cache")
	}
}

func TestGetOrComputeOutlivesFirstCaller(t *testing.T) {
	c := New(NewMemory(nil), time.Hour, nil)
	release := make(chan struct{})
	started := make(chan struct{})
	compute := func(ctx context.Context) ([]string, bool, error) {
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
		return []string{"answer"}, true, nil
	}

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, _, err := c.GetOrCompute(leaderCtx, "d", []string{"q"}, compute)
		leaderErr <- err
	}()
	<-started

	follower := make(chan []string, 1)
	go func() {
		got, _, err := c.GetOrCompute(context.Background(), "d", []string{"q"}, compute)
		if err != nil {
			t.Errorf("follower: %v", err)
		}
		follower <- got
	}()
	time.Sleep(20 * time.Millisecond)

	cancelLeader()
	if err := <-leaderErr; !errors.Is(err, context.Canceled) {
		t.Errorf("leader err = %v, want canceled", err)
	}
	close(release)

	select {
	case got := <-follower:
		if len(got) != 1 || got[0] != "answer" {
			t.Errorf("follower got %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("follower never returned")
	}
	if _, ok := c.Get(context.Background(), "d", []string{"q"}); !ok {
		t.Error("result of the shared run was not cached")
	}
}

func TestGetOrComputeCallerStopsWaiting(t *testing.T) {
	c := New(NewMemory(nil), time.Hour, nil)
	release := make(chan struct{})
	defer close(release)
	compute := func(ctx context.Context) ([]string, bool, error) {
		<-release
		return []string{"answer"}, true, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, _, err := c.GetOrCompute(ctx, "d", []string{"q"}, compute)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("caller waited %v for a computation it left", elapsed)
	}
}

func TestGetOrComputeDoesNotCacheErrors(t *testing.T) {
	c := New(NewMemory(nil), time.Hour, nil)
	boom := errors.New("boom")
	_, _, err := c.GetOrCompute(context.Background(), "d", []string{"q"}, func(context.Context) ([]string, bool, error) {
		return nil, true, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if _, ok := c.Get(context.Background(), "d", []string{"q"}); ok {
		t.Error("failed computation was cached")
	}
}

func TestGetOrComputeSkipsUncacheable(t *testing.T) {
	c := New(NewMemory(nil), time.Hour, nil)
	c.GetOrCompute(context.Background(), "d", []string{"q"}, func(context.Context) ([]string, bool, error) {
		return []string{"partial"}, false, nil
	})
	if _, ok := c.Get(context.Background(), "d", []string{"q"}); ok {
		t.Error("uncacheable result was stored")
	}
}

func TestNilCacheComputes(t *testing.T) {
	var c *AnswerCache
	got, hit, err := c.GetOrCompute(context.Background(), "d", []string{"q"}, func(context.Context) ([]string, bool, error) {
		return []string{"x"}, true, nil
	})
	if err != nil || hit || got[0] != "x" {
		t.Errorf("nil cache GetOrCompute = %v, %v, %v", got, hit, err)
	}
}
