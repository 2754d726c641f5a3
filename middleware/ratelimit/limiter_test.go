package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ratelimit-gateway/middleware/ratelimit/domain"
	"ratelimit-gateway/middleware/ratelimit/infra"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"pgregory.net/rapid"
)

func requestFrom(addr string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = addr
	return r
}

func TestLimiter_CheckRateLimitUnknownName(t *testing.T) {
	l := newTestLimiter(t, LimiterOptions{})
	if _, err := l.CheckRateLimit(requestFrom("10.0.0.1:1"), "nope"); !errors.Is(err, domain.ErrUnknownConfig) {
		t.Fatalf("expected ErrUnknownConfig, got %v", err)
	}
}

func TestLimiter_DestroyStopsSweepAndIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := NewLimiter(LimiterOptions{SweepEvery: time.Millisecond})
	l.Start(context.Background())
	l.Start(context.Background())
	time.Sleep(5 * time.Millisecond)

	if err := l.Destroy(); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if err := l.Destroy(); err != nil {
		t.Fatalf("second destroy: %v", err)
	}
}

func TestLimiter_SweepStopsWithContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := NewLimiter(LimiterOptions{SweepEvery: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	l.Start(ctx)
	cancel()
	l.wg.Wait()
	_ = l.Destroy()
}

func TestLimiter_DestroyClosesSharedClient(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	store := infra.NewFallbackStore(infra.NewMemoryStore(), infra.NewRedisStore(rdb))
	l := NewLimiter(LimiterOptions{Store: store})
	_ = l.Configure("general", Policy{Config: domain.Config{Window: time.Minute, Quota: domain.Bounded(5)}})

	if _, err := l.CheckRateLimit(requestFrom("10.0.0.1:1"), "general"); err != nil {
		t.Fatalf("check: %v", err)
	}
	if !l.Stats().SharedStoreAvailable {
		t.Fatalf("expected shared store available")
	}

	if err := l.Destroy(); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if err := rdb.Ping(context.Background()).Err(); !errors.Is(err, redis.ErrClosed) {
		t.Fatalf("expected client closed after Destroy, got %v", err)
	}
}

func TestLimiter_SweepEvictsExpiredKeys(t *testing.T) {
	clock := newTestClock()
	l := newTestLimiter(t, LimiterOptions{Now: clock.Now})
	_ = l.Configure("general", Policy{Config: domain.Config{Window: time.Second, Quota: domain.Bounded(5)}})

	for i := 0; i < 10; i++ {
		_, _ = l.CheckRateLimit(requestFrom(fmt.Sprintf("10.0.0.%d:1", i)), "general")
	}
	if n := l.Stats().InMemoryEntryCount; n != 10 {
		t.Fatalf("expected 10 entries, got %d", n)
	}

	clock.Advance(time.Second)
	l.Sweep()
	if n := l.Stats().InMemoryEntryCount; n != 0 {
		t.Fatalf("expected sweep to evict expired windows, got %d", n)
	}
}

func TestLimiter_DegradedSharedStoreStillAllows(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := infra.NewFallbackStore(infra.NewMemoryStore(), infra.NewRedisStore(rdb), infra.WithProbeInterval(time.Hour))
	l := newTestLimiter(t, LimiterOptions{Store: store})
	_ = l.Configure("general", Policy{Config: domain.Config{Window: time.Minute, Quota: domain.Bounded(2)}})

	mr.SetError("ERR redis is down")

	res, err := l.CheckRateLimit(requestFrom("10.0.0.1:1"), "general")
	if err != nil {
		t.Fatalf("expected no error on degraded store, got %v", err)
	}
	if res.Limited || res.FailOpen {
		t.Fatalf("expected counted allow from memory, got %+v", res)
	}
	if l.Stats().SharedStoreAvailable {
		t.Fatalf("expected sharedStoreAvailable=false")
	}

	_, _ = l.CheckRateLimit(requestFrom("10.0.0.1:1"), "general")
	res, _ = l.CheckRateLimit(requestFrom("10.0.0.1:1"), "general")
	if !res.Limited {
		t.Fatalf("expected memory-only enforcement to keep working")
	}
}

func TestLimiter_RecordsStatsEvents(t *testing.T) {
	stats := infra.NewMemoryStatsStore()
	l := newTestLimiter(t, LimiterOptions{Stats: stats})
	_ = l.Configure("general", Policy{Config: domain.Config{Window: time.Minute, Quota: domain.Bounded(1)}})

	for i := 0; i < 3; i++ {
		_, _ = l.CheckRateLimit(requestFrom("10.0.0.1:1"), "general")
	}

	got := stats.ByPolicy()["general"]
	if got.Allowed != 1 || got.Denied != 2 {
		t.Fatalf("expected 1 allowed / 2 denied, got %+v", got)
	}
}

func TestLimiter_ThousandKeys(t *testing.T) {
	l := newTestLimiter(t, LimiterOptions{})
	_ = l.Configure("general", Policy{Config: domain.Config{Window: time.Minute, Quota: domain.Bounded(10)}})

	for i := 0; i < 1000; i++ {
		r := requestFrom("10.0.0.1:1")
		r = r.WithContext(WithIdentity(r.Context(), fmt.Sprintf("user-%d", i)))
		res, err := l.CheckRateLimit(r, "general")
		if err != nil || res.Limited {
			t.Fatalf("key %d: expected allow, got %+v err=%v", i, res, err)
		}
	}
	if n := l.Stats().InMemoryEntryCount; n != 1000 {
		t.Fatalf("expected 1000 tracked entries, got %d", n)
	}

	start := time.Now()
	if _, err := l.CheckRateLimit(requestFrom("192.168.1.1:1"), "general"); err != nil {
		t.Fatalf("check: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Millisecond {
		t.Fatalf("expected fresh key check under 10ms, took %s", elapsed)
	}
}

func TestLimiter_ConcurrentDistinctKeys(t *testing.T) {
	l := newTestLimiter(t, LimiterOptions{})
	_ = l.Configure("general", Policy{Config: domain.Config{Window: time.Minute, Quota: domain.Bounded(1)}})

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(100)
	for i := 0; i < 100; i++ {
		go func(i int) {
			defer wg.Done()
			res, err := l.CheckRateLimit(requestFrom(fmt.Sprintf("10.1.%d.%d:1", i/250, i%250)), "general")
			if err != nil || res.Limited {
				t.Errorf("key %d: expected allow, got %+v err=%v", i, res, err)
			}
		}(i)
	}
	wg.Wait()

	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("expected 100 concurrent checks under 1s, took %s", elapsed)
	}
}

func TestLimiter_PropertyKeysIndependent(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		limit := rapid.IntRange(1, 20).Draw(rt, "limit")
		flood := rapid.IntRange(limit, 3*limit).Draw(rt, "flood")

		l := NewLimiter(LimiterOptions{})
		defer func() { _ = l.Destroy() }()
		_ = l.Configure("general", Policy{Config: domain.Config{Window: time.Minute, Quota: domain.Bounded(limit)}})

		for i := 0; i < flood; i++ {
			_, _ = l.CheckRateLimit(requestFrom("10.0.0.1:1"), "general")
		}
		res, _ := l.CheckRateLimit(requestFrom("10.0.0.2:1"), "general")
		if res.Limited || res.Remaining != limit-1 {
			rt.Fatalf("expected untouched quota on second key, got %+v", res)
		}
	})
}

func TestLimiter_PanickingKeyFnFailsOpen(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	stats := infra.NewMemoryStatsStore()
	l := newTestLimiter(t, LimiterOptions{Logger: zap.New(core), Stats: stats})

	p := Policy{
		Config: domain.Config{Window: time.Minute, Quota: domain.Bounded(1)},
		KeyFn:  func(*http.Request) string { panic("bad key fn") },
	}
	res := l.CheckPolicy(requestFrom("10.0.0.1:1"), "custom", p, false)
	if !res.FailOpen || res.Limited {
		t.Fatalf("expected fail-open allow, got %+v", res)
	}
	if logs.FilterMessage("rate limit check panicked, allowing request").Len() != 1 {
		t.Fatalf("expected one panic warning, got %d logs", logs.Len())
	}
	if got := stats.Total(); got.Allowed != 0 || got.Denied != 0 {
		t.Fatalf("expected fail-open not to be recorded, got %+v", got)
	}
}

func TestLimiter_SkipsStatsForUnlimitedDecisions(t *testing.T) {
	stats := infra.NewMemoryStatsStore()
	l := newTestLimiter(t, LimiterOptions{Stats: stats})
	_ = l.Configure("vip", Policy{Config: domain.Config{Window: time.Minute, Quota: domain.Unlimited()}})

	for i := 0; i < 5; i++ {
		_, _ = l.CheckRateLimit(requestFrom("10.0.0.1:1"), "vip")
	}
	if got := stats.Total(); got.Allowed != 0 || got.Denied != 0 {
		t.Fatalf("expected unlimited decisions not to be recorded, got %+v", got)
	}
}

func TestLimiter_SingleKeyLatency(t *testing.T) {
	l := newTestLimiter(t, LimiterOptions{})
	_ = l.Configure("general", Policy{Config: domain.Config{Window: time.Minute, Quota: domain.Bounded(1_000_000)}})

	const n = 2000
	durations := make([]time.Duration, 0, n)
	var total time.Duration
	for i := 0; i < n; i++ {
		r := requestFrom("10.0.0.1:1")
		start := time.Now()
		if _, err := l.CheckRateLimit(r, "general"); err != nil {
			t.Fatalf("check: %v", err)
		}
		d := time.Since(start)
		durations = append(durations, d)
		total += d
	}

	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
	avg := total / n
	p95 := durations[n*95/100]
	if avg >= 10*time.Millisecond {
		t.Fatalf("expected average check under 10ms, got %s", avg)
	}
	if p95 >= 20*time.Millisecond {
		t.Fatalf("expected P95 check under 20ms, got %s", p95)
	}
}

// slowSharedCounter simula um Redis lento que conta de verdade.
type slowSharedCounter struct {
	delay time.Duration

	mu    sync.Mutex
	count int64
	start time.Time
}

func (c *slowSharedCounter) Increment(ctx context.Context, _ domain.Key, window time.Duration, now time.Time, by int64) (domain.WindowRecord, error) {
	select {
	case <-time.After(c.delay):
	case <-ctx.Done():
		return domain.WindowRecord{}, ctx.Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.start.IsZero() || now.Sub(c.start) >= window {
		c.start, c.count = now, 0
	}
	c.count += by
	return domain.WindowRecord{Count: c.count, WindowStart: c.start, Window: window}, nil
}

func (c *slowSharedCounter) Get(context.Context, domain.Key) (domain.WindowRecord, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.WindowRecord{Count: c.count, WindowStart: c.start}, !c.start.IsZero(), nil
}

func (c *slowSharedCounter) Block(context.Context, domain.Key, time.Time) error { return nil }
func (c *slowSharedCounter) Ping(context.Context) error                         { return nil }
func (c *slowSharedCounter) Close() error                                       { return nil }

func TestLimiter_SaturatedSharedStoreBurstAdmitsAtMostMax(t *testing.T) {
	clock := newTestClock()
	store := infra.NewFallbackStore(infra.NewMemoryStore(), &slowSharedCounter{delay: 20 * time.Millisecond},
		infra.WithMaxInFlight(1),
		infra.WithOpTimeout(30*time.Millisecond),
		infra.WithProbeInterval(time.Hour),
	)
	l := newTestLimiter(t, LimiterOptions{Store: store, Now: clock.Now})
	_ = l.Configure("general", Policy{Config: domain.Config{Window: time.Minute, Quota: domain.Bounded(50)}})

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.CheckRateLimit(requestFrom("10.0.0.1:1"), "general")
			if err != nil {
				t.Errorf("check: %v", err)
				return
			}
			if res.FailOpen {
				t.Errorf("expected counted decisions, got fail-open")
			}
			if !res.Limited {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if n := allowed.Load(); n > 50 {
		t.Fatalf("expected at most 50 allowed, got %d", n)
	}
}
