package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mediagen/internal/domain"
	"mediagen/internal/providers"
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

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
	blocks   int
}

func (r *recordingObserver) ProviderCall(key Key, outcome string) {
	r.mu.Lock()
	r.outcomes = append(r.outcomes, outcome)
	r.mu.Unlock()
}

func (r *recordingObserver) BlockSet(key Key, retryAfter time.Duration) {
	r.mu.Lock()
	r.blocks++
	r.mu.Unlock()
}

var geminiImage = Key{Provider: "gemini", Scope: "image"}

func TestBucketLabels(t *testing.T) {
	at := time.Date(2026, 2, 28, 23, 59, 30, 0, time.FixedZone("WIB", 7*3600))
	if got := BucketLabel(WindowMinute, at); got != "2026-02-28T16:59" {
		t.Fatalf("minute bucket = %q", got)
	}
	if got := BucketLabel(WindowMonth, at); got != "2026-02" {
		t.Fatalf("month bucket = %q", got)
	}
	if got := ResetIn(WindowMinute, at); got != 30*time.Second {
		t.Fatalf("minute reset = %s", got)
	}
	monthEnd := time.Date(2026, 2, 28, 23, 0, 0, 0, time.UTC)
	if got := ResetIn(WindowMonth, monthEnd); got != time.Hour {
		t.Fatalf("month reset = %s", got)
	}
}

func TestGateCountsExactlyUnderConcurrency(t *testing.T) {
	store := NewMemoryCounterStore()
	gate := NewGate(Options{Counters: store})

	const calls = 64
	var wg sync.WaitGroup
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = gate.Call(context.Background(), geminiImage, func(ctx context.Context) error {
				if i%3 == 0 {
					return errors.New("provider exploded")
				}
				return nil
			})
		}(i)
	}
	wg.Wait()

	snap, err := gate.Status(context.Background(), geminiImage)
	if err != nil {
		t.Fatalf("Status error: %v", err)
	}
	if snap.Minute.Used != calls || snap.Month.Used != calls {
		t.Fatalf("used = %d/%d, want %d", snap.Minute.Used, snap.Month.Used, calls)
	}
}

func TestRateLimitSetsBlockThatFailsFast(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	obs := &recordingObserver{}
	gate := NewGate(Options{Now: clock.Now, Observer: obs})

	err := gate.Call(context.Background(), geminiImage, func(ctx context.Context) error {
		return providers.RateLimited("gemini", 20*time.Second, "quota")
	})
	if !providers.IsRateLimited(err) {
		t.Fatalf("expected rate-limit error, got %v", err)
	}

	var calls int32
	fn := func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}

	clock.Advance(19 * time.Second)
	err = gate.Call(context.Background(), geminiImage, fn)
	perr, ok := providers.AsError(err)
	if !ok || perr.Kind != domain.ErrorKindRateLimited {
		t.Fatalf("expected synthetic rate-limit error, got %v", err)
	}
	if perr.RetryAfter != time.Second {
		t.Fatalf("remaining = %s, want 1s", perr.RetryAfter)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Fatal("blocked call must not reach the provider")
	}

	other := Key{Provider: "gemini", Scope: "video"}
	if err := gate.Call(context.Background(), other, fn); err != nil {
		t.Fatalf("other scope must not be blocked: %v", err)
	}

	clock.Advance(time.Second)
	if err := gate.Call(context.Background(), geminiImage, fn); err != nil {
		t.Fatalf("block should have expired: %v", err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
	if obs.blocks != 1 {
		t.Fatalf("blocks observed = %d", obs.blocks)
	}
	want := []string{OutcomeRateLimited, OutcomeBlocked, OutcomeOK, OutcomeOK}
	for i, o := range want {
		if obs.outcomes[i] != o {
			t.Fatalf("outcome[%d] = %q, want %q", i, obs.outcomes[i], o)
		}
	}

	snap, err := gate.Status(context.Background(), geminiImage)
	if err != nil {
		t.Fatalf("Status error: %v", err)
	}
	if snap.Month.Used != 2 {
		t.Fatalf("blocked attempt must not be counted, used = %d", snap.Month.Used)
	}
}

func TestRateLimitWithoutRetryAfterUsesDefault(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	blocks := NewMemoryBlockStore()
	gate := NewGate(Options{Now: clock.Now, Blocks: blocks})

	_ = gate.Call(context.Background(), geminiImage, func(ctx context.Context) error {
		return &providers.Error{Provider: "gemini", Kind: domain.ErrorKindRateLimited}
	})
	block, _ := blocks.Get(context.Background(), geminiImage, clock.Now())
	if block == nil || block.RetryAfter != providers.DefaultRetryAfter {
		t.Fatalf("unexpected block %+v", block)
	}
}

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		used, limit int64
		want        string
	}{
		{0, 0, StatusOK},
		{1000, 0, StatusOK},
		{79, 100, StatusOK},
		{80, 100, StatusLimited},
		{99, 100, StatusLimited},
		{100, 100, StatusBlocked},
		{150, 100, StatusBlocked},
		{7, 10, StatusOK},
		{8, 10, StatusLimited},
	}
	for _, tc := range tests {
		if got := DeriveStatus(tc.used, tc.limit); got != tc.want {
			t.Fatalf("DeriveStatus(%d, %d) = %q, want %q", tc.used, tc.limit, got, tc.want)
		}
	}
}

func TestStatusSnapshot(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 15, 0, time.UTC)}
	gate := NewGate(Options{
		Now:    clock.Now,
		Limits: func(Key) Limits { return Limits{PerMinute: 10, PerMonth: 1000} },
	})
	for i := 0; i < 8; i++ {
		_ = gate.Call(context.Background(), geminiImage, func(ctx context.Context) error { return nil })
	}
	_ = gate.Call(context.Background(), geminiImage, func(ctx context.Context) error {
		return providers.RateLimited("gemini", 30*time.Second, "quota")
	})

	snap, err := gate.Status(context.Background(), geminiImage)
	if err != nil {
		t.Fatalf("Status error: %v", err)
	}
	if snap.Status != StatusLimited {
		t.Fatalf("status = %q, want limited", snap.Status)
	}
	if snap.Minute.Used != 9 || snap.Minute.Remaining != 1 || snap.Minute.ResetInSeconds != 45 {
		t.Fatalf("unexpected minute window %+v", snap.Minute)
	}
	if snap.Month.Remaining != 991 {
		t.Fatalf("unexpected month window %+v", snap.Month)
	}
	if snap.TemporaryBlock == nil || snap.TemporaryBlock.RemainingSeconds != 30 {
		t.Fatalf("expected temporary block, got %+v", snap.TemporaryBlock)
	}
}

type failingCounters struct{}

func (failingCounters) Increment(ctx context.Context, provider, scope, window, bucket string) (int64, error) {
	return 0, errors.New("db down")
}

func (failingCounters) Get(ctx context.Context, provider, scope, window, bucket string) (int64, error) {
	return 0, errors.New("db down")
}

func TestCounterFailureDoesNotBlockCall(t *testing.T) {
	gate := NewGate(Options{Counters: failingCounters{}})
	called := false
	err := gate.Call(context.Background(), geminiImage, func(ctx context.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Fatalf("call = %v, called = %v", err, called)
	}
}

func rateLimitedErr() error {
	return providers.RateLimited("gemini", time.Minute, "quota")
}

func TestCatalogLimits(t *testing.T) {
	catalog := providers.NewCatalog(
		providers.ModelSpec{ID: "a", Provider: "p", Scope: "image", MinuteLimit: 10, MonthLimit: 100},
		providers.ModelSpec{ID: "b", Provider: "p", Scope: "image", MinuteLimit: 20, MonthLimit: 50},
		providers.ModelSpec{ID: "c", Provider: "p", Scope: "video", MinuteLimit: 2},
	)
	limits := CatalogLimits(catalog)
	if got := limits(Key{Provider: "p", Scope: "image"}); got.PerMinute != 20 || got.PerMonth != 100 {
		t.Fatalf("image limits = %+v", got)
	}
	if got := limits(Key{Provider: "p", Scope: "video"}); got.PerMinute != 2 || got.PerMonth != 0 {
		t.Fatalf("video limits = %+v", got)
	}
	if got := limits(Key{Provider: "x", Scope: "image"}); got != (Limits{}) {
		t.Fatalf("unknown key limits = %+v", got)
	}
}
