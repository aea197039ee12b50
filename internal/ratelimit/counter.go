// Package ratelimit tracks per-provider usage and gates outbound provider calls.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Key attributes a provider call to a (provider, scope) pair.
type Key struct {
	Provider string `json:"provider"`
	Scope    string `json:"scope"`
}

func (k Key) String() string {
	return k.Provider + ":" + k.Scope
}

// Window is a usage counting period.
type Window string

const (
	WindowMinute Window = "minute"
	WindowMonth  Window = "month"
)

// BucketLabel names the bucket t falls into, computed from the UTC wall clock.
func BucketLabel(w Window, t time.Time) string {
	t = t.UTC()
	switch w {
	case WindowMinute:
		return t.Format("2006-01-02T15:04")
	case WindowMonth:
		return t.Format("2006-01")
	default:
		panic(fmt.Sprintf("ratelimit: unknown window %q", w))
	}
}

// ResetIn returns the time left until the bucket containing t rolls over.
func ResetIn(w Window, t time.Time) time.Duration {
	t = t.UTC()
	var next time.Time
	switch w {
	case WindowMinute:
		next = t.Truncate(time.Minute).Add(time.Minute)
	default:
		next = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	}
	return next.Sub(t)
}

// CounterStore persists bucket counters. Increment must be atomic across
// concurrent callers and processes.
type CounterStore interface {
	Increment(ctx context.Context, provider, scope, window, bucket string) (int64, error)
	Get(ctx context.Context, provider, scope, window, bucket string) (int64, error)
}

// UsageCounter records attempted calls in the minute and month buckets.
type UsageCounter struct {
	store CounterStore
	now   func() time.Time
}

func NewUsageCounter(store CounterStore, now func() time.Time) *UsageCounter {
	if now == nil {
		now = time.Now
	}
	return &UsageCounter{store: store, now: now}
}

// Record increments both windows for key. Both increments are attempted even
// when the first fails.
func (u *UsageCounter) Record(ctx context.Context, key Key) error {
	now := u.now()
	var firstErr error
	for _, w := range []Window{WindowMinute, WindowMonth} {
		if _, err := u.store.Increment(ctx, key.Provider, key.Scope, string(w), BucketLabel(w, now)); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("increment %s counter: %w", w, err)
		}
	}
	return firstErr
}

// Used returns the count of the current bucket of w.
func (u *UsageCounter) Used(ctx context.Context, key Key, w Window) (int64, error) {
	return u.store.Get(ctx, key.Provider, key.Scope, string(w), BucketLabel(w, u.now()))
}

// MemoryCounterStore keeps counters in process memory.
type MemoryCounterStore struct {
	mu     sync.Mutex
	counts map[string]int64
}

func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{counts: make(map[string]int64)}
}

func (m *MemoryCounterStore) Increment(ctx context.Context, provider, scope, window, bucket string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := counterKey(provider, scope, window, bucket)
	m.counts[k]++
	return m.counts[k], nil
}

func (m *MemoryCounterStore) Get(ctx context.Context, provider, scope, window, bucket string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[counterKey(provider, scope, window, bucket)], nil
}

func counterKey(provider, scope, window, bucket string) string {
	return provider + ":" + scope + ":" + window + ":" + bucket
}
