package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return mr, client
}

func TestRedisCounterStoreConcurrentIncrements(t *testing.T) {
	mr, client := setupTestRedis(t)
	store := NewRedisCounterStore(client, "test:")
	ctx := context.Background()

	const calls = 40
	var wg sync.WaitGroup
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Increment(ctx, "replicate", "image", "minute", "2026-03-01T10:00"); err != nil {
				t.Errorf("Increment error: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := store.Get(ctx, "replicate", "image", "minute", "2026-03-01T10:00")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got != calls {
		t.Fatalf("count = %d, want %d", got, calls)
	}
	if ttl := mr.TTL("test:usage:replicate:image:minute:2026-03-01T10:00"); ttl != 2*time.Minute {
		t.Fatalf("ttl = %s", ttl)
	}

	missing, err := store.Get(ctx, "replicate", "image", "minute", "2026-03-01T10:01")
	if err != nil || missing != 0 {
		t.Fatalf("missing bucket = %d, %v", missing, err)
	}
}

func TestRedisBlockStoreExpires(t *testing.T) {
	mr, client := setupTestRedis(t)
	store := NewRedisBlockStore(client, "test:")
	ctx := context.Background()
	now := time.Now()

	block := Block{Key: geminiImage, StartedAt: now, RetryAfter: 10 * time.Second}
	if err := store.Set(ctx, block); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	got, err := store.Get(ctx, geminiImage, now.Add(time.Second))
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got == nil || got.RetryAfter != 10*time.Second {
		t.Fatalf("unexpected block %+v", got)
	}

	mr.FastForward(11 * time.Second)
	got, err = store.Get(ctx, geminiImage, now.Add(11*time.Second))
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got != nil {
		t.Fatalf("block should have expired, got %+v", got)
	}
}

func TestGateSharesBlocksThroughRedis(t *testing.T) {
	_, client := setupTestRedis(t)
	blocks := NewRedisBlockStore(client, "")
	first := NewGate(Options{Blocks: blocks, Counters: NewRedisCounterStore(client, "")})
	second := NewGate(Options{Blocks: blocks, Counters: NewRedisCounterStore(client, "")})

	_ = first.Call(context.Background(), geminiImage, func(ctx context.Context) error {
		return rateLimitedErr()
	})
	called := false
	_ = second.Call(context.Background(), geminiImage, func(ctx context.Context) error {
		called = true
		return nil
	})
	if called {
		t.Fatal("block set by one instance must stop the other")
	}
}
