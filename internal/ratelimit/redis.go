package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "mediagen:ratelimit:"

// RedisCounterStore keeps usage counters in Redis. Buckets expire shortly after
// they roll over.
type RedisCounterStore struct {
	client *redis.Client
	prefix string
}

func NewRedisCounterStore(client *redis.Client, prefix string) *RedisCounterStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisCounterStore{client: client, prefix: prefix}
}

func (s *RedisCounterStore) Increment(ctx context.Context, provider, scope, window, bucket string) (int64, error) {
	key := s.prefix + "usage:" + counterKey(provider, scope, window, bucket)
	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, bucketTTL(Window(window)))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis incr: %w", err)
	}
	return incr.Val(), nil
}

func (s *RedisCounterStore) Get(ctx context.Context, provider, scope, window, bucket string) (int64, error) {
	key := s.prefix + "usage:" + counterKey(provider, scope, window, bucket)
	n, err := s.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get: %w", err)
	}
	return n, nil
}

func bucketTTL(w Window) time.Duration {
	if w == WindowMinute {
		return 2 * time.Minute
	}
	return 32 * 24 * time.Hour
}

// RedisBlockStore shares temporary blocks between instances. A block is stored
// with a TTL equal to its retry-after so expiry needs no cleanup.
type RedisBlockStore struct {
	client *redis.Client
	prefix string
}

func NewRedisBlockStore(client *redis.Client, prefix string) *RedisBlockStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisBlockStore{client: client, prefix: prefix}
}

func (s *RedisBlockStore) Set(ctx context.Context, block Block) error {
	if block.RetryAfter <= 0 {
		return nil
	}
	data, err := json.Marshal(block)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.blockKey(block.Key), data, block.RetryAfter).Err(); err != nil {
		return fmt.Errorf("redis set block: %w", err)
	}
	return nil
}

func (s *RedisBlockStore) Get(ctx context.Context, key Key, now time.Time) (*Block, error) {
	data, err := s.client.Get(ctx, s.blockKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get block: %w", err)
	}
	var block Block
	if err := json.Unmarshal(data, &block); err != nil {
		return nil, fmt.Errorf("decode block: %w", err)
	}
	if !block.Active(now) {
		return nil, nil
	}
	return &block, nil
}

func (s *RedisBlockStore) blockKey(key Key) string {
	return s.prefix + "block:" + key.String()
}
