package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Block is a temporary hard block set after a provider rate-limit response.
type Block struct {
	Key        Key           `json:"key"`
	StartedAt  time.Time     `json:"started_at"`
	RetryAfter time.Duration `json:"retry_after"`
}

// Remaining returns the time left on the block at now.
func (b Block) Remaining(now time.Time) time.Duration {
	left := b.RetryAfter - now.Sub(b.StartedAt)
	if left < 0 {
		return 0
	}
	return left
}

// Active reports whether the block still applies; it expires once elapsed >= retry-after.
func (b Block) Active(now time.Time) bool {
	return now.Sub(b.StartedAt) < b.RetryAfter
}

// BlockStore holds temporary blocks. Get returns nil when no active block exists.
type BlockStore interface {
	Set(ctx context.Context, block Block) error
	Get(ctx context.Context, key Key, now time.Time) (*Block, error)
}

// MemoryBlockStore is a process-local BlockStore.
type MemoryBlockStore struct {
	mu     sync.Mutex
	blocks map[Key]Block
}

func NewMemoryBlockStore() *MemoryBlockStore {
	return &MemoryBlockStore{blocks: make(map[Key]Block)}
}

func (m *MemoryBlockStore) Set(ctx context.Context, block Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks[block.Key] = block
	return nil
}

func (m *MemoryBlockStore) Get(ctx context.Context, key Key, now time.Time) (*Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	block, ok := m.blocks[key]
	if !ok {
		return nil, nil
	}
	if !block.Active(now) {
		delete(m.blocks, key)
		return nil, nil
	}
	return &block, nil
}
