package ratelimit

import (
	"context"
	"time"
)

// Advisory statuses.
const (
	StatusOK      = "ok"
	StatusLimited = "limited"
	StatusBlocked = "blocked"
)

// WindowUsage is the usage of one window.
type WindowUsage struct {
	Used           int64 `json:"used"`
	Limit          int64 `json:"limit"`
	Remaining      int64 `json:"remaining"`
	ResetInSeconds int64 `json:"resetInSeconds"`
}

// TemporaryBlock is the snapshot view of an active Block.
type TemporaryBlock struct {
	StartedAt         time.Time `json:"startedAt"`
	RetryAfterSeconds int64     `json:"retryAfterSeconds"`
	RemainingSeconds  int64     `json:"remainingSeconds"`
}

// Snapshot is the read-only rate-limit state of a key.
type Snapshot struct {
	Provider       string          `json:"provider"`
	Scope          string          `json:"scope"`
	Minute         WindowUsage     `json:"minute"`
	Month          WindowUsage     `json:"month"`
	Status         string          `json:"status"`
	TemporaryBlock *TemporaryBlock `json:"temporaryBlock,omitempty"`
}

// Status derives the advisory snapshot for key. The status comes from the
// counters alone; an active temporary block is reported separately.
func (g *Gate) Status(ctx context.Context, key Key) (Snapshot, error) {
	now := g.now()
	limits := g.limits(key)

	minuteUsed, err := g.counter.Used(ctx, key, WindowMinute)
	if err != nil {
		return Snapshot{}, err
	}
	monthUsed, err := g.counter.Used(ctx, key, WindowMonth)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		Provider: key.Provider,
		Scope:    key.Scope,
		Minute:   windowUsage(minuteUsed, limits.PerMinute, ResetIn(WindowMinute, now)),
		Month:    windowUsage(monthUsed, limits.PerMonth, ResetIn(WindowMonth, now)),
	}
	snap.Status = worst(DeriveStatus(minuteUsed, limits.PerMinute), DeriveStatus(monthUsed, limits.PerMonth))

	block, err := g.blocks.Get(ctx, key, now)
	if err != nil {
		return Snapshot{}, err
	}
	if block != nil {
		snap.TemporaryBlock = &TemporaryBlock{
			StartedAt:         block.StartedAt,
			RetryAfterSeconds: int64(block.RetryAfter / time.Second),
			RemainingSeconds:  int64(block.Remaining(now).Round(time.Second) / time.Second),
		}
	}
	return snap, nil
}

// DeriveStatus maps usage against a limit: ok below 80%, limited from 80%,
// blocked at 100% or more. A non-positive limit is unlimited.
func DeriveStatus(used, limit int64) string {
	if limit <= 0 {
		return StatusOK
	}
	switch {
	case used >= limit:
		return StatusBlocked
	case used*5 >= limit*4:
		return StatusLimited
	default:
		return StatusOK
	}
}

func windowUsage(used, limit int64, reset time.Duration) WindowUsage {
	remaining := int64(0)
	if limit > 0 && used < limit {
		remaining = limit - used
	}
	return WindowUsage{
		Used:           used,
		Limit:          limit,
		Remaining:      remaining,
		ResetInSeconds: int64(reset.Round(time.Second) / time.Second),
	}
}

func worst(a, b string) string {
	rank := map[string]int{StatusOK: 0, StatusLimited: 1, StatusBlocked: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
