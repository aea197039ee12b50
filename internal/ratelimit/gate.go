package ratelimit

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"mediagen/internal/infra"
	"mediagen/internal/providers"
)

// Limits are the advisory per-window budgets of a key; zero means unlimited.
type Limits struct {
	PerMinute int64
	PerMonth  int64
}

// Observer receives gate events, typically for metrics.
type Observer interface {
	ProviderCall(key Key, outcome string)
	BlockSet(key Key, retryAfter time.Duration)
}

// Call outcomes reported to the Observer.
const (
	OutcomeOK          = "ok"
	OutcomeError       = "error"
	OutcomeRateLimited = "rate_limited"
	OutcomeBlocked     = "blocked"
)

// Options configures a Gate.
type Options struct {
	Counters CounterStore
	Blocks   BlockStore
	Limits   func(Key) Limits
	Observer Observer
	Logger   *infra.Logger
	Now      func() time.Time
}

// Gate wraps outbound provider calls with temporary blocks and usage counting.
type Gate struct {
	counter  *UsageCounter
	blocks   BlockStore
	limits   func(Key) Limits
	observer Observer
	logger   *infra.Logger
	now      func() time.Time
}

func NewGate(opts Options) *Gate {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	counters := opts.Counters
	if counters == nil {
		counters = NewMemoryCounterStore()
	}
	blocks := opts.Blocks
	if blocks == nil {
		blocks = NewMemoryBlockStore()
	}
	limits := opts.Limits
	if limits == nil {
		limits = func(Key) Limits { return Limits{} }
	}
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Gate{
		counter:  NewUsageCounter(counters, now),
		blocks:   blocks,
		limits:   limits,
		observer: opts.Observer,
		logger:   logger,
		now:      now,
	}
}

// Call runs fn unless key is under a temporary block, in which case a synthetic
// rate-limit error is returned without calling fn. Every attempted call is
// counted; counter failures are logged and never block the call. A rate-limit
// error from fn sets a block for its retry-after.
func (g *Gate) Call(ctx context.Context, key Key, fn func(ctx context.Context) error) error {
	now := g.now()
	block, err := g.blocks.Get(ctx, key, now)
	if err != nil {
		g.logger.Warn().Err(err).Str("provider", key.Provider).Str("scope", key.Scope).Msg("ratelimit: block lookup failed")
	}
	if block != nil {
		remaining := block.Remaining(now)
		g.observe(key, OutcomeBlocked)
		return providers.RateLimited(key.Provider, remaining,
			fmt.Sprintf("temporarily blocked for %ds after provider rate limit", int(remaining.Round(time.Second).Seconds())))
	}

	if err := g.counter.Record(ctx, key); err != nil {
		g.logger.Warn().Err(err).Str("provider", key.Provider).Str("scope", key.Scope).Msg("ratelimit: usage counter increment failed")
	}

	callErr := fn(ctx)
	switch {
	case callErr == nil:
		g.observe(key, OutcomeOK)
	case providers.IsRateLimited(callErr):
		g.observe(key, OutcomeRateLimited)
		g.setBlock(ctx, key, callErr)
	default:
		g.observe(key, OutcomeError)
	}
	return callErr
}

func (g *Gate) setBlock(ctx context.Context, key Key, callErr error) {
	retry := providers.DefaultRetryAfter
	if perr, ok := providers.AsError(callErr); ok && perr.RetryAfter > 0 {
		retry = perr.RetryAfter
	}
	block := Block{Key: key, StartedAt: g.now(), RetryAfter: retry}
	if err := g.blocks.Set(ctx, block); err != nil {
		g.logger.Warn().Err(err).Str("provider", key.Provider).Str("scope", key.Scope).Msg("ratelimit: set block failed")
		return
	}
	g.logger.Info().Str("provider", key.Provider).Str("scope", key.Scope).Dur("retry_after", retry).Msg("ratelimit: temporary block set")
	if g.observer != nil {
		g.observer.BlockSet(key, retry)
	}
}

func (g *Gate) observe(key Key, outcome string) {
	if g.observer != nil {
		g.observer.ProviderCall(key, outcome)
	}
}
