package queue

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"mediagen/internal/domain"
	"mediagen/internal/infra"
)

// DefaultStaleAfter is how long a processing generation may sit untouched
// before the sweeper re-enqueues it.
const DefaultStaleAfter = 15 * time.Minute

// Sweeper re-enqueues processing generations that hold no live lock and have
// no queue entry. Webhook generations are reconciled by the processor.
type Sweeper struct {
	generations domain.GenerationRepository
	queue       domain.JobQueueRepository
	staleAfter  time.Duration
	limit       int
	logger      *infra.Logger
	now         func() time.Time
}

type SweeperOptions struct {
	Generations domain.GenerationRepository
	Queue       domain.JobQueueRepository
	StaleAfter  time.Duration
	Limit       int
	Logger      *infra.Logger
	Now         func() time.Time
}

func NewSweeper(opts SweeperOptions) *Sweeper {
	s := &Sweeper{
		generations: opts.Generations,
		queue:       opts.Queue,
		staleAfter:  opts.StaleAfter,
		limit:       opts.Limit,
		logger:      opts.Logger,
		now:         opts.Now,
	}
	if s.staleAfter <= 0 {
		s.staleAfter = DefaultStaleAfter
	}
	if s.limit <= 0 {
		s.limit = 100
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		s.logger = &l
	}
	return s
}

// Sweep enqueues stale generations and returns their ids.
func (s *Sweeper) Sweep(ctx context.Context) ([]string, error) {
	ids, err := s.generations.ListStale(ctx, s.now().Add(-s.staleAfter), s.limit)
	if err != nil {
		return nil, fmt.Errorf("list stale generations: %w", err)
	}
	enqueued := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := s.queue.Enqueue(ctx, id); err != nil {
			s.logger.Error().Err(err).Str("generation_id", id).Msg("sweeper: enqueue failed")
			continue
		}
		enqueued = append(enqueued, id)
	}
	if len(enqueued) > 0 {
		s.logger.Info().Int("count", len(enqueued)).Msg("sweeper: re-enqueued stale generations")
	}
	return enqueued, nil
}
