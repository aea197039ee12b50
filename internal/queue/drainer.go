// Package queue drains the durable generation job queue.
package queue

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"mediagen/internal/domain"
	"mediagen/internal/engine"
	"mediagen/internal/infra"
)

const (
	DefaultBatchSize    = 5
	DefaultLeaseTimeout = 5 * time.Minute
	DefaultRetryDelay   = 30 * time.Second
	DefaultMaxAttempts  = 5
)

// Processor runs and fails generations.
type Processor interface {
	Process(ctx context.Context, id string) (engine.Result, error)
	Fail(ctx context.Context, id, kind, message, detail string) (engine.Result, error)
}

type Options struct {
	Queue        domain.JobQueueRepository
	Processor    Processor
	BatchSize    int
	LeaseTimeout time.Duration
	RetryDelay   time.Duration
	// LinearBackoff grows the retry delay with the attempt count.
	LinearBackoff bool
	MaxAttempts   int
	Logger        *infra.Logger
	Now           func() time.Time
}

// Drainer claims queue entries and runs their generations.
type Drainer struct {
	queue         domain.JobQueueRepository
	processor     Processor
	batchSize     int
	leaseTimeout  time.Duration
	retryDelay    time.Duration
	linearBackoff bool
	maxAttempts   int
	logger        *infra.Logger
	now           func() time.Time
}

func NewDrainer(opts Options) *Drainer {
	d := &Drainer{
		queue:         opts.Queue,
		processor:     opts.Processor,
		batchSize:     opts.BatchSize,
		leaseTimeout:  opts.LeaseTimeout,
		retryDelay:    opts.RetryDelay,
		linearBackoff: opts.LinearBackoff,
		maxAttempts:   opts.MaxAttempts,
		logger:        opts.Logger,
		now:           opts.Now,
	}
	if d.batchSize <= 0 {
		d.batchSize = DefaultBatchSize
	}
	if d.leaseTimeout <= 0 {
		d.leaseTimeout = DefaultLeaseTimeout
	}
	if d.retryDelay <= 0 {
		d.retryDelay = DefaultRetryDelay
	}
	if d.maxAttempts <= 0 {
		d.maxAttempts = DefaultMaxAttempts
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		d.logger = &l
	}
	return d
}

// BatchSize is the number of entries claimed per Drain.
func (d *Drainer) BatchSize() int {
	return d.batchSize
}

// Drain claims one batch and processes every entry independently. Entries
// whose processing hit an infrastructure error are released for a later
// attempt; every other outcome removes the entry.
func (d *Drainer) Drain(ctx context.Context) ([]engine.Result, error) {
	entries, err := d.queue.Claim(ctx, d.batchSize, d.leaseTimeout, d.now())
	if err != nil {
		return nil, fmt.Errorf("claim queue batch: %w", err)
	}
	results := make([]engine.Result, len(entries))
	var g errgroup.Group
	for i, entry := range entries {
		i, entry := i, entry
		g.Go(func() error {
			results[i] = d.handle(ctx, entry)
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

func (d *Drainer) handle(ctx context.Context, entry domain.JobQueueEntry) engine.Result {
	log := d.logger.With().Str("entry_id", entry.ID).Str("generation_id", entry.GenerationID).Int("attempts", entry.Attempts).Logger()

	var (
		res engine.Result
		err error
	)
	if entry.Attempts > d.maxAttempts {
		log.Warn().Msg("queue: attempts exhausted")
		res, err = d.processor.Fail(ctx, entry.GenerationID, domain.ErrorKindQueueExhausted,
			"generation could not be processed", fmt.Sprintf("gave up after %d queue attempts", entry.Attempts-1))
	} else {
		res, err = d.processor.Process(ctx, entry.GenerationID)
	}

	if err != nil {
		runAfter := d.now().Add(d.delay(entry.Attempts))
		log.Error().Err(err).Time("run_after", runAfter).Msg("queue: processing failed; releasing entry")
		if rerr := d.queue.Release(ctx, entry.ID, runAfter); rerr != nil {
			log.Error().Err(rerr).Msg("queue: release failed; lease will expire")
		}
		return engine.Result{GenerationID: entry.GenerationID, Status: engine.StatusProcessing, Error: err.Error()}
	}

	if cerr := d.queue.Complete(ctx, entry.ID); cerr != nil {
		log.Error().Err(cerr).Msg("queue: delete entry failed")
	}
	log.Debug().Str("status", string(res.Status)).Msg("queue: entry done")
	return res
}

func (d *Drainer) delay(attempts int) time.Duration {
	if d.linearBackoff && attempts > 1 {
		return d.retryDelay * time.Duration(attempts)
	}
	return d.retryDelay
}
