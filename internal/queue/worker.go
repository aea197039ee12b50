package queue

import (
	"context"
	"time"
)

// DefaultPollInterval is the wait between empty drains.
const DefaultPollInterval = 2 * time.Second

// Worker drains the queue until its context ends, running the sweeper on
// its own cadence when one is configured.
type Worker struct {
	Drainer      *Drainer
	Sweeper      *Sweeper
	PollInterval time.Duration
	SweepEvery   time.Duration
}

// Run blocks until ctx is done and returns ctx.Err().
func (w *Worker) Run(ctx context.Context) error {
	poll := w.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	sweepEvery := w.SweepEvery
	if sweepEvery <= 0 {
		sweepEvery = time.Minute
	}
	logger := w.Drainer.logger
	logger.Info().Dur("poll_interval", poll).Msg("worker: started")

	var lastSweep time.Time
	for {
		if w.Sweeper != nil && time.Since(lastSweep) >= sweepEvery {
			if _, err := w.Sweeper.Sweep(ctx); err != nil {
				logger.Error().Err(err).Msg("worker: sweep failed")
			}
			lastSweep = time.Now()
		}

		results, err := w.Drainer.Drain(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("worker: drain failed")
		}
		// A full batch means more work is likely waiting.
		if err == nil && len(results) >= w.Drainer.BatchSize() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}

		timer := time.NewTimer(poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
