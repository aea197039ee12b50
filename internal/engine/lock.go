package engine

import (
	"context"
	"fmt"

	"mediagen/internal/domain"
)

// acquireLock takes the advisory processing lock. The repository write is
// conditional, so two processes reading an expired lock at the same time
// cannot both win on a store with conditional updates. Stores without them
// leave a read/write window; a duplicate provider call is then possible and
// the conditional terminal transition keeps only one result.
func (p *Processor) acquireLock(ctx context.Context, g *domain.Generation) (bool, error) {
	now := p.now()
	if g.Parameters.Lock.Held(now, p.lockWindow) {
		return false, nil
	}
	lock := domain.LockState{ProcessingStartedAt: now.UTC(), Holder: p.holder}
	ok, err := p.generations.AcquireLock(ctx, g.ID, lock, now.Add(-p.lockWindow).UTC())
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", g.ID, err)
	}
	return ok, nil
}
