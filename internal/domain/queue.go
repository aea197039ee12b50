package domain

import "time"

// JobQueueEntry is a pending generation waiting for a queue worker.
type JobQueueEntry struct {
	ID           string
	GenerationID string
	LockedAt     *time.Time
	Attempts     int
	RunAfter     *time.Time
	CreatedAt    time.Time
}

// Claimable reports whether the entry may be leased at now. An entry whose lease
// is older than leaseTimeout is claimable again.
func (e JobQueueEntry) Claimable(now time.Time, leaseTimeout time.Duration) bool {
	if e.LockedAt != nil && !e.LockedAt.Before(now.Add(-leaseTimeout)) {
		return false
	}
	if e.RunAfter != nil && e.RunAfter.After(now) {
		return false
	}
	return true
}
