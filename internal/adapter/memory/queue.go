package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"mediagen/internal/domain"
)

// Queue is an in-memory domain.JobQueueRepository with the same lease rules
// as the SQL queue.
type Queue struct {
	mu      sync.Mutex
	entries map[string]*domain.JobQueueEntry
	now     func() time.Time
}

func NewQueue() *Queue {
	return &Queue{entries: make(map[string]*domain.JobQueueEntry), now: time.Now}
}

func (q *Queue) Enqueue(ctx context.Context, generationID string) (*domain.JobQueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.entries {
		if e.GenerationID == generationID {
			c := *e
			return &c, nil
		}
	}
	e := &domain.JobQueueEntry{ID: uuid.NewString(), GenerationID: generationID, CreatedAt: q.now()}
	q.entries[e.ID] = e
	c := *e
	return &c, nil
}

func (q *Queue) Claim(ctx context.Context, batchSize int, leaseTimeout time.Duration, now time.Time) ([]domain.JobQueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var claimable []*domain.JobQueueEntry
	for _, e := range q.entries {
		if e.Claimable(now, leaseTimeout) {
			claimable = append(claimable, e)
		}
	}
	sort.Slice(claimable, func(i, j int) bool { return claimable[i].CreatedAt.Before(claimable[j].CreatedAt) })
	if len(claimable) > batchSize {
		claimable = claimable[:batchSize]
	}
	out := make([]domain.JobQueueEntry, 0, len(claimable))
	for _, e := range claimable {
		lockedAt := now
		e.LockedAt = &lockedAt
		e.Attempts++
		out = append(out, *e)
	}
	return out, nil
}

func (q *Queue) Complete(ctx context.Context, entryID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.entries, entryID)
	return nil
}

func (q *Queue) Release(ctx context.Context, entryID string, runAfter time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e, ok := q.entries[entryID]; ok {
		e.LockedAt = nil
		r := runAfter
		e.RunAfter = &r
	}
	return nil
}

// Len returns the number of queued entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Has reports whether generationID has a queue entry.
func (q *Queue) Has(generationID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.entries {
		if e.GenerationID == generationID {
			return true
		}
	}
	return false
}

var _ domain.JobQueueRepository = (*Queue)(nil)
