// Package memory provides in-process implementations of the domain
// repositories with the same conditional-write semantics as the SQL ones.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"mediagen/internal/domain"
)

// GenerationStore is an in-memory domain.GenerationRepository.
type GenerationStore struct {
	mu          sync.Mutex
	generations map[string]*domain.Generation
	outputs     map[string][]domain.Output
	now         func() time.Time
}

func NewGenerationStore() *GenerationStore {
	return &GenerationStore{
		generations: make(map[string]*domain.Generation),
		outputs:     make(map[string][]domain.Output),
		now:         time.Now,
	}
}

// SetClock overrides the store's clock.
func (s *GenerationStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *GenerationStore) Create(ctx context.Context, g *domain.Generation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	g.Status = domain.GenerationStatusProcessing
	g.CreatedAt, g.UpdatedAt = now, now
	s.generations[g.ID] = clone(g)
	return nil
}

func (s *GenerationStore) GetByID(ctx context.Context, id string) (*domain.Generation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.generations[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clone(g), nil
}

func (s *GenerationStore) GetByPredictionID(ctx context.Context, predictionID string) (*domain.Generation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.generations {
		if g.Parameters.Provider != nil && g.Parameters.Provider.PredictionID == predictionID {
			return clone(g), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *GenerationStore) AcquireLock(ctx context.Context, id string, lock domain.LockState, staleBefore time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.generations[id]
	if !ok || g.Status != domain.GenerationStatusProcessing {
		return false, nil
	}
	if cur := g.Parameters.Lock; cur != nil && !cur.ProcessingStartedAt.Before(staleBefore) {
		return false, nil
	}
	l := lock
	g.Parameters.Lock = &l
	g.UpdatedAt = s.now()
	return true, nil
}

func (s *GenerationStore) AppendLog(ctx context.Context, id string, entries ...domain.DebugLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.generations[id]
	if !ok {
		return nil
	}
	g.Parameters.DebugLog = domain.AppendDebugLog(g.Parameters.DebugLog, entries...)
	g.UpdatedAt = s.now()
	return nil
}

func (s *GenerationStore) SetProviderHandle(ctx context.Context, id string, handle domain.ProviderHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.generations[id]
	if !ok || g.Status != domain.GenerationStatusProcessing {
		return nil
	}
	h := handle
	g.Parameters.Provider = &h
	g.UpdatedAt = s.now()
	return nil
}

func (s *GenerationStore) Complete(ctx context.Context, id string, outputs []domain.Output, cost float64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.generations[id]
	if !ok || g.Status != domain.GenerationStatusProcessing {
		return false, nil
	}
	g.Status = domain.GenerationStatusCompleted
	c := cost
	g.Cost = &c
	g.UpdatedAt = s.now()
	s.outputs[id] = append([]domain.Output(nil), outputs...)
	return true, nil
}

func (s *GenerationStore) Fail(ctx context.Context, id string, errCtx domain.ErrorContext) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.generations[id]
	if !ok || g.Status != domain.GenerationStatusProcessing {
		return false, nil
	}
	g.Status = domain.GenerationStatusFailed
	e := errCtx
	g.Parameters.Error = &e
	g.UpdatedAt = s.now()
	return true, nil
}

func (s *GenerationStore) Cancel(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.generations[id]
	if !ok || g.Status != domain.GenerationStatusProcessing {
		return false, nil
	}
	g.Status = domain.GenerationStatusCancelled
	g.UpdatedAt = s.now()
	return true, nil
}

func (s *GenerationStore) ListOutputs(ctx context.Context, generationID string) ([]domain.Output, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Output(nil), s.outputs[generationID]...), nil
}

// ListStale mirrors the SQL selection; queued is consulted through the
// optional queue view set with WithQueue.
func (s *GenerationStore) ListStale(ctx context.Context, updatedBefore time.Time, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stale []*domain.Generation
	for _, g := range s.generations {
		if g.Status != domain.GenerationStatusProcessing || !g.UpdatedAt.Before(updatedBefore) {
			continue
		}
		if l := g.Parameters.Lock; l != nil && !l.ProcessingStartedAt.Before(updatedBefore) {
			continue
		}
		stale = append(stale, g)
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].UpdatedAt.Before(stale[j].UpdatedAt) })
	ids := make([]string, 0, len(stale))
	for _, g := range stale {
		if limit > 0 && len(ids) >= limit {
			break
		}
		ids = append(ids, g.ID)
	}
	return ids, nil
}

func clone(g *domain.Generation) *domain.Generation {
	c := *g
	p := g.Parameters
	if p.Lock != nil {
		l := *p.Lock
		p.Lock = &l
	}
	if p.Provider != nil {
		h := *p.Provider
		p.Provider = &h
	}
	if p.Error != nil {
		e := *p.Error
		p.Error = &e
	}
	p.DebugLog = append([]domain.DebugLogEntry(nil), p.DebugLog...)
	p.ReferenceImages = append([]domain.ReferenceImage(nil), p.ReferenceImages...)
	c.Parameters = p
	if g.Cost != nil {
		cost := *g.Cost
		c.Cost = &cost
	}
	return &c
}

var _ domain.GenerationRepository = (*GenerationStore)(nil)
