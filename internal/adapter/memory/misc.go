package memory

import (
	"context"
	"sync"

	"mediagen/internal/domain"
)

// AnalysisQueue records enqueued outputs.
type AnalysisQueue struct {
	mu      sync.Mutex
	Outputs []domain.Output
	Err     error
}

func (a *AnalysisQueue) EnqueueOutputs(ctx context.Context, outputs []domain.Output) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Err != nil {
		return a.Err
	}
	a.Outputs = append(a.Outputs, outputs...)
	return nil
}

// Count returns how many outputs were enqueued.
func (a *AnalysisQueue) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.Outputs)
}

// SessionAccess grants access from a static user → sessions table.
type SessionAccess struct {
	Members map[string][]string
}

func (s SessionAccess) CanGenerate(ctx context.Context, userID, sessionID string) (bool, error) {
	for _, id := range s.Members[userID] {
		if id == sessionID {
			return true, nil
		}
	}
	return false, nil
}

var (
	_ domain.AnalysisQueue = (*AnalysisQueue)(nil)
	_ domain.SessionAccess = SessionAccess{}
)
