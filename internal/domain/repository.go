package domain

import (
	"context"
	"time"
)

// GenerationRepository persists generations and enforces the terminal-state rules.
// Every transition method reports whether it applied; false means the record was
// already terminal (or the lock was held) and nothing changed.
type GenerationRepository interface {
	Create(ctx context.Context, g *Generation) error
	GetByID(ctx context.Context, id string) (*Generation, error)
	GetByPredictionID(ctx context.Context, predictionID string) (*Generation, error)
	AcquireLock(ctx context.Context, id string, lock LockState, staleBefore time.Time) (bool, error)
	AppendLog(ctx context.Context, id string, entries ...DebugLogEntry) error
	SetProviderHandle(ctx context.Context, id string, handle ProviderHandle) error
	Complete(ctx context.Context, id string, outputs []Output, cost float64) (bool, error)
	Fail(ctx context.Context, id string, errCtx ErrorContext) (bool, error)
	Cancel(ctx context.Context, id string) (bool, error)
	ListOutputs(ctx context.Context, generationID string) ([]Output, error)
	ListStale(ctx context.Context, updatedBefore time.Time, limit int) ([]string, error)
}

// JobQueueRepository is the durable lease-based queue of pending generations.
type JobQueueRepository interface {
	Enqueue(ctx context.Context, generationID string) (*JobQueueEntry, error)
	Claim(ctx context.Context, batchSize int, leaseTimeout time.Duration, now time.Time) ([]JobQueueEntry, error)
	Complete(ctx context.Context, entryID string) error
	Release(ctx context.Context, entryID string, runAfter time.Time) error
}

// AnalysisQueue receives freshly materialized outputs for downstream analysis.
type AnalysisQueue interface {
	EnqueueOutputs(ctx context.Context, outputs []Output) error
}

// SessionAccess answers whether a user may generate inside a session's project.
type SessionAccess interface {
	CanGenerate(ctx context.Context, userID, sessionID string) (bool, error)
}
