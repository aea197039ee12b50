package repo

import (
	"context"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"mediagen/internal/domain"
	"mediagen/internal/infra"
	"mediagen/internal/sqlinline"
)

// QueueRepositoryPG implements domain.JobQueueRepository with row leases.
type QueueRepositoryPG struct {
	sql infra.SQLExecutor
}

func NewQueueRepository(sql infra.SQLExecutor) *QueueRepositoryPG {
	return &QueueRepositoryPG{sql: sql}
}

// Enqueue adds a generation to the queue; an existing entry is returned unchanged.
func (r *QueueRepositoryPG) Enqueue(ctx context.Context, generationID string) (*domain.JobQueueEntry, error) {
	entry, err := scanQueueEntry(r.sql.QueryRow(ctx, sqlinline.QEnqueueGenerationJob, generationID))
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Claim leases up to batchSize claimable entries, oldest first. Rows locked by a
// concurrent claimer are skipped rather than waited on.
func (r *QueueRepositoryPG) Claim(ctx context.Context, batchSize int, leaseTimeout time.Duration, now time.Time) ([]domain.JobQueueEntry, error) {
	if batchSize <= 0 {
		return nil, nil
	}
	rows, err := r.sql.Query(ctx, sqlinline.QClaimGenerationJobs, batchSize, now, now.Add(-leaseTimeout))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.JobQueueEntry
	for rows.Next() {
		entry, err := scanQueueEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	return entries, nil
}

// Complete removes a finished entry.
func (r *QueueRepositoryPG) Complete(ctx context.Context, entryID string) error {
	_, err := r.sql.Exec(ctx, sqlinline.QDeleteGenerationJob, entryID)
	return err
}

// Release drops the lease and schedules the entry for runAfter.
func (r *QueueRepositoryPG) Release(ctx context.Context, entryID string, runAfter time.Time) error {
	_, err := r.sql.Exec(ctx, sqlinline.QReleaseGenerationJob, entryID, runAfter)
	return err
}

func scanQueueEntry(row pgx.Row) (domain.JobQueueEntry, error) {
	var e domain.JobQueueEntry
	err := row.Scan(&e.ID, &e.GenerationID, &e.LockedAt, &e.Attempts, &e.RunAfter, &e.CreatedAt)
	return e, err
}

var _ domain.JobQueueRepository = (*QueueRepositoryPG)(nil)
