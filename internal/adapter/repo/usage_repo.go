package repo

import (
	"context"

	"mediagen/internal/infra"
	"mediagen/internal/sqlinline"
)

// UsageCounterRepositoryPG stores provider usage counters with atomic upserts.
type UsageCounterRepositoryPG struct {
	sql infra.SQLExecutor
}

func NewUsageCounterRepository(sql infra.SQLExecutor) *UsageCounterRepositoryPG {
	return &UsageCounterRepositoryPG{sql: sql}
}

// Increment adds one to the bucket and returns the new count.
func (r *UsageCounterRepositoryPG) Increment(ctx context.Context, provider, scope, window, bucket string) (int64, error) {
	var count int64
	err := r.sql.QueryRow(ctx, sqlinline.QIncrementUsageCounter, provider, scope, window, bucket).Scan(&count)
	return count, err
}

// Get returns the bucket count; a missing bucket counts as zero.
func (r *UsageCounterRepositoryPG) Get(ctx context.Context, provider, scope, window, bucket string) (int64, error) {
	var count int64
	err := r.sql.QueryRow(ctx, sqlinline.QSelectUsageCounter, provider, scope, window, bucket).Scan(&count)
	if infra.IsNoRows(err) {
		return 0, nil
	}
	return count, err
}
