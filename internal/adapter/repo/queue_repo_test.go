package repo

import (
	"context"
	"testing"
	"time"

	"mediagen/internal/sqlinline"
)

func TestQueueClaimOrdersAndPassesLeaseCutoff(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	older := now.Add(-2 * time.Minute)
	newer := now.Add(-time.Minute)
	exec := &stubExecutor{rows: [][]any{
		{"entry-2", "gen-2", &now, 1, nil, newer},
		{"entry-1", "gen-1", &now, 3, nil, older},
	}}
	repo := NewQueueRepository(exec)

	entries, err := repo.Claim(context.Background(), 5, 5*time.Minute, now)
	if err != nil {
		t.Fatalf("Claim error: %v", err)
	}
	if len(entries) != 2 || entries[0].ID != "entry-1" {
		t.Fatalf("expected oldest first, got %+v", entries)
	}
	if entries[0].Attempts != 3 {
		t.Fatalf("attempts = %d", entries[0].Attempts)
	}
	q := exec.queries[0]
	if q.query != sqlinline.QClaimGenerationJobs {
		t.Fatal("unexpected query")
	}
	if q.args[2] != now.Add(-5*time.Minute) {
		t.Fatalf("lease cutoff = %v", q.args[2])
	}
}

func TestQueueClaimZeroBatch(t *testing.T) {
	exec := &stubExecutor{}
	entries, err := NewQueueRepository(exec).Claim(context.Background(), 0, time.Minute, time.Now())
	if err != nil || entries != nil {
		t.Fatalf("Claim = %v, %v", entries, err)
	}
	if len(exec.queries) != 0 {
		t.Fatal("zero batch must not query")
	}
}

func TestQueueReleaseAndComplete(t *testing.T) {
	exec := &stubExecutor{}
	repo := NewQueueRepository(exec)
	runAfter := time.Now().Add(30 * time.Second)

	if err := repo.Release(context.Background(), "entry-1", runAfter); err != nil {
		t.Fatalf("Release error: %v", err)
	}
	if err := repo.Complete(context.Background(), "entry-1"); err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	if exec.execs[0].query != sqlinline.QReleaseGenerationJob || exec.execs[0].args[1] != runAfter {
		t.Fatalf("unexpected release call %+v", exec.execs[0])
	}
	if exec.execs[1].query != sqlinline.QDeleteGenerationJob {
		t.Fatal("expected delete on complete")
	}
}
