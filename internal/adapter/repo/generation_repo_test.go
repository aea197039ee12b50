package repo

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"mediagen/internal/domain"
	"mediagen/internal/sqlinline"
)

func TestGenerationCreateEncodesParameters(t *testing.T) {
	now := time.Now().UTC()
	exec := &stubExecutor{row: []any{now, now}}
	repo := NewGenerationRepository(exec)

	g := &domain.Generation{
		ID:      "gen-1",
		OwnerID: "user-1",
		ModelID: "gemini-2.5-flash-image",
		Prompt:  "a lighthouse",
		Parameters: domain.Parameters{
			AspectRatio: "16:9",
			NumOutputs:  2,
		},
	}
	if err := repo.Create(context.Background(), g); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if g.Status != domain.GenerationStatusProcessing {
		t.Fatalf("status = %s, want processing", g.Status)
	}
	if !g.CreatedAt.Equal(now) {
		t.Fatalf("CreatedAt not scanned")
	}
	got := exec.queries[0]
	if got.query != sqlinline.QInsertGeneration {
		t.Fatalf("unexpected query")
	}
	var params domain.Parameters
	if err := json.Unmarshal(got.args[6].([]byte), &params); err != nil {
		t.Fatalf("parameters not JSON: %v", err)
	}
	if params.NumOutputs != 2 || params.AspectRatio != "16:9" {
		t.Fatalf("unexpected parameters %+v", params)
	}
}

func TestGenerationGetByIDNotFound(t *testing.T) {
	repo := NewGenerationRepository(&stubExecutor{})
	if _, err := repo.GetByID(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGenerationGetByIDDecodesParameters(t *testing.T) {
	now := time.Now().UTC()
	raw := []byte(`{"num_outputs":3,"lock":{"processing_started_at":"2026-01-01T12:00:00Z"},"error":{"message":"boom","kind":"provider_error","at":"2026-01-01T12:00:01Z","user_id":"user-1"}}`)
	cost := 0.12
	exec := &stubExecutor{row: []any{
		"gen-1", "user-1", "sess-1", "model", "prompt", "", "failed", &cost, raw, now, now,
	}}
	repo := NewGenerationRepository(exec)

	g, err := repo.GetByID(context.Background(), "gen-1")
	if err != nil {
		t.Fatalf("GetByID error: %v", err)
	}
	if g.Status != domain.GenerationStatusFailed {
		t.Fatalf("status = %s", g.Status)
	}
	if g.Parameters.NumOutputs != 3 || g.Parameters.Lock == nil || g.Parameters.Error == nil {
		t.Fatalf("parameters not decoded: %+v", g.Parameters)
	}
	if g.Parameters.Error.Kind != domain.ErrorKindProvider {
		t.Fatalf("error kind = %q", g.Parameters.Error.Kind)
	}
	if g.Cost == nil || *g.Cost != cost {
		t.Fatalf("cost not scanned")
	}
}

func TestAcquireLockReportsConditionalWrite(t *testing.T) {
	tests := []struct {
		name string
		tag  string
		want bool
	}{
		{"acquired", "UPDATE 1", true},
		{"held elsewhere", "UPDATE 0", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			exec := &stubExecutor{execTag: pgconn.NewCommandTag(tc.tag)}
			repo := NewGenerationRepository(exec)
			stale := time.Now().Add(-time.Minute)
			ok, err := repo.AcquireLock(context.Background(), "gen-1", domain.LockState{ProcessingStartedAt: time.Now()}, stale)
			if err != nil {
				t.Fatalf("AcquireLock error: %v", err)
			}
			if ok != tc.want {
				t.Fatalf("acquired = %v, want %v", ok, tc.want)
			}
			if exec.execs[0].args[2] != stale {
				t.Fatalf("stale cutoff not passed through")
			}
		})
	}
}

func TestCompleteWritesOutputsInTransaction(t *testing.T) {
	exec := &stubExecutor{row: []any{"user-1"}, execTag: pgconn.NewCommandTag("INSERT 0 2")}
	repo := NewGenerationRepository(exec)

	outputs := []domain.Output{
		{ID: "out-0", OwnerID: "user-1", Index: 0, URL: "https://cdn/0.png", Kind: domain.MediaKindImage},
		{ID: "out-1", OwnerID: "user-1", Index: 1, URL: "https://provider/1.png", Kind: domain.MediaKindImage, Fallback: true},
	}
	ok, err := repo.Complete(context.Background(), "gen-1", outputs, 0.08)
	if err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	if !ok {
		t.Fatal("expected completion to apply")
	}
	if exec.txCount != 1 {
		t.Fatalf("expected one transaction, got %d", exec.txCount)
	}
	if len(exec.execs) != 1 || exec.execs[0].query != sqlinline.QInsertGenerationOutputs {
		t.Fatalf("expected outputs insert, got %+v", exec.execs)
	}
	payload := string(exec.execs[0].args[1].([]byte))
	if !strings.Contains(payload, `"fallback":true`) || !strings.Contains(payload, `"idx":1`) {
		t.Fatalf("unexpected payload %s", payload)
	}
}

func TestCompleteOnTerminalWritesNothing(t *testing.T) {
	exec := &stubExecutor{}
	repo := NewGenerationRepository(exec)

	ok, err := repo.Complete(context.Background(), "gen-1", []domain.Output{{ID: "out-0"}}, 0.04)
	if err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	if ok {
		t.Fatal("expected no-op on terminal generation")
	}
	if len(exec.execs) != 0 {
		t.Fatalf("outputs must not be inserted, got %d execs", len(exec.execs))
	}
}

func TestFailAndCancelReportTransition(t *testing.T) {
	exec := &stubExecutor{execTag: pgconn.NewCommandTag("UPDATE 0")}
	repo := NewGenerationRepository(exec)

	ok, err := repo.Fail(context.Background(), "gen-1", domain.ErrorContext{Message: "x", Kind: domain.ErrorKindProvider})
	if err != nil || ok {
		t.Fatalf("Fail = %v, %v; want false, nil", ok, err)
	}
	exec.execTag = pgconn.NewCommandTag("UPDATE 1")
	ok, err = repo.Cancel(context.Background(), "gen-1")
	if err != nil || !ok {
		t.Fatalf("Cancel = %v, %v; want true, nil", ok, err)
	}
}

func TestAppendLogPassesCap(t *testing.T) {
	exec := &stubExecutor{}
	repo := NewGenerationRepository(exec)

	if err := repo.AppendLog(context.Background(), "gen-1"); err != nil {
		t.Fatalf("AppendLog error: %v", err)
	}
	if len(exec.execs) != 0 {
		t.Fatal("empty append must not hit the database")
	}
	if err := repo.AppendLog(context.Background(), "gen-1", domain.DebugLogEntry{Event: "lock_acquired"}); err != nil {
		t.Fatalf("AppendLog error: %v", err)
	}
	if exec.execs[0].args[2] != domain.MaxDebugLogEntries {
		t.Fatalf("cap = %v", exec.execs[0].args[2])
	}
}

func TestListOutputs(t *testing.T) {
	now := time.Now()
	exec := &stubExecutor{rows: [][]any{
		{"out-0", "gen-1", "user-1", 0, "https://cdn/0.mp4", "video", "video/mp4", 1280, 720, 8.0, "generations/user-1/gen-1/0.mp4", "https://p/0.mp4", false, now},
	}}
	repo := NewGenerationRepository(exec)

	outputs, err := repo.ListOutputs(context.Background(), "gen-1")
	if err != nil {
		t.Fatalf("ListOutputs error: %v", err)
	}
	if len(outputs) != 1 || outputs[0].Kind != domain.MediaKindVideo || outputs[0].DurationSeconds != 8 {
		t.Fatalf("unexpected outputs %+v", outputs)
	}
}
