package migrations

import (
	"io/fs"
	"strings"
	"testing"
)

func TestCollectOrdersEmbeddedMigrations(t *testing.T) {
	ms, err := Collect()
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(ms) != 3 {
		t.Fatalf("migrations = %d, want 3", len(ms))
	}
	for i, m := range ms {
		if m.Version != int64(i+1) {
			t.Fatalf("migration %d version = %d", i, m.Version)
		}
	}
}

func TestMigrationsDeclareBothDirections(t *testing.T) {
	entries, err := fs.ReadDir(FS, dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		raw, err := fs.ReadFile(FS, dir+"/"+e.Name())
		if err != nil {
			t.Fatalf("ReadFile %s: %v", e.Name(), err)
		}
		body := string(raw)
		if !strings.Contains(body, "-- +goose Up") || !strings.Contains(body, "-- +goose Down") {
			t.Fatalf("%s lacks goose Up/Down sections", e.Name())
		}
	}
}

func TestSchemaCoversQueriedTables(t *testing.T) {
	var all strings.Builder
	entries, _ := fs.ReadDir(FS, dir)
	for _, e := range entries {
		raw, _ := fs.ReadFile(FS, dir+"/"+e.Name())
		all.Write(raw)
	}
	for _, table := range []string{
		"generations", "generation_outputs", "generation_jobs", "output_analysis_jobs",
		"provider_usage_counters", "integration_tokens", "sessions", "projects", "project_members",
	} {
		if !strings.Contains(all.String(), "create table if not exists "+table+" (") {
			t.Fatalf("missing table %s", table)
		}
	}
}
