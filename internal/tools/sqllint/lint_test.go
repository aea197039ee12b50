package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeSource(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("package q\n\n"+body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLintTargets(t *testing.T) {
	tests := []struct {
		name    string
		files   map[string]string
		want    int
		message string
	}{
		{
			name: "valid markers",
			files: map[string]string{
				"a.go": "const QA = `--sql 0a717dde-58f2-4dda-be5e-5237efa71ccc\nselect 1;`\n",
				"b.go": "const QB = `--sql 95ace75a-5869-4eeb-bd14-47aef5e62eee\nupdate t set x = 1;`\n",
			},
		},
		{
			name:    "missing marker",
			files:   map[string]string{"a.go": "const QA = `select 1;`\n"},
			want:    1,
			message: "missing or invalid",
		},
		{
			name:    "upper case marker",
			files:   map[string]string{"a.go": "const QA = `--sql 0A717DDE-58F2-4DDA-BE5E-5237EFA71CCC\nselect 1;`\n"},
			want:    1,
			message: "missing or invalid",
		},
		{
			name: "duplicate across files",
			files: map[string]string{
				"a.go": "const QA = `--sql 0a717dde-58f2-4dda-be5e-5237efa71ccc\nselect 1;`\n",
				"b.go": "const QB = `--sql 0a717dde-58f2-4dda-be5e-5237efa71ccc\nselect 2;`\n",
			},
			want:    1,
			message: "already used",
		},
		{
			name:  "plain strings ignored",
			files: map[string]string{"a.go": "const greeting = \"selection of updates\"\nvar label = \"deleted with love\"\n"},
			want:  0,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			for name, body := range tc.files {
				writeSource(t, dir, name, body)
			}
			vs, err := lintTargets([]string{dir})
			if err != nil {
				t.Fatalf("lintTargets: %v", err)
			}
			if len(vs) != tc.want {
				t.Fatalf("violations = %+v, want %d", vs, tc.want)
			}
			if tc.message != "" && !strings.Contains(vs[0].message, tc.message) {
				t.Fatalf("message = %q, want %q", vs[0].message, tc.message)
			}
		})
	}
}

func TestLintSkipsTestFiles(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "a_test.go", "const QA = `select 1;`\n")
	vs, err := lintTargets([]string{dir})
	if err != nil {
		t.Fatalf("lintTargets: %v", err)
	}
	if len(vs) != 0 {
		t.Fatalf("violations = %+v, want none", vs)
	}
}
