package reference

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mediagen/internal/domain"
	"mediagen/internal/storage"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\nfake-image-body")

func newTestResolver(t *testing.T, client ...*http.Client) (*Resolver, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFileStore(dir, "https://cdn.example.com")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	opts := Options{Store: store, Bucket: "media"}
	if len(client) > 0 {
		opts.HTTPClient = client[0]
	}
	return NewResolver(opts), dir
}

func countFiles(t *testing.T, dir string) int {
	t.Helper()
	n := 0
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			n++
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	return n
}

func TestResolveInlineData(t *testing.T) {
	r, _ := newTestResolver(t)
	sum := sha256.Sum256(pngBytes)
	checksum := hex.EncodeToString(sum[:])

	refs, err := r.Resolve(context.Background(), "user-1", []Input{
		{Data: "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes)},
		{Data: base64.StdEncoding.EncodeToString(pngBytes)},
	})
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("refs = %d", len(refs))
	}
	for _, ref := range refs {
		if ref.Checksum != checksum {
			t.Fatalf("checksum = %q", ref.Checksum)
		}
		if ref.Path != "references/user-1/"+checksum+".png" || ref.Bucket != "media" {
			t.Fatalf("unexpected pointer %+v", ref)
		}
		if ref.URL != "https://cdn.example.com/media/"+ref.Path || ref.MimeType != "image/png" {
			t.Fatalf("unexpected pointer %+v", ref)
		}
	}
	if refs[0].ReferenceImageID == "" || refs[0].ReferenceImageID == refs[1].ReferenceImageID {
		t.Fatal("reference ids must be unique")
	}
}

func TestResolveRemoteURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "missing.png") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngBytes)
	}))
	defer srv.Close()

	r, _ := newTestResolver(t, srv.Client())
	refs, err := r.Resolve(context.Background(), "user-1", []Input{{URL: srv.URL + "/ref.png"}})
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if !strings.HasPrefix(refs[0].Path, "references/user-1/") {
		t.Fatalf("unexpected path %q", refs[0].Path)
	}

	_, err = r.Resolve(context.Background(), "user-1", []Input{{URL: srv.URL + "/missing.png"}})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestResolveRejectsInvalidInput(t *testing.T) {
	r, _ := newTestResolver(t)
	tests := []struct {
		name   string
		inputs []Input
	}{
		{"empty item", []Input{{}}},
		{"bad base64", []Input{{Data: "%%%"}}},
		{"not an image", []Input{{Data: base64.StdEncoding.EncodeToString([]byte("hello world"))}}},
		{"ftp url", []Input{{URL: "ftp://example.com/a.png"}}},
		{"too many", []Input{{Data: "a"}, {Data: "a"}, {Data: "a"}, {Data: "a"}, {Data: "a"}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := r.Resolve(context.Background(), "user-1", tc.inputs); !errors.Is(err, domain.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestResolveRefusesInternalAddresses(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngBytes)
	}))
	defer srv.Close()

	r, dir := newTestResolver(t)
	_, err := r.Resolve(context.Background(), "user-1", []Input{{URL: srv.URL + "/ref.png", MimeType: "image/png"}})
	if !errors.Is(err, domain.ErrInvalidInput) || !strings.Contains(err.Error(), errBlockedAddress.Error()) {
		t.Fatalf("expected blocked address error, got %v", err)
	}
	if hits != 0 {
		t.Fatalf("server was reached %d times", hits)
	}
	if n := countFiles(t, dir); n != 0 {
		t.Fatalf("stored %d files, want 0", n)
	}
}

func TestResolveSniffsPayloadType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte(`{"access_key":"secret","role":"admin"}`))
	}))
	defer srv.Close()

	r, dir := newTestResolver(t, srv.Client())
	tests := []struct {
		name  string
		input Input
	}{
		{"remote json declared png", Input{URL: srv.URL + "/meta.png", MimeType: "image/png"}},
		{"inline text declared png", Input{Data: base64.StdEncoding.EncodeToString([]byte("plain text")), MimeType: "image/png"}},
		{"data uri svg", Input{Data: "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString([]byte(`<svg xmlns="http://www.w3.org/2000/svg"></svg>`))}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := r.Resolve(context.Background(), "user-1", []Input{tc.input}); !errors.Is(err, domain.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
	if n := countFiles(t, dir); n != 0 {
		t.Fatalf("stored %d files, want 0", n)
	}

	refs, err := r.Resolve(context.Background(), "user-1", []Input{{Data: base64.StdEncoding.EncodeToString(pngBytes), MimeType: "image/jpeg"}})
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if refs[0].MimeType != "image/png" || !strings.HasSuffix(refs[0].Path, ".png") {
		t.Fatalf("sniffed pointer = %+v", refs[0])
	}
}

func TestBlockedAddr(t *testing.T) {
	tests := []struct {
		addr    string
		blocked bool
	}{
		{"127.0.0.1", true},
		{"10.1.2.3", true},
		{"172.16.0.1", true},
		{"192.168.1.10", true},
		{"169.254.169.254", true},
		{"100.64.0.1", true},
		{"0.0.0.0", true},
		{"::1", true},
		{"fe80::1", true},
		{"fd00::1", true},
		{"::ffff:127.0.0.1", true},
		{"203.0.113.9", false},
		{"8.8.8.8", false},
		{"2001:4860:4860::8888", false},
	}
	for _, tc := range tests {
		t.Run(tc.addr, func(t *testing.T) {
			if got := blockedAddr(netip.MustParseAddr(tc.addr)); got != tc.blocked {
				t.Fatalf("blockedAddr(%s) = %v, want %v", tc.addr, got, tc.blocked)
			}
		})
	}
}

func TestGuardDial(t *testing.T) {
	if err := guardDial("tcp4", "127.0.0.1:80", nil); !errors.Is(err, errBlockedAddress) {
		t.Fatalf("loopback dial err = %v", err)
	}
	if err := guardDial("tcp4", "203.0.113.9:443", nil); err != nil {
		t.Fatalf("public dial err = %v", err)
	}
}
