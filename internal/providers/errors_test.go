package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"mediagen/internal/domain"
)

func TestFromResponseClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		header    string
		body      string
		wantKind  string
		wantRetry time.Duration
		wantMsg   string
	}{
		{"429 with header", http.StatusTooManyRequests, "12", `{"error":{"message":"slow down"}}`, domain.ErrorKindRateLimited, 12 * time.Second, "slow down"},
		{"429 default", http.StatusTooManyRequests, "", `{}`, domain.ErrorKindRateLimited, DefaultRetryAfter, "{}"},
		{"resource exhausted", http.StatusBadRequest, "", `{"error":{"status":"RESOURCE_EXHAUSTED","message":"quota"}}`, domain.ErrorKindRateLimited, DefaultRetryAfter, "quota"},
		{"server error", http.StatusInternalServerError, "", `{"detail":"boom"}`, domain.ErrorKindProvider, 0, "boom"},
		{"string error", http.StatusBadRequest, "", `{"error":"bad input"}`, domain.ErrorKindProvider, 0, "bad input"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := &http.Response{StatusCode: tc.status, Header: http.Header{}}
			if tc.header != "" {
				resp.Header.Set("Retry-After", tc.header)
			}
			err := FromResponse("gemini", resp, []byte(tc.body))
			if err.Kind != tc.wantKind {
				t.Fatalf("kind = %q, want %q", err.Kind, tc.wantKind)
			}
			if err.RetryAfter != tc.wantRetry {
				t.Fatalf("retry = %s, want %s", err.RetryAfter, tc.wantRetry)
			}
			if err.Message != tc.wantMsg {
				t.Fatalf("message = %q, want %q", err.Message, tc.wantMsg)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	if got := KindOf(fmt.Errorf("wrap: %w", RateLimited("qwen", time.Second, "x"))); got != domain.ErrorKindRateLimited {
		t.Fatalf("wrapped rate limit kind = %q", got)
	}
	if got := KindOf(context.DeadlineExceeded); got != domain.ErrorKindTimeout {
		t.Fatalf("deadline kind = %q", got)
	}
	if got := KindOf(errors.New("other")); got != domain.ErrorKindProvider {
		t.Fatalf("default kind = %q", got)
	}
	if !errors.Is(RateLimited("qwen", time.Second, "x"), domain.ErrRateLimited) {
		t.Fatal("rate limit error should unwrap to ErrRateLimited")
	}
}

func TestCatalogLookup(t *testing.T) {
	c := DefaultCatalog()
	spec, ok := c.Lookup("flux-schnell")
	if !ok || !spec.SupportsWebhook || spec.Provider != ProviderReplicate {
		t.Fatalf("unexpected spec %+v", spec)
	}
	if _, ok := c.Lookup("nope"); ok {
		t.Fatal("unknown model must not resolve")
	}
	models := c.Models()
	for i := 1; i < len(models); i++ {
		if models[i-1].ID > models[i].ID {
			t.Fatal("models not sorted")
		}
	}
}
