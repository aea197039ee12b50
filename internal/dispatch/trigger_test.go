package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"mediagen/internal/middleware"
)

type countingObserver struct {
	ok, timeout, failed int32
}

func (c *countingObserver) TriggerAttempt(outcome string) {
	switch outcome {
	case TriggerOK:
		atomic.AddInt32(&c.ok, 1)
	case TriggerTimeout:
		atomic.AddInt32(&c.timeout, 1)
	default:
		atomic.AddInt32(&c.failed, 1)
	}
}

func TestTriggerFireSendsSecretAndBody(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if got := r.Header.Get(middleware.InternalSecretHeader); got != "s3cret" {
			t.Errorf("secret header = %q", got)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if body["generationId"] != "g1" {
			t.Errorf("body = %v", body)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	obs := &countingObserver{}
	trig := NewTrigger(TriggerOptions{URL: srv.URL, Secret: "s3cret", Attempts: 3, Observer: obs})
	if err := trig.Fire(context.Background(), "g1"); err != nil {
		t.Fatalf("Fire: %v", err)
	}
	if calls != 1 || obs.ok != 1 {
		t.Fatalf("calls = %d ok = %d, want 1", calls, obs.ok)
	}
}

func TestTriggerPassesInternalAuth(t *testing.T) {
	var internal bool
	handler := middleware.InternalOrSession("s3cret", "jwt-secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		internal = middleware.IsInternal(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	srv := httptest.NewServer(handler)
	defer srv.Close()

	trig := NewTrigger(TriggerOptions{URL: srv.URL, Secret: "s3cret", Attempts: 1})
	if err := trig.Fire(context.Background(), "g1"); err != nil {
		t.Fatalf("Fire: %v", err)
	}
	if !internal {
		t.Fatal("trigger request was not recognised as internal")
	}
}

func TestTriggerFireFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{name: "server error", status: http.StatusBadGateway},
		{name: "redirect not followed", status: http.StatusFound},
		{name: "unauthorized", status: http.StatusUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var calls, redirected int32
			target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&redirected, 1)
			}))
			defer target.Close()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				if tc.status >= 300 && tc.status < 400 {
					w.Header().Set("Location", target.URL)
				}
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			trig := NewTrigger(TriggerOptions{URL: srv.URL, Attempts: 3, Backoff: time.Millisecond})
			err := trig.Fire(context.Background(), "g1")
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), "after 3 attempts") {
				t.Fatalf("error = %v", err)
			}
			if calls != 3 {
				t.Fatalf("calls = %d, want 3", calls)
			}
			if redirected != 0 {
				t.Fatalf("redirect followed %d times", redirected)
			}
		})
	}
}

func TestTriggerFireTimeoutIsAccepted(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	obs := &countingObserver{}
	trig := NewTrigger(TriggerOptions{URL: srv.URL, Attempts: 3, Timeout: 20 * time.Millisecond, Observer: obs})
	if err := trig.Fire(context.Background(), "g1"); err != nil {
		t.Fatalf("Fire: %v", err)
	}
	if obs.timeout != 1 || obs.failed != 0 {
		t.Fatalf("observer = %+v, want one timeout", obs)
	}
}

func TestTriggerFireRecoversAfterFailure(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	trig := NewTrigger(TriggerOptions{URL: srv.URL, Attempts: 3, Backoff: time.Millisecond})
	if err := trig.Fire(context.Background(), "g1"); err != nil {
		t.Fatalf("Fire: %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}
