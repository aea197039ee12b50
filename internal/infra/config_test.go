package infra

import (
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("INTERNAL_SECRET", "internal")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "")
	t.Setenv("PUBLIC_BASE_URL", "")
	t.Setenv("STORAGE_BASE_URL", "")
	t.Setenv("PROCESS_TRIGGER_URL", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.StorageBaseURL != "http://localhost:8080/static" {
		t.Fatalf("StorageBaseURL mismatch: got %q", cfg.StorageBaseURL)
	}
	if cfg.ProcessTriggerURL != "http://localhost:8080/internal/generations/process" {
		t.Fatalf("ProcessTriggerURL mismatch: got %q", cfg.ProcessTriggerURL)
	}
	if cfg.ProcessingLockWindow != 60*time.Second {
		t.Fatalf("ProcessingLockWindow = %s, want 60s", cfg.ProcessingLockWindow)
	}
	if cfg.WebhookTimeout != time.Hour {
		t.Fatalf("WebhookTimeout = %s, want 1h", cfg.WebhookTimeout)
	}
	if cfg.MaterializeConcurrency != 3 {
		t.Fatalf("MaterializeConcurrency = %d, want 3", cfg.MaterializeConcurrency)
	}
	if !cfg.WebhookModeEnabled || !cfg.PushTriggerEnabled {
		t.Fatalf("expected webhook and push trigger enabled by default")
	}
	if cfg.QueueLinearBackoff {
		t.Fatalf("expected fixed queue backoff by default")
	}
}

func TestLoadConfigInheritsPortInPublicURL(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "1919")
	t.Setenv("PUBLIC_BASE_URL", "")
	t.Setenv("STORAGE_BASE_URL", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.PublicBaseURL != "http://localhost:1919" {
		t.Fatalf("PublicBaseURL mismatch: got %q", cfg.PublicBaseURL)
	}
	if got := cfg.CallbackURL("replicate"); got != "http://localhost:1919/v1/webhooks/replicate" {
		t.Fatalf("CallbackURL mismatch: got %q", got)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("PUBLIC_BASE_URL", "https://api.example.com/")
	t.Setenv("STORAGE_BASE_URL", "https://cdn.example.com/media/")
	t.Setenv("WEBHOOK_MODE_ENABLED", "false")
	t.Setenv("TRIGGER_ATTEMPTS", "0")
	t.Setenv("QUEUE_RETRY_BACKOFF", "LINEAR")
	t.Setenv("PROCESSING_LOCK_WINDOW_SECONDS", "90")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.PublicBaseURL != "https://api.example.com" {
		t.Fatalf("PublicBaseURL mismatch: got %q", cfg.PublicBaseURL)
	}
	if cfg.StorageBaseURL != "https://cdn.example.com/media" {
		t.Fatalf("StorageBaseURL mismatch: got %q", cfg.StorageBaseURL)
	}
	if cfg.WebhookModeEnabled {
		t.Fatalf("expected webhook mode disabled")
	}
	if cfg.TriggerAttempts != 1 {
		t.Fatalf("TriggerAttempts = %d, want clamp to 1", cfg.TriggerAttempts)
	}
	if !cfg.QueueLinearBackoff {
		t.Fatalf("expected linear queue backoff")
	}
	if cfg.ProcessingLockWindow != 90*time.Second {
		t.Fatalf("ProcessingLockWindow = %s, want 90s", cfg.ProcessingLockWindow)
	}
}

func TestLoadConfigRequiresSecrets(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("INTERNAL_SECRET", "")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error when INTERNAL_SECRET is missing")
	}
}
