package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"mediagen/internal/engine"
)

// WebhookSignatureHeader carries hex(HMAC-SHA256(body)), optionally prefixed
// with "sha256=".
const WebhookSignatureHeader = "Webhook-Signature"

const maxWebhookBytes = 10 << 20

// ProviderWebhook applies a provider completion delivery. A 5xx answer makes
// the provider redeliver, so a delivery that meets a held processing lock is
// answered with 503.
func (a *App) ProviderWebhook(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	parser, ok := a.Registry.Parser(provider)
	if !ok {
		a.error(w, http.StatusNotFound, "not_found", "unknown provider")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "unreadable body")
		return
	}
	if a.WebhookSecret != "" && !validSignature(a.WebhookSecret, body, r.Header.Get(WebhookSignatureHeader)) {
		a.error(w, http.StatusUnauthorized, "unauthorized", "invalid signature")
		return
	}
	event, err := parser.ParseWebhook(body)
	if err != nil {
		a.Logger.Warn().Err(err).Str("provider", provider).Msg("handlers: malformed webhook")
		a.error(w, http.StatusBadRequest, "bad_request", "malformed payload")
		return
	}
	res, err := a.Processor.HandleWebhook(context.WithoutCancel(r.Context()), provider, *event)
	if err != nil {
		a.Logger.Error().Err(err).Str("provider", provider).Str("prediction_id", event.PredictionID).Msg("handlers: webhook processing failed")
		a.error(w, http.StatusInternalServerError, "internal", "webhook processing failed")
		return
	}
	if res.Status == engine.StatusBusy {
		w.Header().Set("Retry-After", strconv.Itoa(int(engine.DefaultLockWindow.Seconds())))
		a.error(w, http.StatusServiceUnavailable, "busy", "generation is being processed, retry later")
		return
	}
	a.json(w, http.StatusOK, res)
}

func validSignature(secret string, body []byte, header string) bool {
	got := strings.TrimPrefix(strings.TrimSpace(header), "sha256=")
	if got == "" {
		return false
	}
	sig, err := hex.DecodeString(got)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(sig, mac.Sum(nil))
}
