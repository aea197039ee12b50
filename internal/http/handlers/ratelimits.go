package handlers

import (
	"net/http"

	"mediagen/internal/ratelimit"
)

// RateLimits reports the advisory usage snapshot of every catalog key.
func (a *App) RateLimits(w http.ResponseWriter, r *http.Request) {
	seen := make(map[ratelimit.Key]bool)
	items := make([]ratelimit.Snapshot, 0)
	for _, spec := range a.Catalog.Models() {
		key := ratelimit.Key{Provider: spec.Provider, Scope: spec.Scope}
		if seen[key] {
			continue
		}
		seen[key] = true
		snap, err := a.Gate.Status(r.Context(), key)
		if err != nil {
			a.Logger.Error().Err(err).Str("provider", key.Provider).Str("scope", key.Scope).Msg("handlers: rate limit status failed")
			a.error(w, http.StatusInternalServerError, "internal", "failed to read usage counters")
			return
		}
		items = append(items, snap)
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}
