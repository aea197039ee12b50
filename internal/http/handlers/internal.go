package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"mediagen/internal/domain"
	"mediagen/internal/engine"
	"mediagen/internal/middleware"
)

type processRequest struct {
	GenerationID string `json:"generationId"`
}

// ProcessGeneration runs one generation synchronously, or drains a queue
// batch when no id is given. Processing outlives the caller, whose trigger
// may time out on purpose.
func (a *App) ProcessGeneration(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	ctx := context.WithoutCancel(r.Context())
	id := strings.TrimSpace(req.GenerationID)

	if id == "" {
		if a.Drainer == nil {
			a.error(w, http.StatusBadRequest, "bad_request", "generationId is required")
			return
		}
		results, err := a.Drainer.Drain(ctx)
		if err != nil {
			a.Logger.Error().Err(err).Msg("handlers: queue drain failed")
			a.error(w, http.StatusInternalServerError, "internal", "queue drain failed")
			return
		}
		if results == nil {
			results = []engine.Result{}
		}
		a.json(w, http.StatusOK, map[string]any{"results": results})
		return
	}

	if !middleware.IsInternal(r.Context()) {
		g, err := a.Generations.GetByID(r.Context(), id)
		if errors.Is(err, domain.ErrNotFound) || (err == nil && g.OwnerID != middleware.UserIDFromContext(r.Context())) {
			a.error(w, http.StatusNotFound, "not_found", "generation not found")
			return
		}
		if err != nil {
			a.error(w, http.StatusInternalServerError, "internal", "failed to load generation")
			return
		}
	}

	res, err := a.Processor.Process(ctx, id)
	if err != nil {
		a.Logger.Error().Err(err).Str("generation_id", id).Msg("handlers: process failed")
		a.error(w, http.StatusInternalServerError, "internal", "processing failed")
		return
	}
	a.json(w, http.StatusOK, res)
}
