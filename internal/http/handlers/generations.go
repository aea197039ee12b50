package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"mediagen/internal/domain"
	"mediagen/internal/engine"
	"mediagen/internal/middleware"
	"mediagen/internal/reference"
)

const maxIntakeBytes = 32 << 20

type createGenerationRequest struct {
	SessionID      string               `json:"sessionId" validate:"required,uuid"`
	ModelID        string               `json:"modelId" validate:"required,max=100"`
	Prompt         string               `json:"prompt" validate:"required,max=4000"`
	NegativePrompt string               `json:"negativePrompt" validate:"max=2000"`
	Parameters     generationParameters `json:"parameters"`
}

type generationParameters struct {
	AspectRatio     string            `json:"aspectRatio" validate:"omitempty,oneof=1:1 16:9 9:16 4:3 3:4 3:2 2:3 21:9"`
	NumOutputs      int               `json:"numOutputs" validate:"omitempty,min=1,max=4"`
	DurationSeconds int               `json:"durationSeconds" validate:"omitempty,min=1,max=60"`
	Seed            *int64            `json:"seed"`
	ReferenceImages []reference.Input `json:"referenceImages" validate:"max=4"`
	Extra           map[string]any    `json:"extra"`
}

type createGenerationResponse struct {
	ID           string        `json:"id"`
	Status       engine.Status `json:"status"`
	PredictionID string        `json:"predictionId,omitempty"`
	Error        string        `json:"error,omitempty"`
}

// CreateGeneration records a new generation and dispatches it.
func (a *App) CreateGeneration(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req createGenerationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxIntakeBytes)).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	req.Prompt = norm.NFC.String(strings.TrimSpace(req.Prompt))
	req.NegativePrompt = norm.NFC.String(strings.TrimSpace(req.NegativePrompt))
	if err := a.validate.Struct(req); err != nil {
		a.error(w, http.StatusBadRequest, "validation_error", validationMessage(err))
		return
	}
	for _, ref := range req.Parameters.ReferenceImages {
		if ref.Data == "" && ref.URL == "" {
			a.error(w, http.StatusBadRequest, "validation_error", "referenceImages entries need data or url")
			return
		}
	}

	spec, ok := a.Catalog.Lookup(req.ModelID)
	if !ok {
		a.error(w, http.StatusBadRequest, "unknown_model", "unknown model")
		return
	}

	allowed, err := a.Sessions.CanGenerate(r.Context(), userID, req.SessionID)
	if err != nil {
		a.Logger.Error().Err(err).Str("session_id", req.SessionID).Msg("handlers: session access check failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to check session access")
		return
	}
	if !allowed {
		a.error(w, http.StatusForbidden, "forbidden", "no access to this session")
		return
	}

	refs, err := a.References.Resolve(r.Context(), userID, req.Parameters.ReferenceImages)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			a.error(w, http.StatusBadRequest, "invalid_reference", err.Error())
			return
		}
		a.Logger.Error().Err(err).Msg("handlers: reference upload failed")
		a.error(w, http.StatusBadGateway, "storage_error", "failed to store reference images")
		return
	}

	fields := map[string]string{"request_id": middleware.RequestIDFromContext(r.Context())}
	if country := middleware.CountryFromContext(r.Context()); country != "" {
		fields["country"] = country
	}
	g := &domain.Generation{
		ID:             uuid.NewString(),
		OwnerID:        userID,
		SessionID:      req.SessionID,
		ModelID:        spec.ID,
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Parameters: domain.Parameters{
			AspectRatio:     req.Parameters.AspectRatio,
			NumOutputs:      req.Parameters.NumOutputs,
			DurationSeconds: req.Parameters.DurationSeconds,
			Seed:            req.Parameters.Seed,
			Extra:           req.Parameters.Extra,
			ReferenceImages: refs,
			DebugLog: []domain.DebugLogEntry{{
				At:     a.Now().UTC(),
				Level:  "info",
				Event:  "created",
				Fields: fields,
			}},
		},
	}
	if err := a.Generations.Create(r.Context(), g); err != nil {
		a.Logger.Error().Err(err).Msg("handlers: create generation failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to create generation")
		return
	}

	// Dispatch outlives the client connection; a disconnect must not read as a
	// trigger failure.
	outcome, err := a.Dispatcher.Dispatch(context.WithoutCancel(r.Context()), g, spec)
	if err != nil {
		// The record stays processing and the sweeper re-enqueues it.
		a.Logger.Error().Err(err).Str("generation_id", g.ID).Msg("handlers: dispatch failed")
		a.json(w, http.StatusAccepted, createGenerationResponse{ID: g.ID, Status: engine.StatusProcessing})
		return
	}
	a.json(w, http.StatusAccepted, createGenerationResponse{
		ID:           g.ID,
		Status:       outcome.Status,
		PredictionID: outcome.PredictionID,
		Error:        outcome.Error,
	})
}

type outputResponse struct {
	Index           int     `json:"index"`
	URL             string  `json:"url"`
	Kind            string  `json:"kind"`
	MimeType        string  `json:"mimeType"`
	Width           int     `json:"width,omitempty"`
	Height          int     `json:"height,omitempty"`
	DurationSeconds float64 `json:"durationSeconds,omitempty"`
}

type generationResponse struct {
	ID             string           `json:"id"`
	SessionID      string           `json:"sessionId,omitempty"`
	ModelID        string           `json:"modelId"`
	Prompt         string           `json:"prompt"`
	NegativePrompt string           `json:"negativePrompt,omitempty"`
	Status         string           `json:"status"`
	Cost           *float64         `json:"cost,omitempty"`
	Outputs        []outputResponse `json:"outputs"`
	Error          *errorMessage    `json:"error,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

type errorMessage struct {
	Message string `json:"message"`
}

// GetGeneration returns a generation owned by the caller. Operator-only
// diagnostics never leave the server.
func (a *App) GetGeneration(w http.ResponseWriter, r *http.Request) {
	g, ok := a.loadOwned(w, r)
	if !ok {
		return
	}
	outputs, err := a.Generations.ListOutputs(r.Context(), g.ID)
	if err != nil {
		a.Logger.Error().Err(err).Str("generation_id", g.ID).Msg("handlers: list outputs failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load outputs")
		return
	}
	resp := generationResponse{
		ID:             g.ID,
		SessionID:      g.SessionID,
		ModelID:        g.ModelID,
		Prompt:         g.Prompt,
		NegativePrompt: g.NegativePrompt,
		Status:         string(g.Status),
		Cost:           g.Cost,
		Outputs:        make([]outputResponse, 0, len(outputs)),
		CreatedAt:      g.CreatedAt,
		UpdatedAt:      g.UpdatedAt,
	}
	for _, o := range outputs {
		resp.Outputs = append(resp.Outputs, outputResponse{
			Index:           o.Index,
			URL:             o.URL,
			Kind:            string(o.Kind),
			MimeType:        o.MimeType,
			Width:           o.Width,
			Height:          o.Height,
			DurationSeconds: o.DurationSeconds,
		})
	}
	if g.Status == domain.GenerationStatusFailed && g.Parameters.Error != nil {
		resp.Error = &errorMessage{Message: g.Parameters.Error.Message}
	}
	a.json(w, http.StatusOK, resp)
}

// CancelGeneration moves a processing generation to cancelled.
func (a *App) CancelGeneration(w http.ResponseWriter, r *http.Request) {
	g, ok := a.loadOwned(w, r)
	if !ok {
		return
	}
	applied, err := a.Processor.Cancel(r.Context(), g.ID, g.OwnerID)
	if err != nil {
		a.Logger.Error().Err(err).Str("generation_id", g.ID).Msg("handlers: cancel failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to cancel generation")
		return
	}
	if !applied {
		a.error(w, http.StatusConflict, "already_terminal", "generation already finished")
		return
	}
	a.json(w, http.StatusOK, map[string]string{"id": g.ID, "status": string(domain.GenerationStatusCancelled)})
}

func (a *App) loadOwned(w http.ResponseWriter, r *http.Request) (*domain.Generation, bool) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return nil, false
	}
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		a.error(w, http.StatusNotFound, "not_found", "generation not found")
		return nil, false
	}
	g, err := a.Generations.GetByID(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && g.OwnerID != userID) {
		a.error(w, http.StatusNotFound, "not_found", "generation not found")
		return nil, false
	}
	if err != nil {
		a.Logger.Error().Err(err).Str("generation_id", id).Msg("handlers: load generation failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load generation")
		return nil, false
	}
	return g, true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid payload"
	}
	fe := verrs[0]
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "oneof":
		return field + " must be one of " + fe.Param()
	case "uuid":
		return field + " must be a uuid"
	case "max", "min":
		return field + " is out of range"
	default:
		return field + " is invalid"
	}
}
