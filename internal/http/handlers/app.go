package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"mediagen/internal/dispatch"
	"mediagen/internal/domain"
	"mediagen/internal/engine"
	"mediagen/internal/infra"
	"mediagen/internal/providers"
	"mediagen/internal/queue"
	"mediagen/internal/ratelimit"
	"mediagen/internal/reference"
)

// App carries the collaborators every handler needs.
type App struct {
	Generations   domain.GenerationRepository
	Sessions      domain.SessionAccess
	Catalog       *providers.Catalog
	Registry      *providers.Registry
	References    *reference.Resolver
	Dispatcher    *dispatch.Router
	Processor     *engine.Processor
	Drainer       *queue.Drainer
	Gate          *ratelimit.Gate
	WebhookSecret string
	Ping          func(ctx context.Context) error
	Logger        *infra.Logger
	Now           func() time.Time

	validate *validator.Validate
}

// NewApp fills defaults on a wired App.
func NewApp(a App) *App {
	if a.Now == nil {
		a.Now = time.Now
	}
	if a.Catalog == nil {
		a.Catalog = providers.DefaultCatalog()
	}
	if a.Logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		a.Logger = &l
	}
	a.validate = validator.New(validator.WithRequiredStructEnabled())
	return &a
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, errorBody{Error: errorDetail{Code: errCode, Message: message}})
}
