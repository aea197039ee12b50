package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"mediagen/internal/http/handlers"
	"mediagen/internal/infra"
	"mediagen/internal/metrics"
	"mediagen/internal/middleware"
)

// Options are the router's cross-cutting settings.
type Options struct {
	JWTSecret      string
	InternalSecret string
	// IntakePerMinute bounds generation creations per client IP; zero disables.
	IntakePerMinute int
	AllowedOrigins  []string
	CountryLookup   middleware.CountryLookup
	StaticDir       string
	Metrics         *metrics.Collector
	Logger          infra.Logger
}

// NewRouter wires every route. ctx bounds background middleware state.
func NewRouter(ctx context.Context, app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
		middleware.CORS(opts.AllowedOrigins),
	)
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/generations", func(r chi.Router) {
		r.Use(middleware.AuthJWT(opts.JWTSecret))
		r.With(
			middleware.RateLimit(ctx, opts.IntakePerMinute),
			middleware.Country(opts.CountryLookup),
		).Post("/", app.CreateGeneration)
		r.Get("/{id}", app.GetGeneration)
		r.Post("/{id}/cancel", app.CancelGeneration)
	})

	r.With(middleware.InternalOrSession(opts.InternalSecret, opts.JWTSecret)).
		Get("/v1/rate-limits", app.RateLimits)

	r.With(middleware.InternalOrSession(opts.InternalSecret, opts.JWTSecret)).
		Post("/internal/generations/process", app.ProcessGeneration)

	r.Post("/v1/webhooks/{provider}", app.ProviderWebhook)

	if opts.StaticDir != "" {
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(opts.StaticDir))))
	}

	return r
}
