package main

import (
	"context"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"mediagen/internal/bootstrap"
	"mediagen/internal/http/handlers"
	httpapi "mediagen/internal/http/httpapi"
	"mediagen/internal/infra"
	"mediagen/internal/middleware"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: bootstrap failed")
	}
	defer svc.Close()

	app := handlers.NewApp(handlers.App{
		Generations:   svc.Generations,
		Sessions:      svc.Sessions,
		Catalog:       svc.Catalog,
		Registry:      svc.Registry,
		References:    svc.References,
		Dispatcher:    svc.Dispatcher,
		Processor:     svc.Processor,
		Drainer:       svc.Drainer,
		Gate:          svc.Gate,
		WebhookSecret: cfg.WebhookSigningSecret,
		Ping:          svc.Ping,
		Logger:        &logger,
	})

	var lookup middleware.CountryLookup
	if svc.Geo != nil {
		lookup = svc.Geo.Lookup
	}
	router := httpapi.NewRouter(ctx, app, httpapi.Options{
		JWTSecret:       cfg.JWTSecret,
		InternalSecret:  cfg.InternalSecret,
		IntakePerMinute: cfg.RateLimitPerMin,
		AllowedOrigins:  splitOrigins(cfg.AllowedOrigins),
		CountryLookup:   lookup,
		StaticDir:       cfg.StoragePath,
		Metrics:         svc.Metrics,
		Logger:          logger,
	})

	server := infra.NewHTTPServer(cfg, router)
	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}

func splitOrigins(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
