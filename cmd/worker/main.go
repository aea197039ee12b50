package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"mediagen/internal/bootstrap"
	"mediagen/internal/infra"
	"mediagen/internal/queue"
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
		logger.Fatal().Err(err).Msg("worker: bootstrap failed")
	}
	defer svc.Close()

	worker := queue.Worker{
		Drainer:      svc.Drainer,
		Sweeper:      svc.Sweeper,
		PollInterval: cfg.QueuePollInterval,
		SweepEvery:   cfg.StaleAfter / 3,
	}
	logger.Info().
		Int("batch_size", svc.Drainer.BatchSize()).
		Dur("poll_interval", cfg.QueuePollInterval).
		Msg("worker: started")
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker: stopped with error")
		return
	}
	logger.Info().Msg("worker: stopped")
}
