package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"mediagen/internal/infra"
	"mediagen/internal/migrations"
)

func main() {
	_ = godotenv.Load()
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: migrate [up|down|status]")
	}
	flag.Parse()
	command := flag.Arg(0)
	if command == "" {
		command = "up"
	}

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("migrate: db connection failed")
	}
	defer pool.Close()
	db := infra.StdDB(pool)
	defer db.Close()

	switch command {
	case "up":
		err = migrations.Up(ctx, db, logger)
	case "down":
		err = migrations.Down(ctx, db, logger)
	case "status":
		err = migrations.Status(ctx, db, logger)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Fatal().Err(err).Str("command", command).Msg("migrate: failed")
	}
	logger.Info().Str("command", command).Msg("migrate: done")
}
