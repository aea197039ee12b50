// Package migrations carries the schema as embedded goose migrations.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"

	"github.com/pressly/goose/v3"

	"mediagen/internal/infra"
)

//go:embed sql/*.sql
var FS embed.FS

const dir = "sql"

// Up applies every pending migration.
func Up(ctx context.Context, db *sql.DB, logger infra.Logger) error {
	if err := setup(logger); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, dir); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// Down rolls back the latest migration.
func Down(ctx context.Context, db *sql.DB, logger infra.Logger) error {
	if err := setup(logger); err != nil {
		return err
	}
	if err := goose.DownContext(ctx, db, dir); err != nil {
		return fmt.Errorf("migrate down: %w", err)
	}
	return nil
}

// Status logs the applied state of every migration.
func Status(ctx context.Context, db *sql.DB, logger infra.Logger) error {
	if err := setup(logger); err != nil {
		return err
	}
	return goose.StatusContext(ctx, db, dir)
}

// Collect lists the embedded migrations in version order.
func Collect() (goose.Migrations, error) {
	goose.SetBaseFS(FS)
	return goose.CollectMigrations(dir, 0, goose.MaxVersion)
}

func setup(logger infra.Logger) error {
	goose.SetBaseFS(FS)
	goose.SetLogger(gooseLogger{logger: logger})
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("migrate dialect: %w", err)
	}
	return nil
}

type gooseLogger struct {
	logger infra.Logger
}

func (l gooseLogger) Printf(format string, v ...any) {
	l.logger.Info().Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l gooseLogger) Fatalf(format string, v ...any) {
	l.logger.Fatal().Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}
