package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/phrazzld/scry-jobs/internal/config"
	"github.com/phrazzld/scry-jobs/internal/job"
	"github.com/phrazzld/scry-jobs/internal/platform/postgres"
	"github.com/phrazzld/scry-jobs/internal/platform/sqlite"
	"github.com/phrazzld/scry-jobs/internal/store"
)

// jobStore is what the application needs from either backend.
type jobStore interface {
	job.Store
	Ping(ctx context.Context) error
}

// openDatabase opens the configured backend and verifies the connection.
func openDatabase(ctx context.Context, cfg config.DatabaseConfig, log *slog.Logger) (*sql.DB, error) {
	var (
		db  *sql.DB
		err error
	)
	switch cfg.Driver {
	case "postgres":
		db, err = postgres.Open(ctx, cfg.URL, cfg.MaxOpenConns)
	case "sqlite":
		db, err = sqlite.Open(ctx, cfg.URL)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	log.Info("database connection established", "driver", cfg.Driver)
	return db, nil
}

func newJobStore(db *sql.DB, cfg *config.Config) jobStore {
	if cfg.Database.Driver == "sqlite" {
		return sqlite.NewSQLiteJobStore(db, cfg.Worker.LeaseDuration)
	}
	return postgres.NewPostgresJobStore(db, cfg.Worker.LeaseDuration)
}

func runMigrations(ctx context.Context, db *sql.DB, driver, command string, log *slog.Logger) error {
	if driver == "sqlite" {
		return sqlite.Migrate(ctx, db, command, log)
	}
	return postgres.Migrate(ctx, db, command, log)
}

func migrationStatus(ctx context.Context, db *sql.DB, driver string) ([]store.MigrationState, error) {
	if driver == "sqlite" {
		return sqlite.MigrationStatus(ctx, db)
	}
	return postgres.MigrationStatus(ctx, db)
}
