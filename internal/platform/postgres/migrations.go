package postgres

import (
	"context"
	"database/sql"
	"embed"
	"io/fs"
	"log/slog"

	"github.com/phrazzld/scry-jobs/internal/store"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

func migrationsFS() fs.FS {
	sub, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		// ALLOW-PANIC: the embedded directory is fixed at compile time
		panic(err)
	}
	return sub
}

// Migrate runs a migration command ("up" or "down") against db.
func Migrate(ctx context.Context, db *sql.DB, command string, log *slog.Logger) error {
	return store.RunMigrations(ctx, db, goose.DialectPostgres, migrationsFS(), command, log)
}

// MigrationStatus lists the embedded migrations and whether each is applied.
func MigrationStatus(ctx context.Context, db *sql.DB) ([]store.MigrationState, error) {
	return store.MigrationStatus(ctx, db, goose.DialectPostgres, migrationsFS())
}
