package store

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pressly/goose/v3"
)

// Migration commands accepted by RunMigrations.
const (
	MigrateUp     = "up"
	MigrateDown   = "down"
	MigrateStatus = "status"
)

// MigrationState is one migration's version and whether it is applied.
type MigrationState struct {
	Version int64
	Path    string
	Applied bool
}

// slogGooseLogger routes goose output through slog.
type slogGooseLogger struct {
	log *slog.Logger
}

func (l slogGooseLogger) Printf(format string, v ...interface{}) {
	l.log.Info(fmt.Sprintf(format, v...))
}

// Fatalf logs at error level. It does not exit; goose reports failures as errors.
func (l slogGooseLogger) Fatalf(format string, v ...interface{}) {
	l.log.Error(fmt.Sprintf(format, v...))
}

func newProvider(db *sql.DB, dialect goose.Dialect, migrations fs.FS, log *slog.Logger) (*goose.Provider, error) {
	p, err := goose.NewProvider(dialect, db, migrations,
		goose.WithLogger(slogGooseLogger{log: log.With("component", "migrations")}),
	)
	if err != nil {
		return nil, fmt.Errorf("create migration provider: %w", err)
	}
	return p, nil
}

// RunMigrations applies command ("up" or "down") to db using the embedded
// migrations in fsys. "down" rolls back only the most recent migration.
func RunMigrations(
	ctx context.Context,
	db *sql.DB,
	dialect goose.Dialect,
	fsys fs.FS,
	command string,
	log *slog.Logger,
) error {
	if log == nil {
		log = slog.Default()
	}
	p, err := newProvider(db, dialect, fsys, log)
	if err != nil {
		return err
	}

	switch command {
	case MigrateUp:
		results, err := p.Up(ctx)
		if err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
		for _, r := range results {
			log.Info("applied migration", "version", r.Source.Version, "duration_ms", r.Duration.Milliseconds())
		}
	case MigrateDown:
		r, err := p.Down(ctx)
		if err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
		log.Info("rolled back migration", "version", r.Source.Version)
	default:
		return fmt.Errorf("unknown migration command %q", command)
	}
	return nil
}

// MigrationStatus reports every known migration and whether it is applied.
func MigrationStatus(ctx context.Context, db *sql.DB, dialect goose.Dialect, fsys fs.FS) ([]MigrationState, error) {
	p, err := newProvider(db, dialect, fsys, slog.Default())
	if err != nil {
		return nil, err
	}
	statuses, err := p.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("migration status: %w", err)
	}

	out := make([]MigrationState, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, MigrationState{
			Version: s.Source.Version,
			Path:    s.Source.Path,
			Applied: s.State == goose.StateApplied,
		})
	}
	return out, nil
}
