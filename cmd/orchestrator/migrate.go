package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/phrazzld/scry-jobs/internal/store"
	"github.com/spf13/cobra"
)

func newMigrateCmd(opts *cliOptions) *cobra.Command {
	command := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the job table schema",
	}

	command.AddCommand(&cobra.Command{
		Use:   store.MigrateUp,
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd, opts, store.MigrateUp)
		},
	})
	command.AddCommand(&cobra.Command{
		Use:   store.MigrateDown,
		Short: "Roll back the most recent migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd, opts, store.MigrateDown)
		},
	})
	command.AddCommand(&cobra.Command{
		Use:   store.MigrateStatus,
		Short: "List migrations and whether each is applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd, opts, store.MigrateStatus)
		},
	})

	return command
}

func runMigrate(cmd *cobra.Command, opts *cliOptions, command string) error {
	cfg, log, err := opts.load(cmd)
	if err != nil {
		return err
	}

	db, err := openDatabase(cmd.Context(), cfg.Database, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("error closing database connection", "error", err)
		}
	}()

	if command != store.MigrateStatus {
		return runMigrations(cmd.Context(), db, cfg.Database.Driver, command, log)
	}

	states, err := migrationStatus(cmd.Context(), db, cfg.Database.Driver)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tSTATE\tSOURCE")
	for _, s := range states {
		state := "pending"
		if s.Applied {
			state = "applied"
		}
		fmt.Fprintf(w, "%05d\t%s\t%s\n", s.Version, state, s.Path)
	}
	return w.Flush()
}
