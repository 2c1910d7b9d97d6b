package main

import (
	"fmt"
	"log/slog"

	"github.com/phrazzld/scry-jobs/internal/config"
	"github.com/phrazzld/scry-jobs/internal/platform/logger"
	"github.com/spf13/cobra"
)

// cliOptions are the persistent flags shared by every subcommand.
type cliOptions struct {
	configFile string
	envFile    string
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}

	command := &cobra.Command{
		Use:           "orchestrator",
		Short:         "Durable background job orchestrator",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.HelpFunc()(cmd, args)
		},
	}

	command.PersistentFlags().StringVar(&opts.configFile, "config", "", "YAML config file (default ./config.yaml when present)")
	command.PersistentFlags().StringVar(&opts.envFile, "env-file", "", ".env file (default ./.env when present)")

	command.AddCommand(newWorkerCmd(opts))
	command.AddCommand(newEnqueueCmd(opts))
	command.AddCommand(newMigrateCmd(opts))

	return command
}

// load reads configuration and installs the process logger. Logs go to the
// command's stderr so stdout carries only command output.
func (o *cliOptions) load(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadWithOptions(config.LoadOptions{
		ConfigFile: o.configFile,
		EnvFile:    o.envFile,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.Setup(logger.LoggerConfig{
		Level:  cfg.Server.LogLevel,
		Output: cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logger: %w", err)
	}

	log.Debug("configuration loaded",
		"database_driver", cfg.Database.Driver,
		"worker_id", cfg.Worker.ID,
		"queues", cfg.Worker.Queues,
		"ops_port", cfg.Server.OpsPort,
		"tracing_enabled", cfg.Tracing.Enabled)
	return cfg, log, nil
}
