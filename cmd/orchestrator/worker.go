package main

import (
	"fmt"

	"github.com/phrazzld/scry-jobs/internal/job"
	"github.com/spf13/cobra"
)

func newWorkerCmd(opts *cliOptions) *cobra.Command {
	var queues []string

	command := &cobra.Command{
		Use:   "worker",
		Short: "Lease and dispatch jobs until interrupted",
		Long: "Runs one worker loop per queue family. On SIGINT or SIGTERM the loops " +
			"stop leasing and wait for in-flight jobs to finish.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.load(cmd)
			if err != nil {
				return err
			}
			if len(queues) > 0 {
				cfg.Worker.Queues = queues
			}
			families, err := parseQueues(cfg.Worker.Queues)
			if err != nil {
				return err
			}

			app, err := newApplication(cmd.Context(), cfg, log)
			defer app.cleanup()
			if err != nil {
				return err
			}

			log.Info("worker starting", "worker_id", cfg.Worker.ID, "queues", cfg.Worker.Queues)
			if err := app.runWorker(cmd.Context(), families); err != nil {
				return err
			}
			log.Info("worker stopped", "worker_id", cfg.Worker.ID)
			return nil
		},
	}

	command.Flags().StringSliceVar(&queues, "queues", nil, "queue families to poll (overrides worker.queues)")
	return command
}

func parseQueues(names []string) ([]job.Queue, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("no queues configured")
	}
	seen := make(map[job.Queue]bool, len(names))
	out := make([]job.Queue, 0, len(names))
	for _, name := range names {
		q, err := job.ParseQueue(name)
		if err != nil {
			return nil, err
		}
		if seen[q] {
			continue
		}
		seen[q] = true
		out = append(out, q)
	}
	return out, nil
}
