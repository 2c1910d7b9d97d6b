package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/phrazzld/scry-jobs/internal/job"
	"github.com/spf13/cobra"
)

func newEnqueueCmd(opts *cliOptions) *cobra.Command {
	var (
		payload     string
		priority    int
		delay       time.Duration
		maxAttempts int
	)

	command := &cobra.Command{
		Use:   "enqueue <type>",
		Short: "Persist a new job and print its ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p job.Payload
			if payload != "" {
				if err := json.Unmarshal([]byte(payload), &p); err != nil {
					return fmt.Errorf("invalid --payload: %w", err)
				}
			}

			var eo job.EnqueueOptions
			if cmd.Flags().Changed("priority") {
				eo.Priority = &priority
			}
			if cmd.Flags().Changed("max-attempts") {
				eo.MaxAttempts = &maxAttempts
			}
			if delay < 0 {
				return fmt.Errorf("--delay must not be negative")
			}
			if delay > 0 {
				at := time.Now().Add(delay)
				eo.ScheduledAt = &at
			}

			cfg, log, err := opts.load(cmd)
			if err != nil {
				return err
			}
			app, err := newApplication(cmd.Context(), cfg, log)
			defer app.cleanup()
			if err != nil {
				return err
			}

			id, err := app.orchestrator.Enqueue(cmd.Context(), job.Type(args[0]), p, eo)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), id)
			return err
		},
	}

	command.Flags().StringVar(&payload, "payload", "", "job payload as a JSON object")
	command.Flags().IntVar(&priority, "priority", 0, "override the type's default priority")
	command.Flags().DurationVar(&delay, "delay", 0, "schedule the job this far in the future")
	command.Flags().IntVar(&maxAttempts, "max-attempts", 0, "override the retry budget")
	return command
}
