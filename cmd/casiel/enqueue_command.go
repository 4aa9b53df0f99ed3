package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"casiel/internal/broker"
	"casiel/internal/daemonrun"
	"casiel/internal/logging"
	"casiel/internal/workflow"
)

func newEnqueueCommand(ctx *commandContext) *cobra.Command {
	var job workflow.Job

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Publish a job for a content record and its media",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := job.Validate(); err != nil {
				return err
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			connector, err := broker.New(daemonrun.BrokerConfig(cfg, "enqueue"), logging.NewNop())
			if err != nil {
				return err
			}
			if err := connector.Publish(cmd.Context(), job); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queued content %d (media %d) via %s\n", job.ContentID, job.MediaID, broker.MainExchange)
			return nil
		},
	}

	cmd.Flags().Int64Var(&job.ContentID, "content-id", 0, "Content record id")
	cmd.Flags().Int64Var(&job.MediaID, "media-id", 0, "Media id of the original audio file")
	_ = cmd.MarkFlagRequired("content-id")
	_ = cmd.MarkFlagRequired("media-id")
	return cmd
}
