package main

import (
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"casiel/internal/daemonrun"
	"casiel/internal/logging"
)

func newQuotaCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "quota",
		Short: "Show today's Gemini quota usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			client := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			defer client.Close()

			governor, err := daemonrun.NewQuotaGovernor(cfg, client, logging.NewNop())
			if err != nil {
				return err
			}
			usage, err := governor.Usage(cmd.Context())
			if err != nil {
				return fmt.Errorf("read quota usage: %w", err)
			}

			limit := "unlimited"
			remaining := "unlimited"
			if usage.Limit > 0 {
				limit = strconv.FormatInt(usage.Limit, 10)
				remaining = strconv.FormatInt(usage.Remaining(), 10)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Bucket", "Used", "Limit", "Remaining", "Resets"},
				[][]string{{usage.Key, strconv.FormatInt(usage.Count, 10), limit, remaining, cfg.Gemini.ResetTime + " " + cfg.Gemini.ResetTimezone}},
				[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}
}
