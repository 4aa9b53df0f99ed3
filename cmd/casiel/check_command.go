package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"casiel/internal/broker"
	"casiel/internal/daemonrun"
	"casiel/internal/logging"
	"casiel/internal/preflight"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check tools, directories and upstream services",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			var probes preflight.Probes
			if !offline {
				logger := logging.NewNop()
				svc, err := daemonrun.NewServices(cfg, logger)
				if err != nil {
					return err
				}
				defer svc.Close()
				connector, err := broker.New(daemonrun.BrokerConfig(cfg, "check"), logger)
				if err != nil {
					return err
				}
				probes = preflight.Probes{Redis: svc.Redis, Broker: connector, Content: svc.Content}
			}

			results := preflight.RunAll(cmd.Context(), cfg, probes)
			rows := make([][]string, 0, len(results))
			for _, result := range results {
				rows = append(rows, []string{result.Name, checkStatus(result), result.Detail})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Check", "Status", "Detail"}, rows, nil))

			if failed := preflight.Failed(results); len(failed) > 0 {
				return errors.New(preflight.Summarize(failed))
			}
			fmt.Fprintln(cmd.OutOrStdout(), "All required checks passed")
			return nil
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "Skip Redis, broker and content API probes")
	return cmd
}

func checkStatus(result preflight.Result) string {
	switch {
	case result.Passed:
		return "OK"
	case result.Optional:
		return "WARN"
	default:
		return "FAIL"
	}
}
