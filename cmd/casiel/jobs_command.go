package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"casiel/internal/journal"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var contentID int64

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List recorded job attempts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := journal.Open(cfg)
			if err != nil {
				return fmt.Errorf("open journal: %w", err)
			}
			defer store.Close()

			var entries []journal.Entry
			if contentID > 0 {
				entries, err = store.ForContent(cmd.Context(), contentID)
			} else {
				entries, err = store.Recent(cmd.Context(), limit)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No job attempts recorded")
				return nil
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Correlation", "Content", "Media", "Attempt", "Outcome", "Duration", "Finished", "Error"},
				jobRows(entries),
				[]columnAlignment{alignRight, alignLeft, alignRight, alignRight, alignRight, alignLeft, alignRight, alignLeft, alignLeft},
			))

			counts, err := store.Counts(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(out, summarizeCounts(counts))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of attempts to show")
	cmd.Flags().Int64Var(&contentID, "content-id", 0, "Show every attempt for one content record")
	return cmd
}

func jobRows(entries []journal.Entry) [][]string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			strconv.FormatInt(e.ID, 10),
			truncate(e.CorrelationID, 13),
			strconv.FormatInt(e.ContentID, 10),
			strconv.FormatInt(e.MediaID, 10),
			strconv.Itoa(e.Attempt),
			string(e.Outcome),
			e.Duration().Round(time.Millisecond).String(),
			e.FinishedAt.Local().Format("2006-01-02 15:04:05"),
			truncate(e.Error, 60),
		})
	}
	return rows
}

func summarizeCounts(counts map[journal.Outcome]int) string {
	outcomes := make([]string, 0, len(counts))
	for outcome := range counts {
		outcomes = append(outcomes, string(outcome))
	}
	sort.Strings(outcomes)
	parts := make([]string, 0, len(outcomes))
	for _, outcome := range outcomes {
		parts = append(parts, fmt.Sprintf("%s=%d", outcome, counts[journal.Outcome(outcome)]))
	}
	return "Totals: " + strings.Join(parts, " ")
}
