package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"loom/internal/coordination"
	"loom/internal/queue"
	"loom/internal/scanner"
)

func newScanCommand(ctx *commandContext) *cobra.Command {
	var resetCursor bool

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one discovery cycle against the object store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			client, err := buildObjectStoreClient(cfg)
			if err != nil {
				return err
			}
			logger, err := consoleLogger(cfg)
			if err != nil {
				return err
			}

			return ctx.withStore(func(runCtx context.Context, store *coordination.SQLiteStore, tasks *queue.TaskQueue) error {
				scan, err := scanner.New(cfg, client, tasks, store, logger)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if resetCursor {
					if err := scan.ResetCursor(runCtx); err != nil {
						return err
					}
					fmt.Fprintln(out, "Scan cursor cleared; re-listing the full prefix")
				}

				summary, err := scan.Scan(runCtx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Scanned %d key(s) across %d page(s): %d candidate(s), %d published\n",
					summary.Keys, summary.Pages, summary.Candidates, summary.Published)
				for _, reason := range sortedSkipReasons(summary.Skipped) {
					fmt.Fprintf(out, "  skipped %-18s %d\n", string(reason)+":", summary.Skipped[reason])
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&resetCursor, "reset-cursor", false, "Clear the saved cursor and re-list the full prefix")
	return cmd
}

func sortedSkipReasons(skipped map[scanner.SkipReason]int) []scanner.SkipReason {
	reasons := make([]scanner.SkipReason, 0, len(skipped))
	for reason, count := range skipped {
		if count > 0 {
			reasons = append(reasons, reason)
		}
	}
	sort.Slice(reasons, func(i, j int) bool { return reasons[i] < reasons[j] })
	return reasons
}
