package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"loom/internal/queue"
)

func newFailedCommand(ctx *commandContext) *cobra.Command {
	failedCmd := &cobra.Command{
		Use:   "failed",
		Short: "Inspect or replay failed conversions",
	}

	failedCmd.AddCommand(newFailedListCommand(ctx))
	failedCmd.AddCommand(newFailedReplayCommand(ctx))
	return failedCmd
}

func newFailedListCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List failed conversion tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(func(runCtx context.Context, tasks *queue.TaskQueue) error {
				entries, err := tasks.FailedEntries(runCtx, limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(entries) == 0 {
					fmt.Fprintln(out, "Failed list is empty")
					return nil
				}

				rows := make([][]string, 0, len(entries))
				for _, entry := range entries {
					episode, source := "?", "?"
					if task, err := entry.DecodeTask(); err == nil {
						episode = task.EpisodeID
						source = string(task.Source)
					}
					rows = append(rows, []string{
						episode,
						source,
						entry.FailedAt.Local().Format(statusTimeFormat),
						truncate(entry.Error, 80),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Episode", "Source", "Failed at", "Error"},
					rows, nil,
				))
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum entries to show (0 for all)")
	return cmd
}

func newFailedReplayCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "replay",
		Short: "Republish every failed task back into the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(func(runCtx context.Context, tasks *queue.TaskQueue) error {
				replayed, err := tasks.ReplayFailed(runCtx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Republished %d task(s) from the failed list\n", replayed)
				return nil
			})
		},
	}
}
