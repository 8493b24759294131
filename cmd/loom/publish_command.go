package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"loom/internal/queue"
)

func newPublishCommand(ctx *commandContext) *cobra.Command {
	var source string
	var strategy string
	var overrides []string

	cmd := &cobra.Command{
		Use:   "publish <episode-id>",
		Short: "Queue an episode for conversion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			episodeID := strings.TrimSpace(args[0])
			parsed, err := parseOverrides(overrides)
			if err != nil {
				return err
			}
			task := &queue.ConversionTask{
				EpisodeID:       episodeID,
				Source:          queue.Source(strings.ToLower(strings.TrimSpace(source))),
				Strategy:        strings.TrimSpace(strategy),
				ConfigOverrides: parsed,
			}
			if err := task.Validate(); err != nil {
				return err
			}

			return ctx.withQueue(func(runCtx context.Context, tasks *queue.TaskQueue) error {
				published, err := tasks.Publish(runCtx, task)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if !published {
					fmt.Fprintf(out, "%s is already in flight; nothing queued\n", task.Identity())
					return nil
				}
				fmt.Fprintf(out, "Queued %s\n", task.Identity())
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&source, "source", string(queue.SourceRemote), "Episode source (local or remote)")
	cmd.Flags().StringVar(&strategy, "strategy", "", "Alignment strategy (nearest, window, chunking); defaults to the configured one")
	cmd.Flags().StringArrayVar(&overrides, "override", nil, "Strategy parameter override as key=value (repeatable)")
	return cmd
}
