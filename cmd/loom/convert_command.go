package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"loom/internal/config"
	"loom/internal/pipeline"
	"loom/internal/queue"
)

func newConvertCommand(ctx *commandContext) *cobra.Command {
	var strategy string
	var overrides []string

	cmd := &cobra.Command{
		Use:   "convert <episode-dir>",
		Short: "Convert a local episode directory without queueing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			root, err := config.ExpandPath(args[0])
			if err != nil {
				return err
			}
			info, err := os.Stat(root)
			if err != nil {
				return fmt.Errorf("inspect episode directory: %w", err)
			}
			if !info.IsDir() {
				return fmt.Errorf("%s is not a directory", root)
			}

			parsed, err := parseOverrides(overrides)
			if err != nil {
				return err
			}
			task := &queue.ConversionTask{
				EpisodeID:       filepath.Base(root),
				Source:          queue.SourceLocal,
				Strategy:        strings.TrimSpace(strategy),
				ConfigOverrides: parsed,
			}
			if err := task.Validate(); err != nil {
				return err
			}

			logger, err := consoleLogger(cfg)
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			summary, err := pipeline.New(cfg, logger).Convert(runCtx, root, task)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if summary.AlreadyCommitted {
				fmt.Fprintf(out, "%s was already committed as episode %d; dataset unchanged\n",
					summary.EpisodeID, summary.EpisodeIndex)
				return nil
			}
			fmt.Fprintf(out, "Converted %s with %s alignment: episode %d, %d frame(s), cameras [%s]\n",
				summary.EpisodeID, summary.Strategy, summary.EpisodeIndex, summary.Frames,
				strings.Join(summary.Cameras, ", "))
			fmt.Fprintf(out, "Data written to %s\n", summary.DataPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&strategy, "strategy", "", "Alignment strategy (nearest, window, chunking); defaults to the configured one")
	cmd.Flags().StringArrayVar(&overrides, "override", nil, "Strategy parameter override as key=value (repeatable)")
	return cmd
}
