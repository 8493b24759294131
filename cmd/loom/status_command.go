package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"loom/internal/daemon"
	"loom/internal/preflight"
	"loom/internal/queue"
	"loom/internal/staging"
)

const statusTimeFormat = "2006-01-02 15:04:05"

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon, queue, and dependency status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			fmt.Fprintln(out, renderSectionHeader("Daemon", colorize))
			running, err := daemon.InstanceRunning(cfg)
			switch {
			case err != nil:
				fmt.Fprintln(out, renderStatusLine("State", statusWarn, fmt.Sprintf("Unknown (%v)", err), colorize))
			case running:
				fmt.Fprintln(out, renderStatusLine("State", statusOK, "Running", colorize))
			default:
				fmt.Fprintln(out, renderStatusLine("State", statusWarn, "Stopped", colorize))
			}
			fmt.Fprintln(out, renderStatusLine("Lock file", statusInfo, daemon.LockPath(cfg), colorize))
			fmt.Fprintln(out, renderStatusLine("Store", statusInfo, cfg.Coordination.DBPath, colorize))

			fmt.Fprintln(out)
			fmt.Fprintln(out, renderSectionHeader("Dependencies", colorize))
			object := preflight.CheckObjectStoreFromConfig(cfg)
			fmt.Fprintln(out, renderStatusLine("Object store", resultKind(object), object.Detail, colorize))
			ffmpeg := preflight.CheckFFmpegFromConfig(cfg)
			fmt.Fprintln(out, renderStatusLine("FFmpeg", resultKind(ffmpeg), ffmpeg.Detail, colorize))

			fmt.Fprintln(out)
			fmt.Fprintln(out, renderSectionHeader("Workspace", colorize))
			fmt.Fprintln(out, renderStatusLine("Staging", statusInfo, describeStaging(cfg.Paths.StagingDir), colorize))
			fmt.Fprintln(out, renderStatusLine("Dataset", statusInfo, cfg.Paths.DatasetDir, colorize))

			return ctx.withQueue(func(runCtx context.Context, tasks *queue.TaskQueue) error {
				depth, err := tasks.Depth(runCtx)
				if err != nil {
					return err
				}
				pending, err := tasks.PendingIdentities(runCtx)
				if err != nil {
					return err
				}
				failed, err := tasks.FailedCount(runCtx)
				if err != nil {
					return err
				}

				fmt.Fprintln(out)
				fmt.Fprintln(out, renderSectionHeader("Queue", colorize))
				fmt.Fprintln(out, renderTable(
					[]string{"Queued", "In flight", "Failed"},
					[][]string{{
						strconv.FormatInt(depth, 10),
						strconv.Itoa(len(pending)),
						strconv.FormatInt(failed, 10),
					}},
					[]columnAlignment{alignRight, alignRight, alignRight},
				))

				rows := make([][]string, 0, len(queue.KnownSources))
				for _, source := range queue.KnownSources {
					stats, err := tasks.Stats(runCtx, source)
					if err != nil {
						return err
					}
					updated := "never"
					if !stats.UpdatedAt.IsZero() {
						updated = stats.UpdatedAt.Local().Format(statusTimeFormat)
					}
					rows = append(rows, []string{
						string(source),
						strconv.FormatInt(stats.Completed, 10),
						strconv.FormatInt(stats.Failed, 10),
						updated,
					})
				}
				fmt.Fprintln(out)
				fmt.Fprintln(out, renderSectionHeader("Conversions", colorize))
				fmt.Fprintln(out, renderTable(
					[]string{"Source", "Completed", "Failed", "Last update"},
					rows,
					[]columnAlignment{alignLeft, alignRight, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
}

func resultKind(result preflight.Result) statusKind {
	if result.Passed {
		return statusOK
	}
	return statusWarn
}

func describeStaging(dir string) string {
	dirs, err := staging.ListDirectories(dir)
	if err != nil {
		return fmt.Sprintf("%s (unreadable: %v)", dir, err)
	}
	if len(dirs) == 0 {
		return dir + " (empty)"
	}
	var total int64
	for _, d := range dirs {
		total += d.Size
	}
	return fmt.Sprintf("%s (%d task dir(s), %s)", dir, len(dirs), humanize.IBytes(uint64(total)))
}
