package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"loom/internal/preflight"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run environment preflight checks",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			failures := 0
			var rows [][]string
			for _, result := range preflight.RunAll(context.Background(), cfg) {
				mark := "OK"
				if !result.Passed {
					mark = "FAIL"
					failures++
				}
				rows = append(rows, []string{result.Name, mark, result.Detail})
			}
			for _, status := range preflight.CheckSystemDeps(cfg) {
				mark := "OK"
				detail := status.Command
				switch {
				case status.Available:
				case status.Optional:
					mark = "WARN"
					detail = status.Detail
				default:
					mark = "FAIL"
					detail = status.Detail
					failures++
				}
				rows = append(rows, []string{status.Name, mark, detail})
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Check", "Status", "Detail"},
				rows, nil,
			))
			if failures > 0 {
				return fmt.Errorf("%d preflight check(s) failed", failures)
			}
			return nil
		},
	}
}
