package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/tendant/simple-derivative-pipeline/pkg/client"
)

func newRunsCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent queued runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := ctx.client().Runs(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs")
				return nil
			}
			fmt.Fprintln(out, renderTable(runHeaders, runRows(runs, time.Now()), nil))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to list")
	return cmd
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show the status of one queued run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := ctx.client().Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(runHeaders, runRows([]client.RunStatus{*status}, time.Now()), nil))
			return nil
		},
	}
}

var runHeaders = []string{"Run ID", "Workflow", "State", "Created", "Updated"}

func runRows(runs []client.RunStatus, now time.Time) [][]string {
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			r.RunID,
			r.Name,
			r.State,
			humanize.RelTime(r.CreatedAt, now, "ago", "from now"),
			humanize.RelTime(r.UpdatedAt, now, "ago", "from now"),
		})
	}
	return rows
}
