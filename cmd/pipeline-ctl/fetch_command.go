package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/tendant/simple-derivative-pipeline/internal/fetch"
	"github.com/tendant/simple-derivative-pipeline/pkg/runner"
)

func newFetchCommand(ctx *commandContext) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "fetch <url>",
		Short: "Fetch a URL through the fallback chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			fc := runner.NewFetchClient(cfg.Fetch, ctx.logger(cfg))
			out := cmd.OutOrStdout()

			resp, err := fc.Get(cmd.Context(), args[0])
			if err != nil {
				var chainErr *fetch.ChainError
				if errors.As(err, &chainErr) {
					fmt.Fprintln(out, renderAttempts(chainErr.Attempts))
				}
				return err
			}

			fmt.Fprintln(out, renderAttempts(resp.Attempts))
			fmt.Fprintf(out, "Fetched %s via %s (%s)\n", resp.URL, resp.Strategy, humanize.Bytes(uint64(len(resp.Body))))
			if output == "" {
				return nil
			}
			return writeBody(output, out, resp.Body)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the body to this file (- for stdout)")
	return cmd
}

func writeBody(path string, stdout io.Writer, body []byte) error {
	if path == "-" {
		_, err := stdout.Write(body)
		return err
	}
	return os.WriteFile(path, body, 0o644)
}

func renderAttempts(attempts []fetch.Attempt) string {
	rows := make([][]string, 0, len(attempts))
	for _, a := range attempts {
		status := ""
		if a.StatusCode != 0 {
			status = strconv.Itoa(a.StatusCode)
		}
		rows = append(rows, []string{
			strconv.Itoa(a.StrategyIndex + 1),
			a.Strategy,
			string(a.Outcome),
			status,
			a.Duration.Round(time.Millisecond).String(),
			a.Err,
		})
	}
	return renderTable(
		[]string{"#", "Strategy", "Outcome", "Status", "Took", "Error"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
	)
}
