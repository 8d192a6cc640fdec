package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tendant/simple-derivative-pipeline/pkg/client"
	"github.com/tendant/simple-derivative-pipeline/pkg/pipeline"
)

func newProcessCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newJobCommand(ctx, pipeline.JobIngest, "Create the derivative for a raw object"),
		newJobCommand(ctx, pipeline.JobRecompress, "Recompress an oversized derivative in place"),
	}
}

func newJobCommand(ctx *commandContext, job, short string) *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   job + " <object-path>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := pipeline.ProcessRequest{Job: job, ObjectKey: args[0]}
			if token != "" {
				req.Metadata = map[string]string{pipeline.MetaProvenanceToken: token}
			}
			resp, err := ctx.client().Process(cmd.Context(), req)
			if resp != nil {
				printResponse(cmd.OutOrStdout(), resp)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "Provenance token to use when the object carries none")
	return cmd
}

func newEventCommand(ctx *commandContext) *cobra.Command {
	var bucket string
	var contentType string
	var meta map[string]string

	cmd := &cobra.Command{
		Use:   "event <object-path>",
		Short: "Send an object finalized event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ev := pipeline.ObjectEvent{
				Bucket:      bucket,
				Name:        args[0],
				ContentType: contentType,
				Metadata:    pipeline.EventMetadata{CustomMetadata: meta},
			}
			resp, err := ctx.client().SendEvent(cmd.Context(), ev)
			if resp != nil {
				printResponse(cmd.OutOrStdout(), resp)
			}
			if errors.Is(err, client.ErrRedeliver) {
				return fmt.Errorf("event not handled, send it again: %w", err)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&bucket, "bucket", "", "Bucket name")
	cmd.Flags().StringVar(&contentType, "content-type", "", "Object content type")
	cmd.Flags().StringToStringVar(&meta, "meta", nil, "Custom metadata (key=value)")
	return cmd
}

func printResponse(out io.Writer, resp *pipeline.ProcessResponse) {
	rows := [][]string{
		{"Run ID", resp.RunID},
		{"Job", resp.Job},
		{"State", resp.State},
	}
	if resp.Failure != "" {
		rows = append(rows, []string{"Failure", resp.Failure})
	}
	if resp.Reason != "" {
		rows = append(rows, []string{"Reason", resp.Reason})
	}
	rows = append(rows, []string{"Seen", strconv.Itoa(resp.DedupeSeenCount)})
	fmt.Fprintln(out, renderTable([]string{"Field", "Value"}, rows, nil))
}
