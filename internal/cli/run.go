package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/edgard/bizcircle/internal/pipeline"
)

func newRunCmd(opts *options) *cobra.Command {
	var groups []string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process new messages of every group once",
		Long: `Processes every group's messages past its cursor, one batch at a time,
and merges the extracted recommendations into the knowledge base.
Groups default to pipeline.groups, or every group found in the message store.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(groups) > 0 {
				opts.cfg.Pipeline.Groups = groups
			}

			a, err := opts.openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			orch, err := a.Orchestrator(cmd.Context())
			if err != nil {
				return err
			}

			report, err := orch.Run(cmd.Context())
			if err == nil || len(report.Groups) > 0 {
				printReport(cmd.OutOrStdout(), report)
			}
			if err != nil {
				if failed := len(report.Failed()); failed > 0 {
					return fmt.Errorf("%d of %d groups failed: %w", failed, len(report.Groups), err)
				}
				return fmt.Errorf("pipeline run failed: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&groups, "group", "g", nil, "group to process (repeatable)")
	return cmd
}

func printReport(w io.Writer, report *pipeline.Report) {
	ok := color.New(color.FgGreen, color.Bold).SprintFunc()
	failed := color.New(color.FgRed, color.Bold).SprintFunc()

	fmt.Fprintf(w, "Run %s finished in %s\n", report.RunID,
		report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	if len(report.Groups) == 0 {
		fmt.Fprintln(w, "No groups to process.")
		return
	}

	width := 0
	for _, g := range report.Groups {
		width = max(width, len(g.GroupID))
	}
	for _, g := range report.Groups {
		state := ok("OK")
		if g.Err != nil {
			state = failed("FAILED")
		}
		fmt.Fprintf(w, "  %-*s  %s  batches=%d skipped=%d messages=%d cursor=%s",
			width, g.GroupID, state, g.Batches, g.Skipped, g.Messages,
			g.Cursor.UTC().Format(time.RFC3339))
		if g.SnapshotID != 0 {
			fmt.Fprintf(w, " snapshot=%d", g.SnapshotID)
		}
		fmt.Fprintln(w)
		if g.Err != nil {
			fmt.Fprintf(w, "    %v\n", g.Err)
		}
	}
}
