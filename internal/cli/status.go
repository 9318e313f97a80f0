package cli

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/edgard/bizcircle/internal/knowledge"
)

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show group cursors and the latest snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.openApp()
			if err != nil {
				return err
			}
			defer a.Close()
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			cursors, err := a.Store.ListCursors(ctx)
			if err != nil {
				return fmt.Errorf("failed to list cursors: %w", err)
			}
			if len(cursors) == 0 {
				fmt.Fprintln(out, "No group has been processed yet.")
			} else {
				rows := make([][]string, 0, len(cursors))
				for _, c := range cursors {
					rows = append(rows, []string{
						c.GroupID,
						c.LastSyncTimestamp.UTC().Format(time.RFC3339),
						c.CreatedAt.UTC().Format(time.RFC3339),
					})
				}
				t := table.New().
					Border(lipgloss.NormalBorder()).
					StyleFunc(func(row, _ int) lipgloss.Style {
						if row == table.HeaderRow {
							return headerStyle
						}
						return cellStyle
					}).
					Headers("GROUP", "CURSOR", "UPDATED").
					Rows(rows...)
				fmt.Fprintln(out, t.Render())
			}

			snapshot, err := a.Store.GetLatestSnapshot(ctx)
			if err != nil {
				return fmt.Errorf("failed to load latest snapshot: %w", err)
			}
			if snapshot == nil {
				fmt.Fprintln(out, "No snapshot yet.")
				return nil
			}
			doc, err := knowledge.Decode([]byte(snapshot.AnalysisData))
			if err != nil {
				return fmt.Errorf("failed to decode snapshot %d: %w", snapshot.ID, err)
			}
			fmt.Fprintf(out, "Latest snapshot %d: %d categories, %d businesses, created %s\n",
				snapshot.ID, doc.Len(), doc.BusinessCount(), snapshot.CreatedAt.UTC().Format(time.RFC3339))
			return nil
		},
	}
}
