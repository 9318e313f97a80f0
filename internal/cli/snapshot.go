package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
)

var errNoSnapshot = errors.New("no snapshot has been written yet")

func newSnapshotCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Inspect knowledge base snapshots",
	}

	var indent bool
	latest := &cobra.Command{
		Use:   "latest",
		Short: "Print the latest knowledge base as JSON",
		Long: `Prints the knowledge base of the latest snapshot to stdout. Snapshot
metadata goes to stderr so the output can be piped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			snapshot, err := a.Store.GetLatestSnapshot(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to load latest snapshot: %w", err)
			}
			if snapshot == nil {
				return errNoSnapshot
			}

			cmd.PrintErrf("Snapshot %d (parent %d), messages %s to %s, created %s\n",
				snapshot.ID, snapshot.ParentID,
				snapshot.AnalysisPeriodStart.UTC().Format(time.RFC3339),
				snapshot.AnalysisPeriodEnd.UTC().Format(time.RFC3339),
				snapshot.CreatedAt.UTC().Format(time.RFC3339))

			data := []byte(snapshot.AnalysisData)
			if indent {
				if !gjson.ValidBytes(data) {
					return fmt.Errorf("snapshot %d holds invalid JSON", snapshot.ID)
				}
				// Pretty already ends the document with a newline.
				_, err = cmd.OutOrStdout().Write(pretty.Pretty(data))
				return err
			}
			out := cmd.OutOrStdout()
			if _, err := out.Write(data); err != nil {
				return err
			}
			_, err = fmt.Fprintln(out)
			return err
		},
	}
	latest.Flags().BoolVarP(&indent, "pretty", "p", false, "indent the JSON output")

	cmd.AddCommand(latest)
	return cmd
}
