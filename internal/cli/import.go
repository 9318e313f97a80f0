package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/edgard/bizcircle/internal/identity"
)

func newImportCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import users or messages from CSV",
	}

	cmd.AddCommand(
		newImportSubCmd(opts, "users", "Import users from a CSV file",
			`Reads a CSV with a header row and the columns phone_number and, optionally,
name. Users whose phone number already exists are skipped. Use - for stdin.`,
			(*identity.Importer).ImportUsers),
		newImportSubCmd(opts, "messages", "Import messages from a CSV file",
			`Reads a CSV with a header row and the columns timestamp, phone_number,
group_id, content and, optionally, name. Senders are created as needed.
Use - for stdin.`,
			(*identity.Importer).ImportMessages),
	)
	return cmd
}

type importFunc func(*identity.Importer, context.Context, io.Reader) (identity.ImportResult, error)

func newImportSubCmd(opts *options, what, short, long string, run importFunc) *cobra.Command {
	return &cobra.Command{
		Use:   what + " <file>",
		Short: short,
		Long:  long,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("failed to open %s: %w", args[0], err)
				}
				defer f.Close()
				in = f
			}

			a, err := opts.openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := run(a.Importer(), cmd.Context(), in)
			if err != nil {
				return fmt.Errorf("failed to import %s: %w", what, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d of %d %s (%d skipped)\n",
				result.Imported, result.Rows, what, result.Skipped)
			return nil
		},
	}
}
