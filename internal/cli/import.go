package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/MrSnakeDoc/integrator/internal/app"
	"github.com/MrSnakeDoc/integrator/internal/domain"
	"github.com/MrSnakeDoc/integrator/internal/ingest"
)

// ImportOptions holds flags for the import command.
type ImportOptions struct {
	Force bool
}

// NewImportCommand creates the import command.
func NewImportCommand() *cobra.Command {
	opts := &ImportOptions{}

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import data from the integrator export once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log := setup()
			defer func() { _ = log.Sync() }()

			ctx := cmd.Context()

			a, err := app.New(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Starting integrator data import...")
			return reportOutcome(out, cmd.ErrOrStderr(), a.Import(ctx, opts.Force, domain.TriggerCLI))
		},
	}

	cmd.Flags().BoolVar(&opts.Force, "force", false, "import even if the data has not changed")
	return cmd
}

// reportOutcome prints a human summary and returns an error for failed runs
// so the process exits non-zero.
func reportOutcome(out, errOut io.Writer, o ingest.Outcome) error {
	switch o.Status {
	case domain.RunImported:
		fmt.Fprintln(out, "Data imported successfully!")
		fmt.Fprintf(out, "Records imported: %d\n", o.Entries)
		return nil
	case domain.RunUnchanged:
		if o.Reason == domain.ReasonDuplicate {
			fmt.Fprintln(out, "This exact data is already stored. Nothing to import.")
		} else {
			fmt.Fprintln(out, "Data has not changed since last import. Use --force to import anyway.")
		}
		return nil
	case domain.RunSkipped:
		fmt.Fprintln(out, "No data received from API")
		return nil
	}

	switch o.Reason {
	case domain.ReasonUpstream:
		fmt.Fprintf(errOut, "Failed to fetch data from API: %s\n", o.Error)
	case domain.ReasonValidation:
		fmt.Fprintf(errOut, "Data validation failed: %s\n", o.Error)
	default:
		fmt.Fprintf(errOut, "Import failed: %s\n", o.Error)
	}
	return fmt.Errorf("import failed (%s)", o.Reason)
}
