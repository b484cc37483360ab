package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MrSnakeDoc/integrator/internal/app"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations to the configured store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log := setup()
			defer func() { _ = log.Sync() }()

			applied, err := app.Migrate(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("migrate %s store: %w", cfg.StoreDriver, err)
			}
			if applied {
				fmt.Fprintf(cmd.OutOrStdout(), "Migrations applied to the %s store.\n", cfg.StoreDriver)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "The %s store is up to date.\n", cfg.StoreDriver)
			}
			return nil
		},
	}
}
