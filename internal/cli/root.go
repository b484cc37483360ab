// Package cli holds the integrator command tree.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/MrSnakeDoc/integrator/internal/config"
	"github.com/MrSnakeDoc/integrator/internal/logger"
)

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "integrator",
		Short:         "Integrator snapshot service",
		Long:          "Fetches the integrator export, stores a snapshot whenever it changes and serves the snapshots over a REST API.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(NewServeCommand())
	cmd.AddCommand(NewImportCommand())
	cmd.AddCommand(NewMigrateCommand())
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

// setup loads configuration from the environment and builds the logger.
func setup() (*config.Config, logger.Logger) {
	cfg := config.Load()
	return cfg, logger.New(cfg.LogLevel, cfg.PrettyLog)
}
