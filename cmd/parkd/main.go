package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/iliyamo/smart-parking/internal/config"
	"github.com/iliyamo/smart-parking/internal/observability"
)

var (
	cfg config.Config
	// logger is replaced once configuration is loaded.
	logger = observability.NewLogger("parkd", "info", "console")
)

var rootCmd = &cobra.Command{
	Use:           "parkd",
	Short:         "Parking slot reservation and state reconciliation service",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		logger = observability.NewLogger("parkd", cfg.LogLevel, cfg.LogFormat)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(notifierCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(reservationsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error().Err(err).Msg("parkd failed")
		os.Exit(1)
	}
}
