package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rl1809/stock-ledger/internal/config"
	"github.com/rl1809/stock-ledger/internal/logging"
)

var (
	cfg    *config.Config
	logger *logrus.Logger

	flagLogLevel  string
	flagLogFormat string
	flagStore     string
)

var rootCmd = &cobra.Command{
	Use:   "stock-ledger",
	Short: "Inventory ledger and session resolution service",
	Long: `stock-ledger keeps product quantities and an append-only movement ledger
in step, and resolves callers from external sessions merged with locally owned roles.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return err
		}

		// flags win over the environment
		if flagLogLevel != "" {
			loaded.LogLevel = flagLogLevel
		}
		if flagLogFormat != "" {
			loaded.LogFormat = flagLogFormat
		}
		if flagStore != "" {
			loaded.StoreDriver = flagStore
			if err := loaded.Validate(); err != nil {
				return err
			}
		}

		l, err := logging.New(loaded.LogLevel, loaded.LogFormat)
		if err != nil {
			return err
		}
		cfg, logger = loaded, l
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level (overrides LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "text or json (overrides LOG_FORMAT)")
	rootCmd.PersistentFlags().StringVar(&flagStore, "store", "", "mysql or memory (overrides STORE_DRIVER)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedAdminCmd)
}
