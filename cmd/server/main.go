package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/config"
	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/logging"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "delivery-service",
	Short: "Package registration pipeline",
	Long: `delivery-service consumes package registration events from RabbitMQ,
prices them in rubles and writes them to PostgreSQL and a per-day document store.

Without a subcommand it runs the service.`,
	SilenceUsage: true,
	RunE:         runService,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file (environment variables override it)")
	rootCmd.AddCommand(runCmd, migrateCmd, seedCmd, statsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig loads configuration and builds the process logger from it
func loadConfig() (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}

	logger := logging.New(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)
	logging.SetDefault(logger)

	return cfg, logger, nil
}
