package main

import (
	"github.com/spf13/cobra"

	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply embedded PostgreSQL migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}

		version, err := db.Migrate(cfg.Postgres.URL)
		if err != nil {
			return err
		}

		logger.Info("database migrations applied", "version", version)
		return nil
	},
}
