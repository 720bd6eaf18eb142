package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/db"
	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/repository"
	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/service"
)

var statsDate string

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print delivery cost totals per package type for one day and the stored package count",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, cancel := connectTimeout(cmd.Context())
		defer cancel()

		router, closeStore, err := newRouter(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer closeStore()

		date := statsDate
		if date == "" {
			date = router.Today()
		}

		stats, err := service.NewStatsService(router).DailyStats(ctx, date)
		if err != nil {
			return err
		}

		pool, err := db.NewPool(ctx, cfg.Postgres.URL)
		if err != nil {
			return fmt.Errorf("failed to initialize PostgreSQL pool: %w", err)
		}
		defer pool.Close()

		total, err := repository.NewPackageRepository(pool.Pool, db.NewTransactionManager(pool.Pool, logger)).CountPackages(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Packages stored in PostgreSQL: %d\n", total)

		if len(stats) == 0 {
			fmt.Printf("No priced deliveries for %s\n", date)
			return nil
		}
		for _, s := range stats {
			fmt.Printf("%d: %s %.2f RUB\n", s.TypeID, s.TypeName, s.TotalDeliveryCost)
		}
		return nil
	},
}

func init() {
	statsCmd.Flags().StringVar(&statsDate, "date", "", "day key DD_MM_YYYY (default: today)")
}
