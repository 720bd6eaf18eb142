package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/db"
	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/models"
)

var packageColumns = []string{
	"id", "session_id", "name", "weight_kg", "content_value_usd",
	"type_id", "type_name", "delivery_cost_rub", "created_at", "updated_at",
}

// PackageRepository persists enriched packages in PostgreSQL
type PackageRepository struct {
	pool *pgxpool.Pool
	tm   *db.TransactionManager
}

// NewPackageRepository creates a new package repository
func NewPackageRepository(pool *pgxpool.Pool, tm *db.TransactionManager) *PackageRepository {
	return &PackageRepository{pool: pool, tm: tm}
}

// InsertPackages writes all records with one COPY inside one transaction.
// Either every record is stored or none is.
func (r *PackageRepository) InsertPackages(ctx context.Context, records []models.Package) error {
	if len(records) == 0 {
		return nil
	}

	return r.tm.WithTransaction(ctx, func(ctx context.Context) error {
		tx := db.TxFromContext(ctx)

		n, err := tx.CopyFrom(ctx, pgx.Identifier{"packages"}, packageColumns,
			pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
				p := records[i]
				return []any{
					p.ID,
					p.SessionID,
					p.Name,
					p.WeightKg,
					p.ContentValueUSD,
					p.TypeID,
					p.TypeName,
					p.DeliveryCostRUB,
					p.CreatedAt,
					p.UpdatedAt,
				}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("failed to copy %d packages: %w", len(records), err)
		}
		if n != int64(len(records)) {
			return fmt.Errorf("copied %d of %d packages", n, len(records))
		}
		return nil
	})
}

// CountPackages returns the number of stored packages.
func (r *PackageRepository) CountPackages(ctx context.Context) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM packages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count packages: %w", err)
	}
	return n, nil
}
