package repository

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/docstore"
	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/models"
	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/pricing"
)

// ClickHouseDailyBackend stores each day's packages in its own MergeTree table
type ClickHouseDailyBackend struct {
	conn driver.Conn
}

// NewClickHouseDailyBackend creates a per-day ClickHouse backend
func NewClickHouseDailyBackend(conn driver.Conn) *ClickHouseDailyBackend {
	return &ClickHouseDailyBackend{conn: conn}
}

// Open creates the day's table if needed and returns a handle on it.
func (b *ClickHouseDailyBackend) Open(ctx context.Context, day string) (docstore.Collection, error) {
	name := docstore.CollectionName(day)

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id                UUID,
			session_id        String,
			name              String,
			weight_kg         Float64,
			content_value_usd Float64,
			type_id           Int32,
			type_name         LowCardinality(String),
			delivery_cost_rub Nullable(Float64),
			created_at        DateTime64(3),
			updated_at        DateTime64(3)
		) ENGINE = MergeTree
		ORDER BY (type_id, id)
	`, name)

	if err := b.conn.Exec(ctx, query); err != nil {
		return nil, fmt.Errorf("failed to create table %s: %w", name, err)
	}

	return &clickHouseCollection{conn: b.conn, name: name}, nil
}

// EnsureIndexes adds data-skipping indexes on session_id and created_at.
func (b *ClickHouseDailyBackend) EnsureIndexes(ctx context.Context, coll docstore.Collection) error {
	statements := []string{
		fmt.Sprintf(`ALTER TABLE %s ADD INDEX IF NOT EXISTS idx_session_id session_id TYPE bloom_filter GRANULARITY 4`, coll.Name()),
		fmt.Sprintf(`ALTER TABLE %s ADD INDEX IF NOT EXISTS idx_created_at created_at TYPE minmax GRANULARITY 1`, coll.Name()),
	}

	for _, stmt := range statements {
		if err := b.conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to add index on %s: %w", coll.Name(), err)
		}
	}
	return nil
}

type clickHouseCollection struct {
	conn driver.Conn
	name string
}

func (c *clickHouseCollection) Name() string { return c.name }

// InsertMany sends all records as one native batch.
func (c *clickHouseCollection) InsertMany(ctx context.Context, records []models.Package) error {
	if len(records) == 0 {
		return nil
	}

	batch, err := c.conn.PrepareBatch(ctx, "INSERT INTO "+c.name)
	if err != nil {
		return fmt.Errorf("failed to prepare batch for %s: %w", c.name, err)
	}

	for _, p := range records {
		err := batch.Append(
			p.ID,
			p.SessionID,
			p.Name,
			p.WeightKg,
			p.ContentValueUSD,
			int32(p.TypeID),
			p.TypeName,
			p.DeliveryCostRUB,
			p.CreatedAt,
			p.UpdatedAt,
		)
		if err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append package %s: %w", p.ID, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to insert %d packages into %s: %w", len(records), c.name, err)
	}
	return nil
}

// Stats sums priced deliveries per category.
func (c *clickHouseCollection) Stats(ctx context.Context) ([]models.DeliveryStat, error) {
	query := fmt.Sprintf(`
		SELECT type_id, type_name, sum(assumeNotNull(delivery_cost_rub)) AS total
		FROM %s
		WHERE delivery_cost_rub IS NOT NULL
		GROUP BY type_id, type_name
		ORDER BY type_id ASC
	`, c.name)

	rows, err := c.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats for %s: %w", c.name, err)
	}
	defer rows.Close()

	var stats []models.DeliveryStat
	for rows.Next() {
		var (
			typeID int32
			name   string
			total  float64
		)
		if err := rows.Scan(&typeID, &name, &total); err != nil {
			return nil, fmt.Errorf("failed to scan stats row: %w", err)
		}
		stats = append(stats, models.DeliveryStat{
			TypeID:            int(typeID),
			TypeName:          name,
			TotalDeliveryCost: pricing.Round2(total),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stats rows: %w", err)
	}

	return stats, nil
}
