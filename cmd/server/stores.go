package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/clock"
	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/config"
	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/db"
	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/docstore"
	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/logging"
	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/repository"
)

// openDocumentBackend connects to the configured per-day document store.
// The returned close function releases the underlying client.
func openDocumentBackend(ctx context.Context, cfg *config.Config) (docstore.Backend, func(), error) {
	switch cfg.Document.Backend {
	case "opensearch":
		client, err := db.NewOpenSearchClient(ctx, cfg.OpenSearch)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize OpenSearch client: %w", err)
		}
		return repository.NewOpenSearchDailyBackend(client), func() {}, nil
	default:
		client, err := db.NewClickHouseClient(ctx, cfg.ClickHouse)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize ClickHouse client: %w", err)
		}
		return repository.NewClickHouseDailyBackend(client.Conn()), func() { _ = client.Close() }, nil
	}
}

// newRouter opens the document backend and wraps it in a day router
func newRouter(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*docstore.Router, func(), error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, nil, err
	}

	backend, closeFn, err := openDocumentBackend(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	router := docstore.NewRouter(backend, clock.System{}, loc, cfg.Document.RetentionDays, logger)
	return router, closeFn, nil
}

func connectTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, 30*time.Second)
}
