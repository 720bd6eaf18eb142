package service

import (
	"context"
	"fmt"

	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/docstore"
	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/models"
)

// CollectionRouter resolves a per-day document collection
type CollectionRouter interface {
	CollectionFor(ctx context.Context, date string) (docstore.Collection, error)
}

// StatsService answers per-day delivery cost aggregations
type StatsService struct {
	router CollectionRouter
}

// NewStatsService creates a new stats service
func NewStatsService(router CollectionRouter) *StatsService {
	return &StatsService{router: router}
}

// DailyStats returns total delivery cost per category for date (DD_MM_YYYY),
// or for today when date is empty.
func (s *StatsService) DailyStats(ctx context.Context, date string) ([]models.DeliveryStat, error) {
	coll, err := s.router.CollectionFor(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve collection: %w", err)
	}

	stats, err := coll.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate %s: %w", coll.Name(), err)
	}

	if stats == nil {
		stats = []models.DeliveryStat{}
	}
	return stats, nil
}
