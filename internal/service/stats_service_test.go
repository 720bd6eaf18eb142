package service

import (
	"context"
	"errors"
	"testing"

	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/docstore"
	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/models"
)

type mockCollection struct {
	stats []models.DeliveryStat
	err   error
}

func (m *mockCollection) Name() string { return "packages_05_03_2025" }

func (m *mockCollection) InsertMany(ctx context.Context, records []models.Package) error {
	return nil
}

func (m *mockCollection) Stats(ctx context.Context) ([]models.DeliveryStat, error) {
	return m.stats, m.err
}

type mockRouter struct {
	coll      *mockCollection
	err       error
	requested string
}

func (m *mockRouter) CollectionFor(ctx context.Context, date string) (docstore.Collection, error) {
	m.requested = date
	if m.err != nil {
		return nil, m.err
	}
	return m.coll, nil
}

func TestDailyStats_Success(t *testing.T) {
	router := &mockRouter{coll: &mockCollection{stats: []models.DeliveryStat{
		{TypeID: 1, TypeName: "clothing", TotalDeliveryCost: 362},
		{TypeID: 2, TypeName: "electronics", TotalDeliveryCost: 1200.5},
	}}}

	stats, err := NewStatsService(router).DailyStats(context.Background(), "05_03_2025")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if router.requested != "05_03_2025" {
		t.Errorf("expected date 05_03_2025, got %s", router.requested)
	}
	if len(stats) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(stats))
	}
	if stats[0].TypeID != 1 || stats[1].TotalDeliveryCost != 1200.5 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestDailyStats_EmptyDay(t *testing.T) {
	router := &mockRouter{coll: &mockCollection{}}

	stats, err := NewStatsService(router).DailyStats(context.Background(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats == nil || len(stats) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", stats)
	}
}

func TestDailyStats_Errors(t *testing.T) {
	tests := []struct {
		name   string
		router *mockRouter
	}{
		{name: "router error", router: &mockRouter{err: errors.New("invalid day")}},
		{name: "aggregation error", router: &mockRouter{coll: &mockCollection{err: errors.New("store down")}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewStatsService(tt.router).DailyStats(context.Background(), ""); err == nil {
				t.Error("expected error")
			}
		})
	}
}
