package models

import (
	"time"

	"github.com/google/uuid"
)

// Package is an enriched, persisted package record.
// Records are passed by value; nothing mutates them after enrichment.
type Package struct {
	ID              uuid.UUID `json:"id"`
	SessionID       string    `json:"session_id"`
	Name            string    `json:"name"`
	WeightKg        float64   `json:"weight_kg"`
	ContentValueUSD float64   `json:"content_value_usd"`
	TypeID          int       `json:"type_id"`
	TypeName        string    `json:"type_name"`
	DeliveryCostRUB *float64  `json:"delivery_cost_rub"` // nil when the exchange rate was unknown
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// DeliveryStat is one row of the per-day aggregation by category.
type DeliveryStat struct {
	TypeID            int     `json:"type_id"`
	TypeName          string  `json:"type_name"`
	TotalDeliveryCost float64 `json:"total_delivery_cost"`
}

// Category is a row of the types table.
type Category struct {
	ID   int
	Name string
}
