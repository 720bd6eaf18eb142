package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/clock"
	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/logging"
	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/metrics"
	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/models"
	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/pricing"
)

// ErrInvalidEvent marks messages that can never be processed.
var ErrInvalidEvent = errors.New("invalid event")

const maxNameLength = 255

// CategoryResolver resolves a category id to its validated id and name
type CategoryResolver interface {
	Resolve(ctx context.Context, id *int) (int, string)
}

// RateResolver supplies the USD to RUB rate; false means unknown
type RateResolver interface {
	Rate(ctx context.Context) (float64, bool)
}

// EnrichmentService turns raw registration events into priced package records
type EnrichmentService struct {
	categories CategoryResolver
	rates      RateResolver
	clock      clock.Clock
	loc        *time.Location
	logger     *logging.Logger
}

// NewEnrichmentService creates a new enrichment service
func NewEnrichmentService(categories CategoryResolver, rates RateResolver, clk clock.Clock, loc *time.Location, logger *logging.Logger) *EnrichmentService {
	if logger == nil {
		logger = logging.Nop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &EnrichmentService{
		categories: categories,
		rates:      rates,
		clock:      clk,
		loc:        loc,
		logger:     logger.With(logging.Component("enrichment")),
	}
}

// Enrich decodes and validates body, resolves the category and rate, and
// returns the enriched record. Validation failures wrap ErrInvalidEvent.
func (s *EnrichmentService) Enrich(ctx context.Context, body []byte) (models.Package, error) {
	start := time.Now()
	defer func() {
		metrics.EnrichmentDuration.Observe(time.Since(start).Seconds())
	}()

	var event models.PackageRegisteredEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return models.Package{}, fmt.Errorf("%w: failed to unmarshal event: %w", ErrInvalidEvent, err)
	}

	if err := validateEvent(&event); err != nil {
		return models.Package{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	weight := pricing.Round3(event.WeightKg)
	value := pricing.Round2(event.ContentValueUSD)

	typeID, typeName := s.categories.Resolve(ctx, event.TypeID)

	rate, ok := s.rates.Rate(ctx)
	cost := pricing.DeliveryCost(weight, value, rate, ok)
	if cost == nil {
		s.logger.Warn("exchange rate unknown, storing package without delivery cost")
	}

	var sessionID string
	if event.SessionID != nil {
		sessionID = *event.SessionID
	}

	now := s.clock.Now().In(s.loc)

	return models.Package{
		ID:              uuid.New(),
		SessionID:       sessionID,
		Name:            strings.TrimSpace(event.Name),
		WeightKg:        weight,
		ContentValueUSD: value,
		TypeID:          typeID,
		TypeName:        typeName,
		DeliveryCostRUB: cost,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// validateEvent validates the registration event structure
func validateEvent(event *models.PackageRegisteredEvent) error {
	name := strings.TrimSpace(event.Name)
	if name == "" {
		return fmt.Errorf("name is required")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return fmt.Errorf("name exceeds %d characters", maxNameLength)
	}
	if event.WeightKg < 0 || math.IsNaN(event.WeightKg) || math.IsInf(event.WeightKg, 0) {
		return fmt.Errorf("weight_kg must be a non-negative number, got %v", event.WeightKg)
	}
	if event.ContentValueUSD < 0 || math.IsNaN(event.ContentValueUSD) || math.IsInf(event.ContentValueUSD, 0) {
		return fmt.Errorf("content_value_usd must be a non-negative number, got %v", event.ContentValueUSD)
	}
	return nil
}
