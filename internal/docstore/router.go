// Package docstore routes enriched records to one document collection per
// calendar day. Collection names follow packages_DD_MM_YYYY.
package docstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/clock"
	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/logging"
	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/models"
)

// DayLayout formats a day key as DD_MM_YYYY.
const DayLayout = "02_01_2006"

// CollectionPrefix is prepended to the day key to form the destination name.
const CollectionPrefix = "packages_"

// Collection is a handle on one day's destination.
type Collection interface {
	Name() string
	InsertMany(ctx context.Context, records []models.Package) error
	Stats(ctx context.Context) ([]models.DeliveryStat, error)
}

// Backend opens per-day destinations and provisions their indexes.
type Backend interface {
	Open(ctx context.Context, day string) (Collection, error)
	EnsureIndexes(ctx context.Context, coll Collection) error
}

// CollectionName returns the destination name for a day key.
func CollectionName(day string) string {
	return CollectionPrefix + day
}

// Router caches one handle per day and drops handles past the retention window.
type Router struct {
	backend   Backend
	clock     clock.Clock
	loc       *time.Location
	retention int
	logger    *logging.Logger

	mu      sync.Mutex
	handles map[string]Collection
	indexed map[string]bool
	opening singleflight.Group
}

// NewRouter creates a Router. retentionDays is the age in days after which a
// cached handle is evicted; stored data is never touched.
func NewRouter(backend Backend, clk clock.Clock, loc *time.Location, retentionDays int, logger *logging.Logger) *Router {
	if logger == nil {
		logger = logging.Nop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Router{
		backend:   backend,
		clock:     clk,
		loc:       loc,
		retention: retentionDays,
		logger:    logger.With(logging.Component("docstore")),
		handles:   make(map[string]Collection),
		indexed:   make(map[string]bool),
	}
}

// Today returns today's day key in the router's zone.
func (r *Router) Today() string {
	return r.clock.Now().In(r.loc).Format(DayLayout)
}

// DayKey returns the day key t falls on in the router's zone.
func (r *Router) DayKey(t time.Time) string {
	return t.In(r.loc).Format(DayLayout)
}

// CollectionFor returns the handle for date (DD_MM_YYYY), or for today when date is empty.
func (r *Router) CollectionFor(ctx context.Context, date string) (Collection, error) {
	now := r.clock.Now().In(r.loc)
	today := startOfDay(now)

	day := date
	if day == "" {
		day = now.Format(DayLayout)
	} else if _, err := ParseDay(day, r.loc); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.evict(today)
	coll, ok := r.handles[day]
	r.mu.Unlock()
	if ok {
		return coll, nil
	}

	// Opening and provisioning are network calls; only callers of the same
	// day wait on each other.
	v, err, _ := r.opening.Do(day, func() (interface{}, error) {
		return r.open(ctx, day)
	})
	if err != nil {
		return nil, err
	}
	return v.(Collection), nil
}

func (r *Router) open(ctx context.Context, day string) (Collection, error) {
	r.mu.Lock()
	coll, ok := r.handles[day]
	r.mu.Unlock()
	if ok {
		return coll, nil
	}

	coll, err := r.backend.Open(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("failed to open collection for %s: %w", day, err)
	}

	r.mu.Lock()
	indexed := r.indexed[coll.Name()]
	r.mu.Unlock()

	if !indexed {
		if err := r.backend.EnsureIndexes(ctx, coll); err != nil {
			r.logger.Warn("index provisioning failed", logging.Day(day), logging.Error(err))
		} else {
			indexed = true
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if indexed {
		r.indexed[coll.Name()] = true
	}
	r.handles[day] = coll
	return coll, nil
}

// evict drops handles whose day is more than retention days before today.
// Must be called with mu held.
func (r *Router) evict(today time.Time) {
	cutoff := today.AddDate(0, 0, -r.retention)
	for key := range r.handles {
		d, err := ParseDay(key, r.loc)
		if err != nil || d.Before(cutoff) {
			delete(r.handles, key)
			r.logger.Debug("evicted collection handle", logging.Day(key))
		}
	}
}

// ParseDay parses a DD_MM_YYYY key into midnight of that day in loc.
func ParseDay(key string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(DayLayout, key, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid day %q, expected DD_MM_YYYY: %w", key, err)
	}
	return t, nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
