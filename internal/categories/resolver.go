// Package categories maps package type ids to names through a Redis hash
// that is reloaded wholesale from the types table on any miss.
package categories

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/logging"
	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/metrics"
	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/models"
)

const DefaultCacheKey = "package_types"

// Source loads the full id to name mapping.
type Source interface {
	LoadCategories(ctx context.Context) ([]models.Category, error)
}

// Options configure the cache key, its TTL and the fallback category.
type Options struct {
	CacheKey    string
	CacheTTL    time.Duration
	DefaultID   int
	DefaultName string
}

// DefaultOptions returns the package_types hash with a one hour TTL and (3, "other") as fallback.
func DefaultOptions() Options {
	return Options{
		CacheKey:    DefaultCacheKey,
		CacheTTL:    time.Hour,
		DefaultID:   3,
		DefaultName: "other",
	}
}

// Resolver maps category ids to names through a Redis hash of the types table.
type Resolver struct {
	client *redis.Client
	source Source
	opts   Options
	logger *logging.Logger
}

// NewResolver creates a category resolver
func NewResolver(client *redis.Client, source Source, opts Options, logger *logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Resolver{
		client: client,
		source: source,
		opts:   opts,
		logger: logger.With(logging.Component("categories")),
	}
}

// Resolve returns the validated id and its name. An absent id means the
// default category; an unknown id resolves to the default pair.
func (r *Resolver) Resolve(ctx context.Context, id *int) (int, string) {
	typeID := r.opts.DefaultID
	if id != nil {
		typeID = *id
	}
	field := strconv.Itoa(typeID)

	name, err := r.client.HGet(ctx, r.opts.CacheKey, field).Result()
	if err == nil && name != "" {
		return typeID, name
	}
	if err != nil && !errors.Is(err, redis.Nil) {
		r.logger.Warn("category cache read failed", logging.Error(err))
	}

	mapping, err := r.reload(ctx)
	if err != nil {
		r.logger.Error("category reload failed", logging.Error(err))
		return r.opts.DefaultID, r.opts.DefaultName
	}

	if name, ok := mapping[field]; ok && name != "" {
		return typeID, name
	}
	return r.opts.DefaultID, r.opts.DefaultName
}

// reload reads every category from the source and rewrites the hash with
// one TTL. The returned mapping answers the current lookup even when the
// cache write fails.
func (r *Resolver) reload(ctx context.Context) (map[string]string, error) {
	cats, err := r.source.LoadCategories(ctx)
	if err != nil {
		metrics.CategoryReloads.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.CategoryReloads.WithLabelValues("ok").Inc()

	mapping := make(map[string]string, len(cats))
	for _, c := range cats {
		mapping[strconv.Itoa(c.ID)] = c.Name
	}
	if len(mapping) == 0 {
		return mapping, nil
	}

	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.opts.CacheKey, mapping)
		pipe.Expire(ctx, r.opts.CacheKey, r.opts.CacheTTL)
		return nil
	})
	if err != nil {
		r.logger.Warn("category cache write failed", logging.Error(err), logging.Count(len(mapping)))
	}

	return mapping, nil
}
