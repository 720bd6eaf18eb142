// Package rates resolves the USD to RUB exchange rate through a shared Redis
// cache. A short-lived Redis lock ensures one process refreshes an expired
// entry while the others wait for it.
package rates

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/logging"
	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/metrics"
)

const (
	DefaultCacheKey = "cbr:usd_rub"
	DefaultLockKey  = "cbr:usd_rub:lock"
)

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// Source fetches the current rate from the authority.
type Source interface {
	FetchRate(ctx context.Context) (float64, error)
}

// Options tune cache keys, TTLs and the wait schedule.
type Options struct {
	CacheKey     string
	LockKey      string
	CacheTTL     time.Duration
	LockTTL      time.Duration
	FetchTimeout time.Duration
	WaitInitial  time.Duration
	WaitAttempts int
}

// DefaultOptions returns one hour caching, a 10s lock and a 0.5s doubling wait over 5 attempts.
func DefaultOptions() Options {
	return Options{
		CacheKey:     DefaultCacheKey,
		LockKey:      DefaultLockKey,
		CacheTTL:     time.Hour,
		LockTTL:      10 * time.Second,
		FetchTimeout: 5 * time.Second,
		WaitInitial:  500 * time.Millisecond,
		WaitAttempts: 5,
	}
}

// Resolver returns the cached rate or refreshes it from Source.
// While Redis is unreachable it falls back to an in-process copy of the last
// fetched rate, refreshed by at most one caller at a time.
type Resolver struct {
	client *redis.Client
	source Source
	opts   Options
	logger *logging.Logger

	group        singleflight.Group
	localMu      sync.Mutex
	local        float64
	localExpires time.Time
}

var errRateUnknown = errors.New("rate unknown")

// NewResolver creates a rate resolver
func NewResolver(client *redis.Client, source Source, opts Options, logger *logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Resolver{
		client: client,
		source: source,
		opts:   opts,
		logger: logger.With(logging.Component("rates")),
	}
}

// Rate returns the current rate. The second result is false when the rate is
// unknown; the resolver never fails the caller.
func (r *Resolver) Rate(ctx context.Context) (float64, bool) {
	if rate, ok := r.cached(ctx); ok {
		metrics.RateLookups.WithLabelValues("hit").Inc()
		return rate, true
	}

	token := uuid.NewString()
	acquired, err := r.client.SetNX(ctx, r.opts.LockKey, token, r.opts.LockTTL).Result()
	if err != nil {
		r.logger.Warn("rate lock unavailable, using local rate", logging.Error(err))
		return r.fallback(ctx)
	}

	if !acquired {
		return r.waitForCache(ctx)
	}
	defer r.release(token)

	// Another process may have filled the cache between our miss and the lock.
	if rate, ok := r.cached(ctx); ok {
		metrics.RateLookups.WithLabelValues("hit").Inc()
		return rate, true
	}

	return r.fetch(ctx, true)
}

func (r *Resolver) cached(ctx context.Context) (float64, bool) {
	raw, err := r.client.Get(ctx, r.opts.CacheKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn("rate cache read failed", logging.Error(err))
		}
		return 0, false
	}

	rate, err := ParseRate(raw)
	if err != nil {
		r.logger.Warn("cached rate is malformed", logging.Error(err))
		return 0, false
	}
	return rate, true
}

func (r *Resolver) fetch(ctx context.Context, store bool) (float64, bool) {
	fetchCtx, cancel := context.WithTimeout(ctx, r.opts.FetchTimeout)
	defer cancel()

	rate, err := r.source.FetchRate(fetchCtx)
	if err != nil {
		r.logger.Error("rate fetch failed", logging.Error(err))
		metrics.RateLookups.WithLabelValues("unknown").Inc()
		return 0, false
	}

	if store {
		value := strconv.FormatFloat(rate, 'f', -1, 64)
		if err := r.client.Set(ctx, r.opts.CacheKey, value, r.opts.CacheTTL).Err(); err != nil {
			r.logger.Error("rate cache write failed", logging.Error(err))
		}
	}

	r.setLocal(rate)
	metrics.RateLookups.WithLabelValues("fetched").Inc()
	return rate, true
}

// fallback serves the in-process rate and refreshes it through a single
// outbound call when it has expired.
func (r *Resolver) fallback(ctx context.Context) (float64, bool) {
	if rate, ok := r.localRate(); ok {
		metrics.RateLookups.WithLabelValues("hit").Inc()
		return rate, true
	}

	v, err, _ := r.group.Do(r.opts.CacheKey, func() (interface{}, error) {
		if rate, ok := r.localRate(); ok {
			return rate, nil
		}
		rate, ok := r.fetch(ctx, false)
		if !ok {
			return nil, errRateUnknown
		}
		return rate, nil
	})
	if err != nil {
		return 0, false
	}
	return v.(float64), true
}

func (r *Resolver) localRate() (float64, bool) {
	r.localMu.Lock()
	defer r.localMu.Unlock()
	if r.localExpires.IsZero() || time.Now().After(r.localExpires) {
		return 0, false
	}
	return r.local, true
}

func (r *Resolver) setLocal(rate float64) {
	r.localMu.Lock()
	defer r.localMu.Unlock()
	r.local = rate
	r.localExpires = time.Now().Add(r.opts.CacheTTL)
}

// waitForCache polls the cache while another holder refreshes it.
func (r *Resolver) waitForCache(ctx context.Context) (float64, bool) {
	delay := r.opts.WaitInitial
	for attempt := 1; attempt <= r.opts.WaitAttempts; attempt++ {
		select {
		case <-ctx.Done():
			metrics.RateLookups.WithLabelValues("unknown").Inc()
			return 0, false
		case <-time.After(delay):
		}

		raw, err := r.client.Get(ctx, r.opts.CacheKey).Result()
		switch {
		case err == nil:
			rate, perr := ParseRate(raw)
			if perr != nil {
				r.logger.Warn("cached rate is malformed", logging.Error(perr))
				metrics.RateLookups.WithLabelValues("unknown").Inc()
				return 0, false
			}
			metrics.RateLookups.WithLabelValues("waited").Inc()
			return rate, true
		case !errors.Is(err, redis.Nil):
			r.logger.Error("rate cache read failed while waiting", logging.Error(err), logging.Attempt(attempt))
			metrics.RateLookups.WithLabelValues("unknown").Inc()
			return 0, false
		}

		delay *= 2
	}

	r.logger.Warn("rate not published by lock holder in time", logging.Attempt(r.opts.WaitAttempts))
	metrics.RateLookups.WithLabelValues("unknown").Inc()
	return 0, false
}

func (r *Resolver) release(token string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := releaseScript.Run(ctx, r.client, []string{r.opts.LockKey}, token).Err(); err != nil {
		r.logger.Warn("failed to release rate lock", logging.Error(err))
	}
}

// ParseRate parses a rate that may use a comma as the decimal separator.
func ParseRate(raw string) (float64, error) {
	s := strings.Trim(strings.TrimSpace(raw), `"`)
	rate, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid rate %q: %w", raw, err)
	}
	return rate, nil
}
