package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/logging"
	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/metrics"
	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/models"
)

const sinkRelational = "relational"

// relationalBuffer holds its mutex for the whole flush, retries included, so
// appends and flushes never interleave.
type relationalBuffer struct {
	mu      sync.Mutex
	records []models.Package

	sink        RelationalSink
	size        int
	maxAttempts int
	baseBackoff time.Duration
	logger      *logging.Logger
}

func newRelationalBuffer(sink RelationalSink, opts Options, logger *logging.Logger) *relationalBuffer {
	return &relationalBuffer{
		sink:        sink,
		size:        opts.RelationalSize,
		maxAttempts: opts.MaxAttempts,
		baseBackoff: opts.BaseBackoff,
		logger:      logger.With(logging.Sink(sinkRelational)),
	}
}

func (b *relationalBuffer) add(ctx context.Context, p models.Package) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.records = append(b.records, p)
	metrics.BufferDepth.WithLabelValues(sinkRelational).Set(float64(len(b.records)))

	if len(b.records) >= b.size {
		_ = b.flushLocked(ctx)
	}
}

func (b *relationalBuffer) flush(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushLocked(ctx)
}

func (b *relationalBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}

// newBackOff yields base, 2*base, 4*base... and stops after maxAttempts tries.
func (b *relationalBuffer) newBackOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = b.baseBackoff
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = b.baseBackoff << uint(b.maxAttempts)
	exp.MaxElapsedTime = 0
	exp.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(b.maxAttempts-1)), ctx)
}

func (b *relationalBuffer) flushLocked(ctx context.Context) error {
	if len(b.records) == 0 {
		return nil
	}

	batch := b.records
	attempt := 0

	op := func() error {
		attempt++
		start := time.Now()
		err := b.sink.InsertPackages(ctx, batch)
		metrics.FlushDuration.WithLabelValues(sinkRelational).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.FlushesTotal.WithLabelValues(sinkRelational, "error").Inc()
			return err
		}
		metrics.FlushesTotal.WithLabelValues(sinkRelational, "ok").Inc()
		return nil
	}

	notify := func(err error, wait time.Duration) {
		b.logger.Warn("relational flush failed, retrying",
			logging.Attempt(attempt),
			logging.Count(len(batch)),
			logging.Error(err),
			"retry_in", wait,
		)
	}

	if err := backoff.RetryNotify(op, b.newBackOff(ctx), notify); err != nil {
		b.logger.Error("relational flush gave up, records kept for next trigger",
			logging.Attempt(attempt),
			logging.Count(len(batch)),
			logging.Error(err),
		)
		return fmt.Errorf("relational flush of %d records failed after %d attempts: %w", len(batch), attempt, err)
	}

	b.records = nil
	metrics.BufferDepth.WithLabelValues(sinkRelational).Set(0)
	b.logger.Info("flushed packages", logging.Count(len(batch)))
	return nil
}
