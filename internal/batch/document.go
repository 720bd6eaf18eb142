package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/logging"
	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/metrics"
	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/models"
)

const sinkDocument = "document"

// documentBuffer swaps its records out under mu and writes them without
// holding it, so appends continue during the insert. flushMu keeps a single
// flush in flight.
type documentBuffer struct {
	mu      sync.Mutex
	records []models.Package

	flushMu sync.Mutex
	kick    chan struct{}

	router CollectionRouter
	size   int
	logger *logging.Logger
}

func newDocumentBuffer(router CollectionRouter, opts Options, logger *logging.Logger) *documentBuffer {
	return &documentBuffer{
		kick:   make(chan struct{}, 1),
		router: router,
		size:   opts.DocumentSize,
		logger: logger.With(logging.Sink(sinkDocument)),
	}
}

func (b *documentBuffer) add(p models.Package) {
	b.mu.Lock()
	b.records = append(b.records, p)
	n := len(b.records)
	b.mu.Unlock()

	metrics.BufferDepth.WithLabelValues(sinkDocument).Set(float64(n))

	if n >= b.size {
		select {
		case b.kick <- struct{}{}:
		default:
		}
	}
}

func (b *documentBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}

func (b *documentBuffer) flush(ctx context.Context) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	batch := b.records
	b.records = nil
	b.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	start := time.Now()
	failed, err := b.write(ctx, batch)
	metrics.FlushDuration.WithLabelValues(sinkDocument).Observe(time.Since(start).Seconds())

	if err == nil {
		metrics.FlushesTotal.WithLabelValues(sinkDocument, "ok").Inc()
		metrics.BufferDepth.WithLabelValues(sinkDocument).Set(float64(b.len()))
		b.logger.Info("flushed packages", logging.Count(len(batch)))
		return nil
	}

	metrics.FlushesTotal.WithLabelValues(sinkDocument, "error").Inc()

	b.mu.Lock()
	b.records = append(failed, b.records...)
	n := len(b.records)
	b.mu.Unlock()
	metrics.BufferDepth.WithLabelValues(sinkDocument).Set(float64(n))

	b.logger.Error("document flush failed, batch returned to buffer head",
		logging.Count(len(failed)),
		logging.Error(err),
	)
	return err
}

// write inserts batch grouped by the day each record was created on and
// returns, in arrival order, the records whose day could not be written.
func (b *documentBuffer) write(ctx context.Context, batch []models.Package) ([]models.Package, error) {
	var days []string
	groups := make(map[string][]models.Package)
	for _, p := range batch {
		day := b.router.DayKey(p.CreatedAt)
		if _, ok := groups[day]; !ok {
			days = append(days, day)
		}
		groups[day] = append(groups[day], p)
	}

	var firstErr error
	failedDays := make(map[string]bool)
	for _, day := range days {
		if err := b.insertDay(ctx, day, groups[day]); err != nil {
			failedDays[day] = true
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if firstErr == nil {
		return nil, nil
	}

	if len(failedDays) == len(days) {
		return batch, firstErr
	}

	failed := make([]models.Package, 0, len(batch))
	for _, p := range batch {
		if failedDays[b.router.DayKey(p.CreatedAt)] {
			failed = append(failed, p)
		}
	}
	return failed, firstErr
}

func (b *documentBuffer) insertDay(ctx context.Context, day string, records []models.Package) error {
	coll, err := b.router.CollectionFor(ctx, day)
	if err != nil {
		return err
	}
	if err := coll.InsertMany(ctx, records); err != nil {
		return fmt.Errorf("insert of %d records into %s failed: %w", len(records), coll.Name(), err)
	}
	return nil
}
