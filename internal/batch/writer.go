// Package batch buffers enriched packages and writes them to the relational
// store and the per-day document store in batches.
//
// Each record goes to both buffers. The relational buffer retries a failed
// flush a bounded number of times inline and otherwise keeps its records for
// the next trigger; the document buffer puts a failed batch back in front of
// newer records and retries on every trigger.
package batch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/docstore"
	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/logging"
	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/models"
)

// RelationalSink stores a batch atomically.
type RelationalSink interface {
	InsertPackages(ctx context.Context, records []models.Package) error
}

// CollectionRouter resolves the per-day document collection.
type CollectionRouter interface {
	CollectionFor(ctx context.Context, date string) (docstore.Collection, error)
	DayKey(t time.Time) string
}

// Options holds thresholds and the relational retry schedule.
type Options struct {
	RelationalSize     int
	RelationalInterval time.Duration
	MaxAttempts        int
	BaseBackoff        time.Duration

	DocumentSize     int
	DocumentInterval time.Duration
}

// DefaultOptions returns 10 records or 2 seconds for both sinks and five
// relational attempts spaced 2s, 4s, 8s, 16s.
func DefaultOptions() Options {
	return Options{
		RelationalSize:     10,
		RelationalInterval: 2 * time.Second,
		MaxAttempts:        5,
		BaseBackoff:        2 * time.Second,
		DocumentSize:       10,
		DocumentInterval:   2 * time.Second,
	}
}

// Writer fans records out to the two buffers and drives their timers.
type Writer struct {
	rel  *relationalBuffer
	doc  *documentBuffer
	opts Options
}

// NewWriter creates a Writer. Call Run to start the flush timers and Close
// to drain both buffers on shutdown.
func NewWriter(sink RelationalSink, router CollectionRouter, opts Options, logger *logging.Logger) *Writer {
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.With(logging.Component("batch"))

	return &Writer{
		rel:  newRelationalBuffer(sink, opts, logger),
		doc:  newDocumentBuffer(router, opts, logger),
		opts: opts,
	}
}

// Add appends p to both buffers. A full relational buffer is flushed before
// Add returns; a full document buffer is flushed by the document loop.
func (w *Writer) Add(ctx context.Context, p models.Package) {
	w.doc.add(p)
	w.rel.add(ctx, p)
}

// Run flushes each buffer on its own interval until ctx is cancelled.
func (w *Writer) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(w.opts.RelationalInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = w.rel.flush(ctx)
			}
		}
	}()

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(w.opts.DocumentInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = w.doc.flush(ctx)
			case <-w.doc.kick:
				_ = w.doc.flush(ctx)
			}
		}
	}()

	wg.Wait()
}

// Close makes a final flush of both buffers. The buffers flush concurrently
// so relational retries cannot use up the deadline of the document flush.
// Records that still cannot be written are reported through the returned
// error and the logs.
func (w *Writer) Close(ctx context.Context) error {
	var relErr, docErr error

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		relErr = w.rel.flush(ctx)
	}()
	go func() {
		defer wg.Done()
		docErr = w.doc.flush(ctx)
	}()
	wg.Wait()

	return errors.Join(relErr, docErr)
}

// Pending returns the number of records waiting in each buffer.
func (w *Writer) Pending() (relational, document int) {
	return w.rel.len(), w.doc.len()
}
