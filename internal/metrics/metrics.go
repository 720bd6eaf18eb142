package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Consumer metrics
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_messages_total",
			Help: "Total number of queue messages processed by outcome",
		},
		[]string{"outcome"},
	)

	EnrichmentDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "delivery_enrichment_duration_seconds",
			Help:    "Duration of per-message enrichment in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Resolver metrics
	RateLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_rate_lookups_total",
			Help: "Exchange rate lookups by result (hit, fetched, waited, unknown)",
		},
		[]string{"result"},
	)

	CategoryReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_category_reloads_total",
			Help: "Full category mapping reloads by status",
		},
		[]string{"status"},
	)

	// Buffer metrics
	BufferDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "delivery_buffer_depth",
			Help: "Records waiting in each sink buffer",
		},
		[]string{"sink"},
	)

	FlushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_flushes_total",
			Help: "Buffer flush attempts by sink and status",
		},
		[]string{"sink", "status"},
	)

	FlushDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "delivery_flush_duration_seconds",
			Help:    "Duration of a single flush attempt in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"sink"},
	)

	DeadLettered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_dead_lettered_total",
			Help: "Messages written to the dead letter queue by reason",
		},
		[]string{"reason"},
	)
)
