// Package metrics registers the process-wide Prometheus collectors exposed
// on /metrics. Per-instance exact counters live in the stats package; these
// collectors exist for external scraping only.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	IOCsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tripwire_iocs_ingested_total",
			Help: "Total number of indicators ingested from feeds",
		},
		[]string{"source", "action"},
	)

	FeedsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tripwire_feeds_processed_total",
			Help: "Total number of feed sync runs",
		},
		[]string{"source", "status"},
	)

	LogsScanned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tripwire_logs_scanned_total",
			Help: "Total number of log records scanned for indicators",
		},
	)

	MatchesFound = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tripwire_matches_found_total",
			Help: "Total number of indicator matches",
		},
		[]string{"severity"},
	)

	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tripwire_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"backend"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tripwire_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"backend"},
	)

	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tripwire_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"backend", "operation"},
	)

	ScanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tripwire_scan_duration_seconds",
			Help:    "Time taken to scan a single log record",
			Buckets: prometheus.DefBuckets,
		},
	)

	StoredIndicators = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tripwire_stored_indicators",
			Help: "Number of indicators currently indexed, by type",
		},
		[]string{"type"},
	)
)
