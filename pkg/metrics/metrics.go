// Package metrics exposes prometheus instrumentation for ingestion, the
// catalog and HTTP traffic.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfopds_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shelfopds_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Ingestion metrics
var (
	ScanRunsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shelfopds_scan_runs_total",
			Help: "Total number of library scans",
		},
	)

	ScanInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shelfopds_scan_in_progress",
			Help: "Whether a library scan is running (1) or not (0)",
		},
	)

	ScanLastDuration = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shelfopds_scan_last_duration_seconds",
			Help: "Duration of the last completed scan in seconds",
		},
	)

	FilesProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfopds_files_processed_total",
			Help: "Book files processed, by outcome",
		},
		[]string{"outcome"}, // "found", "duplicate", "invalid", "skipped", "error"
	)

	BatchFlushesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shelfopds_batch_flushes_total",
			Help: "Total number of ingestion batch flushes",
		},
	)

	BatchFlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shelfopds_batch_flush_duration_seconds",
			Help:    "Ingestion batch flush duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	LibraryBooks = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shelfopds_library_books",
			Help: "Number of books in the library, by format",
		},
		[]string{"format"},
	)
)

// Catalog metrics
var (
	FeedRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfopds_feed_requests_total",
			Help: "Total number of catalog feeds built, by node type",
		},
		[]string{"node"},
	)

	DownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfopds_downloads_total",
			Help: "Total number of book downloads, by format",
		},
		[]string{"format"},
	)
)

// SetLibraryBooks replaces the per-format library gauges.
func SetLibraryBooks(formats []string, counts map[string]int) {
	for _, f := range formats {
		LibraryBooks.WithLabelValues(f).Set(float64(counts[f]))
	}
}
