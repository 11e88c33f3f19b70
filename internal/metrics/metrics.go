// Package metrics defines the Prometheus instrumentation for the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "happypanda_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "happypanda_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "happypanda_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// Database metrics
var (
	DBQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "happypanda_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "happypanda_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	DBSizeBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "happypanda_db_size_bytes",
			Help: "Size of SQLite database files in bytes",
		},
		[]string{"file"}, // "main", "wal", "shm"
	)
)

// Search metrics
var (
	SearchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "happypanda_searches_total",
			Help: "Total number of search queries",
		},
		[]string{"status"}, // "ok", "syntax_error"
	)

	SearchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "happypanda_search_duration_seconds",
			Help:    "Search evaluation duration in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
	)

	SearchResults = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "happypanda_search_results",
			Help:    "Number of galleries returned per search",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)
)

// Library metrics
var (
	GalleriesTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "happypanda_galleries_total",
			Help: "Total number of tracked galleries by kind",
		},
		[]string{"kind"},
	)

	TagsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "happypanda_tags_total",
			Help: "Total number of distinct (namespace, tag) pairs",
		},
	)

	IndexRebuildsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "happypanda_index_rebuilds_total",
			Help: "Total number of search index rebuilds",
		},
	)
)

// Reconciler metrics
var (
	ReconcilerBatchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "happypanda_reconciler_batches_total",
			Help: "Total number of reconciliation batches",
		},
	)

	ReconcilerBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "happypanda_reconciler_batch_duration_seconds",
			Help:    "Reconciliation batch duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	ReconcilerOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "happypanda_reconciler_outcomes_total",
			Help: "Total number of candidate outcomes by state",
		},
		[]string{"outcome"}, // "accepted", "rejected", "moved", "removed", "unchanged"
	)

	ReconcilerRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "happypanda_reconciler_running",
			Help: "Whether a reconciliation batch is in progress (1 = running, 0 = idle)",
		},
	)
)

// Scanner and watcher metrics
var (
	ScannerRunsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "happypanda_scanner_runs_total",
			Help: "Total number of library scans",
		},
	)

	ScannerLastRunTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "happypanda_scanner_last_run_timestamp",
			Help: "Timestamp of the last completed library scan",
		},
	)

	ScannerLastRunDuration = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "happypanda_scanner_last_run_duration_seconds",
			Help: "Duration of the last library scan in seconds",
		},
	)

	ScannerSourcesFound = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "happypanda_scanner_sources_found",
			Help: "Number of candidate sources found by the last scan",
		},
	)

	WatcherEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "happypanda_watcher_events_total",
			Help: "Total number of filesystem watcher events",
		},
		[]string{"event_type"},
	)

	WatcherErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "happypanda_watcher_errors_total",
			Help: "Total number of filesystem watcher errors",
		},
	)

	WatcherBatchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "happypanda_watcher_batches_total",
			Help: "Total number of debounced event batches flushed",
		},
	)

	WatchedDirectories = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "happypanda_watcher_watched_directories",
			Help: "Number of directories currently being watched",
		},
	)
)

// Filesystem retry metrics
var (
	FilesystemRetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "happypanda_filesystem_retry_attempts_total",
			Help: "Total number of filesystem operation retries",
		},
		[]string{"operation"},
	)

	FilesystemRetrySuccess = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "happypanda_filesystem_retry_success_total",
			Help: "Total number of filesystem operations that succeeded after retrying",
		},
		[]string{"operation"},
	)

	FilesystemRetryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "happypanda_filesystem_retry_failures_total",
			Help: "Total number of filesystem operations that exhausted their retries",
		},
		[]string{"operation"},
	)

	FilesystemTransientErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "happypanda_filesystem_transient_errors_total",
			Help: "Total number of transient filesystem errors observed",
		},
		[]string{"operation"},
	)
)

// Fetcher metrics
var (
	FetcherRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "happypanda_fetcher_requests_total",
			Help: "Total number of metadata fetch attempts",
		},
		[]string{"provider", "status"},
	)

	FetcherRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "happypanda_fetcher_request_duration_seconds",
			Help:    "Metadata fetch duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"provider"},
	)
)

// Application info metric
var (
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "happypanda_app_info",
			Help: "Application information",
		},
		[]string{"version", "commit", "go_version"},
	)
)

// SetAppInfo sets the application info metric
func SetAppInfo(version, commit, goVersion string) {
	AppInfo.WithLabelValues(version, commit, goVersion).Set(1)
}
