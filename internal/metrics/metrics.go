package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recipe_media_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recipe_media_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "recipe_media_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// Save pipeline metrics
var (
	SavesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recipe_media_saves_total",
			Help: "Total number of media save operations",
		},
		[]string{"kind", "status"},
	)

	SaveDedupTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recipe_media_save_dedup_total",
			Help: "Saves skipped because identical content already existed on disk",
		},
	)

	SavedBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recipe_media_saved_bytes",
			Help:    "Size in bytes of normalized media written to disk",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		},
		[]string{"kind"},
	)

	ImageNormalizeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recipe_media_image_normalize_total",
			Help: "Image normalization attempts by source format",
		},
		[]string{"format", "status"},
	)

	ImageNormalizeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recipe_media_image_normalize_duration_seconds",
			Help:    "Image normalization duration by source format",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"format"},
	)
)

// Video conversion metrics
var (
	VideoConversionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recipe_media_video_conversions_total",
			Help: "Video conversions by outcome method",
		},
		[]string{"method"},
	)

	VideoConversionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recipe_media_video_conversion_duration_seconds",
			Help:    "Video conversion duration by method",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"method"},
	)
)

// Remote download metrics
var (
	DownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recipe_media_downloads_total",
			Help: "Remote media downloads by outcome",
		},
		[]string{"status"},
	)

	DownloadBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "recipe_media_download_bytes",
			Help:    "Size in bytes of downloaded remote media",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		},
	)
)

// Reconciler metrics
var (
	SweepRunsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recipe_media_sweep_runs_total",
			Help: "Total number of orphan reconciliation sweeps",
		},
	)

	SweepRemovedFiles = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recipe_media_sweep_removed_files_total",
			Help: "Orphaned files removed by the reconciler",
		},
	)

	SweepRemovedDirs = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recipe_media_sweep_removed_dirs_total",
			Help: "Per-entity directories removed by the reconciler",
		},
	)

	SweepMigratedFiles = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recipe_media_sweep_migrated_files_total",
			Help: "Files migrated from deprecated layouts by the reconciler",
		},
	)

	SweepErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recipe_media_sweep_errors_total",
			Help: "Per-item errors tolerated during reconciliation sweeps",
		},
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "recipe_media_sweep_duration_seconds",
			Help:    "Duration of reconciliation sweeps",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		},
	)

	SweepLastRunTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "recipe_media_sweep_last_run_timestamp_seconds",
			Help: "Unix timestamp of the last completed sweep",
		},
	)
)

// Asset inventory gauges, refreshed by the Collector
var (
	AssetsTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "recipe_media_assets_total",
			Help: "Number of stored assets by kind",
		},
		[]string{"kind"},
	)

	AssetBytesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "recipe_media_asset_bytes_total",
			Help: "Total bytes of stored assets referenced by the database",
		},
	)
)

// Database metrics
var (
	DBQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recipe_media_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recipe_media_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	DBConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "recipe_media_db_connections_open",
			Help: "Number of open database connections",
		},
	)
)

// Auth metrics
var (
	AuthAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recipe_media_auth_attempts_total",
			Help: "Login attempts by outcome",
		},
		[]string{"result"},
	)
)

// Filesystem retry metrics
var (
	FilesystemRetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recipe_media_fs_retry_attempts_total",
			Help: "Filesystem operation retries after NFS stale handles",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetrySuccess = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recipe_media_fs_retry_success_total",
			Help: "Filesystem operations that succeeded after retrying",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recipe_media_fs_retry_failures_total",
			Help: "Filesystem operations that failed after exhausting retries",
		},
		[]string{"operation", "volume"},
	)

	FilesystemStaleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recipe_media_fs_stale_errors_total",
			Help: "NFS stale file handle errors observed",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recipe_media_fs_retry_duration_seconds",
			Help:    "Total duration of filesystem operations including retries",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2},
		},
		[]string{"operation", "volume"},
	)
)
