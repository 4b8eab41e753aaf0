package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SourceFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalsink_source_fetches_total",
			Help: "Total number of telemetry source fetches",
		},
		[]string{"data_type", "status"},
	)

	SourceFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vitalsink_source_fetch_duration_seconds",
			Help:    "Telemetry source fetch duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"data_type"},
	)

	SourceLoginsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalsink_source_logins_total",
			Help: "Total number of telemetry source login attempts",
		},
		[]string{"status"},
	)

	SourceRateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vitalsink_source_rate_limited_total",
			Help: "Total number of rate-limit responses from the telemetry source",
		},
	)

	RowsNormalizedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalsink_rows_normalized_total",
			Help: "Total number of metric rows produced by normalization",
		},
		[]string{"data_type"},
	)

	NormalizeSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalsink_normalize_skipped_total",
			Help: "Total number of payload fragments skipped as malformed",
		},
		[]string{"data_type"},
	)

	NormalizeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vitalsink_normalize_duration_seconds",
			Help:    "Payload normalization duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalsink_storage_operations_total",
			Help: "Total number of database operations",
		},
		[]string{"operation", "status"},
	)

	StorageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vitalsink_storage_operation_duration_seconds",
			Help:    "Duration of database operations in seconds",
			Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	IngestCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalsink_ingest_cycles_total",
			Help: "Total number of ingest cycles",
		},
		[]string{"status"},
	)

	IngestRowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalsink_ingest_rows_total",
			Help: "Total number of rows written by ingestion",
		},
		[]string{"data_type"},
	)

	FetchTriggersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalsink_fetch_triggers_total",
			Help: "Total number of on-demand fetch triggers processed",
		},
		[]string{"status"},
	)

	JobsEnqueuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vitalsink_jobs_enqueued_total",
			Help: "Total number of analytics jobs enqueued",
		},
	)

	JobsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalsink_jobs_processed_total",
			Help: "Total number of analytics jobs processed",
		},
		[]string{"status"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vitalsink_job_duration_seconds",
			Help:    "Analytics job processing duration in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"stage"},
	)

	WindowDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vitalsink_window_duration_seconds",
			Help:    "Per-window analytics computation duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"time_range"},
	)

	JobsPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vitalsink_jobs_pending",
			Help: "Number of analytics jobs currently pending",
		},
	)

	AnalyticsResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalsink_analytics_results_total",
			Help: "Total number of analytics result bundles written",
		},
		[]string{"time_range"},
	)

	ExtractUnconfiguredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalsink_extract_unconfigured_total",
			Help: "Rows seen for metric families with no extraction rule",
		},
		[]string{"data_type"},
	)

	ArchiveRowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalsink_archive_rows_total",
			Help: "Total number of raw rows archived and deleted",
		},
		[]string{"action"},
	)

	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_info",
			Help: "Application information",
		},
		[]string{"version", "environment", "service"},
	)

	AppUp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "app_up",
			Help: "Application is up and running",
		},
	)
)

func RecordFetch(dataType, status string, durationSeconds float64) {
	SourceFetchesTotal.WithLabelValues(dataType, status).Inc()
	SourceFetchDuration.WithLabelValues(dataType).Observe(durationSeconds)
}

func RecordLogin(status string) {
	SourceLoginsTotal.WithLabelValues(status).Inc()
}

func RecordRateLimited() {
	SourceRateLimitedTotal.Inc()
}

func RecordNormalize(dataType string, rows, skipped int, durationSeconds float64) {
	RowsNormalizedTotal.WithLabelValues(dataType).Add(float64(rows))
	if skipped > 0 {
		NormalizeSkippedTotal.WithLabelValues(dataType).Add(float64(skipped))
	}
	NormalizeDuration.Observe(durationSeconds)
}

func RecordIngestCycle(status string) {
	IngestCyclesTotal.WithLabelValues(status).Inc()
}

func RecordIngestRows(dataType string, rows int64) {
	IngestRowsTotal.WithLabelValues(dataType).Add(float64(rows))
}

func RecordTrigger(status string) {
	FetchTriggersTotal.WithLabelValues(status).Inc()
}

func RecordJobEnqueued() {
	JobsEnqueuedTotal.Inc()
}

func RecordJobProcessed(status string, durationSeconds float64) {
	JobsProcessedTotal.WithLabelValues(status).Inc()
	JobDuration.WithLabelValues("total").Observe(durationSeconds)
}

func RecordJobStage(stage string, durationSeconds float64) {
	JobDuration.WithLabelValues(stage).Observe(durationSeconds)
}

func RecordWindow(timeRange string, durationSeconds float64) {
	WindowDuration.WithLabelValues(timeRange).Observe(durationSeconds)
}

func SetJobsPending(count int64) {
	JobsPending.Set(float64(count))
}

func RecordAnalyticsResult(timeRange string) {
	AnalyticsResultsTotal.WithLabelValues(timeRange).Inc()
}

func RecordExtractUnconfigured(dataType string) {
	ExtractUnconfiguredTotal.WithLabelValues(dataType).Inc()
}

func RecordArchive(action string, rows int64) {
	ArchiveRowsTotal.WithLabelValues(action).Add(float64(rows))
}

func SetAppInfo(version, environment, service string) {
	AppInfo.WithLabelValues(version, environment, service).Set(1)
	AppUp.Set(1)
}
