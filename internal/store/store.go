package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("store: not found")
	ErrJobNotFound     = errors.New("store: job not found")
	ErrTriggerNotFound = errors.New("store: trigger not found")
)

// JobStatus is the lifecycle state of an analytics job or fetch trigger.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// BiometricRow is one normalized reading in the biometric_data table.
// Value holds the JSONB metric payload and RawData the original provider
// payload; both are raw JSON bytes. ID is assigned on insert.
type BiometricRow struct {
	ID         int64
	UserID     int64
	Timestamp  time.Time
	DataType   string
	MetricName string
	Value      []byte
	RawData    []byte
	CreatedAt  time.Time
}

// AnalyticsJob is a row in the analytics_jobs queue table.
type AnalyticsJob struct {
	ID        int64
	UserID    int64
	Status    JobStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DetailedMetric is one canonical daily value. Windows overlap, so the row
// is keyed by day and metric alone and the latest computation wins.
type DetailedMetric struct {
	UserID     int64
	MetricDate time.Time
	MetricName string
	Value      float64
	CreatedAt  time.Time
}

// AnalyticsResult is a computed statistics bundle for one user and window.
// Metrics holds the JSON bundle.
type AnalyticsResult struct {
	UserID        int64
	AnalyticsType string
	TimeRange     string
	StartDate     time.Time
	EndDate       time.Time
	Metrics       []byte
	CreatedAt     time.Time
}

// MetricMetadata describes a derived metric for display purposes. The
// catalog has no effect on computation.
type MetricMetadata struct {
	MetricName    string `yaml:"metric_name"`
	DisplayName   string `yaml:"display_name"`
	Description   string `yaml:"description"`
	Unit          string `yaml:"unit"`
	DataType      string `yaml:"data_type"`
	Visualization string `yaml:"visualization"`
}

// IngestRun records the outcome of one fetch cycle for one user.
type IngestRun struct {
	RunID      string
	UserID     int64
	Status     string
	DaysBack   int
	RowsStored int64
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Ingest run outcomes.
const (
	IngestStatusOK          = "ok"
	IngestStatusNoData      = "no_data"
	IngestStatusRateLimited = "rate_limited"
	IngestStatusError       = "error"
)

// FetchTrigger is a manual fetch request queued in the fetch_triggers table.
type FetchTrigger struct {
	ID          int64
	UserID      int64
	DaysBack    int
	Status      JobStatus
	RequestedAt time.Time
}

// Store is the persistence boundary for biometric rows, the job queue,
// extracted daily metrics and analytics results.
type Store interface {
	// EnsureUser inserts the user if missing and returns its id.
	EnsureUser(ctx context.Context, email string) (int64, error)

	// UpsertBiometricRows writes a batch of normalized rows in a single
	// transaction. A conflict on (user_id, timestamp, data_type,
	// metric_name) replaces value and raw_data and refreshes created_at.
	// The batch is all-or-nothing.
	UpsertBiometricRows(ctx context.Context, rows []BiometricRow) error

	// BiometricRange returns rows for the user with from <= timestamp < to,
	// newest first.
	BiometricRange(ctx context.Context, userID int64, from, to time.Time) ([]BiometricRow, error)

	// OldestBiometricRows returns up to limit rows older than cutoff,
	// oldest first. Used by the archiver.
	OldestBiometricRows(ctx context.Context, cutoff time.Time, limit int) ([]BiometricRow, error)

	// DeleteBiometricRows removes rows by id and reports how many went away.
	DeleteBiometricRows(ctx context.Context, ids []int64) (int64, error)

	// EnqueueJob inserts a pending analytics job for the user.
	EnqueueJob(ctx context.Context, userID int64) (int64, error)

	// PendingJobs returns up to limit pending jobs, oldest first.
	PendingJobs(ctx context.Context, limit int) ([]AnalyticsJob, error)

	// UpdateJobStatus moves a job to the given status and refreshes
	// updated_at. Returns ErrJobNotFound when the id does not exist.
	UpdateJobStatus(ctx context.Context, jobID int64, status JobStatus) error

	// CountJobsByStatus returns the number of jobs per status.
	CountJobsByStatus(ctx context.Context) (map[JobStatus]int64, error)

	// RecentJobs returns up to limit jobs, newest first.
	RecentJobs(ctx context.Context, limit int) ([]AnalyticsJob, error)

	// UpsertDetailedMetrics writes extracted daily values. A conflict on
	// (user_id, metric_date, metric_name) replaces the value.
	UpsertDetailedMetrics(ctx context.Context, points []DetailedMetric) error

	// DetailedMetricsRange returns daily values for the user with
	// from <= metric_date <= to, ordered by date then metric name.
	DetailedMetricsRange(ctx context.Context, userID int64, from, to time.Time) ([]DetailedMetric, error)

	// UpsertAnalyticsResult writes a result bundle. A conflict on
	// (user_id, analytics_type, time_range, start_date, end_date) replaces
	// the metrics bundle and refreshes created_at.
	UpsertAnalyticsResult(ctx context.Context, res AnalyticsResult) error

	// AnalyticsResults returns all bundles of the given type for the user.
	AnalyticsResults(ctx context.Context, userID int64, analyticsType string) ([]AnalyticsResult, error)

	// SeedMetricMetadata inserts catalog entries that are not present yet
	// and reports how many were added.
	SeedMetricMetadata(ctx context.Context, entries []MetricMetadata) (int, error)

	// MetricMetadataCatalog returns the display catalog ordered by name.
	MetricMetadataCatalog(ctx context.Context) ([]MetricMetadata, error)

	// RecordIngestRun appends the outcome of a fetch cycle.
	RecordIngestRun(ctx context.Context, run IngestRun) error

	// EnqueueFetchTrigger inserts a pending manual fetch request.
	EnqueueFetchTrigger(ctx context.Context, userID int64, daysBack int) (int64, error)

	// PendingFetchTriggers returns up to limit pending triggers, oldest
	// request first.
	PendingFetchTriggers(ctx context.Context, limit int) ([]FetchTrigger, error)

	// UpdateFetchTriggerStatus moves a trigger to the given status.
	// Returns ErrTriggerNotFound when the id does not exist.
	UpdateFetchTriggerStatus(ctx context.Context, id int64, status JobStatus) error

	Ping(ctx context.Context) error
	Close()
}
