package metrics

import (
	"context"
	"time"

	"github.com/vitalsink/vitalsink/internal/store"
)

// InstrumentedStore wraps a store.Store and records operation counters and
// latencies for the write and read paths that carry ingest and analytics
// traffic. Everything else passes through untouched.
type InstrumentedStore struct {
	store.Store
}

func NewInstrumentedStore(s store.Store) *InstrumentedStore {
	return &InstrumentedStore{Store: s}
}

func (s *InstrumentedStore) observe(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	StorageOperationsTotal.WithLabelValues(operation, status).Inc()
	StorageOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (s *InstrumentedStore) UpsertBiometricRows(ctx context.Context, rows []store.BiometricRow) error {
	start := time.Now()
	err := s.Store.UpsertBiometricRows(ctx, rows)
	s.observe("upsert_biometric", start, err)
	return err
}

func (s *InstrumentedStore) BiometricRange(ctx context.Context, userID int64, from, to time.Time) ([]store.BiometricRow, error) {
	start := time.Now()
	rows, err := s.Store.BiometricRange(ctx, userID, from, to)
	s.observe("biometric_range", start, err)
	return rows, err
}

func (s *InstrumentedStore) EnqueueJob(ctx context.Context, userID int64) (int64, error) {
	start := time.Now()
	id, err := s.Store.EnqueueJob(ctx, userID)
	s.observe("enqueue_job", start, err)
	if err == nil {
		RecordJobEnqueued()
	}
	return id, err
}

func (s *InstrumentedStore) PendingJobs(ctx context.Context, limit int) ([]store.AnalyticsJob, error) {
	start := time.Now()
	jobs, err := s.Store.PendingJobs(ctx, limit)
	s.observe("pending_jobs", start, err)
	return jobs, err
}

func (s *InstrumentedStore) UpdateJobStatus(ctx context.Context, jobID int64, status store.JobStatus) error {
	start := time.Now()
	err := s.Store.UpdateJobStatus(ctx, jobID, status)
	s.observe("update_job", start, err)
	return err
}

func (s *InstrumentedStore) UpsertDetailedMetrics(ctx context.Context, points []store.DetailedMetric) error {
	start := time.Now()
	err := s.Store.UpsertDetailedMetrics(ctx, points)
	s.observe("upsert_detailed", start, err)
	return err
}

func (s *InstrumentedStore) UpsertAnalyticsResult(ctx context.Context, res store.AnalyticsResult) error {
	start := time.Now()
	err := s.Store.UpsertAnalyticsResult(ctx, res)
	s.observe("upsert_analytics", start, err)
	return err
}
