package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t.UTC()
}

func TestMemoryStore_UpsertBiometricRows(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	ts := day("2025-03-01")
	row := BiometricRow{
		UserID:     1,
		Timestamp:  ts,
		DataType:   "steps",
		MetricName: "steps.steps",
		Value:      []byte(`{"steps": 8000}`),
	}

	if err := s.UpsertBiometricRows(ctx, []BiometricRow{row}); err != nil {
		t.Fatalf("UpsertBiometricRows() error = %v", err)
	}

	// Same conflict target replaces the value instead of adding a row.
	row.Value = []byte(`{"steps": 9500}`)
	if err := s.UpsertBiometricRows(ctx, []BiometricRow{row}); err != nil {
		t.Fatalf("UpsertBiometricRows() second upsert error = %v", err)
	}

	rows, err := s.BiometricRange(ctx, 1, ts.Add(-time.Hour), ts.Add(time.Hour))
	if err != nil {
		t.Fatalf("BiometricRange() error = %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("BiometricRange() returned %d rows, want 1", len(rows))
	}
	if string(rows[0].Value) != `{"steps": 9500}` {
		t.Errorf("upsert did not replace value, got %s", rows[0].Value)
	}

	// A different metric name under the same timestamp is a separate row.
	other := row
	other.MetricName = "steps.distanceMeters"
	if err := s.UpsertBiometricRows(ctx, []BiometricRow{other}); err != nil {
		t.Fatalf("UpsertBiometricRows() error = %v", err)
	}
	rows, _ = s.BiometricRange(ctx, 1, ts.Add(-time.Hour), ts.Add(time.Hour))
	if len(rows) != 2 {
		t.Errorf("BiometricRange() returned %d rows, want 2", len(rows))
	}
}

func TestMemoryStore_BiometricRangeWindow(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i, d := range []string{"2025-03-01", "2025-03-02", "2025-03-03"} {
		err := s.UpsertBiometricRows(ctx, []BiometricRow{{
			UserID:     1,
			Timestamp:  day(d),
			DataType:   "steps",
			MetricName: "steps.steps",
			Value:      []byte(`{"steps": 1000}`),
		}})
		if err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
	}

	// Half-open window excludes the upper bound.
	rows, err := s.BiometricRange(ctx, 1, day("2025-03-01"), day("2025-03-03"))
	if err != nil {
		t.Fatalf("BiometricRange() error = %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("BiometricRange() returned %d rows, want 2", len(rows))
	}
	if !rows[0].Timestamp.After(rows[1].Timestamp) {
		t.Errorf("BiometricRange() not ordered newest first: %v then %v", rows[0].Timestamp, rows[1].Timestamp)
	}

	rows, _ = s.BiometricRange(ctx, 2, day("2025-03-01"), day("2025-03-04"))
	if len(rows) != 0 {
		t.Errorf("BiometricRange() for unknown user returned %d rows", len(rows))
	}
}

func TestMemoryStore_JobLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first, err := s.EnqueueJob(ctx, 1)
	if err != nil {
		t.Fatalf("EnqueueJob() error = %v", err)
	}
	second, err := s.EnqueueJob(ctx, 2)
	if err != nil {
		t.Fatalf("EnqueueJob() error = %v", err)
	}

	pending, err := s.PendingJobs(ctx, 10)
	if err != nil {
		t.Fatalf("PendingJobs() error = %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("PendingJobs() returned %d jobs, want 2", len(pending))
	}
	if pending[0].ID != first || pending[1].ID != second {
		t.Errorf("PendingJobs() order = [%d %d], want oldest first [%d %d]", pending[0].ID, pending[1].ID, first, second)
	}

	if err := s.UpdateJobStatus(ctx, first, JobStatusProcessing); err != nil {
		t.Fatalf("UpdateJobStatus() error = %v", err)
	}
	pending, _ = s.PendingJobs(ctx, 10)
	if len(pending) != 1 || pending[0].ID != second {
		t.Errorf("PendingJobs() after claim = %+v, want only job %d", pending, second)
	}

	if err := s.UpdateJobStatus(ctx, first, JobStatusCompleted); err != nil {
		t.Fatalf("UpdateJobStatus() error = %v", err)
	}

	counts, err := s.CountJobsByStatus(ctx)
	if err != nil {
		t.Fatalf("CountJobsByStatus() error = %v", err)
	}
	if counts[JobStatusCompleted] != 1 || counts[JobStatusPending] != 1 {
		t.Errorf("CountJobsByStatus() = %v, want 1 completed and 1 pending", counts)
	}

	if err := s.UpdateJobStatus(ctx, 999, JobStatusFailed); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("UpdateJobStatus(unknown) error = %v, want ErrJobNotFound", err)
	}
}

func TestMemoryStore_PendingJobsLimit(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := s.EnqueueJob(ctx, int64(i+1)); err != nil {
			t.Fatalf("EnqueueJob() error = %v", err)
		}
	}

	pending, err := s.PendingJobs(ctx, 3)
	if err != nil {
		t.Fatalf("PendingJobs() error = %v", err)
	}
	if len(pending) != 3 {
		t.Errorf("PendingJobs(limit=3) returned %d jobs", len(pending))
	}
}

func TestMemoryStore_DetailedMetrics(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	points := []DetailedMetric{
		{UserID: 1, MetricDate: day("2025-03-01"), MetricName: "steps", Value: 8000},
		{UserID: 1, MetricDate: day("2025-03-02"), MetricName: "steps", Value: 9000},
	}
	if err := s.UpsertDetailedMetrics(ctx, points); err != nil {
		t.Fatalf("UpsertDetailedMetrics() error = %v", err)
	}

	// A later computation over an overlapping window replaces the row for
	// the same day and metric; the latest value wins.
	if err := s.UpsertDetailedMetrics(ctx, []DetailedMetric{
		{UserID: 1, MetricDate: day("2025-03-01"), MetricName: "steps", Value: 8500},
	}); err != nil {
		t.Fatalf("UpsertDetailedMetrics() error = %v", err)
	}

	got, err := s.DetailedMetricsRange(ctx, 1, day("2025-03-01"), day("2025-03-07"))
	if err != nil {
		t.Fatalf("DetailedMetricsRange() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("DetailedMetricsRange() returned %d points, want 2", len(got))
	}
	if got[0].Value != 8500 {
		t.Errorf("upsert did not replace value, got %v", got[0].Value)
	}
	if !got[0].MetricDate.Before(got[1].MetricDate) {
		t.Errorf("DetailedMetricsRange() not ordered by date ascending")
	}
}

func TestMemoryStore_AnalyticsResults(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	res := AnalyticsResult{
		UserID:        1,
		AnalyticsType: "biometric",
		TimeRange:     "week",
		StartDate:     day("2025-02-23"),
		EndDate:       day("2025-03-01"),
		Metrics:       []byte(`{"avg_steps": 8000}`),
	}
	if err := s.UpsertAnalyticsResult(ctx, res); err != nil {
		t.Fatalf("UpsertAnalyticsResult() error = %v", err)
	}

	// Same window key replaces the bundle.
	res.Metrics = []byte(`{"avg_steps": 9000}`)
	if err := s.UpsertAnalyticsResult(ctx, res); err != nil {
		t.Fatalf("UpsertAnalyticsResult() error = %v", err)
	}

	got, err := s.AnalyticsResults(ctx, 1, "biometric")
	if err != nil {
		t.Fatalf("AnalyticsResults() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("AnalyticsResults() returned %d bundles, want 1", len(got))
	}
	if string(got[0].Metrics) != `{"avg_steps": 9000}` {
		t.Errorf("upsert did not replace metrics, got %s", got[0].Metrics)
	}

	// A shifted window is a separate row.
	res.StartDate = day("2025-02-24")
	res.EndDate = day("2025-03-02")
	if err := s.UpsertAnalyticsResult(ctx, res); err != nil {
		t.Fatalf("UpsertAnalyticsResult() error = %v", err)
	}
	got, _ = s.AnalyticsResults(ctx, 1, "biometric")
	if len(got) != 2 {
		t.Errorf("AnalyticsResults() returned %d bundles, want 2", len(got))
	}
}

func TestMemoryStore_SeedMetricMetadata(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	entries, err := DefaultCatalog()
	if err != nil {
		t.Fatalf("DefaultCatalog() error = %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("DefaultCatalog() returned no entries")
	}

	inserted, err := s.SeedMetricMetadata(ctx, entries)
	if err != nil {
		t.Fatalf("SeedMetricMetadata() error = %v", err)
	}
	if inserted != len(entries) {
		t.Errorf("SeedMetricMetadata() inserted %d, want %d", inserted, len(entries))
	}

	// Seeding is idempotent.
	inserted, err = s.SeedMetricMetadata(ctx, entries)
	if err != nil {
		t.Fatalf("SeedMetricMetadata() second run error = %v", err)
	}
	if inserted != 0 {
		t.Errorf("SeedMetricMetadata() second run inserted %d, want 0", inserted)
	}

	catalog, err := s.MetricMetadataCatalog(ctx)
	if err != nil {
		t.Fatalf("MetricMetadataCatalog() error = %v", err)
	}
	if len(catalog) != len(entries) {
		t.Errorf("MetricMetadataCatalog() returned %d entries, want %d", len(catalog), len(entries))
	}

	found := false
	for _, m := range catalog {
		if m.MetricName == "avg_steps" {
			found = true
			if m.Unit != "steps" {
				t.Errorf("avg_steps unit = %q, want steps", m.Unit)
			}
		}
	}
	if !found {
		t.Error("catalog missing avg_steps")
	}
}

func TestMemoryStore_FetchTriggers(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	id, err := s.EnqueueFetchTrigger(ctx, 1, 7)
	if err != nil {
		t.Fatalf("EnqueueFetchTrigger() error = %v", err)
	}

	pending, err := s.PendingFetchTriggers(ctx, 5)
	if err != nil {
		t.Fatalf("PendingFetchTriggers() error = %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("PendingFetchTriggers() returned %d triggers, want 1", len(pending))
	}
	if pending[0].DaysBack != 7 {
		t.Errorf("trigger days_back = %d, want 7", pending[0].DaysBack)
	}

	if err := s.UpdateFetchTriggerStatus(ctx, id, JobStatusCompleted); err != nil {
		t.Fatalf("UpdateFetchTriggerStatus() error = %v", err)
	}
	pending, _ = s.PendingFetchTriggers(ctx, 5)
	if len(pending) != 0 {
		t.Errorf("PendingFetchTriggers() after completion returned %d triggers", len(pending))
	}

	if err := s.UpdateFetchTriggerStatus(ctx, 999, JobStatusFailed); !errors.Is(err, ErrTriggerNotFound) {
		t.Errorf("UpdateFetchTriggerStatus(unknown) error = %v, want ErrTriggerNotFound", err)
	}
}

func TestMemoryStore_ArchiveFlow(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for _, d := range []string{"2024-01-01", "2024-06-01", "2025-03-01"} {
		err := s.UpsertBiometricRows(ctx, []BiometricRow{{
			UserID:     1,
			Timestamp:  day(d),
			DataType:   "steps",
			MetricName: "steps.steps",
			Value:      []byte(`{"steps": 1000}`),
		}})
		if err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	old, err := s.OldestBiometricRows(ctx, day("2025-01-01"), 10)
	if err != nil {
		t.Fatalf("OldestBiometricRows() error = %v", err)
	}
	if len(old) != 2 {
		t.Fatalf("OldestBiometricRows() returned %d rows, want 2", len(old))
	}
	if !old[0].Timestamp.Before(old[1].Timestamp) {
		t.Errorf("OldestBiometricRows() not ordered oldest first")
	}

	ids := []int64{old[0].ID, old[1].ID}
	deleted, err := s.DeleteBiometricRows(ctx, ids)
	if err != nil {
		t.Fatalf("DeleteBiometricRows() error = %v", err)
	}
	if deleted != 2 {
		t.Errorf("DeleteBiometricRows() deleted %d, want 2", deleted)
	}

	remaining, _ := s.OldestBiometricRows(ctx, day("2026-01-01"), 10)
	if len(remaining) != 1 {
		t.Errorf("store left with %d rows, want 1", len(remaining))
	}
}

func TestMemoryStore_EnsureUser(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	a, err := s.EnsureUser(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("EnsureUser() error = %v", err)
	}
	b, err := s.EnsureUser(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("EnsureUser() second call error = %v", err)
	}
	if a != b {
		t.Errorf("EnsureUser() returned %d then %d for the same email", a, b)
	}

	c, _ := s.EnsureUser(ctx, "other@example.com")
	if c == a {
		t.Errorf("EnsureUser() reused id %d for a different email", c)
	}
}
