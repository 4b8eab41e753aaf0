package integration

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vitalsink/vitalsink/internal/extract"
	"github.com/vitalsink/vitalsink/internal/ingest"
	"github.com/vitalsink/vitalsink/internal/jobs"
	"github.com/vitalsink/vitalsink/internal/logger"
	"github.com/vitalsink/vitalsink/internal/source"
	"github.com/vitalsink/vitalsink/internal/store"
)

// quietCtx silences the slog side of the pipeline; the processor already
// gets a zerolog.Nop.
func quietCtx() context.Context {
	return logger.WithLogger(context.Background(), logger.NewTestLogger())
}

// fastPolicy removes the etiquette pauses so a full pipeline run finishes in
// test time. The guard logic itself is unchanged.
func fastPolicy() source.RetryPolicy {
	return source.RetryPolicy{
		SessionMaxAge:    time.Minute,
		Cooldown:         time.Minute,
		MaxLoginAttempts: 2,
	}
}

func newPipeline(t *testing.T, st store.Store, seed int64) (*ingest.Service, *jobs.Processor) {
	t.Helper()

	factory := source.MockFactory(seed, source.NewMemoryStateStore(), fastPolicy())
	svc := ingest.New(st, factory, 5)

	rules, err := extract.DefaultRules()
	if err != nil {
		t.Fatalf("loading rules: %v", err)
	}
	proc := jobs.NewProcessor(st, extract.New(st, rules), jobs.Options{
		PollInterval: time.Millisecond,
		BatchLimit:   10,
	}, zerolog.Nop())

	return svc, proc
}

// TestPipeline_SweepToAnalytics drives the whole path: fetch synthetic
// payloads, normalize and store them, then drain the queued job into three
// window bundles.
func TestPipeline_SweepToAnalytics(t *testing.T) {
	ctx := quietCtx()
	st := store.NewMemoryStore()
	svc, proc := newPipeline(t, st, 42)

	if err := svc.RunSweep(ctx, []int64{1}, 3); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	to := time.Now().UTC().Add(time.Hour)
	rows, err := st.BiometricRange(ctx, 1, to.AddDate(0, 0, -4), to)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(rows) == 0 {
		t.Fatal("sweep stored no rows")
	}

	pending, err := st.PendingJobs(ctx, 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending jobs = %d, want 1", len(pending))
	}

	processed, err := proc.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if processed != 1 {
		t.Fatalf("processed = %d, want 1", processed)
	}

	results, err := st.AnalyticsResults(ctx, 1, "biometric")
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d bundles, want 3 (week, month, quarter)", len(results))
	}

	for _, res := range results {
		var bundle map[string]any
		if err := json.Unmarshal(res.Metrics, &bundle); err != nil {
			t.Fatalf("decoding %s bundle: %v", res.TimeRange, err)
		}
		if _, ok := bundle["avg_steps"]; !ok {
			t.Errorf("%s bundle missing avg_steps: %v", res.TimeRange, bundle)
		}
		if _, ok := bundle["avg_resting_heart_rate"]; !ok {
			t.Errorf("%s bundle missing avg_resting_heart_rate", res.TimeRange)
		}
	}
}

// A second sweep over the same days re-stores the same rows and recomputes
// the same windows; nothing accumulates.
func TestPipeline_RerunOverwrites(t *testing.T) {
	ctx := quietCtx()
	st := store.NewMemoryStore()
	svc, proc := newPipeline(t, st, 42)

	for i := 0; i < 2; i++ {
		if err := svc.RunSweep(ctx, []int64{1}, 2); err != nil {
			t.Fatalf("sweep %d: %v", i, err)
		}
		if _, err := proc.RunOnce(ctx); err != nil {
			t.Fatalf("run once %d: %v", i, err)
		}
	}

	results, err := st.AnalyticsResults(ctx, 1, "biometric")
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d bundles after rerun, want 3", len(results))
	}

	counts, err := st.CountJobsByStatus(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts[store.JobStatusCompleted] != 2 {
		t.Errorf("completed jobs = %d, want 2", counts[store.JobStatusCompleted])
	}
	if counts[store.JobStatusPending] != 0 {
		t.Errorf("pending jobs = %d, want 0", counts[store.JobStatusPending])
	}
}

// Daily metric rows are keyed by day and metric alone. The week, month and
// quarter windows all cover the fetched days, so a processed job must leave
// exactly one row per (day, metric) pair, and a rerun overwrites in place.
func TestPipeline_OneDetailedRowPerDay(t *testing.T) {
	ctx := quietCtx()
	st := store.NewMemoryStore()
	svc, proc := newPipeline(t, st, 42)

	for i := 0; i < 2; i++ {
		if err := svc.RunSweep(ctx, []int64{1}, 3); err != nil {
			t.Fatalf("sweep %d: %v", i, err)
		}
		if _, err := proc.RunOnce(ctx); err != nil {
			t.Fatalf("run once %d: %v", i, err)
		}
	}

	to := time.Now().UTC().Add(time.Hour)
	points, err := st.DetailedMetricsRange(ctx, 1, to.AddDate(0, 0, -91), to)
	if err != nil {
		t.Fatalf("detailed range: %v", err)
	}
	if len(points) == 0 {
		t.Fatal("processing stored no detailed rows")
	}

	seen := map[string]bool{}
	for _, pt := range points {
		key := pt.MetricDate.Format("2006-01-02") + "|" + pt.MetricName
		if seen[key] {
			t.Errorf("duplicate daily row for %s", key)
		}
		seen[key] = true
	}
}

// A job for a user without data fails on its own row and does not stop the
// batch behind it.
func TestPipeline_FailedJobDoesNotBlockQueue(t *testing.T) {
	ctx := quietCtx()
	st := store.NewMemoryStore()
	svc, proc := newPipeline(t, st, 42)

	if err := svc.RunSweep(ctx, []int64{1}, 2); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	// Jump the queue with a job that has no data behind it.
	if _, err := st.EnqueueJob(ctx, 99); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	pending, err := st.PendingJobs(ctx, 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending jobs = %d, want 2", len(pending))
	}

	processed, err := proc.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if processed != 2 {
		t.Fatalf("processed = %d, want 2", processed)
	}

	counts, err := st.CountJobsByStatus(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts[store.JobStatusCompleted] != 1 {
		t.Errorf("completed jobs = %d, want 1", counts[store.JobStatusCompleted])
	}
	if counts[store.JobStatusFailed] != 1 {
		t.Errorf("failed jobs = %d, want 1", counts[store.JobStatusFailed])
	}

	results, err := st.AnalyticsResults(ctx, 1, "biometric")
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	if len(results) != 3 {
		t.Errorf("user 1 got %d bundles, want 3", len(results))
	}
	if empty, err := st.AnalyticsResults(ctx, 99, "biometric"); err != nil || len(empty) != 0 {
		t.Errorf("user 99 bundles = %v, %v, want none", empty, err)
	}
}

// Queued fetch triggers are served before the scheduled users.
func TestPipeline_TriggerDrain(t *testing.T) {
	ctx := quietCtx()
	st := store.NewMemoryStore()
	svc, _ := newPipeline(t, st, 7)

	id, err := st.EnqueueFetchTrigger(ctx, 2, 2)
	if err != nil {
		t.Fatalf("enqueue trigger: %v", err)
	}

	if err := svc.RunSweep(ctx, []int64{1}, 1); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	triggers, err := st.PendingFetchTriggers(ctx, 10)
	if err != nil {
		t.Fatalf("pending triggers: %v", err)
	}
	if len(triggers) != 0 {
		t.Fatalf("trigger %d still pending after sweep", id)
	}

	to := time.Now().UTC().Add(time.Hour)
	rows, err := st.BiometricRange(ctx, 2, to.AddDate(0, 0, -3), to)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(rows) == 0 {
		t.Error("trigger fetch stored no rows for user 2")
	}
}
