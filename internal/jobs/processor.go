// Package jobs drains the analytics job queue: each pending job recomputes
// the user's weekly, monthly and quarterly windows and stores the extracted
// daily values and the statistics bundle.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/vitalsink/vitalsink/internal/apperror"
	"github.com/vitalsink/vitalsink/internal/extract"
	"github.com/vitalsink/vitalsink/internal/logger"
	"github.com/vitalsink/vitalsink/internal/metrics"
	"github.com/vitalsink/vitalsink/internal/stats"
	"github.com/vitalsink/vitalsink/internal/store"
	"github.com/vitalsink/vitalsink/internal/tracing"
)

// analyticsType tags every stored bundle.
const analyticsType = "biometric"

// Window is one analytics time range.
type Window struct {
	Name string
	Days int
}

// Windows returns the ranges every job computes, shortest first.
func Windows() []Window {
	return []Window{
		{Name: "week", Days: 7},
		{Name: "month", Days: 30},
		{Name: "quarter", Days: 90},
	}
}

// Options tune the processor loop.
type Options struct {
	PollInterval           time.Duration
	BackoffCap             time.Duration
	MaxConsecutiveFailures int
	BatchLimit             int
}

// Processor claims pending analytics jobs and runs them one at a time.
type Processor struct {
	store     store.Store
	extractor *extract.Extractor
	opts      Options
	log       zerolog.Logger
	now       func() time.Time
}

func NewProcessor(st store.Store, ex *extract.Extractor, opts Options, log zerolog.Logger) *Processor {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Minute
	}
	if opts.BackoffCap <= 0 {
		opts.BackoffCap = time.Minute
	}
	if opts.MaxConsecutiveFailures <= 0 {
		opts.MaxConsecutiveFailures = 5
	}
	if opts.BatchLimit <= 0 {
		opts.BatchLimit = 50
	}
	return &Processor{
		store:     st,
		extractor: ex,
		opts:      opts,
		log:       log,
		now:       time.Now,
	}
}

// Run polls for pending jobs until the context is canceled. A failed cycle
// backs off exponentially; after MaxConsecutiveFailures in a row the loop
// gives up and returns the last error.
func (p *Processor) Run(ctx context.Context) error {
	p.log.Info().
		Dur("poll_interval", p.opts.PollInterval).
		Int("batch_limit", p.opts.BatchLimit).
		Msg("analytics processor started")

	consecutive := 0
	for {
		processed, err := p.RunOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if apperror.Fatal(err) {
				return fmt.Errorf("unrecoverable configuration error: %w", err)
			}
			consecutive++
			p.log.Error().
				Err(err).
				Int("consecutive_failures", consecutive).
				Msg("processing cycle failed")
			if consecutive >= p.opts.MaxConsecutiveFailures {
				return fmt.Errorf("%d consecutive cycle failures, giving up: %w", consecutive, err)
			}
			if !p.sleep(ctx, p.backoff(consecutive)) {
				return ctx.Err()
			}
			continue
		}

		consecutive = 0
		if processed > 0 {
			p.log.Info().Int("jobs", processed).Msg("cycle complete")
		}
		if !p.sleep(ctx, p.opts.PollInterval) {
			return ctx.Err()
		}
	}
}

// RunOnce claims one batch of pending jobs and processes each in queue
// order. Individual job failures are recorded on the job row and do not
// fail the cycle; only queue access errors do.
func (p *Processor) RunOnce(ctx context.Context) (int, error) {
	pending, err := p.store.PendingJobs(ctx, p.opts.BatchLimit)
	if err != nil {
		return 0, fmt.Errorf("listing pending jobs: %w", err)
	}

	for i, job := range pending {
		if ctx.Err() != nil {
			return i, ctx.Err()
		}
		if err := p.Process(ctx, job); err != nil {
			p.log.Error().
				Err(err).
				Int64("job_id", job.ID).
				Int64("user_id", job.UserID).
				Msg("job failed")
		}
	}

	p.refreshPendingGauge(ctx)
	return len(pending), nil
}

// Process runs a single job through every window and stores the outcome on
// the job row. The job completes when at least one window produced results;
// windows without data are skipped, windows that error are logged and the
// remaining ones still run.
func (p *Processor) Process(ctx context.Context, job store.AnalyticsJob) error {
	ctx, span := tracing.StartJobSpan(ctx, job.ID, job.UserID)
	defer span.End()

	ctx = logger.WithUserID(logger.WithJobID(ctx, job.ID), job.UserID)
	log := logger.FromContext(ctx)
	log.Info("job started")
	start := p.now()

	if err := p.store.UpdateJobStatus(ctx, job.ID, store.JobStatusProcessing); err != nil {
		return fmt.Errorf("claiming job %d: %w", job.ID, err)
	}

	computed := 0
	var windowErr error
	for _, w := range Windows() {
		stored, err := p.computeWindow(ctx, job.UserID, w)
		if err != nil {
			log.Error("window computation failed", "time_range", w.Name, "error", err)
			if windowErr == nil {
				windowErr = err
			}
			continue
		}
		if stored {
			computed++
		}
	}

	if computed == 0 {
		cause := windowErr
		if cause == nil {
			cause = apperror.ErrNoWindowData
		}
		if err := p.store.UpdateJobStatus(ctx, job.ID, store.JobStatusFailed); err != nil {
			log.Error("marking job failed", "error", err)
		}
		metrics.RecordJobProcessed(string(store.JobStatusFailed), p.now().Sub(start).Seconds())
		tracing.RecordError(ctx, cause)
		log.Warn("job failed", "duration_ms", p.now().Sub(start).Milliseconds(), "error", cause)
		return apperror.Wrap(cause, apperror.ErrJobFailed)
	}

	if err := p.store.UpdateJobStatus(ctx, job.ID, store.JobStatusCompleted); err != nil {
		return fmt.Errorf("completing job %d: %w", job.ID, err)
	}
	metrics.RecordJobProcessed(string(store.JobStatusCompleted), p.now().Sub(start).Seconds())
	log.Info("job completed",
		"windows", computed,
		"duration_ms", p.now().Sub(start).Milliseconds())
	return nil
}

// computeWindow extracts the user's daily series over one window and stores
// the per-day values plus the statistics bundle. It reports false without
// error when the window holds no data.
func (p *Processor) computeWindow(ctx context.Context, userID int64, w Window) (bool, error) {
	ctx, span := tracing.StartWindowSpan(ctx, w.Name, w.Days)
	defer span.End()
	start := p.now()

	end := p.now().UTC()
	from := end.AddDate(0, 0, -w.Days)

	series, err := p.extractor.Window(ctx, userID, from, end)
	if err != nil {
		return false, fmt.Errorf("extracting %s window: %w", w.Name, err)
	}
	metrics.RecordJobStage("extract", p.now().Sub(start).Seconds())
	if series.Empty() {
		return false, nil
	}

	names := p.extractor.Rules().Names()

	storeStart := p.now()
	points := detailPoints(userID, names, series)
	if err := p.store.UpsertDetailedMetrics(ctx, points); err != nil {
		return false, fmt.Errorf("storing %s detailed metrics: %w", w.Name, err)
	}
	metrics.RecordJobStage("store_detailed", p.now().Sub(storeStart).Seconds())

	statsStart := p.now()
	bundle := stats.Bundle(names, series.Days, series.Metrics)
	payload, err := json.Marshal(bundle)
	if err != nil {
		return false, fmt.Errorf("encoding %s analytics: %w", w.Name, err)
	}
	metrics.RecordJobStage("compute_stats", p.now().Sub(statsStart).Seconds())

	result := store.AnalyticsResult{
		UserID:        userID,
		AnalyticsType: analyticsType,
		TimeRange:     w.Name,
		StartDate:     dateOnly(from),
		EndDate:       dateOnly(end),
		Metrics:       payload,
	}
	if err := p.store.UpsertAnalyticsResult(ctx, result); err != nil {
		return false, fmt.Errorf("storing %s analytics: %w", w.Name, err)
	}

	metrics.RecordWindow(w.Name, p.now().Sub(start).Seconds())
	metrics.RecordAnalyticsResult(w.Name)
	return true, nil
}

// detailPoints flattens a day series into detailed metric rows, day-major
// in rule order. Rows are keyed per day, so overlapping windows recompute
// the same rows rather than multiplying them.
func detailPoints(userID int64, names []string, series *extract.DaySeries) []store.DetailedMetric {
	var points []store.DetailedMetric
	for _, day := range series.Days {
		date, err := time.Parse("2006-01-02", day)
		if err != nil {
			continue
		}
		for _, name := range names {
			v, ok := series.Metrics[name][day]
			if !ok {
				continue
			}
			points = append(points, store.DetailedMetric{
				UserID:     userID,
				MetricDate: date,
				MetricName: name,
				Value:      v,
			})
		}
	}
	return points
}

func (p *Processor) refreshPendingGauge(ctx context.Context) {
	counts, err := p.store.CountJobsByStatus(ctx)
	if err != nil {
		return
	}
	metrics.SetJobsPending(counts[store.JobStatusPending])
}

// backoff grows 2^n seconds with up to a second of jitter, capped.
func (p *Processor) backoff(consecutive int) time.Duration {
	d := time.Duration(1<<uint(consecutive)) * time.Second
	if d > p.opts.BackoffCap {
		d = p.opts.BackoffCap
	}
	return d + time.Duration(rand.Int63n(int64(time.Second)))
}

func (p *Processor) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
