// Package ingest runs the fetch cycle: every family for every trailing day
// is fetched from the source, normalized and upserted, and an analytics job
// is enqueued for each user that received rows.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vitalsink/vitalsink/internal/apperror"
	"github.com/vitalsink/vitalsink/internal/logger"
	"github.com/vitalsink/vitalsink/internal/metrics"
	"github.com/vitalsink/vitalsink/internal/normalize"
	"github.com/vitalsink/vitalsink/internal/source"
	"github.com/vitalsink/vitalsink/internal/store"
	"github.com/vitalsink/vitalsink/internal/tracing"
)

// Service orchestrates fetch cycles for a set of users.
type Service struct {
	store            store.Store
	clients          source.Factory
	triggersPerCycle int

	now func() time.Time
}

func New(st store.Store, clients source.Factory, triggersPerCycle int) *Service {
	if triggersPerCycle <= 0 {
		triggersPerCycle = 5
	}
	return &Service{
		store:            st,
		clients:          clients,
		triggersPerCycle: triggersPerCycle,
		now:              time.Now,
	}
}

// RunSweep drains pending fetch triggers, then runs the scheduled cycle for
// every configured user. A cooldown aborts the sweep: every remaining fetch
// would short-circuit anyway.
func (s *Service) RunSweep(ctx context.Context, userIDs []int64, daysBack int) error {
	if err := s.DrainTriggers(ctx); err != nil {
		if apperror.Is(err, apperror.ErrSourceRateLimited) {
			return err
		}
		logger.FromContext(ctx).Error("trigger drain failed", "error", err)
	}

	for _, userID := range userIDs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := s.RunCycle(ctx, userID, daysBack); err != nil {
			if apperror.Is(err, apperror.ErrSourceRateLimited) {
				logger.FromContext(ctx).Warn("sweep aborted by source cooldown", "user_id", userID)
				return err
			}
			logger.FromContext(ctx).Error("cycle failed", "user_id", userID, "error", err)
		}
	}
	return nil
}

// RunCycle fetches every family for the user's trailing days, newest day
// first, and stores what the source returned. It reports the number of rows
// written and enqueues one analytics job when that number is positive.
func (s *Service) RunCycle(ctx context.Context, userID int64, daysBack int) (int64, error) {
	if daysBack < 1 {
		daysBack = 1
	}

	runID := uuid.NewString()
	ctx, span := tracing.StartIngestSpan(ctx, userID, runID)
	defer span.End()
	ctx = logger.WithUserID(logger.WithRunID(ctx, runID), userID)
	log := logger.FromContext(ctx)
	log.Info("fetch cycle started", "days_back", daysBack)

	started := s.now()
	client := s.clients(userID)
	today := dateOnly(started)

	var (
		totalRows   int64
		fetchErrs   int
		rateLimited bool
		firstErr    error
	)

	for i := 0; i < daysBack; i++ {
		day := today.AddDate(0, 0, -i)
		for _, family := range client.Families() {
			if ctx.Err() != nil {
				return totalRows, ctx.Err()
			}

			fetchCtx, fetchSpan := tracing.StartFetchSpan(ctx, family.String(), day.Format("2006-01-02"))
			payload, err := client.Fetch(fetchCtx, family, day)
			if err != nil {
				tracing.RecordError(fetchCtx, err)
			}
			fetchSpan.End()
			if err != nil {
				if apperror.Is(err, apperror.ErrSourceRateLimited) {
					rateLimited = true
				} else {
					fetchErrs++
				}
				if firstErr == nil {
					firstErr = err
				}
				fctx := logger.WithLogger(ctx, log.With(
					"family", family.String(),
					"day", day.Format("2006-01-02")))
				apperror.Log(fctx, err, "fetch failed")
				continue
			}
			if payload == nil {
				continue
			}

			rows, err := s.storePayload(ctx, userID, day, family, payload)
			if err != nil {
				fetchErrs++
				if firstErr == nil {
					firstErr = err
				}
				fctx := logger.WithLogger(ctx, log.With(
					"family", family.String(),
					"day", day.Format("2006-01-02")))
				apperror.Log(fctx, err, "storing rows failed")
				continue
			}
			totalRows += rows
		}
	}

	status := cycleStatus(totalRows, fetchErrs, rateLimited)
	run := store.IngestRun{
		RunID:      runID,
		UserID:     userID,
		Status:     status,
		DaysBack:   daysBack,
		RowsStored: totalRows,
		StartedAt:  started,
		FinishedAt: s.now(),
	}
	if firstErr != nil && status != store.IngestStatusOK {
		run.Error = firstErr.Error()
	}
	if err := s.store.RecordIngestRun(ctx, run); err != nil {
		log.Error("recording ingest run failed", "error", err)
	}
	metrics.RecordIngestCycle(status)

	if totalRows > 0 {
		jobID, err := s.store.EnqueueJob(ctx, userID)
		if err != nil {
			return totalRows, fmt.Errorf("enqueueing analytics job: %w", err)
		}
		log.Info("fetch cycle complete",
			"status", status,
			"rows", totalRows,
			"job_id", jobID,
			"duration_ms", s.now().Sub(started).Milliseconds())
		return totalRows, nil
	}

	log.Info("fetch cycle complete",
		"status", status,
		"rows", totalRows,
		"duration_ms", s.now().Sub(started).Milliseconds())

	switch status {
	case store.IngestStatusRateLimited:
		return 0, firstErr
	case store.IngestStatusError:
		return 0, fmt.Errorf("cycle stored nothing: %w", firstErr)
	default:
		return 0, nil
	}
}

// storePayload normalizes one family payload and upserts its rows.
func (s *Service) storePayload(ctx context.Context, userID int64, day time.Time, family source.Family, payload any) (int64, error) {
	start := s.now()
	res := normalize.Payload(userID, day, family.String(), payload)
	metrics.RecordNormalize(family.String(), len(res.Rows), res.Skipped, s.now().Sub(start).Seconds())

	if res.Skipped > 0 {
		logger.FromContext(ctx).Warn("payload fragments skipped",
			"family", family.String(), "skipped", res.Skipped)
	}
	if len(res.Rows) == 0 {
		return 0, nil
	}

	if err := s.store.UpsertBiometricRows(ctx, res.Rows); err != nil {
		return 0, err
	}
	metrics.RecordIngestRows(family.String(), int64(len(res.Rows)))
	return int64(len(res.Rows)), nil
}

// DrainTriggers serves queued on-demand fetch requests, oldest first, up to
// the per-cycle budget.
func (s *Service) DrainTriggers(ctx context.Context) error {
	triggers, err := s.store.PendingFetchTriggers(ctx, s.triggersPerCycle)
	if err != nil {
		return fmt.Errorf("listing fetch triggers: %w", err)
	}

	log := logger.FromContext(ctx)
	for _, trig := range triggers {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := s.store.UpdateFetchTriggerStatus(ctx, trig.ID, store.JobStatusProcessing); err != nil {
			log.Error("claiming trigger failed", "trigger_id", trig.ID, "error", err)
			continue
		}

		rows, err := s.RunCycle(ctx, trig.UserID, trig.DaysBack)
		if err != nil {
			if uerr := s.store.UpdateFetchTriggerStatus(ctx, trig.ID, store.JobStatusFailed); uerr != nil {
				log.Error("marking trigger failed", "trigger_id", trig.ID, "error", uerr)
			}
			metrics.RecordTrigger(string(store.JobStatusFailed))
			if apperror.Is(err, apperror.ErrSourceRateLimited) {
				return err
			}
			log.Error("trigger cycle failed", "trigger_id", trig.ID, "user_id", trig.UserID, "error", err)
			continue
		}

		if err := s.store.UpdateFetchTriggerStatus(ctx, trig.ID, store.JobStatusCompleted); err != nil {
			log.Error("marking trigger completed", "trigger_id", trig.ID, "error", err)
			continue
		}
		metrics.RecordTrigger(string(store.JobStatusCompleted))
		log.Info("trigger served", "trigger_id", trig.ID, "user_id", trig.UserID, "rows", rows)
	}
	return nil
}

func cycleStatus(rows int64, errs int, rateLimited bool) string {
	switch {
	case rows > 0:
		return store.IngestStatusOK
	case rateLimited:
		return store.IngestStatusRateLimited
	case errs > 0:
		return store.IngestStatusError
	default:
		return store.IngestStatusNoData
	}
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
