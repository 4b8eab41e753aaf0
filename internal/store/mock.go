package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of Store for testing. It mirrors
// the conflict-target semantics of the SQL schema and is safe for concurrent
// use.
type MemoryStore struct {
	mu sync.RWMutex

	users      map[string]int64
	nextUserID int64

	biometric map[string]BiometricRow
	nextRowID int64

	jobs      []AnalyticsJob
	nextJobID int64

	detailed  map[string]DetailedMetric
	analytics map[string]AnalyticsResult
	metadata  map[string]MetricMetadata

	ingestRuns []IngestRun

	triggers      []FetchTrigger
	nextTriggerID int64
}

// Ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[string]int64),
		biometric: make(map[string]BiometricRow),
		detailed:  make(map[string]DetailedMetric),
		analytics: make(map[string]AnalyticsResult),
		metadata:  make(map[string]MetricMetadata),
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryStore) Close() {}

func (s *MemoryStore) EnsureUser(ctx context.Context, email string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.users[email]; ok {
		return id, nil
	}
	s.nextUserID++
	s.users[email] = s.nextUserID
	return s.nextUserID, nil
}

func biometricKey(r BiometricRow) string {
	return fmt.Sprintf("%d|%d|%s|%s", r.UserID, r.Timestamp.UTC().UnixNano(), r.DataType, r.MetricName)
}

func (s *MemoryStore) UpsertBiometricRows(ctx context.Context, rows []BiometricRow) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for _, r := range rows {
		key := biometricKey(r)
		if existing, ok := s.biometric[key]; ok {
			existing.Value = r.Value
			existing.RawData = r.RawData
			existing.CreatedAt = now
			s.biometric[key] = existing
			continue
		}
		s.nextRowID++
		r.ID = s.nextRowID
		r.CreatedAt = now
		s.biometric[key] = r
	}
	return nil
}

func (s *MemoryStore) BiometricRange(ctx context.Context, userID int64, from, to time.Time) ([]BiometricRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []BiometricRow
	for _, r := range s.biometric {
		if r.UserID != userID {
			continue
		}
		if r.Timestamp.Before(from) || !r.Timestamp.Before(to) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) OldestBiometricRows(ctx context.Context, cutoff time.Time, limit int) ([]BiometricRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []BiometricRow
	for _, r := range s.biometric {
		if r.Timestamp.Before(cutoff) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) DeleteBiometricRows(ctx context.Context, ids []int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[int64]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}

	var deleted int64
	for key, r := range s.biometric {
		if wanted[r.ID] {
			delete(s.biometric, key)
			deleted++
		}
	}
	return deleted, nil
}

func (s *MemoryStore) EnqueueJob(ctx context.Context, userID int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextJobID++
	now := time.Now().UTC()
	s.jobs = append(s.jobs, AnalyticsJob{
		ID:        s.nextJobID,
		UserID:    userID,
		Status:    JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	})
	return s.nextJobID, nil
}

func (s *MemoryStore) PendingJobs(ctx context.Context, limit int) ([]AnalyticsJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []AnalyticsJob
	for _, j := range s.jobs {
		if j.Status != JobStatusPending {
			continue
		}
		out = append(out, j)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) RecentJobs(ctx context.Context, limit int) ([]AnalyticsJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []AnalyticsJob
	for i := len(s.jobs) - 1; i >= 0; i-- {
		out = append(out, s.jobs[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdateJobStatus(ctx context.Context, jobID int64, status JobStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.jobs {
		if s.jobs[i].ID == jobID {
			s.jobs[i].Status = status
			s.jobs[i].UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return ErrJobNotFound
}

func (s *MemoryStore) CountJobsByStatus(ctx context.Context) (map[JobStatus]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[JobStatus]int64)
	for _, j := range s.jobs {
		counts[j.Status]++
	}
	return counts, nil
}

func detailedKey(m DetailedMetric) string {
	return fmt.Sprintf("%d|%s|%s", m.UserID, m.MetricDate.UTC().Format("2006-01-02"), m.MetricName)
}

func (s *MemoryStore) UpsertDetailedMetrics(ctx context.Context, points []DetailedMetric) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for _, p := range points {
		p.CreatedAt = now
		s.detailed[detailedKey(p)] = p
	}
	return nil
}

func (s *MemoryStore) DetailedMetricsRange(ctx context.Context, userID int64, from, to time.Time) ([]DetailedMetric, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	fromDay := from.UTC().Format("2006-01-02")
	toDay := to.UTC().Format("2006-01-02")

	var out []DetailedMetric
	for _, m := range s.detailed {
		if m.UserID != userID {
			continue
		}
		day := m.MetricDate.UTC().Format("2006-01-02")
		if day < fromDay || day > toDay {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].MetricDate.Equal(out[j].MetricDate) {
			return out[i].MetricDate.Before(out[j].MetricDate)
		}
		return out[i].MetricName < out[j].MetricName
	})
	return out, nil
}

func analyticsKey(r AnalyticsResult) string {
	return fmt.Sprintf("%d|%s|%s|%s|%s", r.UserID, r.AnalyticsType, r.TimeRange,
		r.StartDate.UTC().Format("2006-01-02"), r.EndDate.UTC().Format("2006-01-02"))
}

func (s *MemoryStore) UpsertAnalyticsResult(ctx context.Context, res AnalyticsResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res.CreatedAt = time.Now().UTC()
	s.analytics[analyticsKey(res)] = res
	return nil
}

func (s *MemoryStore) AnalyticsResults(ctx context.Context, userID int64, analyticsType string) ([]AnalyticsResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []AnalyticsResult
	for _, r := range s.analytics {
		if r.UserID == userID && r.AnalyticsType == analyticsType {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TimeRange != out[j].TimeRange {
			return out[i].TimeRange < out[j].TimeRange
		}
		return out[i].EndDate.After(out[j].EndDate)
	})
	return out, nil
}

func (s *MemoryStore) SeedMetricMetadata(ctx context.Context, entries []MetricMetadata) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := 0
	for _, e := range entries {
		if _, ok := s.metadata[e.MetricName]; ok {
			continue
		}
		s.metadata[e.MetricName] = e
		inserted++
	}
	return inserted, nil
}

func (s *MemoryStore) MetricMetadataCatalog(ctx context.Context) ([]MetricMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []MetricMetadata
	for _, m := range s.metadata {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].MetricName < out[j].MetricName
	})
	return out, nil
}

func (s *MemoryStore) RecordIngestRun(ctx context.Context, run IngestRun) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.ingestRuns = append(s.ingestRuns, run)
	return nil
}

// IngestRuns returns recorded runs in insertion order. Test helper.
func (s *MemoryStore) IngestRuns() []IngestRun {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]IngestRun, len(s.ingestRuns))
	copy(out, s.ingestRuns)
	return out
}

func (s *MemoryStore) EnqueueFetchTrigger(ctx context.Context, userID int64, daysBack int) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextTriggerID++
	s.triggers = append(s.triggers, FetchTrigger{
		ID:          s.nextTriggerID,
		UserID:      userID,
		DaysBack:    daysBack,
		Status:      JobStatusPending,
		RequestedAt: time.Now().UTC(),
	})
	return s.nextTriggerID, nil
}

func (s *MemoryStore) PendingFetchTriggers(ctx context.Context, limit int) ([]FetchTrigger, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []FetchTrigger
	for _, t := range s.triggers {
		if t.Status != JobStatusPending {
			continue
		}
		out = append(out, t)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdateFetchTriggerStatus(ctx context.Context, id int64, status JobStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.triggers {
		if s.triggers[i].ID == id {
			s.triggers[i].Status = status
			return nil
		}
	}
	return ErrTriggerNotFound
}
