package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore is the PostgreSQL/TimescaleDB implementation of Store backed by a
// pgx connection pool. The pool is owned by the caller.
type PGStore struct {
	pool *pgxpool.Pool
}

// Ensure PGStore implements Store
var _ Store = (*PGStore)(nil)

// NewPG wraps an existing pool.
func NewPG(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PGStore) Close() {
	s.pool.Close()
}

func (s *PGStore) EnsureUser(ctx context.Context, email string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (email)
		VALUES ($1)
		ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
		RETURNING id
	`, email).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ensure user: %w", err)
	}
	return id, nil
}

const upsertBiometricSQL = `
	INSERT INTO biometric_data (user_id, timestamp, data_type, metric_name, value, raw_data)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (user_id, timestamp, data_type, metric_name)
	DO UPDATE SET value = EXCLUDED.value, raw_data = EXCLUDED.raw_data, created_at = NOW()
`

func (s *PGStore) UpsertBiometricRows(ctx context.Context, rows []BiometricRow) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin biometric upsert: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(upsertBiometricSQL, r.UserID, r.Timestamp, r.DataType, r.MetricName, r.Value, r.RawData)
	}

	br := tx.SendBatch(ctx, batch)
	for range rows {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("upsert biometric row: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close biometric batch: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *PGStore) BiometricRange(ctx context.Context, userID int64, from, to time.Time) ([]BiometricRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, timestamp, data_type, metric_name, value, raw_data, created_at
		FROM biometric_data
		WHERE user_id = $1 AND timestamp >= $2 AND timestamp < $3
		ORDER BY timestamp DESC
	`, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query biometric range: %w", err)
	}
	defer rows.Close()

	return scanBiometricRows(rows)
}

func (s *PGStore) OldestBiometricRows(ctx context.Context, cutoff time.Time, limit int) ([]BiometricRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, timestamp, data_type, metric_name, value, raw_data, created_at
		FROM biometric_data
		WHERE timestamp < $1
		ORDER BY timestamp ASC
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("query oldest biometric rows: %w", err)
	}
	defer rows.Close()

	return scanBiometricRows(rows)
}

func scanBiometricRows(rows pgx.Rows) ([]BiometricRow, error) {
	var out []BiometricRow
	for rows.Next() {
		var r BiometricRow
		if err := rows.Scan(&r.ID, &r.UserID, &r.Timestamp, &r.DataType, &r.MetricName, &r.Value, &r.RawData, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan biometric row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PGStore) DeleteBiometricRows(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM biometric_data WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("delete biometric rows: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PGStore) EnqueueJob(ctx context.Context, userID int64) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO analytics_jobs (user_id, status)
		VALUES ($1, 'pending')
		RETURNING id
	`, userID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("enqueue job: %w", err)
	}
	return id, nil
}

func (s *PGStore) PendingJobs(ctx context.Context, limit int) ([]AnalyticsJob, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, status, created_at, updated_at
		FROM analytics_jobs
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending jobs: %w", err)
	}
	defer rows.Close()

	return scanJobs(rows)
}

func (s *PGStore) RecentJobs(ctx context.Context, limit int) ([]AnalyticsJob, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, status, created_at, updated_at
		FROM analytics_jobs
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent jobs: %w", err)
	}
	defer rows.Close()

	return scanJobs(rows)
}

func scanJobs(rows pgx.Rows) ([]AnalyticsJob, error) {
	var out []AnalyticsJob
	for rows.Next() {
		var j AnalyticsJob
		if err := rows.Scan(&j.ID, &j.UserID, &j.Status, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *PGStore) UpdateJobStatus(ctx context.Context, jobID int64, status JobStatus) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE analytics_jobs
		SET status = $2, updated_at = NOW()
		WHERE id = $1
	`, jobID, status)
	if err != nil {
		return fmt.Errorf("update job %d: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (s *PGStore) CountJobsByStatus(ctx context.Context) (map[JobStatus]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT status, COUNT(*)
		FROM analytics_jobs
		GROUP BY status
	`)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[JobStatus]int64)
	for rows.Next() {
		var status JobStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan job count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

const upsertDetailedMetricSQL = `
	INSERT INTO detailed_metrics (user_id, metric_date, metric_name, value)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (user_id, metric_date, metric_name)
	DO UPDATE SET value = EXCLUDED.value, created_at = NOW()
`

func (s *PGStore) UpsertDetailedMetrics(ctx context.Context, points []DetailedMetric) error {
	if len(points) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin detailed metric upsert: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, p := range points {
		batch.Queue(upsertDetailedMetricSQL, p.UserID, p.MetricDate, p.MetricName, p.Value)
	}

	br := tx.SendBatch(ctx, batch)
	for range points {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("upsert detailed metric: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close detailed metric batch: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *PGStore) DetailedMetricsRange(ctx context.Context, userID int64, from, to time.Time) ([]DetailedMetric, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, metric_date, metric_name, value, created_at
		FROM detailed_metrics
		WHERE user_id = $1 AND metric_date BETWEEN $2 AND $3
		ORDER BY metric_date ASC, metric_name ASC
	`, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query detailed metrics: %w", err)
	}
	defer rows.Close()

	var out []DetailedMetric
	for rows.Next() {
		var m DetailedMetric
		if err := rows.Scan(&m.UserID, &m.MetricDate, &m.MetricName, &m.Value, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan detailed metric: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PGStore) UpsertAnalyticsResult(ctx context.Context, res AnalyticsResult) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_analytics (user_id, analytics_type, time_range, start_date, end_date, metrics)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, analytics_type, time_range, start_date, end_date)
		DO UPDATE SET metrics = EXCLUDED.metrics, created_at = NOW()
	`, res.UserID, res.AnalyticsType, res.TimeRange, res.StartDate, res.EndDate, res.Metrics)
	if err != nil {
		return fmt.Errorf("upsert analytics result: %w", err)
	}
	return nil
}

func (s *PGStore) AnalyticsResults(ctx context.Context, userID int64, analyticsType string) ([]AnalyticsResult, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, analytics_type, time_range, start_date, end_date, metrics, created_at
		FROM user_analytics
		WHERE user_id = $1 AND analytics_type = $2
		ORDER BY time_range ASC, end_date DESC
	`, userID, analyticsType)
	if err != nil {
		return nil, fmt.Errorf("query analytics results: %w", err)
	}
	defer rows.Close()

	var out []AnalyticsResult
	for rows.Next() {
		var r AnalyticsResult
		if err := rows.Scan(&r.UserID, &r.AnalyticsType, &r.TimeRange, &r.StartDate, &r.EndDate, &r.Metrics, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan analytics result: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PGStore) SeedMetricMetadata(ctx context.Context, entries []MetricMetadata) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin metadata seed: %w", err)
	}
	defer tx.Rollback(ctx)

	inserted := 0
	for _, e := range entries {
		tag, err := tx.Exec(ctx, `
			INSERT INTO analytics_metrics_metadata
				(metric_name, display_name, description, unit, data_type, visualization_type)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (metric_name) DO NOTHING
		`, e.MetricName, e.DisplayName, e.Description, e.Unit, e.DataType, e.Visualization)
		if err != nil {
			return 0, fmt.Errorf("seed metadata %s: %w", e.MetricName, err)
		}
		inserted += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return inserted, nil
}

func (s *PGStore) MetricMetadataCatalog(ctx context.Context) ([]MetricMetadata, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT metric_name, display_name, description, unit, data_type, visualization_type
		FROM analytics_metrics_metadata
		ORDER BY metric_name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query metadata catalog: %w", err)
	}
	defer rows.Close()

	var out []MetricMetadata
	for rows.Next() {
		var m MetricMetadata
		if err := rows.Scan(&m.MetricName, &m.DisplayName, &m.Description, &m.Unit, &m.DataType, &m.Visualization); err != nil {
			return nil, fmt.Errorf("scan metadata: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PGStore) RecordIngestRun(ctx context.Context, run IngestRun) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ingest_runs (run_id, user_id, status, days_back, rows_stored, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, run.RunID, run.UserID, run.Status, run.DaysBack, run.RowsStored, run.Error, run.StartedAt, run.FinishedAt)
	if err != nil {
		return fmt.Errorf("record ingest run: %w", err)
	}
	return nil
}

func (s *PGStore) EnqueueFetchTrigger(ctx context.Context, userID int64, daysBack int) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO fetch_triggers (user_id, days_back, status)
		VALUES ($1, $2, 'pending')
		RETURNING id
	`, userID, daysBack).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("enqueue fetch trigger: %w", err)
	}
	return id, nil
}

func (s *PGStore) PendingFetchTriggers(ctx context.Context, limit int) ([]FetchTrigger, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, days_back, status, requested_at
		FROM fetch_triggers
		WHERE status = 'pending'
		ORDER BY requested_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query fetch triggers: %w", err)
	}
	defer rows.Close()

	var out []FetchTrigger
	for rows.Next() {
		var t FetchTrigger
		if err := rows.Scan(&t.ID, &t.UserID, &t.DaysBack, &t.Status, &t.RequestedAt); err != nil {
			return nil, fmt.Errorf("scan fetch trigger: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PGStore) UpdateFetchTriggerStatus(ctx context.Context, id int64, status JobStatus) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE fetch_triggers
		SET status = $2
		WHERE id = $1
	`, id, status)
	if err != nil {
		return fmt.Errorf("update fetch trigger %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTriggerNotFound
	}
	return nil
}
