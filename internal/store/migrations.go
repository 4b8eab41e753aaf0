package store

import (
	"context"
	"fmt"

	"github.com/vitalsink/vitalsink/internal/logger"
)

// migrations are applied in order and must stay idempotent.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		email VARCHAR(255) UNIQUE NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS biometric_data (
		id BIGSERIAL,
		user_id BIGINT NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL,
		data_type VARCHAR(50) NOT NULL,
		metric_name VARCHAR(100) NOT NULL,
		value JSONB,
		raw_data JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (id, timestamp),
		UNIQUE (user_id, timestamp, data_type, metric_name)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_biometric_user_type_time
		ON biometric_data (user_id, data_type, timestamp DESC)`,

	`CREATE TABLE IF NOT EXISTS analytics_jobs (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_analytics_jobs_status
		ON analytics_jobs (status, created_at)`,

	`CREATE TABLE IF NOT EXISTS detailed_metrics (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL,
		metric_date DATE NOT NULL,
		metric_name VARCHAR(100) NOT NULL,
		value DOUBLE PRECISION NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (user_id, metric_date, metric_name)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_detailed_metrics_lookup
		ON detailed_metrics (user_id, metric_date DESC)`,

	`CREATE TABLE IF NOT EXISTS user_analytics (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL,
		analytics_type VARCHAR(50) NOT NULL,
		time_range VARCHAR(20) NOT NULL,
		start_date DATE NOT NULL,
		end_date DATE NOT NULL,
		metrics JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (user_id, analytics_type, time_range, start_date, end_date)
	)`,

	`CREATE TABLE IF NOT EXISTS analytics_metrics_metadata (
		id SERIAL PRIMARY KEY,
		metric_name VARCHAR(100) NOT NULL,
		display_name VARCHAR(100) NOT NULL,
		description TEXT,
		unit VARCHAR(20),
		data_type VARCHAR(20) NOT NULL,
		visualization_type VARCHAR(20) DEFAULT 'line',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (metric_name)
	)`,

	`CREATE TABLE IF NOT EXISTS ingest_runs (
		id BIGSERIAL PRIMARY KEY,
		run_id VARCHAR(36) NOT NULL,
		user_id BIGINT NOT NULL,
		status VARCHAR(20) NOT NULL,
		days_back INT NOT NULL,
		rows_stored BIGINT NOT NULL DEFAULT 0,
		error TEXT,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS fetch_triggers (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL,
		days_back INT NOT NULL DEFAULT 1,
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		requested_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_fetch_triggers_status
		ON fetch_triggers (status, requested_at)`,
}

// Migrate creates the schema if it is missing. Hypertable conversion needs
// the timescaledb extension; on plain PostgreSQL the conversion fails and the
// table stays a regular table, which every query here tolerates.
func (s *PGStore) Migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}

	if _, err := s.pool.Exec(ctx, `SELECT create_hypertable('biometric_data', 'timestamp', if_not_exists => TRUE)`); err != nil {
		logger.FromContext(ctx).Warn("hypertable conversion skipped", "error", err)
	}

	return nil
}
