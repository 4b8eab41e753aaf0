package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vitalsink/vitalsink/internal/apperror"
)

type Config struct {
	Environment string
	LogLevel    string

	DatabaseURL string
	RedisURL    string

	// Telemetry source
	SourceBaseURL     string
	SourceEmail       string
	SourcePassword    string
	SourceMock        bool
	SessionMaxAge     time.Duration
	RateLimitCooldown time.Duration
	FetchMaxAttempts  int
	FetchBaseDelay    time.Duration
	FetchCallDelay    time.Duration

	// Ingestion
	UserIDs          []int64
	IngestSchedule   string
	IngestLookback   int
	TriggersPerCycle int

	// Analytics processor
	PollInterval           time.Duration
	BackoffCap             time.Duration
	MaxConsecutiveFailures int
	JobBatchLimit          int

	// Extraction
	ExtractRulesPath string

	// Archival
	ArchiveRetentionDays int
	ArchiveBatchSize     int
	MinIOEndpoint        string
	MinIOAccessKey       string
	MinIOSecretKey       string
	MinIOBucket          string
	MinIOUseSSL          bool
	MinIORegion          string

	MetricsAddr string

	OTLPEndpoint string
}

func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, apperror.ErrMissingDatabaseURL
	}

	// Redis is optional: the source state store falls back to its in-memory
	// implementation when unset.
	cfg.RedisURL = os.Getenv("REDIS_URL")

	cfg.SourceBaseURL = os.Getenv("SOURCE_BASE_URL")
	cfg.SourceEmail = os.Getenv("SOURCE_EMAIL")
	cfg.SourcePassword = os.Getenv("SOURCE_PASSWORD")
	cfg.SourceMock = getEnvBool("SOURCE_MOCK", false)

	cfg.SessionMaxAge, err = getEnvDuration("SESSION_MAX_AGE", "30m")
	if err != nil {
		return nil, fmt.Errorf("invalid SESSION_MAX_AGE: %w", err)
	}
	cfg.RateLimitCooldown, err = getEnvDuration("RATE_LIMIT_COOLDOWN", "3700s")
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_COOLDOWN: %w", err)
	}
	cfg.FetchMaxAttempts = getEnvInt("FETCH_MAX_ATTEMPTS", 2)
	cfg.FetchBaseDelay, err = getEnvDuration("FETCH_BASE_DELAY", "60s")
	if err != nil {
		return nil, fmt.Errorf("invalid FETCH_BASE_DELAY: %w", err)
	}
	cfg.FetchCallDelay, err = getEnvDuration("FETCH_CALL_DELAY", "2s")
	if err != nil {
		return nil, fmt.Errorf("invalid FETCH_CALL_DELAY: %w", err)
	}

	cfg.UserIDs, err = getEnvInt64List("USER_IDS", "1")
	if err != nil {
		return nil, fmt.Errorf("invalid USER_IDS: %w", err)
	}
	cfg.IngestSchedule = getEnvString("INGEST_SCHEDULE", "0 * * * *")
	cfg.IngestLookback = getEnvInt("INGEST_LOOKBACK_DAYS", 2)
	cfg.TriggersPerCycle = getEnvInt("TRIGGERS_PER_CYCLE", 5)

	cfg.PollInterval, err = getEnvDuration("ANALYTICS_POLL_INTERVAL", "5m")
	if err != nil {
		return nil, fmt.Errorf("invalid ANALYTICS_POLL_INTERVAL: %w", err)
	}
	cfg.BackoffCap, err = getEnvDuration("ANALYTICS_BACKOFF_CAP", "60s")
	if err != nil {
		return nil, fmt.Errorf("invalid ANALYTICS_BACKOFF_CAP: %w", err)
	}
	cfg.MaxConsecutiveFailures = getEnvInt("ANALYTICS_MAX_FAILURES", 5)
	cfg.JobBatchLimit = getEnvInt("JOB_BATCH_LIMIT", 50)

	cfg.ExtractRulesPath = os.Getenv("EXTRACT_RULES_PATH")

	cfg.ArchiveRetentionDays = getEnvInt("ARCHIVE_RETENTION_DAYS", 365)
	cfg.ArchiveBatchSize = getEnvInt("ARCHIVE_BATCH_SIZE", 5000)

	// MinIO is only required by the archiver; its run path validates
	// presence before connecting.
	cfg.MinIOEndpoint = os.Getenv("MINIO_ENDPOINT")
	cfg.MinIOAccessKey = os.Getenv("MINIO_ACCESS_KEY")
	cfg.MinIOSecretKey = os.Getenv("MINIO_SECRET_KEY")
	cfg.MinIOBucket = getEnvString("MINIO_BUCKET", "vitalsink-archive")
	cfg.MinIOUseSSL = getEnvBool("MINIO_USE_SSL", false)
	cfg.MinIORegion = getEnvString("MINIO_REGION", "us-east-1")

	cfg.MetricsAddr = getEnvString("METRICS_ADDR", ":9090")

	cfg.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")

	cfg.Environment = getEnvString("ENVIRONMENT", "development")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	return cfg, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key, defaultValue string) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		value = defaultValue
	}
	return time.ParseDuration(value)
}

func getEnvInt64List(key, defaultValue string) ([]int64, error) {
	value := os.Getenv(key)
	if value == "" {
		value = defaultValue
	}
	parts := strings.Split(value, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (c *Config) Validate() error {
	if !c.SourceMock && (c.SourceEmail == "" || c.SourcePassword == "") {
		return apperror.ErrMissingCredentials
	}

	if !c.SourceMock && c.SourceBaseURL == "" {
		return fmt.Errorf("SOURCE_BASE_URL is required unless SOURCE_MOCK is set")
	}

	if len(c.UserIDs) == 0 {
		return fmt.Errorf("at least one user id is required")
	}

	if c.IngestLookback < 1 {
		return fmt.Errorf("invalid ingest lookback: %d", c.IngestLookback)
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("invalid poll interval: %s", c.PollInterval)
	}

	if c.MaxConsecutiveFailures < 1 {
		return fmt.Errorf("invalid max consecutive failures: %d", c.MaxConsecutiveFailures)
	}

	if c.ArchiveRetentionDays < 1 {
		return fmt.Errorf("invalid archive retention: %d days", c.ArchiveRetentionDays)
	}

	return nil
}

// ValidateArchive checks the extra settings only the archiver needs.
func (c *Config) ValidateArchive() error {
	if c.MinIOEndpoint == "" || c.MinIOAccessKey == "" || c.MinIOSecretKey == "" {
		return apperror.New("missing_minio_config", apperror.KindConfig,
			"MINIO_ENDPOINT, MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required for archival")
	}
	return nil
}
