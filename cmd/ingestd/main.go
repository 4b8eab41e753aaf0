package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/vitalsink/vitalsink/internal/config"
	"github.com/vitalsink/vitalsink/internal/health"
	"github.com/vitalsink/vitalsink/internal/ingest"
	"github.com/vitalsink/vitalsink/internal/logger"
	"github.com/vitalsink/vitalsink/internal/metrics"
	"github.com/vitalsink/vitalsink/internal/source"
	"github.com/vitalsink/vitalsink/internal/store"
	"github.com/vitalsink/vitalsink/internal/tracing"
)

const version = "1.0.0"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger.Init(cfg.LogLevel)
	log := logger.Default()

	log.Info("configuration loaded",
		"users", len(cfg.UserIDs),
		"schedule", cfg.IngestSchedule,
		"lookback_days", cfg.IngestLookback,
		"mock_source", cfg.SourceMock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, &tracing.Config{
		ServiceName:    "ingestd",
		ServiceVersion: version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.OTLPEndpoint != "",
		SampleRate:     1.0,
	})
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = shutdownTracing(shutdownCtx)
	}()

	log.Info("connecting to database")
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	log.Info("database connected")

	pg := store.NewPG(pool)
	if err := pg.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info("migrations applied")

	st := metrics.NewInstrumentedStore(pg)

	var redisClient *redis.Client
	var state source.StateStore = source.NewMemoryStateStore()
	if cfg.RedisURL != "" {
		log.Info("connecting to redis")
		redisOpt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to parse redis url: %w", err)
		}
		redisClient = redis.NewClient(redisOpt)
		defer func() { _ = redisClient.Close() }()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		state = source.NewHybridStateStore(redisClient)
		log.Info("redis connected, source state shared across replicas")
	} else {
		log.Warn("REDIS_URL unset, source state is process-local")
	}

	policy := source.RetryPolicy{
		SessionMaxAge:    cfg.SessionMaxAge,
		Cooldown:         cfg.RateLimitCooldown,
		MaxLoginAttempts: cfg.FetchMaxAttempts,
		LoginDelay:       cfg.FetchBaseDelay,
		CallDelay:        cfg.FetchCallDelay,
		RateLimitWait:    source.DefaultRetryPolicy().RateLimitWait,
	}

	var factory source.Factory
	if cfg.SourceMock {
		log.Info("using synthetic telemetry source")
		factory = source.MockFactory(time.Now().UnixNano(), state, policy)
	} else {
		factory = source.APIFactory(cfg.SourceBaseURL, cfg.SourceEmail, cfg.SourcePassword, state, policy)
	}

	svc := ingest.New(st, factory, cfg.TriggersPerCycle)

	metrics.SetAppInfo(version, cfg.Environment, "ingestd")

	scheduler := cron.New()
	_, err = scheduler.AddFunc(cfg.IngestSchedule, func() {
		sweepCtx := logger.WithLogger(ctx, log)
		if err := svc.RunSweep(sweepCtx, cfg.UserIDs, cfg.IngestLookback); err != nil {
			log.Error("scheduled sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid ingest schedule %q: %w", cfg.IngestSchedule, err)
	}
	scheduler.Start()
	log.Info("ingest scheduler started", "schedule", cfg.IngestSchedule)

	checker := health.NewChecker(pool, redisClient)
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsMux.HandleFunc("/health", health.HealthHandler(checker))
	metricsMux.HandleFunc("/health/live", health.LivenessHandler())
	metricsMux.HandleFunc("/health/ready", health.ReadinessHandler(checker))

	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metricsMux,
	}

	go func() {
		log.Info("metrics server starting", "addr", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server error", "error", err)
		}
	}()

	// One sweep right away so a fresh deployment has data before the first
	// cron tick.
	go func() {
		if err := svc.RunSweep(logger.WithLogger(ctx, log), cfg.UserIDs, cfg.IngestLookback); err != nil {
			log.Error("initial sweep failed", "error", err)
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	sig := <-shutdown
	log.Info("shutdown signal received", "signal", sig)

	cronCtx := scheduler.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	select {
	case <-cronCtx.Done():
	case <-shutdownCtx.Done():
		log.Warn("running sweep did not finish before timeout")
	}

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error("error stopping metrics server", "error", err)
	}

	cancel()
	log.Info("ingest daemon stopped gracefully")
	return nil
}
