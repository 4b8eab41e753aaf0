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
	"github.com/rs/zerolog"

	"github.com/vitalsink/vitalsink/internal/config"
	"github.com/vitalsink/vitalsink/internal/extract"
	"github.com/vitalsink/vitalsink/internal/health"
	"github.com/vitalsink/vitalsink/internal/jobs"
	"github.com/vitalsink/vitalsink/internal/logger"
	"github.com/vitalsink/vitalsink/internal/metrics"
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

	logger.Init(cfg.LogLevel)
	log := logger.Default()

	log.Info("configuration loaded",
		"poll_interval", cfg.PollInterval,
		"batch_limit", cfg.JobBatchLimit)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	zerologger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	shutdownTracing, err := tracing.Init(ctx, &tracing.Config{
		ServiceName:    "analyticsd",
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

	rules, err := extract.LoadRules(cfg.ExtractRulesPath)
	if err != nil {
		return fmt.Errorf("failed to load extraction rules: %w", err)
	}
	extractor := extract.New(st, rules)
	log.Info("extraction rules loaded", "metrics", len(rules.Names()))

	proc := jobs.NewProcessor(st, extractor, jobs.Options{
		PollInterval:           cfg.PollInterval,
		BackoffCap:             cfg.BackoffCap,
		MaxConsecutiveFailures: cfg.MaxConsecutiveFailures,
		BatchLimit:             cfg.JobBatchLimit,
	}, zerologger)

	metrics.SetAppInfo(version, cfg.Environment, "analyticsd")

	checker := health.NewChecker(pool, nil).WithQueue(st)
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

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	procErr := make(chan error, 1)
	go func() {
		procErr <- proc.Run(logger.WithLogger(ctx, log))
	}()

	select {
	case err := <-procErr:
		if err != nil && err != context.Canceled {
			return fmt.Errorf("processor error: %w", err)
		}
	case sig := <-shutdown:
		log.Info("shutdown signal received", "signal", sig)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		cancel()
		select {
		case <-procErr:
		case <-shutdownCtx.Done():
			log.Warn("processor did not stop before timeout")
		}

		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error("error stopping metrics server", "error", err)
		}
	}

	log.Info("analytics processor stopped gracefully")
	return nil
}
