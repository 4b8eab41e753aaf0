package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vitalsink/vitalsink/internal/archive"
	"github.com/vitalsink/vitalsink/internal/config"
	"github.com/vitalsink/vitalsink/internal/health"
	"github.com/vitalsink/vitalsink/internal/logger"
	"github.com/vitalsink/vitalsink/internal/store"
)

func main() {
	if err := run(); err != nil {
		slog.Error("archival failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	dryRun := flag.Bool("dry-run", false, "count archivable rows without uploading or deleting")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ValidateArchive(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger.Init(cfg.LogLevel)
	log := logger.Default()

	log.Info("starting archival run",
		"retention_days", cfg.ArchiveRetentionDays,
		"batch_size", cfg.ArchiveBatchSize,
		"dry_run", *dryRun)
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

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

	log.Info("connecting to object storage")
	objects, err := archive.NewMinIOStore(&archive.Config{
		Endpoint:  cfg.MinIOEndpoint,
		AccessKey: cfg.MinIOAccessKey,
		SecretKey: cfg.MinIOSecretKey,
		Bucket:    cfg.MinIOBucket,
		UseSSL:    cfg.MinIOUseSSL,
		Region:    cfg.MinIORegion,
	})
	if err != nil {
		return fmt.Errorf("failed to create object storage client: %w", err)
	}

	checker := health.NewChecker(pool, nil).WithStorage(objects)
	if resp := checker.CheckAll(ctx); resp.Status != health.StatusHealthy {
		for _, c := range resp.Components {
			if c.Status != health.StatusHealthy {
				log.Error("dependency unhealthy", "component", c.Name, "error", c.Error)
			}
		}
		return fmt.Errorf("dependencies unhealthy, refusing to archive")
	}
	log.Info("object storage connected")

	archiver := archive.New(store.NewPG(pool), objects, archive.Options{
		RetentionDays: cfg.ArchiveRetentionDays,
		BatchSize:     cfg.ArchiveBatchSize,
		DryRun:        *dryRun,
	})

	stats, err := archiver.Run(logger.WithLogger(ctx, log))
	if err != nil {
		return fmt.Errorf("archival failed: %w", err)
	}

	log.Info("archival completed",
		"duration_ms", time.Since(start).Milliseconds(),
		"rows_archived", stats.RowsArchived,
		"rows_deleted", stats.RowsDeleted,
		"objects_written", stats.Objects,
		"batches", stats.Batches,
	)

	return nil
}
