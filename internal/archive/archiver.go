package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vitalsink/vitalsink/internal/logger"
	"github.com/vitalsink/vitalsink/internal/metrics"
	"github.com/vitalsink/vitalsink/internal/store"
)

// Options tune one archiver run.
type Options struct {
	RetentionDays int
	BatchSize     int
	DryRun        bool
}

// Stats summarizes what a run did.
type Stats struct {
	RowsArchived int64
	RowsDeleted  int64
	Objects      int
	Batches      int
}

// Archiver drains raw rows older than the retention horizon in bounded
// batches: each batch is written to object storage before its rows are
// deleted, so a failed upload never loses data.
type Archiver struct {
	store   store.Store
	objects ObjectStore
	opts    Options

	now func() time.Time
}

func New(st store.Store, objects ObjectStore, opts Options) *Archiver {
	if opts.RetentionDays < 1 {
		opts.RetentionDays = 365
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = 5000
	}
	return &Archiver{
		store:   st,
		objects: objects,
		opts:    opts,
		now:     time.Now,
	}
}

// archivedRow is the NDJSON record format. It carries everything needed to
// re-ingest the row later.
type archivedRow struct {
	UserID     int64           `json:"user_id"`
	Timestamp  time.Time       `json:"timestamp"`
	DataType   string          `json:"data_type"`
	MetricName string          `json:"metric_name"`
	Value      json.RawMessage `json:"value,omitempty"`
	RawData    json.RawMessage `json:"raw_data,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Run archives until no rows older than the cutoff remain. In dry-run mode
// it only counts what a real run would move.
func (a *Archiver) Run(ctx context.Context) (Stats, error) {
	var stats Stats
	cutoff := a.now().UTC().AddDate(0, 0, -a.opts.RetentionDays)
	log := logger.FromContext(ctx).With("cutoff", cutoff.Format("2006-01-02"), "dry_run", a.opts.DryRun)

	if !a.opts.DryRun {
		if err := a.objects.EnsureBucket(ctx); err != nil {
			return stats, fmt.Errorf("preparing archive bucket: %w", err)
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		rows, err := a.store.OldestBiometricRows(ctx, cutoff, a.opts.BatchSize)
		if err != nil {
			return stats, fmt.Errorf("selecting rows to archive: %w", err)
		}
		if len(rows) == 0 {
			break
		}
		stats.Batches++

		if a.opts.DryRun {
			// Nothing gets deleted, so a second query would return the
			// same rows; report the first batch and stop.
			stats.RowsArchived += int64(len(rows))
			break
		}

		if err := a.archiveBatch(ctx, rows, &stats); err != nil {
			return stats, err
		}

		if len(rows) < a.opts.BatchSize {
			break
		}
	}

	log.Info("archive run complete",
		"rows_archived", stats.RowsArchived,
		"rows_deleted", stats.RowsDeleted,
		"objects", stats.Objects,
		"batches", stats.Batches)
	return stats, nil
}

// archiveBatch groups one batch by (user, month), uploads one object per
// group, then deletes the uploaded rows.
func (a *Archiver) archiveBatch(ctx context.Context, rows []store.BiometricRow, stats *Stats) error {
	type groupKey struct {
		userID int64
		month  string
	}

	groups := map[groupKey][]store.BiometricRow{}
	for _, row := range rows {
		key := groupKey{userID: row.UserID, month: row.Timestamp.UTC().Format("2006/01")}
		groups[key] = append(groups[key], row)
	}

	var ids []int64
	for key, group := range groups {
		if err := ctx.Err(); err != nil {
			return err
		}

		data, err := encodeGroup(group)
		if err != nil {
			return fmt.Errorf("encoding archive batch: %w", err)
		}

		objectKey := fmt.Sprintf("raw/%d/%s/%s.ndjson.gz", key.userID, key.month, uuid.NewString())
		if err := a.objects.Upload(ctx, objectKey, bytes.NewReader(data), "application/gzip", int64(len(data))); err != nil {
			return fmt.Errorf("uploading %s: %w", objectKey, err)
		}
		stats.Objects++
		stats.RowsArchived += int64(len(group))
		metrics.RecordArchive("archived", int64(len(group)))

		for _, row := range group {
			ids = append(ids, row.ID)
		}
	}

	deleted, err := a.store.DeleteBiometricRows(ctx, ids)
	if err != nil {
		return fmt.Errorf("deleting archived rows: %w", err)
	}
	stats.RowsDeleted += deleted
	metrics.RecordArchive("deleted", deleted)
	return nil
}

func encodeGroup(rows []store.BiometricRow) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := json.NewEncoder(gz)

	for _, row := range rows {
		rec := archivedRow{
			UserID:     row.UserID,
			Timestamp:  row.Timestamp,
			DataType:   row.DataType,
			MetricName: row.MetricName,
			Value:      json.RawMessage(row.Value),
			RawData:    json.RawMessage(row.RawData),
			CreatedAt:  row.CreatedAt,
		}
		if err := enc.Encode(rec); err != nil {
			return nil, err
		}
	}

	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
