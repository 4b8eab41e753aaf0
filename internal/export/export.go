// Package export renders stored detailed metrics and analytics bundles as
// CSV, JSON or PNG charts for offline inspection.
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/vitalsink/vitalsink/internal/store"
)

type Format string

const (
	FormatCSV   Format = "csv"
	FormatJSON  Format = "json"
	FormatChart Format = "chart"
)

// ParseFormat validates a user-supplied format string.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatCSV, FormatJSON, FormatChart:
		return Format(s), nil
	default:
		return "", fmt.Errorf("unknown export format %q (want csv, json or chart)", s)
	}
}

type detailedExport struct {
	UserID     int64                  `json:"user_id"`
	TimeRange  string                 `json:"time_range"`
	Points     []store.DetailedMetric `json:"points"`
	ExportedAt time.Time              `json:"exported_at"`
}

// DetailedJSON marshals daily metric points with an export envelope.
func DetailedJSON(userID int64, timeRange string, points []store.DetailedMetric) ([]byte, error) {
	return json.MarshalIndent(detailedExport{
		UserID:     userID,
		TimeRange:  timeRange,
		Points:     points,
		ExportedAt: time.Now().UTC(),
	}, "", "  ")
}

// DetailedCSV renders one row per (date, metric) pair.
func DetailedCSV(points []store.DetailedMetric) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write([]string{"Date", "Metric", "Value"}); err != nil {
		return nil, err
	}
	for _, p := range points {
		row := []string{
			p.MetricDate.Format("2006-01-02"),
			p.MetricName,
			fmt.Sprintf("%g", p.Value),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type analyticsExport struct {
	UserID     int64           `json:"user_id"`
	TimeRange  string          `json:"time_range"`
	StartDate  string          `json:"start_date"`
	EndDate    string          `json:"end_date"`
	Metrics    json.RawMessage `json:"metrics"`
	ComputedAt time.Time       `json:"computed_at"`
}

// AnalyticsJSON marshals result bundles with their window boundaries.
func AnalyticsJSON(results []store.AnalyticsResult) ([]byte, error) {
	exports := make([]analyticsExport, 0, len(results))
	for _, res := range results {
		exports = append(exports, analyticsExport{
			UserID:     res.UserID,
			TimeRange:  res.TimeRange,
			StartDate:  res.StartDate.Format("2006-01-02"),
			EndDate:    res.EndDate.Format("2006-01-02"),
			Metrics:    json.RawMessage(res.Metrics),
			ComputedAt: res.CreatedAt,
		})
	}
	return json.MarshalIndent(exports, "", "  ")
}

// AnalyticsCSV flattens the scalar entries of each bundle into Metric/Value
// rows, one section per window. Nested structures (trends, correlation
// matrices) are skipped; the JSON export carries those.
func AnalyticsCSV(results []store.AnalyticsResult) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	for i, res := range results {
		if i > 0 {
			if err := w.Write([]string{"", ""}); err != nil {
				return nil, err
			}
		}
		header := fmt.Sprintf("%s (%s to %s)",
			res.TimeRange,
			res.StartDate.Format("2006-01-02"),
			res.EndDate.Format("2006-01-02"))
		if err := w.Write([]string{header, ""}); err != nil {
			return nil, err
		}
		if err := w.Write([]string{"Metric", "Value"}); err != nil {
			return nil, err
		}

		var bundle map[string]any
		if err := json.Unmarshal(res.Metrics, &bundle); err != nil {
			return nil, fmt.Errorf("decoding %s bundle: %w", res.TimeRange, err)
		}
		for _, key := range sortedScalarKeys(bundle) {
			row := []string{key, fmt.Sprintf("%g", bundle[key].(float64))}
			if err := w.Write(row); err != nil {
				return nil, err
			}
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func sortedScalarKeys(bundle map[string]any) []string {
	keys := make([]string, 0, len(bundle))
	for key, val := range bundle {
		if _, ok := val.(float64); ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}
