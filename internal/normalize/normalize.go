// Package normalize flattens provider payloads into biometric rows.
//
// A payload arrives as decoded JSON for one user, day and data type. Objects
// become one row per scalar field, embedded time series become one row per
// entry, lists become a count row plus per-item rows, and bare scalars become
// a single value row. Metric names are "{data_type}.{field}" so the same
// field never collides across data types.
package normalize

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/vitalsink/vitalsink/internal/store"
)

// maxListItems caps per-item rows for list payloads. Larger lists keep only
// the count row.
const maxListItems = 250

// sleepDurationFields are hoisted out of nested sleep objects so downstream
// extraction can read them under stable top-level names.
var sleepDurationFields = []string{
	"sleepTimeSeconds",
	"totalSleepTimeSeconds",
	"deepSleepSeconds",
	"napTimeSeconds",
}

// Result summarizes one payload normalization. Skipped counts elements that
// could not be serialized; the rest of the payload still produces rows.
type Result struct {
	Rows    []store.BiometricRow
	Skipped int
}

// Payload flattens one provider payload into rows ready for upsert.
//
// Each row within the payload gets a unique timestamp: summary rows take the
// base day timestamp with an incrementing microsecond offset, series entries
// carry their own epoch or ISO-8601 timestamp when one parses and fall back
// to the offset scheme when it does not. Object keys are walked in sorted
// order, which keeps the offsets, and therefore the row set, identical when
// the same payload is normalized again.
//
// A nil payload produces no rows.
func Payload(userID int64, day time.Time, dataType string, payload any) Result {
	b := &builder{
		userID:   userID,
		dataType: dataType,
		base:     day.UTC().Truncate(time.Second),
	}

	switch data := payload.(type) {
	case nil:
	case map[string]any:
		b.object(data)
	case []any:
		b.list(data)
	default:
		b.scalar(data)
	}

	return Result{Rows: b.rows, Skipped: b.skipped}
}

type builder struct {
	userID   int64
	dataType string
	base     time.Time
	offset   int
	rows     []store.BiometricRow
	skipped  int
}

// nextTimestamp returns the base timestamp with the current microsecond
// offset and advances the offset. The offset wraps at one second.
func (b *builder) nextTimestamp() time.Time {
	ts := b.base.Add(time.Duration(b.offset) * time.Microsecond)
	b.offset = (b.offset + 1) % 1000000
	return ts
}

func (b *builder) add(metricName string, value any, raw []byte) {
	data, err := json.Marshal(value)
	if err != nil {
		b.skipped++
		return
	}
	b.rows = append(b.rows, store.BiometricRow{
		UserID:     b.userID,
		Timestamp:  b.nextTimestamp(),
		DataType:   b.dataType,
		MetricName: metricName,
		Value:      data,
		RawData:    raw,
	})
}

func (b *builder) addAt(ts time.Time, metricName string, value any, raw []byte) {
	data, err := json.Marshal(value)
	if err != nil {
		b.skipped++
		return
	}
	b.rows = append(b.rows, store.BiometricRow{
		UserID:     b.userID,
		Timestamp:  ts,
		DataType:   b.dataType,
		MetricName: metricName,
		Value:      data,
		RawData:    raw,
	})
}

func (b *builder) object(data map[string]any) {
	raw, err := json.Marshal(data)
	if err != nil {
		b.skipped++
		return
	}

	keys := sortedKeys(data)

	// Scalar fields first. Nested objects and lists are handled below.
	for _, key := range keys {
		switch data[key].(type) {
		case map[string]any, []any:
			continue
		}
		b.add(b.dataType+"."+key, map[string]any{key: data[key]}, raw)
	}

	if b.dataType == "sleep" {
		b.hoistSleepFields(data, keys, raw)
	}

	for _, key := range keys {
		entries, ok := data[key].([]any)
		if !ok {
			continue
		}
		if !strings.HasSuffix(key, "Values") && !strings.HasSuffix(key, "ValuesArray") {
			continue
		}
		b.series(key, entries, raw)
	}
}

// hoistSleepFields copies sleep duration fields out of nested objects such as
// dailySleepDTO, and re-emits top-level ones, so they are always reachable as
// "sleep.{field}" regardless of how the provider nests them.
func (b *builder) hoistSleepFields(data map[string]any, keys []string, raw []byte) {
	for _, key := range keys {
		nested, ok := data[key].(map[string]any)
		if !ok {
			continue
		}
		for _, field := range sleepDurationFields {
			v, ok := nested[field]
			if !ok || v == nil {
				continue
			}
			b.add(b.dataType+"."+field, map[string]any{field: v}, raw)
		}
	}

	for _, field := range sleepDurationFields {
		v, ok := data[field]
		if !ok || v == nil {
			continue
		}
		switch v.(type) {
		case map[string]any, []any:
			continue
		}
		b.add(b.dataType+"."+field, map[string]any{field: v}, raw)
	}
}

// series emits one row per [timestamp, value, ...] entry. Entries that are
// not a list of at least two elements are dropped.
func (b *builder) series(key string, entries []any, raw []byte) {
	name := strings.ReplaceAll(strings.ReplaceAll(key, "ValuesArray", ""), "Values", "")
	metricName := b.dataType + "." + name

	for _, e := range entries {
		entry, ok := e.([]any)
		if !ok || len(entry) < 2 {
			continue
		}

		ts, ok := parseEntryTime(entry[0])
		if !ok {
			ts = b.nextTimestamp()
		}

		var value any
		if len(entry) > 2 {
			value = entry[1:]
		} else {
			value = entry[1]
		}
		b.addAt(ts, metricName, map[string]any{"value": value}, raw)
	}
}

func (b *builder) list(data []any) {
	raw, err := json.Marshal(data)
	if err != nil {
		b.skipped++
		return
	}

	b.add(b.dataType+".count", map[string]any{"count": len(data)}, raw)

	if len(data) > maxListItems {
		return
	}
	for i, item := range data {
		b.add(fmt.Sprintf("%s.item_%d", b.dataType, i), item, raw)
	}
}

// scalar stores a bare value. There is no structure worth keeping, so
// raw_data stays empty.
func (b *builder) scalar(data any) {
	b.add(b.dataType+".value", map[string]any{"value": data}, nil)
}

// parseEntryTime interprets the first element of a series entry. Numbers
// above 1e12 are epoch milliseconds, above 1e9 epoch seconds. Strings are
// tried as ISO-8601.
func parseEntryTime(v any) (time.Time, bool) {
	switch ts := v.(type) {
	case float64:
		return epochTime(ts)
	case int:
		return epochTime(float64(ts))
	case int64:
		return epochTime(float64(ts))
	case string:
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			return t.UTC(), true
		}
		if t, err := time.Parse("2006-01-02T15:04:05", ts); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func epochTime(v float64) (time.Time, bool) {
	switch {
	case v > 1e12:
		return time.UnixMilli(int64(v)).UTC(), true
	case v > 1e9:
		return time.Unix(int64(v), 0).UTC(), true
	}
	return time.Time{}, false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
