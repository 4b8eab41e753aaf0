// Package extract turns stored biometric rows into canonical daily metrics.
//
// Providers rename fields across firmware generations, so every canonical
// metric is resolved through an ordered list of candidate row names instead
// of a single hardcoded key. The rule set ships embedded and can be replaced
// at runtime with a YAML file.
package extract

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/vitalsink/vitalsink/internal/logger"
	"github.com/vitalsink/vitalsink/internal/metrics"
	"github.com/vitalsink/vitalsink/internal/store"
)

// DaySeries holds extracted daily values for one user and window. Days are
// ISO dates in ascending order; only days that produced at least one metric
// appear. Metrics maps metric name to day to value.
type DaySeries struct {
	Days    []string
	Metrics map[string]map[string]float64
}

// Empty reports whether the window produced no values at all.
func (ds *DaySeries) Empty() bool {
	return len(ds.Days) == 0
}

// Values returns the metric's values in day order, skipping days without one.
func (ds *DaySeries) Values(metric string) []float64 {
	byDay := ds.Metrics[metric]
	if len(byDay) == 0 {
		return nil
	}
	var out []float64
	for _, day := range ds.Days {
		if v, ok := byDay[day]; ok {
			out = append(out, v)
		}
	}
	return out
}

// ByDay returns the metric's day-to-value map, nil when absent.
func (ds *DaySeries) ByDay(metric string) map[string]float64 {
	return ds.Metrics[metric]
}

// Extractor evaluates a rule set against stored rows.
type Extractor struct {
	store store.Store
	rules *Rules
}

func New(st store.Store, rules *Rules) *Extractor {
	return &Extractor{store: st, rules: rules}
}

// Rules returns the active rule set.
func (e *Extractor) Rules() *Rules {
	return e.rules
}

// Window extracts daily metrics for rows with from <= timestamp < to. Rows
// are grouped by UTC calendar day, then each rule resolves one value per day.
// Data types present in the window but not referenced by any rule are logged
// and counted, never silently dropped. A window without rows returns an
// empty series.
func (e *Extractor) Window(ctx context.Context, userID int64, from, to time.Time) (*DaySeries, error) {
	rows, err := e.store.BiometricRange(ctx, userID, from, to)
	if err != nil {
		return nil, err
	}

	grouped, seenTypes := groupRows(rows)
	e.warnUnconfigured(ctx, seenTypes)

	series := &DaySeries{Metrics: make(map[string]map[string]float64)}
	daySet := make(map[string]bool)

	for day, byName := range grouped {
		for _, rule := range e.rules.rules {
			v, ok := rule.evaluate(byName)
			if !ok {
				continue
			}
			if series.Metrics[rule.Name] == nil {
				series.Metrics[rule.Name] = make(map[string]float64)
			}
			series.Metrics[rule.Name][day] = v
			daySet[day] = true
		}
	}

	series.Days = make([]string, 0, len(daySet))
	for day := range daySet {
		series.Days = append(series.Days, day)
	}
	sort.Strings(series.Days)

	return series, nil
}

// groupRows decodes row values and indexes them by day and metric name. Rows
// with unparseable values are dropped. The second return value is the set of
// data types seen.
func groupRows(rows []store.BiometricRow) (map[string]map[string][]any, map[string]bool) {
	grouped := make(map[string]map[string][]any)
	seenTypes := make(map[string]bool)

	for _, r := range rows {
		seenTypes[r.DataType] = true

		var obj any
		if err := json.Unmarshal(r.Value, &obj); err != nil {
			continue
		}

		day := r.Timestamp.UTC().Format("2006-01-02")
		if grouped[day] == nil {
			grouped[day] = make(map[string][]any)
		}
		grouped[day][r.MetricName] = append(grouped[day][r.MetricName], obj)
	}

	return grouped, seenTypes
}

func (e *Extractor) warnUnconfigured(ctx context.Context, seen map[string]bool) {
	log := logger.FromContext(ctx)

	types := make([]string, 0, len(seen))
	for dt := range seen {
		types = append(types, dt)
	}
	sort.Strings(types)

	for _, dt := range types {
		if e.rules.Configured(dt) {
			continue
		}
		log.Warn("no extraction rule for data type", "data_type", dt)
		metrics.RecordExtractUnconfigured(dt)
	}
}

// evaluate resolves the rule against one day of rows.
func (r Rule) evaluate(day map[string][]any) (float64, bool) {
	v, ok := r.resolve(day)
	if !ok {
		return 0, false
	}
	if r.Divisor > 0 {
		v /= r.Divisor
	}
	return v, true
}

func (r Rule) resolve(day map[string][]any) (float64, bool) {
	if r.Cumulative != nil {
		if v, ok := r.Cumulative.resolve(day); ok {
			return v, true
		}
	}
	if v, ok := firstWins(day, r.Chain); ok {
		return v, true
	}
	if vals := unionValues(day, r.Readings); len(vals) > 0 {
		return mean(vals), true
	}
	return firstWins(day, r.Legacy)
}

// resolve reconciles the daily count against the interval sum. A count row
// written before the day ended undercounts, so the larger reading wins.
func (c *Cumulative) resolve(day map[string][]any) (float64, bool) {
	count, hasCount := firstWins(day, c.Count)

	intervals := candidateValues(day, c.Intervals)
	var sum float64
	for _, v := range intervals {
		sum += v
	}

	switch {
	case hasCount && len(intervals) > 0:
		return math.Max(count, sum), true
	case hasCount:
		return count, true
	case len(intervals) > 0:
		return sum, true
	}
	return 0, false
}

// firstWins returns the mean of the first candidate that matched any rows.
func firstWins(day map[string][]any, candidates []Candidate) (float64, bool) {
	for _, c := range candidates {
		if vals := candidateValues(day, c); len(vals) > 0 {
			return mean(vals), true
		}
	}
	return 0, false
}

// unionValues pools the values of every candidate.
func unionValues(day map[string][]any, candidates []Candidate) []float64 {
	var out []float64
	for _, c := range candidates {
		out = append(out, candidateValues(day, c)...)
	}
	return out
}

func candidateValues(day map[string][]any, c Candidate) []float64 {
	var out []float64
	collect := func(objs []any) {
		for _, obj := range objs {
			if v, ok := fieldValue(obj, c.Field); ok {
				out = append(out, v)
			}
		}
	}

	if c.Metric != "" {
		collect(day[c.Metric])
		return out
	}

	names := make([]string, 0)
	for name := range day {
		if strings.HasPrefix(name, c.Prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		collect(day[name])
	}
	return out
}

// fieldValue pulls a numeric value out of a decoded row. With a field name
// the row must be an object holding that key. Without one, single-key
// objects yield their sole value and bare scalars yield themselves.
func fieldValue(obj any, field string) (float64, bool) {
	m, ok := obj.(map[string]any)
	if !ok {
		if field == "" {
			return asFloat(obj)
		}
		return 0, false
	}
	if field != "" {
		return asFloat(m[field])
	}
	if len(m) == 1 {
		for _, v := range m {
			return asFloat(v)
		}
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func mean(vals []float64) float64 {
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
