// Package validate checks stored biometric rows against per-family range
// rules. Rows for families without a rule pass by default; validation never
// mutates data, it only reports.
package validate

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/vitalsink/vitalsink/internal/store"
)

// Rule bounds one field of one metric family.
type Rule struct {
	DataType string
	Field    string
	Min      float64
	Max      float64
	Required bool
}

// DefaultRules returns the built-in bounds. They encode physiological
// plausibility, not provider contracts: a resting heart rate of 200 is a
// data problem regardless of what the payload said.
func DefaultRules() []Rule {
	return []Rule{
		{DataType: "body_battery", Field: "value", Min: 0, Max: 100, Required: true},
		{DataType: "heart_rate", Field: "restingHeartRate", Min: 30, Max: 120, Required: true},
		{DataType: "resting_hr", Field: "restingHeartRate", Min: 30, Max: 120, Required: true},
		{DataType: "stress", Field: "avgStress", Min: 0, Max: 100, Required: true},
		{DataType: "sleep", Field: "sleepTimeSeconds", Min: 0, Max: 43200, Required: true},
		{DataType: "steps", Field: "steps", Min: 0, Max: 100000, Required: true},
		{DataType: "spo2", Field: "averageSpO2", Min: 70, Max: 100},
		{DataType: "respiration", Field: "avgSleepRespirationValue", Min: 4, Max: 40},
		{DataType: "fitness_age", Field: "fitnessAge", Min: 10, Max: 100},
	}
}

// Failure describes one row that broke a rule.
type Failure struct {
	DataType   string    `json:"data_type"`
	MetricName string    `json:"metric_name"`
	Timestamp  time.Time `json:"timestamp"`
	Reason     string    `json:"reason"`
	Value      any       `json:"value,omitempty"`
}

// TypeStats aggregates outcomes for one metric family.
type TypeStats struct {
	Total   int `json:"total"`
	Valid   int `json:"valid"`
	Invalid int `json:"invalid"`

	metricsSeen map[string]struct{}
}

// MetricsSeen lists the distinct metric names encountered, sorted.
func (ts *TypeStats) MetricsSeen() []string {
	names := make([]string, 0, len(ts.metricsSeen))
	for name := range ts.metricsSeen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Report is the outcome of one validation pass.
type Report struct {
	Total    int                   `json:"total"`
	Valid    int                   `json:"valid"`
	Invalid  int                   `json:"invalid"`
	ByType   map[string]*TypeStats `json:"by_type"`
	Failures []Failure             `json:"failures"`
}

// ValidityRate reports the fraction of rows that passed, 1.0 for an empty
// pass.
func (r *Report) ValidityRate() float64 {
	if r.Total == 0 {
		return 1.0
	}
	return float64(r.Valid) / float64(r.Total)
}

// Recommendations summarizes what the failures suggest checking.
func (r *Report) Recommendations() []string {
	if r.Invalid == 0 {
		return nil
	}
	byReasonKind := map[string]int{}
	for _, f := range r.Failures {
		switch {
		case strings.Contains(f.Reason, "below minimum"), strings.Contains(f.Reason, "exceeds maximum"):
			byReasonKind["range"]++
		case strings.Contains(f.Reason, "missing"):
			byReasonKind["missing"]++
		default:
			byReasonKind["malformed"]++
		}
	}

	var recs []string
	if n := byReasonKind["range"]; n > 0 {
		recs = append(recs, fmt.Sprintf("%d rows out of physiological range; check normalization of the affected families", n))
	}
	if n := byReasonKind["missing"]; n > 0 {
		recs = append(recs, fmt.Sprintf("%d rows missing a required field; the source payload shape may have changed", n))
	}
	if n := byReasonKind["malformed"]; n > 0 {
		recs = append(recs, fmt.Sprintf("%d rows with unparseable values stored", n))
	}
	return recs
}

// Check validates rows against the rule set and returns a report. A row
// matches a rule when the final segment of its metric name equals the
// rule's field, or the field appears anywhere in the metric name.
func Check(rows []store.BiometricRow, rules []Rule) *Report {
	report := &Report{ByType: map[string]*TypeStats{}}

	byType := map[string][]Rule{}
	for _, rule := range rules {
		byType[rule.DataType] = append(byType[rule.DataType], rule)
	}

	for _, row := range rows {
		stats := report.ByType[row.DataType]
		if stats == nil {
			stats = &TypeStats{metricsSeen: map[string]struct{}{}}
			report.ByType[row.DataType] = stats
		}
		stats.Total++
		stats.metricsSeen[row.MetricName] = struct{}{}
		report.Total++

		fail := checkRow(row, byType[row.DataType])
		if fail == nil {
			stats.Valid++
			report.Valid++
			continue
		}
		stats.Invalid++
		report.Invalid++
		report.Failures = append(report.Failures, *fail)
	}

	return report
}

func checkRow(row store.BiometricRow, rules []Rule) *Failure {
	rule, ok := matchRule(row.MetricName, rules)
	if !ok {
		return nil
	}

	var value any
	if err := json.Unmarshal(row.Value, &value); err != nil {
		return &Failure{
			DataType:   row.DataType,
			MetricName: row.MetricName,
			Timestamp:  row.Timestamp,
			Reason:     "value is not valid JSON",
		}
	}

	num, found := extractNumber(value, rule.Field)
	if !found {
		if rule.Required {
			return &Failure{
				DataType:   row.DataType,
				MetricName: row.MetricName,
				Timestamp:  row.Timestamp,
				Reason:     fmt.Sprintf("required field %q is missing or not numeric", rule.Field),
				Value:      value,
			}
		}
		return nil
	}

	if num < rule.Min {
		return &Failure{
			DataType:   row.DataType,
			MetricName: row.MetricName,
			Timestamp:  row.Timestamp,
			Reason:     fmt.Sprintf("value %g is below minimum %g", num, rule.Min),
			Value:      num,
		}
	}
	if num > rule.Max {
		return &Failure{
			DataType:   row.DataType,
			MetricName: row.MetricName,
			Timestamp:  row.Timestamp,
			Reason:     fmt.Sprintf("value %g exceeds maximum %g", num, rule.Max),
			Value:      num,
		}
	}
	return nil
}

func matchRule(metricName string, rules []Rule) (Rule, bool) {
	base := metricName
	if i := strings.LastIndex(metricName, "."); i >= 0 {
		base = metricName[i+1:]
	}
	for _, rule := range rules {
		if rule.Field == base {
			return rule, true
		}
	}
	for _, rule := range rules {
		if strings.Contains(metricName, rule.Field) {
			return rule, true
		}
	}
	return Rule{}, false
}

// extractNumber digs the field out of the stored value fragment. Normalized
// values are single-key objects, so a lone key's value is accepted when the
// named field is absent.
func extractNumber(value any, field string) (float64, bool) {
	switch v := value.(type) {
	case map[string]any:
		if inner, ok := v[field]; ok {
			return asFloat(inner)
		}
		if inner, ok := v["value"]; ok {
			return asFloat(inner)
		}
		if len(v) == 1 {
			for _, inner := range v {
				return asFloat(inner)
			}
		}
		return 0, false
	default:
		return asFloat(value)
	}
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
	default:
		return 0, false
	}
}
