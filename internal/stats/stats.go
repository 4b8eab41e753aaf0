// Package stats computes window statistics over extracted daily metrics:
// per-metric averages, ordinary least squares trends with significance, and
// pairwise Pearson correlations.
package stats

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// minOverlap is the smallest number of paired observations a correlation is
// computed from. Pairs below it report null.
const minOverlap = 3

// correlationFloor and strongThreshold classify notable correlations.
const (
	correlationFloor = 0.5
	strongThreshold  = 0.7
)

// Trend describes a least squares fit of a metric against day index.
type Trend struct {
	Slope       float64 `json:"slope"`
	RSquared    float64 `json:"r_squared"`
	PValue      float64 `json:"p_value"`
	Significant bool    `json:"significant"`
}

// Correlation is one notable metric pair.
type Correlation struct {
	Metric1     string  `json:"metric1"`
	Metric2     string  `json:"metric2"`
	Correlation float64 `json:"correlation"`
	Strength    string  `json:"strength"`
}

// Linear fits values against x = 0..n-1 and reports the slope, fit quality
// and the two-sided p-value of the slope. It needs at least three points.
// A constant series has no trend: slope 0, p-value 1.
func Linear(values []float64) (Trend, bool) {
	n := len(values)
	if n < 3 {
		return Trend{}, false
	}

	x := make([]float64, n)
	for i := range x {
		x[i] = float64(i)
	}

	_, slope := stat.LinearRegression(x, values, nil, false)
	r := stat.Correlation(x, values, nil)
	if math.IsNaN(r) {
		return Trend{Slope: 0, RSquared: 0, PValue: 1, Significant: false}, true
	}

	r2 := r * r
	df := float64(n - 2)

	var p float64
	if 1-r2 <= 0 {
		p = 0
	} else {
		tstat := math.Abs(r) * math.Sqrt(df/(1-r2))
		dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
		p = 2 * dist.Survival(tstat)
	}

	return Trend{
		Slope:       slope,
		RSquared:    r2,
		PValue:      p,
		Significant: p < 0.05,
	}, true
}

// PctChange reports the percentage change from the first to the last value.
// A zero first value has no defined change.
func PctChange(values []float64) (float64, bool) {
	if len(values) < 2 || values[0] == 0 {
		return 0, false
	}
	return (values[len(values)-1] - values[0]) / values[0] * 100, true
}

// Matrix computes pairwise Pearson correlations between metrics across days.
// Only days where both metrics have a value count; pairs with fewer than
// minOverlap shared days are null. A metric correlates 1.0 with itself when
// it has enough days. Metrics without any values are left out entirely.
func Matrix(names []string, byDay map[string]map[string]float64) map[string]map[string]*float64 {
	present := presentNames(names, byDay)

	out := make(map[string]map[string]*float64, len(present))
	for _, a := range present {
		row := make(map[string]*float64, len(present))
		for _, b := range present {
			if a == b {
				if len(byDay[a]) >= minOverlap {
					one := 1.0
					row[b] = &one
				} else {
					row[b] = nil
				}
				continue
			}
			row[b] = pairCorrelation(byDay[a], byDay[b])
		}
		out[a] = row
	}
	return out
}

func pairCorrelation(a, b map[string]float64) *float64 {
	days := make([]string, 0, len(a))
	for day := range a {
		if _, ok := b[day]; ok {
			days = append(days, day)
		}
	}
	if len(days) < minOverlap {
		return nil
	}
	sort.Strings(days)

	xs := make([]float64, len(days))
	ys := make([]float64, len(days))
	for i, day := range days {
		xs[i] = a[day]
		ys[i] = b[day]
	}

	r := stat.Correlation(xs, ys, nil)
	if math.IsNaN(r) {
		return nil
	}
	return &r
}

// ImportantPairs extracts pairs with |r| above the floor, walking the upper
// triangle in name order. Strength is "strong" above the strong threshold,
// "moderate" otherwise.
func ImportantPairs(names []string, matrix map[string]map[string]*float64) []Correlation {
	pairs := []Correlation{}
	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			row, ok := matrix[names[i]]
			if !ok {
				continue
			}
			v := row[names[j]]
			if v == nil || math.Abs(*v) <= correlationFloor {
				continue
			}
			strength := "moderate"
			if math.Abs(*v) > strongThreshold {
				strength = "strong"
			}
			pairs = append(pairs, Correlation{
				Metric1:     names[i],
				Metric2:     names[j],
				Correlation: *v,
				Strength:    strength,
			})
		}
	}
	return pairs
}

// Bundle assembles the full result map for one window: averages with min and
// max per metric, the deep sleep ratio, trend objects with percentage
// changes, and the correlation section. Metric names keep the rule order for
// pair extraction. An empty window yields an empty map.
func Bundle(names []string, days []string, byDay map[string]map[string]float64) map[string]any {
	out := make(map[string]any)

	for _, name := range names {
		vals := onDays(days, byDay[name])
		if len(vals) == 0 {
			continue
		}
		out["avg_"+name] = stat.Mean(vals, nil)
		out["min_"+name] = floats.Min(vals)
		out["max_"+name] = floats.Max(vals)
	}

	if avgSleep, ok := out["avg_sleep_duration"].(float64); ok && avgSleep > 0 {
		if avgDeep, ok := out["avg_deep_sleep"].(float64); ok {
			out["deep_sleep_ratio"] = avgDeep / avgSleep
		}
	}

	for _, name := range names {
		vals := onDays(days, byDay[name])
		trend, ok := Linear(vals)
		if !ok {
			continue
		}
		out[name+"_trend"] = trend
		if pct, ok := PctChange(vals); ok {
			out[name+"_pct_change"] = pct
		}
	}

	present := presentNames(names, byDay)
	if len(present) >= 2 {
		matrix := Matrix(names, byDay)
		out["correlations"] = matrix
		out["important_correlations"] = ImportantPairs(present, matrix)
	}

	return out
}

// onDays returns the metric's values in day order, skipping absent days.
func onDays(days []string, byDay map[string]float64) []float64 {
	if len(byDay) == 0 {
		return nil
	}
	var out []float64
	for _, day := range days {
		if v, ok := byDay[day]; ok {
			out = append(out, v)
		}
	}
	return out
}

func presentNames(names []string, byDay map[string]map[string]float64) []string {
	var out []string
	for _, name := range names {
		if len(byDay[name]) > 0 {
			out = append(out, name)
		}
	}
	return out
}
