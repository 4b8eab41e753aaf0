package stats

import (
	"encoding/json"
	"math"
	"testing"
)

func almostEqual(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

func sevenDays() []string {
	return []string{
		"2025-03-01", "2025-03-02", "2025-03-03", "2025-03-04",
		"2025-03-05", "2025-03-06", "2025-03-07",
	}
}

func column(days []string, values ...float64) map[string]float64 {
	col := make(map[string]float64, len(values))
	for i, v := range values {
		col[days[i]] = v
	}
	return col
}

func TestLinear_PerfectLine(t *testing.T) {
	trend, ok := Linear([]float64{1, 3, 5, 7, 9})
	if !ok {
		t.Fatal("expected a trend for five points")
	}
	if !almostEqual(trend.Slope, 2, 1e-9) {
		t.Errorf("slope = %v, want 2", trend.Slope)
	}
	if !almostEqual(trend.RSquared, 1, 1e-9) {
		t.Errorf("r_squared = %v, want 1", trend.RSquared)
	}
	if trend.PValue != 0 {
		t.Errorf("p_value = %v, want 0 for a perfect fit", trend.PValue)
	}
	if !trend.Significant {
		t.Error("perfect line should be significant")
	}
}

func TestLinear_DecreasingLine(t *testing.T) {
	trend, ok := Linear([]float64{10, 8, 6, 4, 2, 0})
	if !ok {
		t.Fatal("expected a trend")
	}
	if !almostEqual(trend.Slope, -2, 1e-9) {
		t.Errorf("slope = %v, want -2", trend.Slope)
	}
	if !trend.Significant {
		t.Error("perfect decreasing line should be significant")
	}
}

func TestLinear_NearLinearIsSignificant(t *testing.T) {
	trend, ok := Linear([]float64{1, 2.1, 2.9, 4.2, 5})
	if !ok {
		t.Fatal("expected a trend")
	}
	if trend.Slope <= 0 {
		t.Errorf("slope = %v, want positive", trend.Slope)
	}
	if trend.PValue >= 0.05 {
		t.Errorf("p_value = %v, want < 0.05", trend.PValue)
	}
	if !trend.Significant {
		t.Error("near-linear series should be significant")
	}
}

func TestLinear_NoisySeriesNotSignificant(t *testing.T) {
	trend, ok := Linear([]float64{5, 3, 6, 4, 5})
	if !ok {
		t.Fatal("expected a trend")
	}
	if trend.Significant {
		t.Errorf("noisy series flagged significant, p_value = %v", trend.PValue)
	}
	if trend.PValue <= 0.05 {
		t.Errorf("p_value = %v, want well above 0.05", trend.PValue)
	}
}

func TestLinear_ConstantSeries(t *testing.T) {
	trend, ok := Linear([]float64{7.5, 7.5, 7.5, 7.5})
	if !ok {
		t.Fatal("expected a trend result for a constant series")
	}
	if trend.Slope != 0 || trend.RSquared != 0 {
		t.Errorf("constant series: slope = %v r_squared = %v, want 0 0", trend.Slope, trend.RSquared)
	}
	if trend.PValue != 1 || trend.Significant {
		t.Errorf("constant series: p_value = %v significant = %v", trend.PValue, trend.Significant)
	}
}

func TestLinear_TooFewPoints(t *testing.T) {
	if _, ok := Linear([]float64{1, 2}); ok {
		t.Error("two points should not produce a trend")
	}
	if _, ok := Linear(nil); ok {
		t.Error("empty series should not produce a trend")
	}
}

func TestPctChange(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   float64
		ok     bool
	}{
		{"increase", []float64{100, 120, 150}, 50, true},
		{"decrease", []float64{200, 150, 100}, -50, true},
		{"flat", []float64{60, 60}, 0, true},
		{"zero start", []float64{0, 5}, 0, false},
		{"single value", []float64{42}, 0, false},
		{"empty", nil, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := PctChange(tt.values)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && !almostEqual(got, tt.want, 1e-9) {
				t.Errorf("pct change = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMatrix_PerfectCorrelation(t *testing.T) {
	days := sevenDays()[:5]
	byDay := map[string]map[string]float64{
		"steps":  column(days, 1000, 2000, 3000, 4000, 5000),
		"stress": column(days, 10, 20, 30, 40, 50),
	}

	m := Matrix([]string{"steps", "stress"}, byDay)

	v := m["steps"]["stress"]
	if v == nil {
		t.Fatal("steps/stress correlation is null")
	}
	if !almostEqual(*v, 1, 1e-9) {
		t.Errorf("correlation = %v, want 1", *v)
	}
	self := m["steps"]["steps"]
	if self == nil || *self != 1 {
		t.Errorf("self correlation = %v, want exactly 1", self)
	}
}

func TestMatrix_InverseCorrelation(t *testing.T) {
	days := sevenDays()[:4]
	byDay := map[string]map[string]float64{
		"stress": column(days, 80, 60, 40, 20),
		"hrv":    column(days, 20, 40, 60, 80),
	}

	m := Matrix([]string{"stress", "hrv"}, byDay)

	v := m["stress"]["hrv"]
	if v == nil {
		t.Fatal("stress/hrv correlation is null")
	}
	if !almostEqual(*v, -1, 1e-9) {
		t.Errorf("correlation = %v, want -1", *v)
	}
}

func TestMatrix_InsufficientOverlap(t *testing.T) {
	days := sevenDays()
	byDay := map[string]map[string]float64{
		"steps": column(days[:2], 1000, 2000),
		"hrv":   column(days, 40, 42, 44, 46, 48, 50, 52),
	}

	m := Matrix([]string{"steps", "hrv"}, byDay)

	if v := m["steps"]["hrv"]; v != nil {
		t.Errorf("two shared days produced correlation %v, want null", *v)
	}
	if v := m["steps"]["steps"]; v != nil {
		t.Errorf("self correlation with two days = %v, want null", *v)
	}
	if v := m["hrv"]["hrv"]; v == nil || *v != 1 {
		t.Error("hrv self correlation should be 1")
	}
}

func TestMatrix_ConstantColumn(t *testing.T) {
	days := sevenDays()[:5]
	byDay := map[string]map[string]float64{
		"sleep_duration": column(days, 7.5, 7.5, 7.5, 7.5, 7.5),
		"steps":          column(days, 1000, 2000, 3000, 4000, 5000),
	}

	m := Matrix([]string{"sleep_duration", "steps"}, byDay)

	if v := m["sleep_duration"]["steps"]; v != nil {
		t.Errorf("constant column correlation = %v, want null", *v)
	}
	if v := m["sleep_duration"]["sleep_duration"]; v == nil || *v != 1 {
		t.Error("constant column should still self-correlate at 1")
	}
}

func TestMatrix_SkipsAbsentMetrics(t *testing.T) {
	days := sevenDays()[:3]
	byDay := map[string]map[string]float64{
		"steps": column(days, 1000, 2000, 3000),
	}

	m := Matrix([]string{"steps", "spo2"}, byDay)

	if _, ok := m["spo2"]; ok {
		t.Error("metric without values should not appear in the matrix")
	}
	if _, ok := m["steps"]["spo2"]; ok {
		t.Error("row should not reference a metric without values")
	}
}

func TestImportantPairs(t *testing.T) {
	strong := 0.9
	inverse := -0.6
	weak := 0.3
	matrix := map[string]map[string]*float64{
		"steps":  {"steps": ptr(1.0), "stress": &strong, "hrv": &inverse, "spo2": &weak},
		"stress": {"steps": &strong, "stress": ptr(1.0), "hrv": nil, "spo2": nil},
		"hrv":    {"steps": &inverse, "stress": nil, "hrv": ptr(1.0), "spo2": nil},
		"spo2":   {"steps": &weak, "stress": nil, "hrv": nil, "spo2": ptr(1.0)},
	}

	pairs := ImportantPairs([]string{"steps", "stress", "hrv", "spo2"}, matrix)

	if len(pairs) != 2 {
		t.Fatalf("got %d pairs, want 2: %+v", len(pairs), pairs)
	}
	if pairs[0].Metric1 != "steps" || pairs[0].Metric2 != "stress" {
		t.Errorf("first pair = %s/%s, want steps/stress", pairs[0].Metric1, pairs[0].Metric2)
	}
	if pairs[0].Strength != "strong" {
		t.Errorf("strength for 0.9 = %q, want strong", pairs[0].Strength)
	}
	if pairs[1].Metric1 != "steps" || pairs[1].Metric2 != "hrv" {
		t.Errorf("second pair = %s/%s, want steps/hrv", pairs[1].Metric1, pairs[1].Metric2)
	}
	if pairs[1].Strength != "moderate" {
		t.Errorf("strength for -0.6 = %q, want moderate", pairs[1].Strength)
	}
}

func TestBundle(t *testing.T) {
	days := sevenDays()
	byDay := map[string]map[string]float64{
		"steps":          column(days, 1000, 2000, 3000, 4000, 5000, 6000, 7000),
		"stress":         column(days, 10, 20, 30, 40, 50, 60, 70),
		"sleep_duration": column(days, 7.5, 7.5, 7.5, 7.5, 7.5, 7.5, 7.5),
		"deep_sleep":     column(days, 1.5, 1.5, 1.5, 1.5, 1.5, 1.5, 1.5),
	}
	names := []string{"steps", "stress", "sleep_duration", "deep_sleep"}

	out := Bundle(names, days, byDay)

	if avg, _ := out["avg_steps"].(float64); !almostEqual(avg, 4000, 1e-9) {
		t.Errorf("avg_steps = %v, want 4000", out["avg_steps"])
	}
	if min, _ := out["min_steps"].(float64); min != 1000 {
		t.Errorf("min_steps = %v, want 1000", out["min_steps"])
	}
	if max, _ := out["max_steps"].(float64); max != 7000 {
		t.Errorf("max_steps = %v, want 7000", out["max_steps"])
	}
	if ratio, _ := out["deep_sleep_ratio"].(float64); !almostEqual(ratio, 0.2, 1e-9) {
		t.Errorf("deep_sleep_ratio = %v, want 0.2", out["deep_sleep_ratio"])
	}

	trend, ok := out["steps_trend"].(Trend)
	if !ok {
		t.Fatalf("steps_trend missing or wrong type: %T", out["steps_trend"])
	}
	if !trend.Significant || !almostEqual(trend.Slope, 1000, 1e-6) {
		t.Errorf("steps_trend = %+v, want significant slope 1000", trend)
	}
	if pct, _ := out["steps_pct_change"].(float64); !almostEqual(pct, 600, 1e-9) {
		t.Errorf("steps_pct_change = %v, want 600", out["steps_pct_change"])
	}

	flat, ok := out["sleep_duration_trend"].(Trend)
	if !ok {
		t.Fatal("constant metric should still report a trend object")
	}
	if flat.Significant {
		t.Error("constant metric must not be significant")
	}

	pairs, ok := out["important_correlations"].([]Correlation)
	if !ok {
		t.Fatalf("important_correlations missing or wrong type: %T", out["important_correlations"])
	}
	if len(pairs) != 1 || pairs[0].Metric1 != "steps" || pairs[0].Metric2 != "stress" {
		t.Errorf("pairs = %+v, want single steps/stress pair", pairs)
	}
	if pairs[0].Strength != "strong" {
		t.Errorf("steps/stress strength = %q, want strong", pairs[0].Strength)
	}

	if _, err := json.Marshal(out); err != nil {
		t.Fatalf("bundle does not marshal: %v", err)
	}
}

func TestBundle_EmptyWindow(t *testing.T) {
	out := Bundle([]string{"steps", "hrv"}, nil, map[string]map[string]float64{})
	if len(out) != 0 {
		t.Errorf("empty window produced %d keys: %v", len(out), out)
	}
}

func TestBundle_SingleMetricSkipsCorrelations(t *testing.T) {
	days := sevenDays()[:3]
	byDay := map[string]map[string]float64{
		"steps": column(days, 1000, 2000, 3000),
	}

	out := Bundle([]string{"steps", "hrv"}, days, byDay)

	if _, ok := out["correlations"]; ok {
		t.Error("single populated metric should not emit correlations")
	}
	if _, ok := out["important_correlations"]; ok {
		t.Error("single populated metric should not emit important_correlations")
	}
	if _, ok := out["avg_steps"]; !ok {
		t.Error("averages should still be present")
	}
}

func TestBundle_SparseDays(t *testing.T) {
	days := sevenDays()
	byDay := map[string]map[string]float64{
		"hrv": {days[1]: 40, days[3]: 50, days[5]: 60},
	}

	out := Bundle([]string{"hrv"}, days, byDay)

	if avg, _ := out["avg_hrv"].(float64); !almostEqual(avg, 50, 1e-9) {
		t.Errorf("avg_hrv = %v, want 50", out["avg_hrv"])
	}
	trend, ok := out["hrv_trend"].(Trend)
	if !ok {
		t.Fatal("three sparse points should still trend")
	}
	if !almostEqual(trend.Slope, 10, 1e-9) {
		t.Errorf("slope over present days = %v, want 10", trend.Slope)
	}
}

func ptr(v float64) *float64 { return &v }
