package extract

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vitalsink/vitalsink/internal/metrics"
	"github.com/vitalsink/vitalsink/internal/normalize"
	"github.com/vitalsink/vitalsink/internal/store"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t.UTC()
}

func seedRow(t *testing.T, s *store.MemoryStore, userID int64, dayStr, dataType, metric, value string, micro int) {
	t.Helper()
	ts := day(dayStr).Add(time.Duration(micro) * time.Microsecond)
	err := s.UpsertBiometricRows(context.Background(), []store.BiometricRow{{
		UserID:     userID,
		Timestamp:  ts,
		DataType:   dataType,
		MetricName: metric,
		Value:      []byte(value),
	}})
	if err != nil {
		t.Fatalf("seed %s: %v", metric, err)
	}
}

func newExtractor(t *testing.T, s store.Store) *Extractor {
	t.Helper()
	rules, err := DefaultRules()
	if err != nil {
		t.Fatalf("DefaultRules() error = %v", err)
	}
	return New(s, rules)
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestWindow_ChainPrecedence(t *testing.T) {
	s := store.NewMemoryStore()
	e := newExtractor(t, s)

	// Day one carries both the recent-night average and the legacy field;
	// the recent-night value must win. Day two only has the legacy field.
	seedRow(t, s, 1, "2025-03-01", "hrv", "hrv.lastNightAvg", `{"lastNightAvg": 52}`, 0)
	seedRow(t, s, 1, "2025-03-01", "hrv", "hrv.avgHRV", `{"avgHRV": 44}`, 1)
	seedRow(t, s, 1, "2025-03-02", "hrv", "hrv.avgHRV", `{"avgHRV": 44}`, 0)

	series, err := e.Window(context.Background(), 1, day("2025-03-01"), day("2025-03-08"))
	if err != nil {
		t.Fatalf("Window() error = %v", err)
	}

	got := series.Values("hrv")
	if len(got) != 2 {
		t.Fatalf("hrv values = %v, want 2 entries", got)
	}
	if got[0] != 52 {
		t.Errorf("day with both fields resolved to %v, want 52", got[0])
	}
	if got[1] != 44 {
		t.Errorf("legacy-only day resolved to %v, want 44", got[1])
	}
}

func TestWindow_StepsCountVersusIntervals(t *testing.T) {
	s := store.NewMemoryStore()
	e := newExtractor(t, s)

	// Day one: the daily count undercounts the interval sum.
	seedRow(t, s, 1, "2025-03-01", "stats", "stats.totalSteps", `{"totalSteps": 9000}`, 0)
	seedRow(t, s, 1, "2025-03-01", "steps", "steps.item_0", `{"steps": 4000, "startGMT": "2025-03-01T08:00:00Z"}`, 1)
	seedRow(t, s, 1, "2025-03-01", "steps", "steps.item_1", `{"steps": 3000, "startGMT": "2025-03-01T12:00:00Z"}`, 2)
	seedRow(t, s, 1, "2025-03-01", "steps", "steps.item_2", `{"steps": 2400, "startGMT": "2025-03-01T16:00:00Z"}`, 3)

	// Day two: count only.
	seedRow(t, s, 1, "2025-03-02", "stats", "stats.totalSteps", `{"totalSteps": 7200}`, 0)

	// Day three: intervals only.
	seedRow(t, s, 1, "2025-03-03", "steps", "steps.item_0", `{"steps": 500}`, 0)
	seedRow(t, s, 1, "2025-03-03", "steps", "steps.item_1", `{"steps": 700}`, 1)

	series, err := e.Window(context.Background(), 1, day("2025-03-01"), day("2025-03-08"))
	if err != nil {
		t.Fatalf("Window() error = %v", err)
	}

	got := series.Values("steps")
	want := []float64{9400, 7200, 1200}
	if len(got) != len(want) {
		t.Fatalf("steps values = %v, want %v", got, want)
	}
	for i := range want {
		if !almostEqual(got[i], want[i]) {
			t.Errorf("steps[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestWindow_SleepSecondsBecomeHours(t *testing.T) {
	s := store.NewMemoryStore()
	e := newExtractor(t, s)

	seedRow(t, s, 1, "2025-03-01", "sleep", "sleep.sleepTimeSeconds", `{"sleepTimeSeconds": 27000}`, 0)
	seedRow(t, s, 1, "2025-03-01", "sleep", "sleep.deepSleepSeconds", `{"deepSleepSeconds": 5400}`, 1)

	series, err := e.Window(context.Background(), 1, day("2025-03-01"), day("2025-03-02"))
	if err != nil {
		t.Fatalf("Window() error = %v", err)
	}

	if got := series.Values("sleep_duration"); len(got) != 1 || !almostEqual(got[0], 7.5) {
		t.Errorf("sleep_duration = %v, want [7.5]", got)
	}
	if got := series.Values("deep_sleep"); len(got) != 1 || !almostEqual(got[0], 1.5) {
		t.Errorf("deep_sleep = %v, want [1.5]", got)
	}
}

func TestWindow_ReadingsAverageAndChainPriority(t *testing.T) {
	s := store.NewMemoryStore()
	e := newExtractor(t, s)

	// Day one has only intraday readings: their mean is the daily value.
	seedRow(t, s, 1, "2025-03-01", "heart_rate", "heart_rate.heartRate", `{"value": 70}`, 0)
	seedRow(t, s, 1, "2025-03-01", "heart_rate", "heart_rate.heartRate", `{"value": 80}`, 1)

	// Day two also has the daily summary, which outranks the readings.
	seedRow(t, s, 1, "2025-03-02", "heart_rate", "heart_rate.averageHeartRate", `{"averageHeartRate": 64}`, 0)
	seedRow(t, s, 1, "2025-03-02", "heart_rate", "heart_rate.heartRate", `{"value": 90}`, 1)

	series, err := e.Window(context.Background(), 1, day("2025-03-01"), day("2025-03-08"))
	if err != nil {
		t.Fatalf("Window() error = %v", err)
	}

	got := series.Values("heart_rate")
	if len(got) != 2 {
		t.Fatalf("heart_rate values = %v, want 2 entries", got)
	}
	if !almostEqual(got[0], 75) {
		t.Errorf("readings mean = %v, want 75", got[0])
	}
	if !almostEqual(got[1], 64) {
		t.Errorf("summary day = %v, want 64", got[1])
	}
}

func TestWindow_StressNamingVariants(t *testing.T) {
	s := store.NewMemoryStore()
	e := newExtractor(t, s)

	seedRow(t, s, 1, "2025-03-01", "stress", "stress.avgStressLevel", `{"avgStressLevel": 30}`, 0)
	seedRow(t, s, 1, "2025-03-02", "stress", "stress.overallStressLevel", `{"overallStressLevel": 35}`, 0)
	seedRow(t, s, 1, "2025-03-03", "stress", "stress.avgStress", `{"avgStress": 40}`, 0)

	series, err := e.Window(context.Background(), 1, day("2025-03-01"), day("2025-03-08"))
	if err != nil {
		t.Fatalf("Window() error = %v", err)
	}

	got := series.Values("stress")
	want := []float64{30, 35, 40}
	if len(got) != len(want) {
		t.Fatalf("stress values = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("stress[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestWindow_NumericStringsAccepted(t *testing.T) {
	s := store.NewMemoryStore()
	e := newExtractor(t, s)

	seedRow(t, s, 1, "2025-03-01", "heart_rate", "heart_rate.restingHeartRate", `{"restingHeartRate": "58"}`, 0)

	series, err := e.Window(context.Background(), 1, day("2025-03-01"), day("2025-03-02"))
	if err != nil {
		t.Fatalf("Window() error = %v", err)
	}
	if got := series.Values("resting_heart_rate"); len(got) != 1 || got[0] != 58 {
		t.Errorf("resting_heart_rate = %v, want [58]", got)
	}
}

func TestWindow_NonNumericValuesSkipped(t *testing.T) {
	s := store.NewMemoryStore()
	e := newExtractor(t, s)

	seedRow(t, s, 1, "2025-03-01", "hrv", "hrv.avgHRV", `{"avgHRV": "BALANCED"}`, 0)

	series, err := e.Window(context.Background(), 1, day("2025-03-01"), day("2025-03-02"))
	if err != nil {
		t.Fatalf("Window() error = %v", err)
	}
	if got := series.Values("hrv"); len(got) != 0 {
		t.Errorf("non-numeric value produced %v", got)
	}
}

func TestWindow_UnconfiguredDataType(t *testing.T) {
	s := store.NewMemoryStore()
	e := newExtractor(t, s)

	before := testutil.ToFloat64(metrics.ExtractUnconfiguredTotal.WithLabelValues("floors"))

	seedRow(t, s, 1, "2025-03-01", "floors", "floors.value", `{"value": 12}`, 0)

	series, err := e.Window(context.Background(), 1, day("2025-03-01"), day("2025-03-02"))
	if err != nil {
		t.Fatalf("Window() error = %v", err)
	}
	if !series.Empty() {
		t.Errorf("unconfigured data type produced values: %v", series.Metrics)
	}

	after := testutil.ToFloat64(metrics.ExtractUnconfiguredTotal.WithLabelValues("floors"))
	if after != before+1 {
		t.Errorf("unconfigured counter moved %v -> %v, want +1", before, after)
	}
}

func TestWindow_EmptyWindow(t *testing.T) {
	s := store.NewMemoryStore()
	e := newExtractor(t, s)

	series, err := e.Window(context.Background(), 1, day("2025-03-01"), day("2025-03-08"))
	if err != nil {
		t.Fatalf("Window() error = %v", err)
	}
	if !series.Empty() {
		t.Error("window without rows should be empty")
	}
	if got := series.Values("steps"); got != nil {
		t.Errorf("Values() on empty series = %v", got)
	}
}

func TestWindow_FromNormalizedPayloads(t *testing.T) {
	s := store.NewMemoryStore()
	e := newExtractor(t, s)
	ctx := context.Background()

	payloads := []struct {
		day      string
		dataType string
		payload  any
	}{
		{"2025-03-01", "steps", map[string]any{"steps": 8000, "activeTimeSeconds": 3600}},
		{"2025-03-01", "sleep", map[string]any{
			"dailySleepDTO": map[string]any{"sleepTimeSeconds": 27000, "deepSleepSeconds": 5400},
		}},
		{"2025-03-01", "heart_rate", map[string]any{"restingHeartRate": 58, "averageHeartRate": 72}},
		{"2025-03-02", "steps", map[string]any{"steps": 9000}},
	}
	for _, p := range payloads {
		res := normalize.Payload(1, day(p.day), p.dataType, p.payload)
		if err := s.UpsertBiometricRows(ctx, res.Rows); err != nil {
			t.Fatalf("upsert %s/%s: %v", p.day, p.dataType, err)
		}
	}

	series, err := e.Window(ctx, 1, day("2025-03-01"), day("2025-03-08"))
	if err != nil {
		t.Fatalf("Window() error = %v", err)
	}

	if got := series.Values("steps"); len(got) != 2 || got[0] != 8000 || got[1] != 9000 {
		t.Errorf("steps = %v, want [8000 9000]", got)
	}
	if got := series.Values("sleep_duration"); len(got) != 1 || !almostEqual(got[0], 7.5) {
		t.Errorf("sleep_duration = %v, want [7.5]", got)
	}
	if got := series.Values("resting_heart_rate"); len(got) != 1 || got[0] != 58 {
		t.Errorf("resting_heart_rate = %v, want [58]", got)
	}
	if got := series.Values("heart_rate"); len(got) != 1 || got[0] != 72 {
		t.Errorf("heart_rate = %v, want [72]", got)
	}

	if len(series.Days) != 2 || series.Days[0] != "2025-03-01" || series.Days[1] != "2025-03-02" {
		t.Errorf("Days = %v, want [2025-03-01 2025-03-02]", series.Days)
	}
}
