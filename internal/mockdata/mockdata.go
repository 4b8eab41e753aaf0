// Package mockdata synthesizes realistic per-day telemetry payloads for
// development and tests. Values are deterministic per (seed, user, day,
// family) so repeated generation produces identical rows and the storage
// upsert stays idempotent.
package mockdata

import (
	"hash/fnv"
	"math/rand"
	"time"
)

// Generator produces payloads shaped like the upstream source's responses.
type Generator struct {
	seed int64
}

func New(seed int64) *Generator {
	return &Generator{seed: seed}
}

// Payload returns the family's payload for one user and day, or nil for
// families the generator does not synthesize. The shapes mirror what the
// upstream API returns so the payloads exercise the same normalization
// paths as production data.
func (g *Generator) Payload(family string, userID int64, day time.Time) any {
	rng := g.rng(family, userID, day)
	switch family {
	case "steps":
		return stepsPayload(rng, day)
	case "heart_rate":
		return heartRatePayload(rng)
	case "sleep":
		return sleepPayload(rng)
	case "stress":
		return stressPayload(rng)
	case "hrv":
		return hrvPayload(rng)
	case "body_battery":
		return bodyBatteryPayload(rng)
	case "spo2":
		return spo2Payload(rng)
	case "respiration":
		return respirationPayload(rng)
	case "stats":
		return statsPayload(rng, day)
	case "resting_hr":
		return float64(intBetween(rng, 50, 62))
	case "intensity_minutes":
		return map[string]any{
			"moderateIntensityMinutes": intBetween(rng, 20, 60),
			"vigorousIntensityMinutes": intBetween(rng, 0, 30),
		}
	case "fitness_age":
		return float64(intBetween(rng, 25, 45))
	case "max_metrics":
		return map[string]any{
			"vo2MaxValue": intBetween(rng, 35, 58),
		}
	case "floors":
		up := intBetween(rng, 5, 25)
		return map[string]any{
			"floorsAscended":  up,
			"floorsDescended": intBetween(rng, up/2, up),
		}
	default:
		return nil
	}
}

// rng derives an independent stream per (seed, user, day, family) so call
// order never changes the values.
func (g *Generator) rng(family string, userID int64, day time.Time) *rand.Rand {
	h := fnv.New64a()
	h.Write([]byte(family))
	h.Write([]byte(day.UTC().Format("2006-01-02")))
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(userID >> (8 * i))
	}
	h.Write(buf[:])
	return rand.New(rand.NewSource(g.seed ^ int64(h.Sum64())))
}

func stepsPayload(rng *rand.Rand, day time.Time) map[string]any {
	base := 8000
	if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
		base = 6000
	}
	steps := base + intBetween(rng, -2000, 3000)
	if steps < 0 {
		steps = 0
	}
	return map[string]any{
		"steps":             steps,
		"activeTimeSeconds": intBetween(rng, steps/20, steps/15),
		"activeTimeMins":    intBetween(rng, steps/1200, steps/900),
		"distanceMeters":    float64(steps) * uniform(rng, 0.7, 0.8),
		"activeCalories":    int(float64(steps) * uniform(rng, 0.04, 0.06)),
		"totalCalories":     int(float64(steps) * uniform(rng, 0.06, 0.08)),
	}
}

func heartRatePayload(rng *rand.Rand) map[string]any {
	resting := intBetween(rng, 55, 65)
	return map[string]any{
		"restingHeartRate": resting,
		"maxHeartRate":     intBetween(rng, 140, 180),
		"averageHeartRate": intBetween(rng, resting+10, resting+30),
		"heartRateZones": map[string]any{
			"zone1": intBetween(rng, 400, 800),
			"zone2": intBetween(rng, 300, 600),
			"zone3": intBetween(rng, 200, 400),
			"zone4": intBetween(rng, 100, 300),
			"zone5": intBetween(rng, 0, 100),
		},
	}
}

func sleepPayload(rng *rand.Rand) map[string]any {
	sleepSeconds := intBetween(rng, 25200, 28800)
	return map[string]any{
		"sleepTimeSeconds":    sleepSeconds,
		"deepSleepSeconds":    intBetween(rng, sleepSeconds/10, sleepSeconds/4),
		"lightSleepSeconds":   intBetween(rng, sleepSeconds*2/5, sleepSeconds*3/5),
		"remSleepSeconds":     intBetween(rng, sleepSeconds*3/20, sleepSeconds/4),
		"awakeSleepSeconds":   intBetween(rng, sleepSeconds/20, sleepSeconds/10),
		"sleepScoreQualifier": choice(rng, "EXCELLENT", "GOOD", "FAIR", "POOR"),
		"sleepScore":          intBetween(rng, 60, 95),
	}
}

func stressPayload(rng *rand.Rand) map[string]any {
	avg := intBetween(rng, 25, 45)
	return map[string]any{
		"avgStress":              avg,
		"maxStress":              intBetween(rng, avg+20, 99),
		"stressDuration":         intBetween(rng, 6*3600, 16*3600),
		"restStressDuration":     intBetween(rng, 4*3600, 8*3600),
		"activityStressDuration": intBetween(rng, 2*3600, 6*3600),
		"lowStressDuration":      intBetween(rng, 3600, 4*3600),
		"mediumStressDuration":   intBetween(rng, 1800, 3*3600),
		"highStressDuration":     intBetween(rng, 0, 3600),
	}
}

func hrvPayload(rng *rand.Rand) map[string]any {
	avg := intBetween(rng, 35, 65)
	return map[string]any{
		"avgHRV":    avg,
		"minHRV":    intBetween(rng, avg-20, avg-5),
		"maxHRV":    intBetween(rng, avg+5, avg+30),
		"hrvStatus": choice(rng, "OPTIMAL", "BALANCED", "LOW", "POOR"),
		"feedbackPhrase": choice(rng,
			"Your body appears ready for challenges today.",
			"Your HRV shows good recovery.",
			"Signs of fatigue detected. Take it easy today.",
			"Your body may need additional rest.",
		),
	}
}

func bodyBatteryPayload(rng *rand.Rand) map[string]any {
	charged := intBetween(rng, 60, 100)
	return map[string]any{
		"bodyBatteryCharged": charged,
		"bodyBatteryDrained": intBetween(rng, 30, 70),
		"bodyBatteryMax":     intBetween(rng, charged, 100),
		"bodyBatteryMin":     intBetween(rng, 10, 40),
		"bodyBatteryEnd":     intBetween(rng, 20, 60),
	}
}

func spo2Payload(rng *rand.Rand) map[string]any {
	return map[string]any{
		"avgSpo2":              intBetween(rng, 94, 99),
		"minSpo2":              intBetween(rng, 90, 94),
		"maxSpo2":              intBetween(rng, 97, 100),
		"onDemandReadingCount": intBetween(rng, 0, 5),
		"avgSleepSpo2":         intBetween(rng, 94, 99),
	}
}

func respirationPayload(rng *rand.Rand) map[string]any {
	avg := intBetween(rng, 14, 18)
	return map[string]any{
		"avgWakingRespirationValue": avg,
		"minWakingRespirationValue": intBetween(rng, avg-4, avg-1),
		"maxWakingRespirationValue": intBetween(rng, avg+1, avg+6),
		"avgSleepRespirationValue":  intBetween(rng, 12, 16),
		"minSleepRespirationValue":  intBetween(rng, 8, 11),
		"maxSleepRespirationValue":  intBetween(rng, 16, 20),
	}
}

// statsPayload is the daily summary family; its fields back up the primary
// families when those return nothing.
func statsPayload(rng *rand.Rand, day time.Time) map[string]any {
	base := 8000
	if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
		base = 6000
	}
	return map[string]any{
		"totalSteps":        base + intBetween(rng, -2000, 3000),
		"restingHeartRate":  intBetween(rng, 55, 65),
		"totalKilocalories": intBetween(rng, 1800, 2800),
	}
}

// intBetween mirrors an inclusive integer range draw. A degenerate range
// collapses to its lower bound.
func intBetween(rng *rand.Rand, lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + rng.Intn(hi-lo+1)
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

func choice(rng *rand.Rand, opts ...string) string {
	return opts[rng.Intn(len(opts))]
}
