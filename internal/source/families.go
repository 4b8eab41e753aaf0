// Package source defines the telemetry source contract: the metric families
// the system pulls, the client interface, and the etiquette layer that keeps
// a shared session alive without tripping the source's rate limits.
package source

import (
	"context"
	"time"
)

// Family is one metric family the source exposes per calendar day.
type Family string

const (
	FamilySteps            Family = "steps"
	FamilyStats            Family = "stats"
	FamilyHeartRate        Family = "heart_rate"
	FamilyHRV              Family = "hrv"
	FamilyStress           Family = "stress"
	FamilySleep            Family = "sleep"
	FamilyRestingHR        Family = "resting_hr"
	FamilyRespiration      Family = "respiration"
	FamilyIntensityMinutes Family = "intensity_minutes"
	FamilyBodyBattery      Family = "body_battery"
	FamilySpO2             Family = "spo2"
	FamilyMaxMetrics       Family = "max_metrics"
	FamilyFitnessAge       Family = "fitness_age"
	FamilyFloors           Family = "floors"
)

// Families returns every family in fetch order.
func Families() []Family {
	return []Family{
		FamilySteps,
		FamilyStats,
		FamilyHeartRate,
		FamilyHRV,
		FamilyStress,
		FamilySleep,
		FamilyRestingHR,
		FamilyRespiration,
		FamilyIntensityMinutes,
		FamilyBodyBattery,
		FamilySpO2,
		FamilyMaxMetrics,
		FamilyFitnessAge,
		FamilyFloors,
	}
}

// Valid reports whether f names a known family.
func (f Family) Valid() bool {
	for _, known := range Families() {
		if f == known {
			return true
		}
	}
	return false
}

func (f Family) String() string { return string(f) }

// Client fetches one family's payload for one calendar day. A nil payload
// with nil error means the source had nothing for that day.
type Client interface {
	Fetch(ctx context.Context, family Family, day time.Time) (any, error)
	Families() []Family
}
