package scan

import (
	"math"

	"github.com/pkg/errors"
)

// Plan holds the derived parameters for setting up a ProgramTrack scan.
type Plan struct {
	// StepTime is the recommended track point separation, seconds.
	StepTime float64

	// WaitToStart is the minimum lead time between entering ProgramTrack
	// mode and the first point's timestamp.
	WaitToStart float64

	// InitAz is the azimuth to position the platform at before the scan
	// begins, accounting for ramp-up.
	InitAz float64

	// ScanStartBuffer is the az distance by which the first leg start is
	// shifted to fit turnaround prep and ramp-up.  Non-negative.
	ScanStartBuffer float64

	// TurnprepBuffer is the az travel ProgramTrack needs to prepare a
	// turnaround.
	TurnprepBuffer float64

	// RampupBuffer is the az travel needed to ramp up to leg velocity.
	RampupBuffer float64

	// RampupTime is how many seconds before the first point the platform
	// may start moving.
	RampupTime float64
}

// PlanScan works out step time, lead time and the required starting
// azimuth for a constant-velocity scan.  These get complicated in the
// limit of high velocity and narrow scan.
func PlanScan(azEnd1, azEnd2, vAz, aAz float64, azStart AzStart) (Plan, error) {
	az := (azEnd1 + azEnd2) / 2
	throw := (azEnd2 - azEnd1) / 2

	var init string
	switch azStart {
	case "", AzStartMid:
		init = "mid"
	case AzStartMidInc:
		init = "mid"
		throw = math.Abs(throw)
	case AzStartMidDec:
		init = "mid"
		throw = -math.Abs(throw)
	case AzStartEndpoint1, AzStartEnd:
		init = "end"
	case AzStartEndpoint2:
		init = "end"
		throw = -throw
	default:
		return Plan{}, errors.Errorf("unexpected az start %q", azStart)
	}

	var plan Plan

	// Point separation: at least 5 points per leg, preferably 10.
	dt := 2 * math.Abs(throw/vAz) / 10
	dt = math.Min(math.Max(dt, 0.1), 1.0)
	if 2*math.Abs(throw/vAz)/dt < 5 {
		return Plan{}, errors.New("scan too narrow for 5 points per leg")
	}
	plan.StepTime = dt

	// Turnaround prep distance: 5 point periods at leg velocity.
	plan.TurnprepBuffer = 5 * dt * vAz

	// Ramp-up distance, assuming a peak ramp acceleration of 1 deg/s^2.
	const a0 = 1.
	plan.RampupBuffer = vAz * vAz / a0

	switch init {
	case "mid":
		plan.ScanStartBuffer = math.Max(plan.TurnprepBuffer+plan.RampupBuffer-math.Abs(throw), 0)
	case "end":
		plan.ScanStartBuffer = math.Max(plan.TurnprepBuffer+plan.RampupBuffer-2*math.Abs(throw), 0)
	}

	plan.RampupTime = vAz / a0
	plan.WaitToStart = math.Max(5, plan.RampupTime*1.2)

	plan.InitAz = az - math.Copysign(plan.ScanStartBuffer, throw)
	if init == "end" {
		plan.InitAz -= throw
	}
	return plan, nil
}

// ClampAccel limits a turnaround acceleration so the implied jerk stays
// within jerkMax.  For a 2v/a turnaround the peak jerk scales as a^2/v,
// so the bound is sqrt(jerkMax * v).
func ClampAccel(vAz, aAz, jerkMax float64) float64 {
	if jerkMax <= 0 {
		return aAz
	}
	limit := math.Sqrt(jerkMax * vAz)
	if aAz > limit {
		return limit
	}
	return aAz
}
