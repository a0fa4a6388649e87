package scan

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// TurnaroundOptions tune the three-leg smooth turnaround.  The zero
// value gives the defaults: a middle leg one third of the turnaround
// time, coming to a full stop.
type TurnaroundOptions struct {
	// SecondLegTime is the duration of the low-velocity middle leg.
	// Defaults to a third of the turnaround time.
	SecondLegTime float64

	// SecondLegVelocity is the speed targeted at the start and end of the
	// middle leg, deg/s.  Defaults to 0 (full stop).
	SecondLegVelocity float64

	// StepTime is the spacing of generated points.  Defaults to 0.1 s.
	StepTime float64
}

// ThreeLegTurnaround replaces an instantaneous scan reversal with three
// jerk-limited segments: decelerate to a low gear-mesh velocity, hold it
// briefly so the drive gears reverse under minimal force, then
// accelerate back up in the opposite direction.  The total duration is
// the same 2v/a turnaround time as the baseline reversal, so the result
// drops into a constant-velocity scan unchanged.
//
// t0, az0, el0 and v0 are the state at the start of the turnaround;
// turnTime is 2*speed/accel.  azFlag, elFlag and group are carried onto
// the generated points unchanged.
func ThreeLegTurnaround(t0, az0, el0, v0, turnTime float64,
	azFlag, elFlag int, group bool, opts TurnaroundOptions) ([]TrackPoint, error) {

	if opts.SecondLegTime == 0 {
		opts.SecondLegTime = turnTime / 3.0
	}
	if opts.StepTime == 0 {
		opts.StepTime = 0.1
	}
	legTime := opts.SecondLegTime
	if turnTime-legTime < 1.0 {
		return nil, errors.Errorf(
			"turnaround too short: %.2fs left for the outer legs, need at least 1s",
			turnTime-legTime)
	}

	sign := math.Copysign(1, v0)
	secondLegAccel := 2.0 * opts.SecondLegVelocity / legTime

	// Leg 1: decelerate from the scan velocity to the gear-mesh velocity.
	// Solved around t=0 to keep the linear system well conditioned.
	t1 := (turnTime - legTime) / 2
	v1 := opts.SecondLegVelocity * sign
	a1 := -sign * secondLegAccel
	ts1, azs1, vs1, err := quinticLeg(0, t1, az0, v0, v1, 0, a1, opts.StepTime)
	if err != nil {
		return nil, err
	}

	// Leg 2: cross zero velocity.  Boundary accelerations match leg 1.
	t2 := t1 + legTime
	ts2, azs2, vs2, err := quinticLeg(t1, t2, azs1[len(azs1)-1], v1, -v1, a1, a1, opts.StepTime)
	if err != nil {
		return nil, err
	}

	// Leg 3: accelerate back up to the scan velocity, reversed.
	t3 := t2 + (turnTime-legTime)/2
	ts3, azs3, vs3, err := quinticLeg(t2, t3, azs2[len(azs2)-1], -v1, -v0, a1, 0, opts.StepTime)
	if err != nil {
		return nil, err
	}

	// The first point of each leg duplicates the last point of the
	// previous one; drop it.
	var out []TrackPoint
	appendLeg := func(ts, azs, vs []float64) {
		for i := 1; i < len(ts); i++ {
			out = append(out, TrackPoint{
				Timestamp: ts[i] + t0,
				Az:        azs[i],
				El:        el0,
				AzVel:     vs[i],
				ElVel:     0,
				AzFlag:    azFlag,
				ElFlag:    elFlag,
				Group:     group,
			})
		}
	}
	appendLeg(ts1, azs1, vs1)
	appendLeg(ts2, azs2, vs2)
	appendLeg(ts3, azs3, vs3)
	return out, nil
}

// quinticLeg generates one turnaround segment by fitting a degree-5
// polynomial in velocity to the given boundary velocity, acceleration
// and (zero) jerk conditions, then integrating for position.  Minimizing
// snap this way keeps the motion smooth without knowing the leg's final
// position in advance.
func quinticLeg(ti, tf, azStart, vi, vf, ai, af, stepTime float64) (ts, azs, vs []float64, err error) {
	coef, err := SolveQuinticVelocity(ti, tf, vi, vf, ai, af, 0, 0)
	if err != nil {
		return nil, nil, nil, err
	}

	for t := ti; t < tf+stepTime-1e-9; t += stepTime {
		ts = append(ts, t)
		vs = append(vs, polyval(coef[:], t))
		azs = append(azs, polyint(coef[:], t))
	}
	// Shift the integrated positions onto the leg's starting azimuth.
	off := azStart - azs[0]
	for i := range azs {
		azs[i] += off
	}
	return ts, azs, vs, nil
}

// SolveQuinticVelocity solves for the coefficients of
//
//	v(t) = A0 + A1*t + A2*t^2 + A3*t^3 + A4*t^4 + A5*t^5
//
// matching velocity, acceleration and jerk at both ends of [ti, tf].
func SolveQuinticVelocity(ti, tf, vi, vf, ai, af, ji, jf float64) ([6]float64, error) {
	// Rows of derivative coefficients for v, v' and v''.
	derivs := [3][6]float64{
		{1, 1, 1, 1, 1, 1},
		{0, 1, 2, 3, 4, 5},
		{0, 0, 2, 6, 12, 20},
	}

	a := mat.NewDense(6, 6, nil)
	for i, row := range derivs {
		for j := i; j < 6; j++ {
			a.Set(2*i, j, row[j]*math.Pow(ti, float64(j-i)))
			a.Set(2*i+1, j, row[j]*math.Pow(tf, float64(j-i)))
		}
	}
	b := mat.NewVecDense(6, []float64{vi, vf, ai, af, ji, jf})

	var x mat.VecDense
	if err := x.SolveVec(a, b); err != nil {
		return [6]float64{}, errors.Wrap(err, "quintic boundary conditions are singular")
	}
	var coef [6]float64
	for i := range coef {
		coef[i] = x.AtVec(i)
	}
	return coef, nil
}

// polyval evaluates sum(coef[k] * t^k).
func polyval(coef []float64, t float64) float64 {
	v := 0.0
	for k := len(coef) - 1; k >= 0; k-- {
		v = v*t + coef[k]
	}
	return v
}

// polyint evaluates the antiderivative of polyval at t, with zero
// constant term.
func polyint(coef []float64, t float64) float64 {
	v := 0.0
	for k := len(coef) - 1; k >= 0; k-- {
		v = v*t + coef[k]/float64(k+1)
	}
	return v * t
}
