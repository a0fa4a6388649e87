package scan

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func polyderiv(coef [6]float64, t float64) float64 {
	v := 0.0
	for k := 5; k >= 1; k-- {
		v = v*t + float64(k)*coef[k]
	}
	return v
}

func TestSolveQuinticVelocityBoundaries(t *testing.T) {
	ti, tf := 0.0, 2.0
	vi, vf := 1.0, -1.0
	ai, af := 0.0, 0.5
	ji, jf := 0.0, 0.0

	coef, err := SolveQuinticVelocity(ti, tf, vi, vf, ai, af, ji, jf)
	require.NoError(t, err)

	assert.InDelta(t, vi, polyval(coef[:], ti), 1e-9, "initial velocity")
	assert.InDelta(t, vf, polyval(coef[:], tf), 1e-9, "final velocity")
	assert.InDelta(t, ai, polyderiv(coef, ti), 1e-9, "initial acceleration")
	assert.InDelta(t, af, polyderiv(coef, tf), 1e-9, "final acceleration")

	// Jerk at the boundaries, via the second derivative of the velocity
	// polynomial.
	jerk := func(x float64) float64 {
		v := 0.0
		for k := 5; k >= 2; k-- {
			v = v*x + float64(k*(k-1))*coef[k]
		}
		return v
	}
	assert.InDelta(t, ji, jerk(ti), 1e-9, "initial jerk")
	assert.InDelta(t, jf, jerk(tf), 1e-9, "final jerk")
}

func TestThreeLegTurnaroundDuration(t *testing.T) {
	const (
		t0       = 1000.0
		az0      = 80.0
		el0      = 50.0
		v0       = 1.0
		turnTime = 3.0 // 2v/a with a = 2/3
	)
	pts, err := ThreeLegTurnaround(t0, az0, el0, v0, turnTime, 1, 0, false, TurnaroundOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, pts)

	last := pts[len(pts)-1]
	assert.InDelta(t, t0+turnTime, last.Timestamp, 0.1+1e-9,
		"total duration should match the baseline 2v/a turnaround")
	assert.InDelta(t, -v0, last.AzVel, 1e-6, "exit velocity reversed")

	for i, p := range pts {
		assert.Equal(t, el0, p.El, "el held constant at point %d", i)
		assert.Equal(t, 0.0, p.ElVel, "el velocity zero at point %d", i)
		assert.Equal(t, 1, p.AzFlag)
		if i > 0 {
			assert.Greater(t, p.Timestamp, pts[i-1].Timestamp, "time increasing at %d", i)
			// Position continuity: no jump bigger than one step at full
			// speed.
			assert.LessOrEqual(t, math.Abs(p.Az-pts[i-1].Az), v0*0.1+1e-6,
				"position continuous at %d", i)
		}
	}
}

func TestThreeLegTurnaroundStopsInMiddle(t *testing.T) {
	pts, err := ThreeLegTurnaround(0, 80, 50, 1.0, 3.0, 1, 0, false, TurnaroundOptions{})
	require.NoError(t, err)

	// With the default zero middle-leg velocity the platform should pass
	// through (near) zero velocity mid-turnaround.
	minAbs := math.Inf(1)
	for _, p := range pts {
		minAbs = math.Min(minAbs, math.Abs(p.AzVel))
	}
	assert.Less(t, minAbs, 0.05, "velocity should reach near zero")
}

func TestThreeLegTurnaroundGearMeshVelocity(t *testing.T) {
	pts, err := ThreeLegTurnaround(0, 80, 50, 2.0, 4.0, 1, 0, true,
		TurnaroundOptions{SecondLegTime: 2.0, SecondLegVelocity: 0.1})
	require.NoError(t, err)
	for _, p := range pts {
		assert.True(t, p.Group, "group flag carried onto turnaround points")
	}

	// Mid-turnaround the speed should hover near the gear-mesh velocity,
	// far below the scan speed.
	mid := pts[len(pts)/2]
	assert.Less(t, math.Abs(mid.AzVel), 0.5)
}

func TestThreeLegTurnaroundRejectsShortTurn(t *testing.T) {
	_, err := ThreeLegTurnaround(0, 80, 50, 1.0, 1.2, 1, 0, false, TurnaroundOptions{})
	assert.Error(t, err, "turnaround leaving <1s for the outer legs must be rejected")
}
