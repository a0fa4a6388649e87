package sunsafe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Southern-hemisphere summer afternoon: the Sun is well above the
// horizon at the default site.
var testTime = time.Date(2024, 1, 1, 18, 0, 0, 0, time.UTC)

func testMap(t *testing.T, policy Policy) *SunSafetyMap {
	t.Helper()
	m := NewSunSafetyMap(policy, DefaultSite)
	m.Reset(testTime)
	return m
}

func TestSunPosRoundTrip(t *testing.T) {
	m := NewSunSafetyMap(DefaultPolicy(), DefaultSite)
	sun := m.SunPos(testTime)

	assert.Greater(t, sun.El, 20.0, "sun should be high in the summer afternoon")
	assert.InDelta(t, -23, sun.Dec, 1, "sun near its southern extreme at the new year")
	assert.InDelta(t, 0, m.SunDistance(sun.Az, sun.El, testTime), 1e-6,
		"sun is zero degrees from itself")

	// Horizontal and equatorial transforms invert each other.
	ra, dec := horToEqu(sun.Az, sun.El, testTime, DefaultSite)
	az, el := equToHor(ra, dec, testTime, DefaultSite)
	assert.InDelta(t, sun.Az, az, 1e-6)
	assert.InDelta(t, sun.El, el, 1e-6)
}

func TestCheckTrajectoryAtSun(t *testing.T) {
	m := testMap(t, DefaultPolicy())
	sun := m.SunPos(testTime)

	info, err := m.CheckTrajectory([]float64{sun.Az}, []float64{sun.El}, testTime)
	require.NoError(t, err)
	assert.Zero(t, info.SunTime, "pointing at the sun is unsafe now")
	assert.Less(t, info.SunDistMin, 1.0, "map distance at the sun pixel")
	assert.Equal(t, info.SunTime, info.SunTimeStart)
	assert.Equal(t, info.SunTime, info.SunTimeStop)
}

func TestCheckTrajectoryAntiSun(t *testing.T) {
	m := testMap(t, DefaultPolicy())
	sun := m.SunPos(testTime)

	// The pointing diametrically opposite the sun never rotates into
	// the exclusion zone.
	az, el := equToHor(normDeg(sun.RA+180), -sun.Dec, testTime, DefaultSite)
	info, err := m.CheckTrajectory([]float64{az}, []float64{el}, testTime)
	require.NoError(t, err)
	assert.Greater(t, info.SunDistMin, 170.0, "anti-sun pointing far from the sun")
	assert.Equal(t, NoTime, info.SunTime)
}

func TestCheckTrajectoryDriftTowardSun(t *testing.T) {
	m := testMap(t, DefaultPolicy())
	sun := m.SunPos(testTime)

	// A pointing west of the Sun on the same RA track gets swept into
	// the exclusion zone as the sky turns; the lead time scales with
	// the RA gap.
	ra, dec := horToEqu(sun.Az, sun.El, testTime, DefaultSite)
	azNear, elNear := equToHor(normDeg(ra-30), dec, testTime, DefaultSite)
	near, err := m.CheckTrajectory([]float64{azNear}, []float64{elNear}, testTime)
	require.NoError(t, err)
	azFar, elFar := equToHor(normDeg(ra-60), dec, testTime, DefaultSite)
	far, err := m.CheckTrajectory([]float64{azFar}, []float64{elFar}, testTime)
	require.NoError(t, err)

	assert.Greater(t, near.SunTime, 0.0)
	assert.Greater(t, far.SunTime, near.SunTime, "larger RA gap means more lead time")
	assert.Less(t, far.SunTime, Day, "lead times stay within one rotation")

	// 30 deg of RA less the 20 deg exclusion radius is about 2.4 h of
	// rotation.
	assert.InDelta(t, (30-m.Policy.ExclusionRadius)/360*Day, near.SunTime, 600)
}

func TestCheckTrajectoryHorizonRule(t *testing.T) {
	policy := DefaultPolicy()
	policy.ElHorizon = 91 // sun can never be above this
	m := testMap(t, policy)
	sun := m.SunPos(testTime)

	info, err := m.CheckTrajectory([]float64{sun.Az}, []float64{sun.El}, testTime)
	require.NoError(t, err)
	assert.Equal(t, 180.0, info.SunDistMin, "sun below horizon rails distances")
	assert.Zero(t, info.SunTime, "sun time is unaffected by the horizon rule")
}

func TestCheckTrajectoryErrors(t *testing.T) {
	m := NewSunSafetyMap(DefaultPolicy(), DefaultSite)
	_, err := m.CheckTrajectory([]float64{0}, []float64{60}, testTime)
	assert.Error(t, err, "map must be computed first")

	m.Reset(testTime)
	_, err = m.CheckTrajectory([]float64{0, 1}, []float64{60}, testTime)
	assert.Error(t, err, "mismatched trajectory vectors")
	_, err = m.CheckTrajectory(nil, nil, testTime)
	assert.Error(t, err, "empty trajectory")
}

func TestMapPixelClampAndWrap(t *testing.T) {
	m := testMap(t, DefaultPolicy())

	// Pointings near the pole map beyond the dec cut; they must clamp
	// to the map edge rather than panic, and a full az circle at high
	// el stays in bounds.
	var az, el []float64
	for a := -180.0; a <= 540; a += 15 {
		az = append(az, a)
		el = append(el, 89.5)
	}
	info, err := m.CheckTrajectory(az, el, testTime)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, info.SunDistMin, 0.0)
}
