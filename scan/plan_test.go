package scan

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanScanMid(t *testing.T) {
	plan, err := PlanScan(60, 80, 1, 1, AzStartMidInc)
	require.NoError(t, err)

	assert.Equal(t, 1.0, plan.StepTime, "wide slow scan uses the max step time")
	assert.Equal(t, 70.0, plan.InitAz, "no start buffer needed for a wide scan")
	assert.Zero(t, plan.ScanStartBuffer)
	assert.Equal(t, 5.0, plan.WaitToStart)
}

func TestPlanScanEndStart(t *testing.T) {
	plan, err := PlanScan(60, 80, 2, 1, AzStartEndpoint1)
	require.NoError(t, err)
	assert.Equal(t, 60.0, plan.InitAz, "end start positions at endpoint1")

	plan, err = PlanScan(60, 80, 2, 1, AzStartEndpoint2)
	require.NoError(t, err)
	assert.Equal(t, 80.0, plan.InitAz, "reversed end start positions at endpoint2")
}

func TestPlanScanStartBuffer(t *testing.T) {
	// Fast narrow scan: turnaround prep and ramp-up do not fit inside
	// the half-throw, so the start shifts back.
	plan, err := PlanScan(60, 64, 2, 1, AzStartMidInc)
	require.NoError(t, err)

	assert.Greater(t, plan.ScanStartBuffer, 0.0)
	assert.InDelta(t, 62-plan.ScanStartBuffer, plan.InitAz, 1e-9)
	assert.Equal(t, 2.0, plan.RampupTime)
}

func TestPlanScanTooNarrow(t *testing.T) {
	_, err := PlanScan(70, 70.5, 2, 1, AzStartMid)
	assert.Error(t, err, "scan with fewer than 5 points per leg must be rejected")
}

func TestPlanScanBadStart(t *testing.T) {
	_, err := PlanScan(60, 80, 1, 1, "sideways")
	assert.Error(t, err)
}

func TestClampAccel(t *testing.T) {
	// Peak turnaround jerk scales as a^2/v; the acceleration bound is
	// sqrt(jerk * v).
	assert.InDelta(t, math.Sqrt(40), ClampAccel(4, 10, 10), 1e-9, "accel above the bound clamps")
	assert.Equal(t, 5.0, ClampAccel(4, 5, 10), "accel under the bound passes through")
	assert.Equal(t, 5.0, ClampAccel(1, 5, 0), "zero jerk limit disables clamping")
}
