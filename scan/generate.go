package scan

import (
	"math"
	"time"

	"github.com/pkg/errors"
)

// AzStart selects which part of a scan pattern the first leg begins at.
type AzStart string

const (
	AzStartEndpoint1 AzStart = "az_endpoint1"
	AzStartEndpoint2 AzStart = "az_endpoint2"
	AzStartEnd       AzStart = "end"
	AzStartMid       AzStart = "mid"
	AzStartMidInc    AzStart = "mid_inc"
	AzStartMidDec    AzStart = "mid_dec"
)

// ScanParams describes a constant-velocity azimuth scan at fixed
// elevation.
type ScanParams struct {
	// AzEndpoint1 and AzEndpoint2 are the scan endpoints, degrees.
	AzEndpoint1 float64
	AzEndpoint2 float64

	// AzSpeed is the speed of the constant-velocity legs, deg/s.
	AzSpeed float64

	// Accel is the mean turnaround acceleration, deg/s^2.  The turnaround
	// time is 2*AzSpeed/Accel.
	Accel float64

	// El is the fixed elevation of the scan.
	El float64

	// NumBatches limits the number of point batches produced; 0 means
	// unlimited.  When set, the batch size is one full leg.
	NumBatches int

	// NumScans limits the number of constant-velocity legs; 0 means
	// unlimited.
	NumScans int

	// StartTime is the unix time of the first point.  When zero the scan
	// starts at now + WaitToStart.
	StartTime float64

	// WaitToStart is the lead time applied when StartTime is zero.
	// Defaults to 10 s.
	WaitToStart float64

	// StepTime is the time between points on constant-velocity legs.
	// Defaults to 1 s; minimum 0.05 s.
	StepTime float64

	// BatchSize is the number of points per batch; defaults to 500.
	BatchSize int

	// AzStart selects the starting phase; defaults to AzStartMidInc.
	AzStart AzStart

	// AzFirstPos, if non-nil, overrides the azimuth of the very first leg
	// start (the leg proceeds in the same direction).
	AzFirstPos *float64

	// AzDrift shifts the scan endpoints in time, deg/s, to track a
	// drifting source.
	AzDrift float64
}

// ConstantVelocityScan lazily produces the points of an arbitrarily long
// constant-velocity azimuth scan, alternating linear legs with
// turnarounds.  Construct with NewConstantVelocityScan; restart by
// reconstructing.
type ConstantVelocityScan struct {
	p        ScanParams
	daz      float64
	turnTime float64

	t          float64
	t0         float64
	az         float64
	azVel      float64
	azFlag     int
	increasing bool
	targetAz   float64

	scansLeft   int // counts down when NumScans set
	batchesLeft int
	groupLeft   int
	done        bool
}

// NewConstantVelocityScan validates params and prepares the generator.
func NewConstantVelocityScan(p ScanParams) (*ConstantVelocityScan, error) {
	if p.AzEndpoint1 == p.AzEndpoint2 {
		return nil, errors.New("scan requires two different az endpoints")
	}
	if p.AzSpeed <= 0 || p.Accel <= 0 {
		return nil, errors.New("az speed and accel must be positive")
	}
	if p.StepTime == 0 {
		p.StepTime = 1.0
	}
	if p.StepTime < 0.05 {
		return nil, errors.New("step time too small, must be at least 0.05 seconds")
	}
	if p.WaitToStart == 0 {
		p.WaitToStart = 10.
	}
	if p.BatchSize == 0 {
		p.BatchSize = 500
	}
	if p.AzStart == "" {
		p.AzStart = AzStartMidInc
	}

	s := &ConstantVelocityScan{
		p:        p,
		daz:      p.StepTime * p.AzSpeed,
		turnTime: 2.0 * p.AzSpeed / p.Accel,
	}

	s.increasing = p.AzEndpoint2 > p.AzEndpoint1
	switch p.AzStart {
	case AzStartEndpoint1, AzStartEnd:
		s.az = p.AzEndpoint1
	case AzStartEndpoint2:
		s.az = p.AzEndpoint2
		s.increasing = !s.increasing
	case AzStartMid:
		s.az = (p.AzEndpoint1 + p.AzEndpoint2) / 2
	case AzStartMidInc:
		s.az = (p.AzEndpoint1 + p.AzEndpoint2) / 2
		s.increasing = true
	case AzStartMidDec:
		s.az = (p.AzEndpoint1 + p.AzEndpoint2) / 2
		s.increasing = false
	default:
		return nil, errors.Errorf("az start %q not supported", p.AzStart)
	}
	if s.increasing {
		s.azVel = p.AzSpeed
	} else {
		s.azVel = -p.AzSpeed
	}
	if p.AzFirstPos != nil {
		s.az = *p.AzFirstPos
	}

	if p.StartTime != 0 {
		s.t0 = p.StartTime
	} else {
		s.t0 = float64(time.Now().UnixNano())/1e9 + p.WaitToStart
	}

	if p.NumBatches > 0 {
		s.batchesLeft = p.NumBatches
		// One full leg per batch.
		s.p.BatchSize = int(math.Ceil(math.Abs(p.AzEndpoint2-p.AzEndpoint1) / s.daz))
	} else {
		s.batchesLeft = -1
	}
	if p.NumScans > 0 {
		s.scansLeft = p.NumScans
	} else {
		s.scansLeft = -1
	}

	s.targetAz = s.nextTarget()
	return s, nil
}

// nextTarget returns the endpoint the current leg is heading for,
// including any drift applied to the endpoints over time.
func (s *ConstantVelocityScan) nextTarget() float64 {
	var target float64
	if s.increasing {
		target = math.Max(s.p.AzEndpoint1, s.p.AzEndpoint2)
	} else {
		target = math.Min(s.p.AzEndpoint1, s.p.AzEndpoint2)
	}
	if s.p.AzDrift != 0 {
		v := s.p.AzSpeed
		if !s.increasing {
			v = -s.p.AzSpeed
		}
		target += s.p.AzDrift / (v - s.p.AzDrift) * (target - s.az + v*s.t)
	}
	return target
}

// Next returns the next batch of track points.  ok is false once the
// scan's batch or leg limit has been reached.
func (s *ConstantVelocityScan) Next() ([]TrackPoint, bool) {
	if s.done || s.batchesLeft == 0 || s.scansLeft == 0 {
		return nil, false
	}
	if s.batchesLeft > 0 {
		s.batchesLeft--
	}

	block := make([]TrackPoint, 0, s.p.BatchSize)
	for j := 0; j < s.p.BatchSize; j++ {
		block = append(block, TrackPoint{
			Timestamp: s.t + s.t0,
			Az:        s.az,
			El:        s.p.El,
			AzVel:     s.azVel,
			ElVel:     0,
			AzFlag:    s.azFlag,
			ElFlag:    0,
			Group:     s.groupLeft > 0,
		})
		if s.groupLeft > 0 {
			s.groupLeft--
		}

		s.advance()

		if s.scansLeft == 0 {
			// Kill the velocity on the last point so the platform stops
			// smoothly at end of program.
			block[len(block)-1].AzVel = 0
			block[len(block)-1].ElVel = 0
			s.done = true
			break
		}
	}
	return block, true
}

// advance steps the generator state to the next point.
func (s *ConstantVelocityScan) advance() {
	dir := 1.0
	if !s.increasing {
		dir = -1.0
	}
	switch {
	case dir*s.az <= dir*s.targetAz-2*s.daz:
		// Mid-leg.
		s.t += s.p.StepTime
		s.az += dir * s.daz
		s.azVel = dir * s.p.AzSpeed
		s.azFlag = 1
	case s.az == s.targetAz:
		// Turn around.
		s.t += s.turnTime
		s.increasing = !s.increasing
		s.azVel = -dir * s.p.AzSpeed
		s.azFlag = 1
		s.targetAz = s.nextTarget()
		if s.scansLeft > 0 {
			s.scansLeft--
		}
		s.groupLeft = MinGroupNewLeg - 1
	default:
		// Close to the endpoint; land exactly on it.
		s.t += dir * (s.targetAz - s.az) / s.p.AzSpeed
		s.az = s.targetAz
		s.azVel = dir * s.p.AzSpeed
		s.azFlag = 2
	}
}
