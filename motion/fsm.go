package motion

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/srtlab/acu_interface/acu"
)

// Limits are the soft position limits for one axis, degrees.
type Limits struct {
	Min float64
	Max float64
}

func (l Limits) contains(pos float64) bool {
	return pos >= l.Min && pos <= l.Max
}

func (l Limits) clamp(pos float64) float64 {
	return math.Min(math.Max(pos, l.Min), l.Max)
}

// Tunables collects the motion state machine's timing and threshold
// parameters.  Zero values take the defaults.  The still threshold in
// particular is mount-dependent; it is the position standard deviation
// over the still window below which the axis counts as not moving.
type Tunables struct {
	StillThreshold     float64
	StillWindow        time.Duration
	HistoryWindow      time.Duration
	StartupTimeout     time.Duration
	AbortTime          float64 // dead-reckoning horizon, seconds
	AssumedMaxVelocity float64 // deg/s, for the watchdog deadline
	WatchdogAllowance  time.Duration
	PollInterval       time.Duration
	Tolerance          float64 // deg
}

func (t Tunables) withDefaults() Tunables {
	if t.StillThreshold == 0 {
		t.StillThreshold = 0.01
	}
	if t.StillWindow == 0 {
		t.StillWindow = time.Second
	}
	if t.HistoryWindow == 0 {
		t.HistoryWindow = 20 * time.Second
	}
	if t.StartupTimeout == 0 {
		t.StartupTimeout = 10 * time.Second
	}
	if t.AbortTime == 0 {
		t.AbortTime = 1
	}
	if t.AssumedMaxVelocity == 0 {
		t.AssumedMaxVelocity = 6
	}
	if t.WatchdogAllowance == 0 {
		t.WatchdogAllowance = 30 * time.Second
	}
	if t.PollInterval == 0 {
		t.PollInterval = 100 * time.Millisecond
	}
	if t.Tolerance == 0 {
		t.Tolerance = 0.01
	}
	return t
}

type fsmState int

const (
	stateInit fsmState = iota
	stateWaitMoving
	stateWaitStill
)

func (s fsmState) String() string {
	switch s {
	case stateInit:
		return "INIT"
	case stateWaitMoving:
		return "WAIT_MOVING"
	case stateWaitStill:
		return "WAIT_STILL"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type posSample struct {
	t   time.Time
	pos float64
}

// AxisFSM drives one axis through a Preset move: command the target,
// wait for the mode to engage, wait for motion to end at the target.
// An abort recomputes a dead-reckoned stopping point and re-enters the
// command state once.
type AxisFSM struct {
	axis     AxisControl
	target   float64
	limits   Limits
	tun      Tunables
	provider StatusProvider
	cmd      Commander

	history   []posSample
	everMoved bool
	aborted   bool
}

// NewAxisMove validates a move request.  Targets outside the soft
// limits are rejected here, before any command is issued.
func NewAxisMove(axisName string, target float64, limits Limits, tun Tunables, provider StatusProvider, cmd Commander) (*AxisFSM, error) {
	axis, err := ControlForAxis(axisName)
	if err != nil {
		return nil, err
	}
	if !limits.contains(target) {
		return nil, errors.Errorf("%s target %.3f outside limits [%.3f, %.3f]",
			axis.Name(), target, limits.Min, limits.Max)
	}
	return &AxisFSM{
		axis:     axis,
		target:   target,
		limits:   limits,
		tun:      tun.withDefaults(),
		provider: provider,
		cmd:      cmd,
	}, nil
}

// Run executes the move.  The abort channel requests a controlled
// stop; context cancellation does the same.  Run returns when the
// move is done, failed, or the abort stop has settled.
func (f *AxisFSM) Run(ctx context.Context, abort <-chan struct{}) Outcome {
	state := stateInit
	stateEntered := time.Now()
	firstTelemetry := time.Now()
	var watchdog time.Time

	enter := func(s fsmState) {
		log.Printf("%s: %s -> %s (target %.3f)", f.axis.Name(), state, s, f.target)
		state = s
		stateEntered = time.Now()
	}
	fail := func(format string, args ...interface{}) Outcome {
		return Outcome{Success: false, Aborted: f.aborted, Message: fmt.Sprintf(format, args...)}
	}

	ctxDone := ctx.Done()
	for {
		select {
		case <-ctxDone:
			if !f.requestAbort(enter) {
				return fail("Motion canceled.")
			}
			ctxDone, abort = nil, nil
		case <-abort:
			if !f.requestAbort(enter) {
				return fail("Motion aborted.")
			}
			ctxDone, abort = nil, nil
		case <-time.After(f.tun.PollInterval):
		}

		status, ok := f.provider.Latest()
		if !ok {
			if time.Since(firstTelemetry) > f.tun.StartupTimeout {
				return fail("No telemetry from platform.")
			}
			continue
		}
		ax, ok := f.axis.Telemetry(status)
		if !ok {
			return fail("No telemetry for axis %s.", f.axis.Name())
		}
		now := time.Now()
		f.push(now, ax.Position)
		still := f.still(now)
		if f.moving(now) {
			f.everMoved = true
		}

		if watchdog.IsZero() {
			travel := math.Abs(f.target - ax.Position)
			watchdog = now.Add(time.Duration(travel/f.tun.AssumedMaxVelocity*float64(time.Second)) +
				f.tun.WatchdogAllowance)
		}
		if now.After(watchdog) {
			return fail("Motion watchdog expired in %s.", state)
		}

		switch state {
		case stateInit:
			if err := f.axis.Preset(f.cmd, f.target); err != nil {
				return fail("Command rejected: %v.", err)
			}
			f.history = nil
			f.everMoved = false
			enter(stateWaitMoving)

		case stateWaitMoving:
			if ax.Mode == acu.ModePreset {
				enter(stateWaitStill)
			} else if time.Since(stateEntered) > f.tun.StartupTimeout && still {
				return fail("Axis did not enter Preset mode.")
			}

		case stateWaitStill:
			if ax.Mode != acu.ModePreset {
				return fail("Axis mode changed unexpectedly (%s).", ax.Mode)
			}
			if still && math.Abs(ax.Position-f.target) <= f.tun.Tolerance {
				if f.aborted {
					return Outcome{Success: false, Aborted: true, Message: "Motion aborted; axis stopped."}
				}
				return Outcome{Success: true, Message: "Motion complete."}
			}
			if !f.everMoved && time.Since(stateEntered) > f.tun.StartupTimeout {
				return fail("Axis never moved.")
			}
		}
	}
}

// requestAbort recomputes the target as a dead-reckoned stopping point
// and re-enters the command state.  Returns false if an abort was
// already in progress; the caller then gives up immediately.
func (f *AxisFSM) requestAbort(enter func(fsmState)) bool {
	if f.aborted {
		return false
	}
	f.aborted = true
	if status, ok := f.provider.Latest(); ok {
		if ax, ok := f.axis.Telemetry(status); ok {
			f.target = f.limits.clamp(ax.Position + ax.Velocity*f.tun.AbortTime)
		}
	}
	log.Printf("%s: abort requested, stopping at %.3f", f.axis.Name(), f.target)
	enter(stateInit)
	return true
}

func (f *AxisFSM) push(now time.Time, pos float64) {
	f.history = append(f.history, posSample{now, pos})
	cut := 0
	for cut < len(f.history) && now.Sub(f.history[cut].t) > f.tun.HistoryWindow {
		cut++
	}
	f.history = f.history[cut:]
}

func (f *AxisFSM) recent(now time.Time) []posSample {
	i := len(f.history)
	for i > 0 && now.Sub(f.history[i-1].t) <= f.tun.StillWindow {
		i--
	}
	return f.history[i:]
}

func (f *AxisFSM) stddev(now time.Time) (float64, bool) {
	recent := f.recent(now)
	if len(recent) < 2 {
		return 0, false
	}
	var mean float64
	for _, s := range recent {
		mean += s.pos
	}
	mean /= float64(len(recent))
	var sq float64
	for _, s := range recent {
		sq += (s.pos - mean) * (s.pos - mean)
	}
	return math.Sqrt(sq / float64(len(recent))), true
}

// still reports whether the axis has been stationary over the still
// window: enough samples spanning most of the window, with position
// standard deviation under the threshold.
func (f *AxisFSM) still(now time.Time) bool {
	recent := f.recent(now)
	if len(recent) < 2 || now.Sub(recent[0].t) < f.tun.StillWindow/2 {
		return false
	}
	sigma, ok := f.stddev(now)
	return ok && sigma < f.tun.StillThreshold
}

// moving reports positive evidence of motion in the still window.
func (f *AxisFSM) moving(now time.Time) bool {
	sigma, ok := f.stddev(now)
	return ok && sigma >= f.tun.StillThreshold
}
