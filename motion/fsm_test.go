package motion

import (
	"context"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/srtlab/acu_interface/acu"
)

// plant is a fake mount: a StatusProvider whose axes advance toward
// their preset targets in wall time, and a Commander that records what
// was asked of it.
type plant struct {
	mu     sync.Mutex
	axes   map[string]*plantAxis
	remote bool
	silent bool
	free   int
	// consume is how many stack positions drain per status read.
	consume int

	presetCalls int
	presetPanic string
	uploads     []int
	overfill    bool
	clearCount  int
	faults      map[string]bool
}

type plantAxis struct {
	mode   string
	pos    float64
	vel    float64
	target float64
	rate   float64
	last   time.Time
}

func newPlant() *plant {
	return &plant{
		axes: map[string]*plantAxis{
			acu.AxisAzimuth:   {mode: acu.ModeStop, pos: 50},
			acu.AxisElevation: {mode: acu.ModeStop, pos: 50},
			acu.AxisBoresight: {mode: acu.ModeStop},
		},
		remote: true,
		free:   acu.FullStack,
		faults: map[string]bool{},
	}
}

func (p *plant) Latest() (acu.Status, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.silent {
		return acu.Status{}, false
	}
	now := time.Now()
	for _, ax := range p.axes {
		ax.advance(now)
	}
	p.free += p.consume
	if p.free > acu.FullStack {
		p.free = acu.FullStack
	}
	status := acu.Status{
		RemoteMode:          p.remote,
		FreeUploadPositions: p.free,
		TrackStartTooEarly:  p.faults["Track_start_too_early"],
		Received:            now,
	}
	for name, ax := range p.axes {
		as := acu.AxisStatus{Mode: ax.mode, Position: ax.pos, Velocity: ax.vel}
		switch name {
		case acu.AxisAzimuth:
			status.Azimuth = as
		case acu.AxisElevation:
			status.Elevation = as
		case acu.AxisBoresight:
			status.Boresight = as
		}
	}
	return status, true
}

func (ax *plantAxis) advance(now time.Time) {
	if ax.last.IsZero() {
		ax.last = now
		return
	}
	dt := now.Sub(ax.last).Seconds()
	ax.last = now
	if ax.mode != acu.ModePreset || ax.rate == 0 {
		ax.vel = 0
		return
	}
	delta := ax.target - ax.pos
	step := ax.rate * dt
	if math.Abs(delta) <= step {
		ax.pos = ax.target
		ax.vel = 0
	} else {
		ax.vel = math.Copysign(ax.rate, delta)
		ax.pos += ax.vel * dt
	}
}

func (p *plant) Preset(axis string, pos float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if axis == p.presetPanic {
		panic("synthetic command failure")
	}
	p.presetCalls++
	ax := p.axes[axis]
	ax.target = pos
	ax.mode = acu.ModePreset
	return nil
}

func (p *plant) SetMode(axis, mode string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if axis == acu.AxisAll {
		for _, ax := range p.axes {
			ax.mode = mode
		}
		return nil
	}
	p.axes[axis].mode = mode
	return nil
}

func (p *plant) UploadTrack(lines []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(lines) > p.free {
		p.overfill = true
	}
	p.uploads = append(p.uploads, len(lines))
	p.free -= len(lines)
	return nil
}

func (p *plant) ClearStack() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clearCount++
	p.free = acu.FullStack
	return nil
}

func (p *plant) ClearFaults() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.faults = map[string]bool{}
	return nil
}

func (p *plant) setAxis(axis string, fn func(*plantAxis)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p.axes[axis])
}

func (p *plant) set(fn func(*plant)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p)
}

func (p *plant) snapshotInt(fn func(*plant) int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fn(p)
}

var testLimits = Limits{Min: 0, Max: 90}

func fastTunables() Tunables {
	return Tunables{
		StillWindow:        100 * time.Millisecond,
		HistoryWindow:      2 * time.Second,
		StartupTimeout:     time.Second,
		AssumedMaxVelocity: 10,
		WatchdogAllowance:  10 * time.Second,
		PollInterval:       5 * time.Millisecond,
	}
}

func TestMoveRejectedOutsideLimits(t *testing.T) {
	p := newPlant()
	_, err := NewAxisMove("azimuth", 100, testLimits, fastTunables(), p, p)
	if err == nil {
		t.Fatal("target outside limits accepted")
	}
	if n := p.snapshotInt(func(p *plant) int { return p.presetCalls }); n != 0 {
		t.Errorf("%d commands issued for rejected request", n)
	}

	if _, err := NewAxisMove("corotator", 10, testLimits, fastTunables(), p, p); err == nil {
		t.Error("unknown axis accepted")
	}
}

func TestMoveTrivialDone(t *testing.T) {
	p := newPlant()
	p.setAxis(acu.AxisAzimuth, func(ax *plantAxis) { ax.pos = 50 })

	f, err := NewAxisMove("azimuth", 50, testLimits, fastTunables(), p, p)
	if err != nil {
		t.Fatal(err)
	}
	out := f.Run(context.Background(), nil)
	if !out.Success {
		t.Fatalf("outcome: %+v", out)
	}
	if n := p.snapshotInt(func(p *plant) int { return p.presetCalls }); n != 1 {
		t.Errorf("%d preset commands for trivial move, want 1", n)
	}
}

func TestMoveCompletes(t *testing.T) {
	p := newPlant()
	p.setAxis(acu.AxisAzimuth, func(ax *plantAxis) { ax.rate = 10 })

	f, err := NewAxisMove("azimuth", 52, testLimits, fastTunables(), p, p)
	if err != nil {
		t.Fatal(err)
	}
	out := f.Run(context.Background(), nil)
	if !out.Success || out.Aborted {
		t.Fatalf("outcome: %+v", out)
	}
	status, _ := p.Latest()
	if math.Abs(status.Azimuth.Position-52) > 0.01 {
		t.Errorf("final position %f", status.Azimuth.Position)
	}
}

func TestMoveAbortMidStill(t *testing.T) {
	p := newPlant()
	p.setAxis(acu.AxisAzimuth, func(ax *plantAxis) { ax.rate = 5 })

	f, err := NewAxisMove("azimuth", 85, testLimits, fastTunables(), p, p)
	if err != nil {
		t.Fatal(err)
	}
	abort := make(chan struct{})
	go func() {
		time.Sleep(300 * time.Millisecond)
		close(abort)
	}()
	out := f.Run(context.Background(), abort)
	if out.Success || !out.Aborted {
		t.Fatalf("outcome: %+v", out)
	}
	if !strings.Contains(out.Message, "aborted") {
		t.Errorf("message %q", out.Message)
	}
	// One command for the original target, one for the recomputed
	// stopping point.
	if n := p.snapshotInt(func(p *plant) int { return p.presetCalls }); n != 2 {
		t.Errorf("%d preset commands, want 2", n)
	}
	status, _ := p.Latest()
	if status.Azimuth.Position >= 85-1 {
		t.Errorf("abort still reached the original target (pos %f)", status.Azimuth.Position)
	}
}

func TestMoveFailsOnModeChange(t *testing.T) {
	p := newPlant()
	p.setAxis(acu.AxisAzimuth, func(ax *plantAxis) { ax.rate = 5 })

	f, err := NewAxisMove("azimuth", 85, testLimits, fastTunables(), p, p)
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		time.Sleep(200 * time.Millisecond)
		p.setAxis(acu.AxisAzimuth, func(ax *plantAxis) { ax.mode = acu.ModeStop })
	}()
	out := f.Run(context.Background(), nil)
	if out.Success {
		t.Fatalf("outcome: %+v", out)
	}
	if !strings.Contains(out.Message, "mode changed") {
		t.Errorf("message %q", out.Message)
	}
}

func TestMoveFailsWhenAxisNeverMoves(t *testing.T) {
	p := newPlant()
	// rate 0: mode engages but the axis stays put.
	tun := fastTunables()
	tun.StartupTimeout = 300 * time.Millisecond

	f, err := NewAxisMove("azimuth", 60, testLimits, tun, p, p)
	if err != nil {
		t.Fatal(err)
	}
	out := f.Run(context.Background(), nil)
	if out.Success {
		t.Fatalf("outcome: %+v", out)
	}
	if !strings.Contains(out.Message, "never moved") {
		t.Errorf("message %q", out.Message)
	}
}

func TestMoveWatchdog(t *testing.T) {
	p := newPlant()
	// Crawls, so it counts as moving but cannot reach the target
	// inside the watchdog deadline.
	p.setAxis(acu.AxisAzimuth, func(ax *plantAxis) { ax.rate = 0.5 })
	tun := fastTunables()
	tun.AssumedMaxVelocity = 100
	tun.WatchdogAllowance = 500 * time.Millisecond

	f, err := NewAxisMove("azimuth", 85, testLimits, tun, p, p)
	if err != nil {
		t.Fatal(err)
	}
	out := f.Run(context.Background(), nil)
	if out.Success {
		t.Fatalf("outcome: %+v", out)
	}
	if !strings.Contains(out.Message, "watchdog") {
		t.Errorf("message %q", out.Message)
	}
}

func TestMoveFailsWithoutTelemetry(t *testing.T) {
	p := newPlant()
	p.set(func(p *plant) { p.silent = true })
	tun := fastTunables()
	tun.StartupTimeout = 200 * time.Millisecond

	f, err := NewAxisMove("azimuth", 60, testLimits, tun, p, p)
	if err != nil {
		t.Fatal(err)
	}
	out := f.Run(context.Background(), nil)
	if out.Success || !strings.Contains(out.Message, "telemetry") {
		t.Fatalf("outcome: %+v", out)
	}
	if n := p.snapshotInt(func(p *plant) int { return p.presetCalls }); n != 0 {
		t.Errorf("%d commands issued without telemetry", n)
	}
}

func TestCoordinateBothAxes(t *testing.T) {
	p := newPlant()
	p.setAxis(acu.AxisAzimuth, func(ax *plantAxis) { ax.rate = 10 })
	p.setAxis(acu.AxisElevation, func(ax *plantAxis) { ax.rate = 10 })

	var fsms []*AxisFSM
	for _, req := range []struct {
		axis   string
		target float64
	}{{"azimuth", 52}, {"elevation", 48}} {
		f, err := NewAxisMove(req.axis, req.target, testLimits, fastTunables(), p, p)
		if err != nil {
			t.Fatal(err)
		}
		fsms = append(fsms, f)
	}
	out := Coordinate(context.Background(), fsms, nil)
	if !out.Success {
		t.Fatalf("outcome: %+v", out)
	}
	if !strings.Contains(out.Message, "Azimuth:") || !strings.Contains(out.Message, "Elevation:") {
		t.Errorf("message %q missing axis tags", out.Message)
	}
}

func TestCoordinatePanicIsolated(t *testing.T) {
	p := newPlant()
	p.setAxis(acu.AxisAzimuth, func(ax *plantAxis) { ax.rate = 10 })
	p.set(func(p *plant) { p.presetPanic = acu.AxisElevation })

	var fsms []*AxisFSM
	for _, req := range []struct {
		axis   string
		target float64
	}{{"azimuth", 52}, {"elevation", 48}} {
		f, err := NewAxisMove(req.axis, req.target, testLimits, fastTunables(), p, p)
		if err != nil {
			t.Fatal(err)
		}
		fsms = append(fsms, f)
	}
	out := Coordinate(context.Background(), fsms, nil)
	if out.Success {
		t.Fatal("combined success despite elevation crash")
	}
	if !strings.Contains(out.Message, "Azimuth: Motion complete.") {
		t.Errorf("azimuth should finish normally: %q", out.Message)
	}
	if !strings.Contains(out.Message, "Internal error") {
		t.Errorf("elevation crash not reported: %q", out.Message)
	}
}

func TestGroupLock(t *testing.T) {
	g := NewGroupLock()
	release, err := g.TryAcquire(GroupAzEl, "go_to")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.TryAcquire(GroupAzEl, "scan"); err == nil {
		t.Error("second acquisition granted")
	}
	// The third axis group is independent.
	release3, err := g.TryAcquire(GroupThird, "boresight")
	if err != nil {
		t.Errorf("third-axis group blocked: %v", err)
	} else {
		release3()
	}
	release()
	release, err = g.TryAcquire(GroupAzEl, "scan")
	if err != nil {
		t.Errorf("acquisition after release failed: %v", err)
	} else {
		release()
	}
}
