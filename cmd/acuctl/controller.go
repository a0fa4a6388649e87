package main

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/srtlab/acu_interface/acu"
	"github.com/srtlab/acu_interface/drivepower"
	"github.com/srtlab/acu_interface/motion"
	"github.com/srtlab/acu_interface/scan"
	"github.com/srtlab/acu_interface/sunsafe"
)

// maxMapAge is how old the sun-safety rasters may get before a plan
// recomputes them.
const maxMapAge = time.Hour

// maxJerk bounds the turnaround jerk the mount structure tolerates,
// deg/s^3.  Scan accelerations are clamped to keep under it.
const maxJerk = 10

// Controller owns the motion chain: the device client, the optional
// drive power interlock, the sun-safety map, and the axis-group lock
// that keeps operations from fighting over the mount.
type Controller struct {
	client *acu.Client
	drive  *drivepower.DrivePower
	locks  *motion.GroupLock
	tun    motion.Tunables

	mapMu  sync.Mutex
	safety *sunsafe.SunSafetyMap

	opMu    sync.Mutex
	opName  string
	opAbort chan struct{}
	last    motion.Outcome
}

func NewController(client *acu.Client, drive *drivepower.DrivePower, policy sunsafe.Policy, site sunsafe.Site) *Controller {
	return &Controller{
		client: client,
		drive:  drive,
		locks:  motion.NewGroupLock(),
		safety: sunsafe.NewSunSafetyMap(policy, site),
	}
}

func (c *Controller) azLimits() motion.Limits {
	return motion.Limits{Min: c.safety.Policy.MinAz, Max: c.safety.Policy.MaxAz}
}

func (c *Controller) elLimits() motion.Limits {
	return motion.Limits{Min: c.safety.Policy.MinEl, Max: c.safety.Policy.MaxEl}
}

// checkDrives refuses motion while the servo drives are not energized.
func (c *Controller) checkDrives() error {
	if c.drive == nil {
		return nil
	}
	status, ok := c.drive.Latest()
	if !ok {
		return errors.New("drive power cabinet not responding")
	}
	if !status.Energized() {
		return errors.New("servo drives not energized")
	}
	return nil
}

// safetyMap returns the sun-safety map, recomputing the rasters when
// they have gone stale.
func (c *Controller) safetyMap(now time.Time) *sunsafe.SunSafetyMap {
	c.mapMu.Lock()
	defer c.mapMu.Unlock()
	if c.safety.BaseTime().IsZero() || now.Sub(c.safety.BaseTime()) > maxMapAge {
		log.Printf("recomputing sun-safety map for %s", now.UTC().Format(time.RFC3339))
		c.safety.Reset(now)
	}
	return c.safety
}

// beginOp registers a named operation and its abort channel.  The
// returned finish func records the outcome and releases the slot.
func (c *Controller) beginOp(name string) (chan struct{}, func(motion.Outcome)) {
	abort := make(chan struct{})
	c.opMu.Lock()
	c.opName = name
	c.opAbort = abort
	c.opMu.Unlock()
	return abort, func(out motion.Outcome) {
		c.opMu.Lock()
		c.opName = ""
		c.opAbort = nil
		c.last = out
		c.opMu.Unlock()
		log.Printf("%s finished: %+v", name, out)
	}
}

// Op reports the operation in progress, if any, and the last outcome.
func (c *Controller) Op() (string, motion.Outcome) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.opName, c.last
}

// Stop aborts the operation in progress and commands all axes to stop.
func (c *Controller) Stop() error {
	c.opMu.Lock()
	if c.opAbort != nil {
		select {
		case <-c.opAbort:
		default:
			close(c.opAbort)
		}
	}
	c.opMu.Unlock()
	return c.client.Stop()
}

func (c *Controller) ClearFaults() error {
	return c.client.ClearFaults()
}

func (c *Controller) position() (az, el float64, err error) {
	status, ok := c.client.Latest()
	if !ok {
		return 0, 0, errors.New("no telemetry from platform")
	}
	return status.Azimuth.Position, status.Elevation.Position, nil
}

// runLegs executes a move sequence one leg at a time, each leg as a
// coordinated two-axis preset move.
func (c *Controller) runLegs(ctx context.Context, moves *sunsafe.MoveSequence, abort <-chan struct{}) motion.Outcome {
	for _, leg := range moves.Legs() {
		az, el := leg[1][0], leg[1][1]
		var fsms []*motion.AxisFSM
		for _, req := range []struct {
			axis   string
			target float64
			limits motion.Limits
		}{
			{acu.AxisAzimuth, az, c.azLimits()},
			{acu.AxisElevation, el, c.elLimits()},
		} {
			f, err := motion.NewAxisMove(req.axis, req.target, req.limits, c.tun, c.client, c.client)
			if err != nil {
				return motion.Outcome{Success: false, Message: err.Error()}
			}
			fsms = append(fsms, f)
		}
		out := motion.Coordinate(ctx, fsms, abort)
		if !out.Success {
			return out
		}
	}
	return motion.Outcome{Success: true, Message: "Move complete."}
}

// moveTo plans a sun-safe path to (az, el) and runs it.  Callers hold
// the axis-group lock.
func (c *Controller) moveTo(ctx context.Context, az, el float64, abort <-chan struct{}) (motion.Outcome, error) {
	az0, el0, err := c.position()
	if err != nil {
		return motion.Outcome{}, err
	}
	now := time.Now()
	m := c.safetyMap(now)
	plans, err := m.AnalyzePaths(az0, el0, az, el, now, m.Policy.ElDodging)
	if err != nil {
		return motion.Outcome{}, err
	}
	sel, decisions := m.SelectMove(plans, false)
	if sel == nil {
		for k, d := range decisions {
			log.Printf("go_to: path %d rejected: %s", k, d.Reason)
		}
		return motion.Outcome{}, errors.Errorf("no sun-safe path to (%.3f, %.3f)", az, el)
	}
	log.Printf("go_to: (%.3f, %.3f) -> (%.3f, %.3f) via el %.1f (sun time %.0f s)",
		az0, el0, az, el, sel.TravelEl, sel.SunTime)
	return c.runLegs(ctx, sel.Moves, abort), nil
}

// GoTo slews to (az, el) along a sun-safe path.  The request is
// rejected up front when the drives are down, the axes are busy, or no
// acceptable path exists.
func (c *Controller) GoTo(ctx context.Context, az, el float64) (motion.Outcome, error) {
	if err := c.checkDrives(); err != nil {
		return motion.Outcome{}, err
	}
	release, err := c.locks.TryAcquire(motion.GroupAzEl, "go_to")
	if err != nil {
		return motion.Outcome{}, err
	}
	defer release()

	abort, finish := c.beginOp("go_to")
	out, err := c.moveTo(ctx, az, el, abort)
	finish(out)
	return out, err
}

// ScanRequest is the user-facing subset of scan parameters.
type ScanRequest struct {
	AzEndpoint1 float64 `json:"az_endpoint1"`
	AzEndpoint2 float64 `json:"az_endpoint2"`
	AzSpeed     float64 `json:"az_speed"`
	Accel       float64 `json:"az_accel"`
	El          float64 `json:"el"`
	NumScans    int     `json:"num_scans"`
}

// Scan runs a constant-velocity azimuth scan: plan the setup, verify
// the swept arc is sun-safe, preset to the starting azimuth, then
// stream points in ProgramTrack mode until the generator ends or an
// abort fires.
func (c *Controller) Scan(ctx context.Context, req ScanRequest) (motion.Outcome, error) {
	if err := c.checkDrives(); err != nil {
		return motion.Outcome{}, err
	}
	release, err := c.locks.TryAcquire(motion.GroupAzEl, "scan")
	if err != nil {
		return motion.Outcome{}, err
	}
	defer release()

	accel := scan.ClampAccel(req.AzSpeed, req.Accel, maxJerk)
	if accel != req.Accel {
		log.Printf("scan: accel clamped %.3f -> %.3f (jerk limit)", req.Accel, accel)
	}

	plan, err := scan.PlanScan(req.AzEndpoint1, req.AzEndpoint2, req.AzSpeed, accel, scan.AzStartMidInc)
	if err != nil {
		return motion.Outcome{}, err
	}

	now := time.Now()
	m := c.safetyMap(now)
	sweep := sunsafe.NewMoveSequence(
		[2]float64{plan.InitAz, req.El},
		[2]float64{req.AzEndpoint1, req.El},
		[2]float64{req.AzEndpoint2, req.El},
	)
	azs, els := sweep.Traj(0.5)
	info, err := m.CheckTrajectory(azs, els, now)
	if err != nil {
		return motion.Outcome{}, err
	}
	if info.SunTime < m.Policy.MinSunTime {
		return motion.Outcome{}, errors.Errorf("scan arc too close to sun (sun time %.0f s)", info.SunTime)
	}

	abort, finish := c.beginOp("scan")
	out, err := c.moveTo(ctx, plan.InitAz, req.El, abort)
	if err != nil || !out.Success {
		finish(out)
		return out, err
	}

	src, err := scan.NewConstantVelocityScan(scan.ScanParams{
		AzEndpoint1: req.AzEndpoint1,
		AzEndpoint2: req.AzEndpoint2,
		AzSpeed:     req.AzSpeed,
		Accel:       accel,
		El:          req.El,
		NumScans:    req.NumScans,
		StepTime:    plan.StepTime,
		WaitToStart: plan.WaitToStart,
	})
	if err != nil {
		finish(motion.Outcome{Success: false, Message: err.Error()})
		return motion.Outcome{}, err
	}

	for _, setup := range []func() error{
		c.client.ClearStack,
		func() error { return c.client.SetMode(acu.AxisAzimuth, acu.ModeProgramTrack) },
		func() error { return c.client.SetMode(acu.AxisElevation, acu.ModeProgramTrack) },
	} {
		if err := setup(); err != nil {
			finish(motion.Outcome{Success: false, Message: err.Error()})
			return motion.Outcome{}, err
		}
	}

	streamer := motion.NewTrackStreamer(src, motion.StreamConfig{}, c.client, c.client)
	out = streamer.Run(ctx, abort)
	finish(out)
	return out, nil
}

// TrackFile streams a trajectory loaded from a NumPy scan file.  Track
// times are generator-relative; they are shifted onto the wall clock
// with a short lead so the first point lands in the future.
func (c *Controller) TrackFile(ctx context.Context, path string) (motion.Outcome, error) {
	if err := c.checkDrives(); err != nil {
		return motion.Outcome{}, err
	}
	release, err := c.locks.TryAcquire(motion.GroupAzEl, "track")
	if err != nil {
		return motion.Outcome{}, err
	}
	defer release()

	fs, err := scan.FromFile(path)
	if err != nil {
		return motion.Outcome{}, err
	}
	if lim := c.azLimits(); fs.AzRange[0] < lim.Min || fs.AzRange[1] > lim.Max {
		return motion.Outcome{}, errors.Errorf("track azimuth range [%.3f, %.3f] outside limits",
			fs.AzRange[0], fs.AzRange[1])
	}
	if lim := c.elLimits(); fs.ElRange[0] < lim.Min || fs.ElRange[1] > lim.Max {
		return motion.Outcome{}, errors.Errorf("track elevation range [%.3f, %.3f] outside limits",
			fs.ElRange[0], fs.ElRange[1])
	}

	now := time.Now()
	m := c.safetyMap(now)
	azs := make([]float64, len(fs.Points))
	els := make([]float64, len(fs.Points))
	for i, p := range fs.Points {
		azs[i], els[i] = p.Az, p.El
	}
	info, err := m.CheckTrajectory(azs, els, now)
	if err != nil {
		return motion.Outcome{}, err
	}
	if info.SunTime < m.Policy.MinSunTime {
		return motion.Outcome{}, errors.Errorf("track too close to sun (sun time %.0f s)", info.SunTime)
	}

	abort, finish := c.beginOp("track")
	first := fs.Points[0]
	out, err := c.moveTo(ctx, first.Az, first.El, abort)
	if err != nil || !out.Success {
		finish(out)
		return out, err
	}

	for _, setup := range []func() error{
		c.client.ClearStack,
		func() error { return c.client.SetMode(acu.AxisAzimuth, acu.ModeProgramTrack) },
		func() error { return c.client.SetMode(acu.AxisElevation, acu.ModeProgramTrack) },
	} {
		if err := setup(); err != nil {
			finish(motion.Outcome{Success: false, Message: err.Error()})
			return motion.Outcome{}, err
		}
	}

	cfg := motion.StreamConfig{TimeOffset: motion.StreamStartOffset(first, 5)}
	streamer := motion.NewTrackStreamer(fs, cfg, c.client, c.client)
	out = streamer.Run(ctx, abort)
	finish(out)
	return out, nil
}

// Escape moves the platform out of the sun exclusion zone.  Unlike
// GoTo it tolerates an unsafe starting position; it refuses only when
// no path improves the situation.
func (c *Controller) Escape(ctx context.Context) (motion.Outcome, error) {
	if err := c.checkDrives(); err != nil {
		return motion.Outcome{}, err
	}
	release, err := c.locks.TryAcquire(motion.GroupAzEl, "escape")
	if err != nil {
		return motion.Outcome{}, err
	}
	defer release()

	az0, el0, err := c.position()
	if err != nil {
		return motion.Outcome{}, err
	}
	now := time.Now()
	m := c.safetyMap(now)
	sel, err := m.FindEscapePaths(az0, el0, now)
	if err != nil {
		return motion.Outcome{}, err
	}
	if sel == nil {
		return motion.Outcome{}, errors.New("no escape path found")
	}
	log.Printf("escape: (%.3f, %.3f) -> (%.3f, %.3f)", az0, el0, sel.Stop[0], sel.Stop[1])

	abort, finish := c.beginOp("escape")
	out := c.runLegs(ctx, sel.Moves, abort)
	finish(out)
	return out, nil
}
