// Package motion drives the antenna mount through point-to-point moves
// and ProgramTrack streaming: a per-axis motion state machine, a
// multi-axis coordinator, the track streamer that feeds the bounded
// onboard stack, and the axis-group exclusion lock.
package motion

import (
	"github.com/pkg/errors"

	"github.com/srtlab/acu_interface/acu"
)

// StatusProvider delivers the latest telemetry snapshot.  The boolean
// is false until a snapshot has arrived and whenever it has gone
// stale; callers treat that as "not ready" and retry.
type StatusProvider interface {
	Latest() (acu.Status, bool)
}

// Commander issues discrete commands to the mount.  *acu.Client
// implements it.
type Commander interface {
	SetMode(axis, mode string) error
	Preset(axis string, position float64) error
	UploadTrack(lines []string) error
	ClearStack() error
	ClearFaults() error
}

// Outcome is the terminal result of one motion operation.
type Outcome struct {
	Success bool
	Aborted bool
	Message string
}

// AxisControl is the capability surface for one mechanical axis.
type AxisControl interface {
	Name() string
	Telemetry(status acu.Status) (acu.AxisStatus, bool)
	Preset(cmd Commander, target float64) error
	SetMode(cmd Commander, mode string) error
}

type axisControl struct {
	name string
}

func (a axisControl) Name() string { return a.name }

func (a axisControl) Telemetry(status acu.Status) (acu.AxisStatus, bool) {
	return status.Axis(a.name)
}

func (a axisControl) Preset(cmd Commander, target float64) error {
	return cmd.Preset(a.name, target)
}

func (a axisControl) SetMode(cmd Commander, mode string) error {
	return cmd.SetMode(a.name, mode)
}

// ControlForAxis selects the control variant for an axis name.
// Accepted names: azimuth, elevation, boresight (alias third).
func ControlForAxis(name string) (AxisControl, error) {
	switch name {
	case "azimuth", acu.AxisAzimuth:
		return axisControl{acu.AxisAzimuth}, nil
	case "elevation", acu.AxisElevation:
		return axisControl{acu.AxisElevation}, nil
	case "boresight", "third", acu.AxisBoresight:
		return axisControl{acu.AxisBoresight}, nil
	}
	return nil, errors.Errorf("unknown axis %q", name)
}
