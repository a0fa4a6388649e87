package acu

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Axis and mode names as they appear on the wire.
const (
	AxisAzimuth   = "Azimuth"
	AxisElevation = "Elevation"
	AxisBoresight = "Boresight"
	AxisAll       = "All"

	ModeStop         = "Stop"
	ModePreset       = "Preset"
	ModeProgramTrack = "ProgramTrack"
)

// AxisStatus is the telemetry for one mechanical axis.
type AxisStatus struct {
	Mode     string
	Position float64
	Velocity float64
}

// Status is one parsed STATUS report.
type Status struct {
	Azimuth   AxisStatus
	Elevation AxisStatus
	Boresight AxisStatus

	// Time is the controller clock as fractional day-of-year; Year is
	// its year.
	Time float64
	Year int

	// FreeUploadPositions is the remaining capacity of the onboard
	// ProgramTrack stack.
	FreeUploadPositions int

	RemoteMode bool

	// Fault bits.
	AzimuthPositionFailure bool
	TrackStartTooEarly     bool
	TurnaroundAccelTooHigh bool
	TurnaroundTimeTooShort bool

	// Received is stamped by the client when the report arrives.
	Received time.Time
}

// Axis returns the telemetry block for the named axis.
func (s Status) Axis(name string) (AxisStatus, bool) {
	switch name {
	case AxisAzimuth:
		return s.Azimuth, true
	case AxisElevation:
		return s.Elevation, true
	case AxisBoresight:
		return s.Boresight, true
	}
	return AxisStatus{}, false
}

// Faults returns the named fault bits that are raised.
func (s Status) Faults() []string {
	var out []string
	for _, f := range []struct {
		name string
		set  bool
	}{
		{"Azimuth_position_failure", s.AzimuthPositionFailure},
		{"Track_start_too_early", s.TrackStartTooEarly},
		{"Turnaround_accel_too_high", s.TurnaroundAccelTooHigh},
		{"Turnaround_time_too_short", s.TurnaroundTimeTooShort},
	} {
		if f.set {
			out = append(out, f.name)
		}
	}
	return out
}

// ParseStatus decodes one STATUS line of `key=value; ` pairs.  A line
// missing any of the per-axis or stack keys is treated as not ready
// and returns an error.
func ParseStatus(line string) (Status, error) {
	var s Status
	seen := map[string]bool{}

	fields := map[string]func(string) error{
		"Azimuth_mode":               parseString(&s.Azimuth.Mode),
		"Azimuth_current_position":   parseFloat(&s.Azimuth.Position),
		"Azimuth_current_velocity":   parseFloat(&s.Azimuth.Velocity),
		"Elevation_mode":             parseString(&s.Elevation.Mode),
		"Elevation_current_position": parseFloat(&s.Elevation.Position),
		"Elevation_current_velocity": parseFloat(&s.Elevation.Velocity),
		"Boresight_mode":             parseString(&s.Boresight.Mode),
		"Boresight_current_position": parseFloat(&s.Boresight.Position),
		"Boresight_current_velocity": parseFloat(&s.Boresight.Velocity),
		"Time":                       parseFloat(&s.Time),
		"Year":                       parseInt(&s.Year),
		"Free_upload_positions":      parseInt(&s.FreeUploadPositions),
		"Remote_mode":                parseBool(&s.RemoteMode),
		"Azimuth_position_failure":   parseBool(&s.AzimuthPositionFailure),
		"Track_start_too_early":      parseBool(&s.TrackStartTooEarly),
		"Turnaround_accel_too_high":  parseBool(&s.TurnaroundAccelTooHigh),
		"Turnaround_time_too_short":  parseBool(&s.TurnaroundTimeTooShort),
	}

	for _, pair := range strings.Split(strings.TrimRight(line, "; \r\n"), ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return s, errors.Errorf("malformed status field %q", pair)
		}
		parse, known := fields[k]
		if !known {
			// Unknown keys are reported by newer controller firmware;
			// ignore them.
			continue
		}
		if err := parse(v); err != nil {
			return s, errors.Wrapf(err, "status field %q", k)
		}
		seen[k] = true
	}

	for _, k := range []string{
		"Azimuth_mode", "Azimuth_current_position",
		"Elevation_mode", "Elevation_current_position",
		"Free_upload_positions", "Remote_mode",
	} {
		if !seen[k] {
			return s, errors.Errorf("status missing %s", k)
		}
	}
	return s, nil
}

func parseString(dest *string) func(string) error {
	return func(v string) error {
		*dest = v
		return nil
	}
}

func parseFloat(dest *float64) func(string) error {
	return func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*dest = f
		return nil
	}
}

func parseInt(dest *int) func(string) error {
	return func(v string) error {
		i, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dest = i
		return nil
	}
}

func parseBool(dest *bool) func(string) error {
	return func(v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dest = b
		return nil
	}
}
