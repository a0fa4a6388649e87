package scan

import (
	"fmt"
	"strings"
	"time"
)

const (
	// Day is the number of seconds in a day.
	Day = 86400.0

	// MinGroupNewLeg is the minimum number of points to group together at
	// the start of a new scan leg, so the upload of a leg's opening points
	// is never split and the ProgramTrack profiler sees them together.
	MinGroupNewLeg = 4
)

// TrackPoint is one timestamped sample of a ProgramTrack trajectory.
type TrackPoint struct {
	// Timestamp is a unix time, in seconds.
	Timestamp float64

	// Az and El are in decimal degrees.
	Az float64
	El float64

	// AzVel and ElVel are in degrees/second.
	AzVel float64
	ElVel float64

	// AzFlag is 0 if stationary, 1 on a non-final point of a
	// constant-velocity segment, 2 on the final point of a
	// constant-velocity segment.  ElFlag is the same, for elevation.
	AzFlag int
	ElFlag int

	// Group marks a point that must be uploaded in the same batch as its
	// successor.
	Group bool
}

// TimeShift returns a copy of p with its timestamp offset by dt seconds.
func (p TrackPoint) TimeShift(dt float64) TrackPoint {
	p.Timestamp += dt
	return p
}

// formatTrackTime renders a unix timestamp in the controller's
// "day-of-year, HH:MM:SS.ffffff" form.
func formatTrackTime(timestamp float64) string {
	sec := int64(timestamp)
	frac := timestamp - float64(sec)
	if frac < 0 {
		sec--
		frac += 1
	}
	t := time.Unix(sec, 0).UTC()
	fracs := strings.TrimPrefix(fmt.Sprintf("%.6f", frac), "0")
	return fmt.Sprintf("%03d, %02d:%02d:%02d%s",
		t.YearDay(), t.Hour(), t.Minute(), t.Second(), fracs)
}

// Line renders the point as one ProgramTrack upload line, CRLF
// terminated.  offset is added to the timestamp before rendering; pass 0
// to upload the point's literal time, or now-minus-generator-zero to
// shift a relative track onto the wall clock.
func (p TrackPoint) Line(offset float64) string {
	return fmt.Sprintf("%s; %.6f; %.6f; %.4f; %.4f; %d; %d\r\n",
		formatTrackTime(p.Timestamp+offset),
		p.Az, p.El, p.AzVel, p.ElVel, p.AzFlag, p.ElFlag)
}

// RenderLines renders a slice of points as upload lines.
func RenderLines(pts []TrackPoint, offset float64) []string {
	lines := make([]string, len(pts))
	for i, p := range pts {
		lines[i] = p.Line(offset)
	}
	return lines
}

// Timecode converts the fractional day-of-year time reported in the
// controller status stream to a unix timestamp.  now anchors the year;
// the 30-day shifts guard against the year rolling over between the
// controller clock and ours.
func Timecode(acutime float64, now time.Time) float64 {
	secOfDay := (acutime - 1) * Day

	var context time.Time
	if acutime > 180 {
		context = now.Add(-30 * 24 * time.Hour).UTC()
	} else {
		context = now.Add(30 * 24 * time.Hour).UTC()
	}
	yearStart := time.Date(context.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	return float64(yearStart.Unix()) + secOfDay
}
