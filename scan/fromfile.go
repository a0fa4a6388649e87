package scan

import (
	"math"
	"os"

	"github.com/pkg/errors"
	"github.com/sbinet/npyio"
)

// FileScan is a ProgramTrack trajectory loaded from disk.
type FileScan struct {
	Points []TrackPoint

	// StepTime is the smallest time separation between points.
	StepTime float64

	// AzRange and ElRange are the [min, max] extents of the track.
	AzRange [2]float64
	ElRange [2]float64
}

// FromFile loads a trajectory from a NumPy .npy file.  The file must
// hold a 2-d float array of 5 or 7 rows: time, az, el, az velocity, el
// velocity, and optionally az flag and el flag.  Times are
// generator-relative, starting near 0.  Missing flag rows default to
// zero.
func FromFile(filename string) (*FileScan, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrap(err, "opening scan file")
	}
	defer f.Close()

	r, err := npyio.NewReader(f)
	if err != nil {
		return nil, errors.Wrapf(err, "reading npy header from %s", filename)
	}
	shape := r.Header.Descr.Shape
	if len(shape) != 2 {
		return nil, errors.Errorf("expected 2-d array in %s, got shape %v", filename, shape)
	}
	rows, n := shape[0], shape[1]
	if rows != 5 && rows != 7 {
		return nil, errors.Errorf("unexpected field count (%d) in %s", rows, filename)
	}
	if n == 0 {
		return nil, errors.Errorf("empty scan in %s", filename)
	}

	var raw []float64
	if err := r.Read(&raw); err != nil {
		return nil, errors.Wrapf(err, "reading npy data from %s", filename)
	}
	if len(raw) != rows*n {
		return nil, errors.Errorf("short npy data in %s: %d values for %dx%d", filename, len(raw), rows, n)
	}
	row := func(i int) []float64 { return raw[i*n : (i+1)*n] }

	out := &FileScan{
		Points:   make([]TrackPoint, n),
		StepTime: math.Inf(1),
		AzRange:  [2]float64{math.Inf(1), math.Inf(-1)},
		ElRange:  [2]float64{math.Inf(1), math.Inf(-1)},
	}
	times, azs, els, vas, ves := row(0), row(1), row(2), row(3), row(4)
	for i := 0; i < n; i++ {
		p := TrackPoint{
			Timestamp: times[i],
			Az:        azs[i],
			El:        els[i],
			AzVel:     vas[i],
			ElVel:     ves[i],
		}
		if rows == 7 {
			p.AzFlag = int(row(5)[i])
			p.ElFlag = int(row(6)[i])
		}
		out.Points[i] = p

		out.AzRange[0] = math.Min(out.AzRange[0], p.Az)
		out.AzRange[1] = math.Max(out.AzRange[1], p.Az)
		out.ElRange[0] = math.Min(out.ElRange[0], p.El)
		out.ElRange[1] = math.Max(out.ElRange[1], p.El)
		if i > 0 {
			out.StepTime = math.Min(out.StepTime, times[i]-times[i-1])
		}
	}
	if n == 1 {
		out.StepTime = 0
	}
	return out, nil
}

// Next lets a FileScan feed the track streamer directly; the whole file
// is delivered as a single batch.
func (fs *FileScan) Next() ([]TrackPoint, bool) {
	if len(fs.Points) == 0 {
		return nil, false
	}
	pts := fs.Points
	fs.Points = nil
	return pts, true
}
