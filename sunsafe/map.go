package sunsafe

import (
	"math"
	"time"

	"github.com/golang/geo/s2"
	"github.com/pkg/errors"
)

const (
	mapRes = 0.5 // deg per pixel
	decCut = 80  // map covers dec in [-decCut, decCut]
)

// SunSafetyMap holds, for every sky position, the time until that
// position is inside the Sun exclusion zone, along with its angular
// distance from the Sun.  The map is computed for a base time and
// stays usable for about a day: a pointing held at fixed az/el sweeps
// through right ascension at one revolution per day, so the time for
// it to reach the exclusion zone is set by the RA gap to the zone's
// leading edge.
type SunSafetyMap struct {
	Policy Policy
	Site   Site

	baseTime time.Time
	sunRA    float64
	sunDec   float64

	// Rasters indexed [dec][ra]; dec from -decCut up, ra from 0 up,
	// both in mapRes steps.
	sunTime [][]float64
	sunDist [][]float64
}

// NewSunSafetyMap prepares a map for the given policy and site.  Reset
// must be called before any queries.
func NewSunSafetyMap(policy Policy, site Site) *SunSafetyMap {
	return &SunSafetyMap{Policy: policy, Site: site}
}

func (m *SunSafetyMap) BaseTime() time.Time { return m.baseTime }

// Reset computes the sun-time and sun-distance rasters for baseTime.
// The rasters answer queries for times from baseTime to roughly a day
// later.
func (m *SunSafetyMap) Reset(baseTime time.Time) {
	nDec := int(2*decCut/mapRes) + 1
	nRA := int(360 / mapRes)

	m.baseTime = baseTime
	m.sunRA, m.sunDec = sunRADec(baseTime)
	sun := s2.LatLngFromDegrees(m.sunDec, m.sunRA)

	m.sunTime = make([][]float64, nDec)
	m.sunDist = make([][]float64, nDec)
	for j := 0; j < nDec; j++ {
		dec := -decCut + float64(j)*mapRes
		times := make([]float64, nRA)
		dists := make([]float64, nRA)
		masked := false
		for i := 0; i < nRA; i++ {
			ra := float64(i) * mapRes
			dists[i] = s2.LatLngFromDegrees(dec, ra).Distance(sun).Degrees()
			if dists[i] <= m.Policy.ExclusionRadius {
				times[i] = 0
				masked = true
			} else {
				times[i] = -1
			}
		}
		if !masked {
			for i := range times {
				times[i] = NoTime
			}
			m.sunTime[j] = times
			m.sunDist[j] = dists
			continue
		}

		// The exclusion zone cuts a contiguous RA interval out of this
		// dec row.  A held pointing drifts toward increasing RA, so
		// its time to reach the zone is the RA gap to the zone's
		// low-RA edge.
		edge := 0
		for i := 0; i < nRA; i++ {
			if times[i] == 0 && times[(i-1+nRA)%nRA] != 0 {
				edge = i
				break
			}
		}
		edgeRA := float64(edge) * mapRes
		for i := range times {
			if times[i] < 0 {
				times[i] = normDeg(edgeRA-float64(i)*mapRes) / 360 * Day
			}
		}
		m.sunTime[j] = times
		m.sunDist[j] = dists
	}
}

// pixel maps an az/el pointing at baseTime+dt to raster indices.  Dec
// clamps to the map edge; RA wraps.
func (m *SunSafetyMap) pixel(az, el float64, dt float64) (int, int) {
	t := m.baseTime.Add(time.Duration(dt * float64(time.Second)))
	ra, dec := horToEqu(az, el, t, m.Site)

	j := int(math.Round((dec + decCut) / mapRes))
	if j < 0 {
		j = 0
	}
	if j >= len(m.sunTime) {
		j = len(m.sunTime) - 1
	}
	n := len(m.sunTime[0])
	i := ((int(math.Round(ra/mapRes)) % n) + n) % n
	return j, i
}

// TrajectoryInfo summarizes the Sun safety of an az/el trajectory.
type TrajectoryInfo struct {
	// SunTime is the minimum sun time along the trajectory, in
	// seconds; SunTimeStart and SunTimeStop are the values at the
	// endpoints.
	SunTime      float64
	SunTimeStart float64
	SunTimeStop  float64

	// Sun distances along the trajectory, in degrees.
	SunDistMin   float64
	SunDistMean  float64
	SunDistStart float64
	SunDistStop  float64
}

// CheckTrajectory evaluates an az/el trajectory assumed to occur at
// time t.  The map must have been computed with a base time no more
// than about a day before t.
func (m *SunSafetyMap) CheckTrajectory(az, el []float64, t time.Time) (TrajectoryInfo, error) {
	if m.sunTime == nil {
		return TrajectoryInfo{}, errors.New("sun safety map not computed")
	}
	if len(az) == 0 || len(az) != len(el) {
		return TrajectoryInfo{}, errors.Errorf("bad trajectory: %d az, %d el points", len(az), len(el))
	}
	dt := t.Sub(m.baseTime).Seconds()

	times := make([]float64, len(az))
	dists := make([]float64, len(az))
	for k := range az {
		j, i := m.pixel(az[k], el[k], dt)
		times[k] = m.sunTime[j][i]
		dists[k] = m.sunDist[j][i]
	}

	// Sun below the horizon protects every pointing.
	if _, sunEl := equToHor(m.sunRA, m.sunDec, t, m.Site); sunEl < m.Policy.ElHorizon {
		for k := range dists {
			dists[k] = 180
		}
	}

	info := TrajectoryInfo{
		SunTime:      math.Inf(1),
		SunTimeStart: times[0],
		SunTimeStop:  times[len(times)-1],
		SunDistMin:   math.Inf(1),
		SunDistStart: dists[0],
		SunDistStop:  dists[len(dists)-1],
	}
	sum := 0.0
	for k := range times {
		info.SunTime = math.Min(info.SunTime, times[k])
		info.SunDistMin = math.Min(info.SunDistMin, dists[k])
		sum += dists[k]
	}
	info.SunDistMean = sum / float64(len(dists))
	return info, nil
}

// SunInfo reports the Sun's position at a point in time.
type SunInfo struct {
	RA, Dec float64
	Az, El  float64
}

// SunPos returns the Sun's equatorial and horizontal coordinates at
// time t.
func (m *SunSafetyMap) SunPos(t time.Time) SunInfo {
	ra, dec := sunRADec(t)
	az, el := equToHor(ra, dec, t, m.Site)
	return SunInfo{RA: ra, Dec: dec, Az: az, El: el}
}

// SunDistance returns the angular separation in degrees between an
// az/el pointing and the Sun's center at time t.
func (m *SunSafetyMap) SunDistance(az, el float64, t time.Time) float64 {
	sun := m.SunPos(t)
	p := s2.LatLngFromDegrees(el, az)
	q := s2.LatLngFromDegrees(sun.El, sun.Az)
	return p.Distance(q).Degrees()
}
