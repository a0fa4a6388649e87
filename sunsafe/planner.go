package sunsafe

import (
	"math"
	"sort"
	"time"

	"github.com/pkg/errors"
)

// MoveSequence is a piecewise-linear az/el path through a list of
// nodes.
type MoveSequence struct {
	Nodes [][2]float64
}

// NewMoveSequence builds a path through the given (az, el) nodes,
// dropping consecutive duplicates.
func NewMoveSequence(nodes ...[2]float64) *MoveSequence {
	m := &MoveSequence{}
	for _, n := range nodes {
		if len(m.Nodes) > 0 && m.Nodes[len(m.Nodes)-1] == n {
			continue
		}
		m.Nodes = append(m.Nodes, n)
	}
	return m
}

// Legs yields each (start, stop) node pair of the sequence.
func (m *MoveSequence) Legs() [][2][2]float64 {
	var legs [][2][2]float64
	for i := 0; i+1 < len(m.Nodes); i++ {
		legs = append(legs, [2][2]float64{m.Nodes[i], m.Nodes[i+1]})
	}
	return legs
}

// Traj rasterizes the full path into az and el vectors with no step
// larger than res degrees on either axis.
func (m *MoveSequence) Traj(res float64) ([]float64, []float64) {
	var az, el []float64
	for _, leg := range m.Legs() {
		a0, e0 := leg[0][0], leg[0][1]
		a1, e1 := leg[1][0], leg[1][1]
		n := int(math.Max(math.Ceil(math.Abs(a1-a0)/res), math.Ceil(math.Abs(e1-e0)/res)))
		if n < 1 {
			n = 1
		}
		for k := 0; k <= n; k++ {
			f := float64(k) / float64(n)
			az = append(az, a0+f*(a1-a0))
			el = append(el, e0+f*(e1-e0))
		}
	}
	return az, el
}

// HasMixedLeg reports whether any leg changes azimuth and elevation
// together.
func (m *MoveSequence) HasMixedLeg() bool {
	for _, leg := range m.Legs() {
		if leg[0][0] != leg[1][0] && leg[0][1] != leg[1][1] {
			return true
		}
	}
	return false
}

// MovePlan is one candidate path between two pointings, with its Sun
// safety evaluation.
type MovePlan struct {
	Start [2]float64
	Stop  [2]float64
	Time  time.Time

	// TravelEl is the elevation at which the azimuth leg happens.
	// TravelElConfined reports whether it lies within the range
	// spanned by the endpoint elevations.
	TravelEl         float64
	TravelElConfined bool

	// Direct marks the two-node path with no intermediate elevation.
	Direct bool

	Moves *MoveSequence
	TrajectoryInfo
}

// Decision records why a candidate path was rejected.
type Decision struct {
	Rejected bool
	Reason   string
}

// AnalyzePaths designs and evaluates candidate paths from (az0, el0)
// to (az1, el1) at time t.  Candidates hold each intermediate
// elevation fixed while slewing in azimuth; intermediate elevations
// step by 1 degree between the endpoint elevations, extended to the
// policy elevation limits when dodging is set.  The direct path is
// always included last.
func (m *SunSafetyMap) AnalyzePaths(az0, el0, az1, el1 float64, t time.Time, dodging bool) ([]MovePlan, error) {
	base := MovePlan{
		Start:    [2]float64{az0, el0},
		Stop:     [2]float64{az1, el1},
		Time:     t,
		TravelEl: (el0 + el1) / 2,
	}

	elNodes := []float64{math.Min(el0, el1)}
	if el1 != el0 {
		elNodes = append(elNodes, math.Max(el0, el1))
	}
	if dodging && m.Policy.MinEl < elNodes[0] {
		elNodes = append([]float64{m.Policy.MinEl}, elNodes...)
	}
	if dodging && m.Policy.MaxEl > elNodes[len(elNodes)-1] {
		elNodes = append(elNodes, m.Policy.MaxEl)
	}

	const elSep = 1.0
	var elCands []float64
	for i := 0; i+1 < len(elNodes); i++ {
		n := int(math.Ceil((elNodes[i+1] - elNodes[i]) / elSep))
		for k := 0; k < n; k++ {
			elCands = append(elCands, elNodes[i]+float64(k)*(elNodes[i+1]-elNodes[i])/float64(n))
		}
	}
	elCands = append(elCands, elNodes[len(elNodes)-1])

	var plans []MovePlan
	for _, iel := range elCands {
		p := base
		p.TravelEl = iel
		p.TravelElConfined = iel >= math.Min(el0, el1) && iel <= math.Max(el0, el1)
		p.Moves = NewMoveSequence(
			[2]float64{az0, el0},
			[2]float64{az0, iel},
			[2]float64{az1, iel},
			[2]float64{az1, el1},
		)
		az, el := p.Moves.Traj(mapRes)
		info, err := m.CheckTrajectory(az, el, t)
		if err != nil {
			return nil, errors.Wrap(err, "evaluating candidate path")
		}
		p.TrajectoryInfo = info
		plans = append(plans, p)
	}

	direct := base
	direct.Direct = true
	direct.TravelElConfined = true
	direct.Moves = NewMoveSequence([2]float64{az0, el0}, [2]float64{az1, el1})
	az, el := direct.Moves.Traj(mapRes)
	info, err := m.CheckTrajectory(az, el, t)
	if err != nil {
		return nil, errors.Wrap(err, "evaluating direct path")
	}
	direct.TrajectoryInfo = info
	return append(plans, direct), nil
}

// SelectMove picks the best acceptable path from a candidate list.
// Escape mode relaxes the rules for paths that start at an unsafe
// position: such a path is acceptable as long as it does not move
// closer to the Sun and ends somewhere safe.  Returns nil when every
// candidate is rejected; the returned decisions parallel the input.
func (m *SunSafetyMap) SelectMove(plans []MovePlan, escape bool) (*MovePlan, []Decision) {
	p := m.Policy
	decisions := make([]Decision, len(plans))

	reject := func(k int, reason string) {
		decisions[k] = Decision{Rejected: true, Reason: reason}
	}

	for k, plan := range plans {
		el0, el1 := plan.Start[1], plan.Stop[1]

		if p.AxesSequential && plan.Moves != nil && plan.Moves.HasMixedLeg() {
			reject(k, "Path moves in az and el at the same time.")
			continue
		}

		if escape && plan.SunTimeStart < p.MinSunTime {
			// Compare against the map resolution rather than zero;
			// near the minimum this is noisy.
			if plan.SunDistStart-plan.SunDistMin > mapRes {
				reject(k, "Path moves even closer to sun.")
				continue
			}
			if plan.SunTimeStop < p.MinSunTime {
				reject(k, "Path does not end in sun-safe location.")
				continue
			}
		} else if plan.SunTime < p.MinSunTime {
			reject(k, "Path too close to sun.")
			continue
		}

		if plan.TravelEl < p.MinEl {
			reject(k, "Path goes below minimum el.")
			continue
		}
		if plan.TravelEl > p.MaxEl {
			reject(k, "Path goes above maximum el.")
			continue
		}
		if !p.ElDodging {
			if plan.TravelEl < math.Min(el0, el1) {
				reject(k, "Path dodges (goes below necessary el range).")
				continue
			}
			if plan.TravelEl > math.Max(el0, el1) {
				reject(k, "Path dodges (goes above necessary el range).")
			}
		}
	}

	var cands []MovePlan
	for k, plan := range plans {
		if !decisions[k].Rejected {
			cands = append(cands, plan)
		}
	}
	if len(cands) == 0 {
		return nil, decisions
	}

	// Rank candidates: most sun time first (capped at the response
	// time), then direct paths, largest minimum and mean sun distance,
	// least elevation and azimuth travel, and lowest travel elevation
	// as the final tiebreak.
	key := func(plan MovePlan) [7]float64 {
		sunTime := math.Min(plan.SunTime, p.ResponseTime)
		direct := 0.0
		if plan.Direct {
			direct = 1
		}
		return [7]float64{
			sunTime,
			direct,
			plan.SunDistMin,
			plan.SunDistMean,
			-(math.Abs(plan.TravelEl-plan.Start[1]) + math.Abs(plan.TravelEl-plan.Stop[1])),
			-math.Abs(plan.Stop[0] - plan.Start[0]),
			plan.TravelEl,
		}
	}
	sort.SliceStable(cands, func(a, b int) bool {
		ka, kb := key(cands[a]), key(cands[b])
		for i := range ka {
			if ka[i] != kb[i] {
				return ka[i] < kb[i]
			}
		}
		return false
	})
	best := cands[len(cands)-1]
	return &best, decisions
}

// FindEscapePaths searches for a path from (az0, el0) to a sun-safe
// position.  Azimuth targets are spaced 180 degrees apart within the
// policy azimuth range; elevation starts at the current value and
// descends toward the minimum, one degree at a time.  Returns nil if
// no acceptable path exists.
func (m *SunSafetyMap) FindEscapePaths(az0, el0 float64, t time.Time) (*MovePlan, error) {
	p := m.Policy

	var azCands []float64
	for az := math.Ceil(p.MinAz/180) * 180; az <= p.MaxAz; az += 180 {
		azCands = append(azCands, az)
	}

	el0 = math.Min(math.Max(el0, p.MinEl), p.MaxEl)
	nEls := int(math.Ceil(el0-p.MinEl)) + 1
	for k := 0; k < nEls; k++ {
		el1 := el0
		if nEls > 1 {
			el1 = el0 + float64(k)*(p.MinEl-el0)/float64(nEls-1)
		}
		var best []MovePlan
		for _, az1 := range azCands {
			plans, err := m.AnalyzePaths(az0, el0, az1, el1, t, false)
			if err != nil {
				return nil, err
			}
			if sel, _ := m.SelectMove(plans, true); sel != nil {
				best = append(best, *sel)
			}
		}
		if len(best) > 0 {
			if sel, _ := m.SelectMove(best, true); sel != nil {
				return sel, nil
			}
		}
	}
	return nil, nil
}
