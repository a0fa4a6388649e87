// Package sunsafe decides which telescope pointings and moves are safe
// with respect to the Sun.  It maintains a map in equatorial
// coordinates whose value at each sky position is the time until that
// position drifts into the Sun exclusion zone, and uses the map to
// vet az/el trajectories, pick safe paths between pointings, and find
// escape routes from unsafe positions.
package sunsafe

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	Hour = 3600.0
	Day  = 86400.0

	// NoTime marks map pixels that never enter the exclusion zone.
	NoTime = 2 * Day
)

// Policy holds the sun-avoidance rules and the axis limits they are
// evaluated against.  Angles are degrees, times are seconds.
type Policy struct {
	// ExclusionRadius is the radius of the circle around the Sun
	// considered unsafe.
	ExclusionRadius float64 `yaml:"exclusion_radius"`

	MinEl float64 `yaml:"min_el"`
	MaxEl float64 `yaml:"max_el"`
	MinAz float64 `yaml:"min_az"`
	MaxAz float64 `yaml:"max_az"`

	// ElHorizon is the Sun elevation below which all pointings count
	// as maximally far from the Sun.
	ElHorizon float64 `yaml:"el_horizon"`

	// ElDodging permits paths whose travel elevation lies outside the
	// range spanned by the endpoint elevations.
	ElDodging bool `yaml:"el_dodging"`

	// AxesSequential forbids moving azimuth and elevation at the same
	// time: paths with a mixed-axis leg are rejected.
	AxesSequential bool `yaml:"axes_sequential"`

	// MinSunTime is the smallest acceptable sun time for a pointing;
	// positions or paths below it are unsafe.
	MinSunTime float64 `yaml:"min_sun_time"`

	// ResponseTime caps the sun-time ranking of candidate paths; paths
	// safer than this are considered equally safe.
	ResponseTime float64 `yaml:"response_time"`
}

// DefaultPolicy returns the stock avoidance policy.
func DefaultPolicy() Policy {
	return Policy{
		ExclusionRadius: 20,
		MinEl:           0,
		MaxEl:           90,
		MinAz:           -45,
		MaxAz:           405,
		ElHorizon:       0,
		ElDodging:       false,
		AxesSequential:  false,
		MinSunTime:      Hour,
		ResponseTime:    4 * Hour,
	}
}

// LoadPolicy reads a YAML policy file.  Keys not listed in Policy are
// rejected; keys left out keep their default values.
func LoadPolicy(filename string) (Policy, error) {
	p := DefaultPolicy()
	f, err := os.Open(filename)
	if err != nil {
		return p, errors.Wrap(err, "opening policy file")
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return p, errors.Wrapf(err, "parsing policy file %s", filename)
	}
	if err := p.Validate(); err != nil {
		return p, errors.Wrapf(err, "invalid policy in %s", filename)
	}
	return p, nil
}

func (p Policy) Validate() error {
	if p.ExclusionRadius <= 0 {
		return errors.New("exclusion_radius must be positive")
	}
	if p.MinEl >= p.MaxEl {
		return errors.New("min_el must be below max_el")
	}
	if p.MinAz >= p.MaxAz {
		return errors.New("min_az must be below max_az")
	}
	if p.MinSunTime < 0 || p.ResponseTime < 0 {
		return errors.New("times must be non-negative")
	}
	return nil
}
