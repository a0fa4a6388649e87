package sunsafe

import (
	"math"
	"time"

	"github.com/soniakeys/meeus/v3/julian"
	"github.com/soniakeys/meeus/v3/sidereal"
	"github.com/soniakeys/meeus/v3/solar"
)

// Site is an observatory location in degrees.
type Site struct {
	Lat float64
	Lon float64 // east positive
}

// DefaultSite is the Atacama plateau.
var DefaultSite = Site{Lat: -22.958, Lon: -67.786}

func deg2rad(x float64) float64 {
	return x * math.Pi / 180
}

func rad2deg(x float64) float64 {
	return x * 180 / math.Pi
}

func normDeg(x float64) float64 {
	x = math.Mod(x, 360)
	if x < 0 {
		x += 360
	}
	return x
}

// sunRADec returns the Sun's apparent right ascension and declination
// in degrees.
func sunRADec(t time.Time) (float64, float64) {
	ra, dec := solar.ApparentEquatorial(julian.TimeToJD(t))
	return normDeg(rad2deg(ra.Rad())), rad2deg(dec.Rad())
}

// lstDeg returns the local apparent sidereal time in degrees.
func lstDeg(t time.Time, site Site) float64 {
	gst := rad2deg(sidereal.Apparent(julian.TimeToJD(t)).Rad())
	return normDeg(gst + site.Lon)
}

// horToEqu converts azimuth/elevation to ra/dec, ignoring refraction
// and aberration.  Azimuth is measured from north through east.  All
// angles in degrees.
// Algorithm from https://metacpan.org/dist/Astro-Montenbruck/source/lib/Astro/Montenbruck/CoCo.pm
func horToEqu(az, el float64, t time.Time, site Site) (float64, float64) {
	azr, elr, phi := deg2rad(az), deg2rad(el), deg2rad(site.Lat)

	// Horizontal frame components: north, east, up.
	n := math.Cos(elr) * math.Cos(azr)
	e := math.Cos(elr) * math.Sin(azr)
	u := math.Sin(elr)

	dec := math.Asin(math.Sin(phi)*u + math.Cos(phi)*n)
	ha := math.Atan2(-e, math.Cos(phi)*u-math.Sin(phi)*n)

	ra := normDeg(lstDeg(t, site) - rad2deg(ha))
	return ra, rad2deg(dec)
}

// equToHor converts ra/dec to azimuth/elevation, the inverse of
// horToEqu.
func equToHor(ra, dec float64, t time.Time, site Site) (float64, float64) {
	ha := deg2rad(lstDeg(t, site) - ra)
	decr, phi := deg2rad(dec), deg2rad(site.Lat)

	n := math.Cos(phi)*math.Sin(decr) - math.Sin(phi)*math.Cos(decr)*math.Cos(ha)
	e := -math.Cos(decr) * math.Sin(ha)
	u := math.Sin(phi)*math.Sin(decr) + math.Cos(phi)*math.Cos(decr)*math.Cos(ha)

	return normDeg(rad2deg(math.Atan2(e, n))), rad2deg(math.Asin(u))
}
