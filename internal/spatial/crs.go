// Package spatial reprojects parcel geometry to WGS84, finds the parcel
// nearest a coordinate, and caches lookups on rounded coordinates.
package spatial

import (
	"fmt"
	"math"
	"strings"

	"github.com/paulmach/orb"
)

const (
	// FtUSPerMeter is the US survey foot conversion used by state-plane zones
	FtUSPerMeter = 3.2808333333333334

	grs80A  = 6378137.0        // NAD83/GRS80 semi-major axis, metres
	grs80E2 = 0.00669438002290 // NAD83/GRS80 eccentricity squared
	deg     = math.Pi / 180
)

// CRS converts between a projected coordinate system and WGS84 lon/lat
type CRS interface {
	Code() string
	ToWGS84(x, y float64) (lon, lat float64)
	FromWGS84(lon, lat float64) (x, y float64)
}

// Projection returns an orb projection that maps geometry in c to WGS84
func Projection(c CRS) orb.Projection {
	return func(p orb.Point) orb.Point {
		lon, lat := c.ToWGS84(p[0], p[1])
		return orb.Point{lon, lat}
	}
}

var registry = map[string]CRS{
	"EPSG:4326": wgs84{},
	"EPSG:3857": webMercator{},
	// NAD83 / Connecticut (ftUS), and its NAD83(2011) realisation
	"EPSG:2234": NewLCC("EPSG:2234", 40.83333333333334, 41.2, 41.86666666666667, -72.75, 1000000, 500000, FtUSPerMeter),
	"EPSG:6434": NewLCC("EPSG:6434", 40.83333333333334, 41.2, 41.86666666666667, -72.75, 1000000, 500000, FtUSPerMeter),
	// NAD83 / Connecticut (metres)
	"EPSG:26956": NewLCC("EPSG:26956", 40.83333333333334, 41.2, 41.86666666666667, -72.75, 304800.6096, 152400.3048, 1),
	// NAD83 / Texas North Central (ftUS)
	"EPSG:2276": NewLCC("EPSG:2276", 31.66666666666667, 32.13333333333333, 33.96666666666667, -98.5, 1968500, 6561666.666666666, FtUSPerMeter),
}

// LookupCRS resolves an EPSG code such as "EPSG:2234" or "2234". An empty code
// means WGS84.
func LookupCRS(code string) (CRS, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return wgs84{}, nil
	}
	if !strings.HasPrefix(code, "EPSG:") {
		code = "EPSG:" + code
	}
	c, ok := registry[code]
	if !ok {
		return nil, fmt.Errorf("unsupported coordinate reference system %q", code)
	}
	return c, nil
}

type wgs84 struct{}

func (wgs84) Code() string                                 { return "EPSG:4326" }
func (wgs84) ToWGS84(x, y float64) (float64, float64)      { return x, y }
func (wgs84) FromWGS84(lon, lat float64) (float64, float64) { return lon, lat }

type webMercator struct{}

func (webMercator) Code() string { return "EPSG:3857" }

func (webMercator) ToWGS84(x, y float64) (float64, float64) {
	lon := x / grs80A / deg
	lat := (2*math.Atan(math.Exp(y/grs80A)) - math.Pi/2) / deg
	return lon, lat
}

func (webMercator) FromWGS84(lon, lat float64) (float64, float64) {
	x := lon * deg * grs80A
	y := math.Log(math.Tan(math.Pi/4+lat*deg/2)) * grs80A
	return x, y
}

// LCC is a two-standard-parallel Lambert conformal conic projection on the
// GRS80 ellipsoid, as used by the state-plane zones.
type LCC struct {
	code           string
	lon0           float64
	falseE, falseN float64 // in output units
	unitsPerMeter  float64

	e, n, aF, rho0 float64
}

// NewLCC builds a zone from its defining parameters. Angles are in degrees;
// false easting and northing are in the zone's own units.
func NewLCC(code string, lat0, lat1, lat2, lon0, falseEasting, falseNorthing, unitsPerMeter float64) *LCC {
	e := math.Sqrt(grs80E2)
	m := func(phi float64) float64 {
		s := math.Sin(phi)
		return math.Cos(phi) / math.Sqrt(1-grs80E2*s*s)
	}
	t := func(phi float64) float64 {
		s := math.Sin(phi)
		return math.Tan(math.Pi/4-phi/2) / math.Pow((1-e*s)/(1+e*s), e/2)
	}

	phi0, phi1, phi2 := lat0*deg, lat1*deg, lat2*deg
	m1, m2 := m(phi1), m(phi2)
	t0, t1, t2 := t(phi0), t(phi1), t(phi2)

	n := math.Log(m1/m2) / math.Log(t1/t2)
	aF := grs80A * unitsPerMeter * m1 / (n * math.Pow(t1, n))

	return &LCC{
		code:          code,
		lon0:          lon0 * deg,
		falseE:        falseEasting,
		falseN:        falseNorthing,
		unitsPerMeter: unitsPerMeter,
		e:             e,
		n:             n,
		aF:            aF,
		rho0:          aF * math.Pow(t0, n),
	}
}

// Code returns the EPSG code of the zone
func (p *LCC) Code() string { return p.code }

// FromWGS84 projects lon/lat degrees to zone easting/northing
func (p *LCC) FromWGS84(lon, lat float64) (x, y float64) {
	phi := lat * deg
	s := math.Sin(phi)
	t := math.Tan(math.Pi/4-phi/2) / math.Pow((1-p.e*s)/(1+p.e*s), p.e/2)
	rho := p.aF * math.Pow(t, p.n)
	theta := p.n * (lon*deg - p.lon0)

	x = rho*math.Sin(theta) + p.falseE
	y = p.rho0 - rho*math.Cos(theta) + p.falseN
	return x, y
}

// ToWGS84 inverts FromWGS84. Latitude is solved by fixed-point iteration,
// which converges to well under a millimetre in a handful of steps.
func (p *LCC) ToWGS84(x, y float64) (lon, lat float64) {
	dx := x - p.falseE
	dy := p.rho0 - (y - p.falseN)

	rho := math.Copysign(math.Hypot(dx, dy), p.n)
	theta := math.Atan2(math.Copysign(1, p.n)*dx, math.Copysign(1, p.n)*dy)
	t := math.Pow(rho/p.aF, 1/p.n)

	phi := math.Pi/2 - 2*math.Atan(t)
	for i := 0; i < 15; i++ {
		s := math.Sin(phi)
		next := math.Pi/2 - 2*math.Atan(t*math.Pow((1-p.e*s)/(1+p.e*s), p.e/2))
		if math.Abs(next-phi) < 1e-12 {
			phi = next
			break
		}
		phi = next
	}

	lon = (theta/p.n + p.lon0) / deg
	lat = phi / deg
	return lon, lat
}
