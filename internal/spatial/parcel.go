package spatial

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/project"
)

// Parcel is a geometry-layer feature reprojected to WGS84
type Parcel struct {
	ID       string
	Geometry orb.Geometry
	Centroid orb.Point
}

// NewParcel reprojects g from crs to WGS84 and computes its centroid in that
// frame
func NewParcel(id string, g orb.Geometry, crs CRS) (Parcel, error) {
	if g == nil {
		return Parcel{}, fmt.Errorf("parcel %s: empty geometry", id)
	}
	if crs != nil && crs.Code() != "EPSG:4326" {
		g = project.Geometry(orb.Clone(g), Projection(crs))
	}
	c, _ := planar.CentroidArea(g)
	if !validLonLat(c) {
		return Parcel{}, fmt.Errorf("parcel %s: centroid %v outside lon/lat range, check the declared CRS", id, c)
	}
	return Parcel{ID: id, Geometry: g, Centroid: c}, nil
}

// WKT renders the parcel geometry as well-known text
func (p Parcel) WKT() string {
	if p.Geometry == nil {
		return ""
	}
	return wkt.MarshalString(p.Geometry)
}

func validLonLat(p orb.Point) bool {
	return p[0] >= -180 && p[0] <= 180 && p[1] >= -90 && p[1] <= 90 && !(p[0] == 0 && p[1] == 0)
}
