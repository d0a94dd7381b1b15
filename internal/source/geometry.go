package source

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/parcel-linkage/internal/normalize"
	"github.com/parcel-linkage/internal/spatial"
)

// GeometryStats counts features read from a geometry layer
type GeometryStats struct {
	Read        int
	OtherTown   int
	Unsupported int
	Invalid     int
}

// LoadGeometry reads the parcels of one municipality from a GeoJSON,
// shapefile or CSV point layer and reprojects them to WGS84. When a town
// field is configured, only features whose value equals the municipality name
// are kept.
func LoadGeometry(spec GeometrySpec, municipality string) ([]spatial.Parcel, GeometryStats, error) {
	var stats GeometryStats
	if _, err := os.Stat(spec.Path); errors.Is(err, fs.ErrNotExist) {
		return nil, stats, fmt.Errorf("%w: %s", ErrInputMissing, spec.Path)
	}
	crs, err := spatial.LookupCRS(spec.CRS)
	if err != nil {
		return nil, stats, err
	}

	keep := func(id, town string, g orb.Geometry, out *[]spatial.Parcel) {
		stats.Read++
		// layers often carry town names upper-cased; compare ignoring case and padding
		if spec.TownField != "" && !strings.EqualFold(strings.TrimSpace(town), strings.TrimSpace(municipality)) {
			stats.OtherTown++
			return
		}
		id = strings.TrimSpace(id)
		if id == "" || g == nil {
			stats.Invalid++
			return
		}
		p, err := spatial.NewParcel(id, g, crs)
		if err != nil {
			stats.Invalid++
			return
		}
		*out = append(*out, p)
	}

	var parcels []spatial.Parcel
	switch strings.ToLower(filepath.Ext(spec.Path)) {
	case ".shp":
		err = readShapefile(spec, &stats, func(id, town string, g orb.Geometry) { keep(id, town, g, &parcels) })
	case ".geojson", ".json":
		err = readGeoJSON(spec, &stats, func(id, town string, g orb.Geometry) { keep(id, town, g, &parcels) })
	case ".csv":
		err = readPointCSV(spec, func(id, town string, g orb.Geometry) { keep(id, town, g, &parcels) })
	default:
		err = fmt.Errorf("%w: %s: unsupported geometry format", ErrUnreadableInput, spec.Path)
	}
	if err != nil {
		return nil, stats, err
	}
	return parcels, stats, nil
}

func readShapefile(spec GeometrySpec, stats *GeometryStats, emit func(id, town string, g orb.Geometry)) error {
	r, err := shp.Open(spec.Path)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnreadableInput, spec.Path, err)
	}
	defer r.Close()

	idIdx, townIdx := -1, -1
	for i, f := range r.Fields() {
		name := strings.TrimSpace(f.String())
		if strings.EqualFold(name, spec.IDField) {
			idIdx = i
		}
		if spec.TownField != "" && strings.EqualFold(name, spec.TownField) {
			townIdx = i
		}
	}
	if idIdx < 0 {
		return fmt.Errorf("%w: %s: no field %q", ErrUnreadableInput, spec.Path, spec.IDField)
	}
	if spec.TownField != "" && townIdx < 0 {
		return fmt.Errorf("%w: %s: no field %q", ErrUnreadableInput, spec.Path, spec.TownField)
	}

	for r.Next() {
		n, shape := r.Shape()
		g := shapeGeometry(shape)
		if g == nil {
			stats.Unsupported++
			continue
		}
		town := ""
		if townIdx >= 0 {
			town = r.ReadAttribute(n, townIdx)
		}
		emit(r.ReadAttribute(n, idIdx), town, g)
	}
	return nil
}

// shapeGeometry converts polygon and point shapes; other shape types are
// not parcel geometry
func shapeGeometry(s shp.Shape) orb.Geometry {
	switch v := s.(type) {
	case *shp.Polygon:
		return polygonParts(v.Parts, v.Points)
	case *shp.PolygonZ:
		return polygonParts(v.Parts, v.Points)
	case *shp.Point:
		return orb.Point{v.X, v.Y}
	case *shp.PointZ:
		return orb.Point{v.X, v.Y}
	}
	return nil
}

// polygonParts splits a flat point slice into rings at the part offsets.
// Every ring is kept as its own polygon since shapefiles do not say which
// rings are holes without a winding test.
func polygonParts(parts []int32, points []shp.Point) orb.Geometry {
	var mp orb.MultiPolygon
	for i := range parts {
		start := parts[i]
		end := int32(len(points))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		if start < 0 || end > int32(len(points)) || end-start < 3 {
			continue
		}
		ring := make(orb.Ring, 0, end-start)
		for _, pt := range points[start:end] {
			ring = append(ring, orb.Point{pt.X, pt.Y})
		}
		if ring.Orientation() == orb.CW || len(mp) == 0 {
			// shapefile outer rings are clockwise
			mp = append(mp, orb.Polygon{ring})
		} else {
			mp[len(mp)-1] = append(mp[len(mp)-1], ring)
		}
	}
	switch len(mp) {
	case 0:
		return nil
	case 1:
		return mp[0]
	}
	return mp
}

func readGeoJSON(spec GeometrySpec, stats *GeometryStats, emit func(id, town string, g orb.Geometry)) error {
	data, err := os.ReadFile(spec.Path)
	if err != nil {
		return fmt.Errorf("read %s: %w", spec.Path, err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnreadableInput, spec.Path, err)
	}
	for _, f := range fc.Features {
		if f.Geometry == nil {
			stats.Unsupported++
			continue
		}
		emit(propertyString(f.Properties, spec.IDField), propertyString(f.Properties, spec.TownField), f.Geometry)
	}
	return nil
}

// propertyString reads a property case-insensitively, rendering numbers
// without a trailing ".0"
func propertyString(props geojson.Properties, key string) string {
	if key == "" {
		return ""
	}
	v, ok := props[key]
	if !ok {
		for k, val := range props {
			if strings.EqualFold(k, key) {
				v, ok = val, true
				break
			}
		}
	}
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprint(t)
	}
}

func readPointCSV(spec GeometrySpec, emit func(id, town string, g orb.Geometry)) error {
	x, y := spec.XField, spec.YField
	if x == "" {
		x = "x"
	}
	if y == "" {
		y = "y"
	}
	aliases := map[string][]string{"id": {spec.IDField}, "x": {x}, "y": {y}, "town": {spec.TownField}}
	return readCSV(spec.Path, aliases, []string{"id", "x", "y"}, func(_ int, r row) error {
		px, py := normalize.ParseAmount(r.get("x")), normalize.ParseAmount(r.get("y"))
		var g orb.Geometry
		if px != nil && py != nil {
			g = orb.Point{*px, *py}
		}
		emit(r.get("id"), r.get("town"), g)
		return nil
	})
}
