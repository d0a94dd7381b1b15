package spatial

import (
	"math"

	"github.com/mmcloughlin/geohash"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// Match is the nearest parcel to a coordinate
type Match struct {
	ParcelID      string  `json:"parcel_id"`
	Distance      float64 `json:"distance_m"`
	OverThreshold bool    `json:"-"`
}

// NearestParcel returns the candidate whose centroid is closest to lon/lat by
// great-circle distance, flagging it when it lies beyond maxDistance metres.
// Equal distances resolve to the smaller identifier. Returns nil when there
// are no candidates.
func NearestParcel(lon, lat float64, candidates []Parcel, maxDistance float64) *Match {
	var best *Match
	q := orb.Point{lon, lat}
	for i := range candidates {
		best = closer(best, candidates[i].ID, geo.DistanceHaversine(q, candidates[i].Centroid))
	}
	if best != nil {
		best.OverThreshold = best.Distance > maxDistance
	}
	return best
}

func closer(best *Match, id string, d float64) *Match {
	if best == nil || d < best.Distance || (d == best.Distance && id < best.ParcelID) {
		return &Match{ParcelID: id, Distance: d}
	}
	return best
}

// Index answers nearest-parcel queries over one municipality's parcels. It
// buckets centroids by geohash and only scans the 3x3 block of cells around a
// query when that block provably contains the nearest centroid; otherwise it
// scans everything. Read-only after construction, safe for concurrent use.
type Index struct {
	parcels   []Parcel
	byID      map[string]int
	buckets   map[string][]int
	precision uint
}

// NewIndex builds an index using geohash cells of the given precision
func NewIndex(parcels []Parcel, precision uint) *Index {
	if precision == 0 {
		precision = 6
	}
	ix := &Index{
		parcels:   parcels,
		byID:      make(map[string]int, len(parcels)),
		buckets:   make(map[string][]int),
		precision: precision,
	}
	for i, p := range parcels {
		ix.byID[p.ID] = i
		h := geohash.EncodeWithPrecision(p.Centroid[1], p.Centroid[0], precision)
		ix.buckets[h] = append(ix.buckets[h], i)
	}
	return ix
}

// Len returns the number of indexed parcels
func (ix *Index) Len() int { return len(ix.parcels) }

// Parcel returns the parcel with the given identifier
func (ix *Index) Parcel(id string) (Parcel, bool) {
	i, ok := ix.byID[id]
	if !ok {
		return Parcel{}, false
	}
	return ix.parcels[i], true
}

// Nearest returns the parcel nearest lon/lat, flagged when beyond maxDistance
func (ix *Index) Nearest(lon, lat, maxDistance float64) *Match {
	if len(ix.parcels) == 0 {
		return nil
	}

	q := orb.Point{lon, lat}
	h := geohash.EncodeWithPrecision(lat, lon, ix.precision)

	var best *Match
	for _, cell := range append(geohash.Neighbors(h), h) {
		for _, i := range ix.buckets[cell] {
			best = closer(best, ix.parcels[i].ID, geo.DistanceHaversine(q, ix.parcels[i].Centroid))
		}
	}

	if best == nil || best.Distance > blockClearance(lon, lat, geohash.BoundingBox(h)) {
		return NearestParcel(lon, lat, ix.parcels, maxDistance)
	}
	best.OverThreshold = best.Distance > maxDistance
	return best
}

// blockClearance is a lower bound on the great-circle distance from lon/lat to
// any point outside the 3x3 block of cells centred on box
func blockClearance(lon, lat float64, box geohash.Box) float64 {
	h := box.MaxLat - box.MinLat
	w := box.MaxLng - box.MinLng
	phi := lat * deg

	north := (box.MaxLat + h - lat) * deg * orb.EarthRadius
	south := (lat - (box.MinLat - h)) * deg * orb.EarthRadius
	east := meridianDistance(phi, (box.MaxLng+w-lon)*deg)
	west := meridianDistance(phi, (lon-(box.MinLng-w))*deg)

	return math.Min(math.Min(north, south), math.Min(east, west))
}

// meridianDistance is the great-circle distance from a point at latitude phi
// to a meridian dLambda radians away
func meridianDistance(phi, dLambda float64) float64 {
	dLambda = math.Min(dLambda, math.Pi/2)
	return orb.EarthRadius * math.Asin(math.Cos(phi)*math.Sin(dLambda))
}
