package spatial

import "strconv"

// CacheKey rounds a coordinate to the given number of decimal places
func CacheKey(lon, lat float64, decimals int) string {
	return strconv.FormatFloat(lon, 'f', decimals, 64) + "," + strconv.FormatFloat(lat, 'f', decimals, 64)
}

// Lookup fronts an Index with a rounded-coordinate result cache. It reads a
// shared snapshot and keeps whatever it computes in its own map, so each
// worker owns one Lookup and hands Fresh back to the caller for merging.
type Lookup struct {
	index       *Index
	snapshot    map[string]Match
	fresh       map[string]Match
	decimals    int
	maxDistance float64

	hits, misses int
}

// NewLookup builds a worker-local lookup. snapshot is never written.
func NewLookup(ix *Index, snapshot map[string]Match, decimals int, maxDistance float64) *Lookup {
	return &Lookup{
		index:       ix,
		snapshot:    snapshot,
		fresh:       make(map[string]Match),
		decimals:    decimals,
		maxDistance: maxDistance,
	}
}

// Nearest returns the parcel nearest lon/lat, or nil when the index is empty
func (l *Lookup) Nearest(lon, lat float64) *Match {
	key := CacheKey(lon, lat, l.decimals)

	m, ok := l.fresh[key]
	if !ok {
		m, ok = l.snapshot[key]
	}
	if ok {
		l.hits++
	} else {
		l.misses++
		if found := l.index.Nearest(lon, lat, l.maxDistance); found != nil {
			m = *found
		}
		l.fresh[key] = m
	}

	if m.ParcelID == "" {
		return nil
	}
	m.OverThreshold = m.Distance > l.maxDistance
	return &m
}

// Fresh returns the entries computed by this lookup
func (l *Lookup) Fresh() map[string]Match { return l.fresh }

// Stats returns cache hits and misses
func (l *Lookup) Stats() (hits, misses int) { return l.hits, l.misses }
