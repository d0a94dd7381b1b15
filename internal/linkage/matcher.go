package linkage

import (
	"fmt"
	"strings"

	"github.com/parcel-linkage/internal/normalize"
	"github.com/parcel-linkage/internal/parcel"
	"github.com/parcel-linkage/internal/spatial"
)

// Kind is the decision reached for one raw record
type Kind string

const (
	KindNew     Kind = "NEW"
	KindUpdate  Kind = "UPDATE"
	KindSkipped Kind = "SKIPPED"
)

// Method names the strategy that produced a decision
type Method string

const (
	MethodIdentifier Method = "identifier"
	MethodAddress    Method = "exact_address"
	MethodStreet     Method = "street_name"
	MethodSpatial    Method = "spatial"
	MethodNone       Method = "none"
)

// Row is a raw record with its derived comparison keys
type Row struct {
	Raw         parcel.RawRecord
	AddressKey  string
	StreetKey   string
	HouseNumber string

	// Coordinate from the source or from geocoding, EPSG:4326
	Lon, Lat *float64
}

// NewRow derives the comparison keys for raw
func NewRow(raw parcel.RawRecord) Row {
	house, street := normalize.StreetKeys(raw.Address)
	return Row{
		Raw:         raw,
		AddressKey:  normalize.Address(raw.Address),
		StreetKey:   street,
		HouseNumber: house,
		Lon:         raw.Lon,
		Lat:         raw.Lat,
	}
}

// Outcome is the decision for one row
type Outcome struct {
	Kind          Kind
	Method        Method
	Key           parcel.Key
	Reason        string
	LowConfidence bool
	Spatial       *spatial.Match
}

// SpatialLookup finds the parcel nearest a coordinate
type SpatialLookup interface {
	Nearest(lon, lat float64) *spatial.Match
}

// Options tunes the matcher
type Options struct {
	// StrictSpatial rejects nearest-parcel results beyond the distance budget
	// instead of accepting them with an over-threshold flag
	StrictSpatial bool
}

// Matcher applies the strategies in priority order: identifier, exact
// normalized address, street name (overlapping house number first, then the
// only parcel on the street, flagged low confidence), nearest parcel. A row no
// strategy resolves is NEW.
type Matcher struct {
	ix      *Index
	spatial SpatialLookup
	opt     Options
}

// NewMatcher builds a matcher. lookup may be nil when no geometry layer is
// available.
func NewMatcher(ix *Index, lookup SpatialLookup, opt Options) *Matcher {
	return &Matcher{ix: ix, spatial: lookup, opt: opt}
}

// Match decides the outcome for r
func (m *Matcher) Match(r Row) Outcome {
	muni := m.ix.municipality
	if !strings.EqualFold(strings.TrimSpace(r.Raw.Municipality), muni) {
		return skipped(fmt.Sprintf("row belongs to %q, run is for %q", r.Raw.Municipality, muni))
	}

	id := strings.TrimSpace(r.Raw.ParcelID)
	if id != "" {
		if i, ok := m.ix.byID[id]; ok {
			return update(m.ix.records[i].Key, MethodIdentifier, false)
		}
		for _, other := range m.ix.foreign[id] {
			if r.AddressKey == "" || normalize.Address(other.Address) == r.AddressKey {
				return skipped(fmt.Sprintf("parcel %s already exists in %s", id, other.Municipality))
			}
		}
	}

	if r.AddressKey != "" {
		if i, ambiguous, ok := m.pick(m.ix.byAddress[r.AddressKey], id, ""); ok {
			return update(m.ix.records[i].Key, MethodAddress, ambiguous)
		}
		if r.StreetKey != "" {
			cands := m.ix.byStreet[r.StreetKey]
			if r.HouseNumber != "" {
				if i, ambiguous, ok := m.pick(cands, id, r.HouseNumber); ok {
					return update(m.ix.records[i].Key, MethodStreet, ambiguous)
				}
			}
			if i, ambiguous, ok := m.pick(cands, id, ""); ok && !ambiguous {
				return update(m.ix.records[i].Key, MethodStreet, true)
			}
		}
	}

	if id == "" && m.spatial != nil && r.Lon != nil && r.Lat != nil {
		if sm := m.spatial.Nearest(*r.Lon, *r.Lat); sm != nil && !(sm.OverThreshold && m.opt.StrictSpatial) {
			key, kind := parcel.Key{ParcelID: sm.ParcelID, Municipality: muni}, KindNew
			if rec, ok := m.ix.Record(sm.ParcelID); ok {
				key, kind = rec.Key, KindUpdate
			}
			return Outcome{Kind: kind, Method: MethodSpatial, Key: key, Spatial: sm}
		}
	}

	if id == "" && r.AddressKey == "" {
		return skipped("no identifier or address")
	}
	if id == "" {
		id = parcel.DerivedID(r.AddressKey, muni)
	}
	return Outcome{Kind: KindNew, Method: MethodNone, Key: parcel.Key{ParcelID: id, Municipality: muni}}
}

// pick chooses among candidate records. Candidates carrying a different real
// identifier than the row are never merged into. With a house number, only
// candidates whose house number overlaps it qualify. Among several, the first
// without owner or assessment data wins, else the first in identifier order;
// either way the result is flagged ambiguous.
func (m *Matcher) pick(cands []int, rowID, house string) (int, bool, bool) {
	var eligible []int
	for _, i := range cands {
		rec := m.ix.records[i]
		if rowID != "" && rec.ParcelID != rowID && !parcel.IsDerived(rec.ParcelID) {
			continue
		}
		if house != "" && !normalize.HouseNumbersOverlap(house, m.ix.houses[i]) {
			continue
		}
		eligible = append(eligible, i)
	}
	switch len(eligible) {
	case 0:
		return 0, false, false
	case 1:
		return eligible[0], false, true
	}
	for _, i := range eligible {
		if !m.ix.records[i].HasOwnerData() {
			return i, true, true
		}
	}
	return eligible[0], true, true
}

func update(key parcel.Key, method Method, ambiguous bool) Outcome {
	return Outcome{Kind: KindUpdate, Method: method, Key: key, LowConfidence: ambiguous}
}

func skipped(reason string) Outcome {
	return Outcome{Kind: KindSkipped, Method: MethodNone, Reason: reason}
}
