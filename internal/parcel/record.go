// Package parcel holds the raw and canonical record types shared by every stage
// of a municipality run, and the rules for merging one into the other.
package parcel

import (
	"errors"
	"strings"
	"time"
)

// Source identifies which input a raw record came from
type Source string

const (
	SourceSpreadsheet   Source = "spreadsheet"
	SourceSupplementary Source = "supplementary"
	SourceGeometry      Source = "geometry"
)

// ErrMunicipalityConflict is returned when an update would move a record to a
// different municipality
var ErrMunicipalityConflict = errors.New("municipality conflict")

// Key is the canonical identity of a parcel. A parcel identifier alone is not
// unique across municipalities.
type Key struct {
	ParcelID     string
	Municipality string
}

func (k Key) String() string {
	return k.Municipality + "/" + k.ParcelID
}

// Attributes are the descriptive fields shared by raw and canonical records
type Attributes struct {
	Address        string
	OwnerName      string
	CoOwner        string
	MailingAddress string
	MailingCity    string
	MailingState   string
	MailingZip     string

	AssessedTotal    *float64
	AssessedLand     *float64
	AssessedBuilding *float64
	PropertyClass    string

	LivingArea *int
	YearBuilt  *int
	Bedrooms   *int
	Bathrooms  *float64
	LotAcres   *float64
}

// HasOwnerData reports whether owner or assessment information is present
func (a Attributes) HasOwnerData() bool {
	return strings.TrimSpace(a.OwnerName) != "" || a.AssessedTotal != nil
}

// RawRecord is one row read from an input source. It is never mutated after
// the reader produces it.
type RawRecord struct {
	Source       Source
	Municipality string
	Row          int
	ParcelID     string
	Attributes

	// Supplemented is set when supplementary detail was attached to a
	// spreadsheet row
	Supplemented bool

	// Optional coordinate already known from the source, EPSG:4326
	Lon, Lat *float64
}

// Record is the deduplicated, authoritative representation of a parcel
type Record struct {
	Key
	Attributes

	Lon, Lat    *float64
	GeometryWKT string

	Provenance    string
	MatchMethod   string
	LowConfidence bool
	OverThreshold bool
	LastUpdated   time.Time
}

// HasProvenance reports whether tag is already recorded
func (r Record) HasProvenance(tag string) bool {
	for _, p := range strings.Split(r.Provenance, ",") {
		if p == tag {
			return true
		}
	}
	return false
}

// FromRaw builds a new canonical record from a raw record
func FromRaw(raw RawRecord, parcelID string) Record {
	rec := Record{
		Key:        Key{ParcelID: parcelID, Municipality: raw.Municipality},
		Attributes: raw.Attributes,
		Lon:        raw.Lon,
		Lat:        raw.Lat,
		Provenance: string(raw.Source),
	}
	if raw.Supplemented {
		rec.Provenance += "," + string(SourceSupplementary)
	}
	return rec
}
