// Package pipeline runs one municipality through the load, geocode, match,
// write and verify stages.
package pipeline

import (
	"errors"

	"github.com/parcel-linkage/internal/linkage"
	"github.com/parcel-linkage/internal/parcel"
	"github.com/parcel-linkage/internal/source"
	"github.com/parcel-linkage/internal/spatial"
	"github.com/parcel-linkage/internal/store"
)

// ErrNoUsableRows means the inputs parsed but yielded nothing to match
var ErrNoUsableRows = errors.New("no usable rows")

// maxFailureSamples bounds the geocode failures kept per municipality
const maxFailureSamples = 25

// Stats tracks one municipality's run
type Stats struct {
	SpreadsheetRows   int
	SupplementaryRows int
	Supplement        source.MergeStats
	Geometry          source.GeometryStats
	Parcels           int

	Geocoded        int
	GeocodeNotFound int
	GeocodeFailed   int
	GeocodeSamples  []string

	SpatialHits   int
	SpatialMisses int
	// rows with a coordinate that no strategy, nearest parcel included, resolved
	SpatialFailed int

	New       int
	Updates   int
	Skipped   int
	ByMethod  map[string]int
	Collapsed int
	Flagged   int
	Ambiguous int

	Write store.WriteReport

	Expected  int
	Counted   int
	Shortfall int
	Verified  bool
}

// Job carries one municipality through the stages. Each stage fills in the
// fields the next one reads.
type Job struct {
	Municipality source.Municipality

	Raw     []parcel.RawRecord
	Rows    []linkage.Row
	Parcels *spatial.Index

	Index *linkage.Index
	Plan  linkage.Plan

	Stats Stats
}

// Name returns the municipality name
func (j *Job) Name() string { return j.Municipality.Name }

func (j *Job) recordFailure(address string, err error) {
	j.Stats.GeocodeFailed++
	if len(j.Stats.GeocodeSamples) < maxFailureSamples {
		j.Stats.GeocodeSamples = append(j.Stats.GeocodeSamples, address+": "+err.Error())
	}
}
