// Package linkage decides, for each raw record, whether it updates an
// existing canonical record, creates a new one, or is skipped.
package linkage

import (
	"sort"
	"strings"

	"github.com/parcel-linkage/internal/normalize"
	"github.com/parcel-linkage/internal/parcel"
)

// Index holds one municipality's canonical records keyed for each matching
// strategy. It is built once per run and never modified, so workers may share
// it.
type Index struct {
	municipality string
	records      []parcel.Record

	houses    []string
	byID      map[string]int
	byAddress map[string][]int
	byStreet  map[string][]int
	foreign   map[string][]parcel.Record
}

// NewIndex indexes local, the records of municipality. foreign holds records
// from other municipalities that share an identifier with incoming rows.
func NewIndex(municipality string, local, foreign []parcel.Record) *Index {
	recs := make([]parcel.Record, len(local))
	copy(recs, local)
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].ParcelID < recs[j].ParcelID })

	ix := &Index{
		municipality: municipality,
		records:      recs,
		houses:       make([]string, len(recs)),
		byID:         make(map[string]int, len(recs)),
		byAddress:    make(map[string][]int),
		byStreet:     make(map[string][]int),
		foreign:      make(map[string][]parcel.Record),
	}
	for i, r := range recs {
		ix.byID[r.ParcelID] = i
		key := normalize.Address(r.Address)
		if key == "" {
			continue
		}
		ix.byAddress[key] = append(ix.byAddress[key], i)
		house, st := normalize.StreetKeys(r.Address)
		ix.houses[i] = house
		if st != "" {
			ix.byStreet[st] = append(ix.byStreet[st], i)
		}
	}
	for _, r := range foreign {
		if !strings.EqualFold(r.Municipality, municipality) {
			ix.foreign[r.ParcelID] = append(ix.foreign[r.ParcelID], r)
		}
	}
	return ix
}

// Municipality returns the municipality the index covers
func (ix *Index) Municipality() string { return ix.municipality }

// Len returns the number of local records
func (ix *Index) Len() int { return len(ix.records) }

// Record returns the local record with the given identifier
func (ix *Index) Record(parcelID string) (parcel.Record, bool) {
	i, ok := ix.byID[parcelID]
	if !ok {
		return parcel.Record{}, false
	}
	return ix.records[i], true
}
