package linkage

import (
	"github.com/parcel-linkage/internal/parcel"
	"github.com/parcel-linkage/internal/spatial"
)

// Update is a merge of incoming values into an existing canonical record
type Update struct {
	Key           parcel.Key
	Incoming      parcel.Record
	Authoritative bool
	Rows          []int
}

// Skip records a row that was not written
type Skip struct {
	Row    int
	Source parcel.Source
	Reason string
}

// Plan is the deduplicated set of writes for one municipality
type Plan struct {
	Inserts   []parcel.Record
	Updates   []Update
	Skipped   []Skip
	Collapsed int // NEW rows folded into an earlier insert or update
	Flagged   int // spatial matches accepted beyond the distance budget
	Ambiguous int
}

// GeometryFunc returns the geometry-layer parcel for an identifier
type GeometryFunc func(parcelID string) (spatial.Parcel, bool)

// BuildPlan turns per-row outcomes into inserts and updates. Rows are
// processed in order; NEW rows that share an identifier or normalized
// address with an earlier NEW row collapse into that insert, and several rows
// updating one record become a single update. geometry may be nil.
func BuildPlan(rows []Row, outcomes []Outcome, geometry GeometryFunc) Plan {
	var p Plan
	insertByID := make(map[string]int)
	insertByAddr := make(map[string]int)
	updateByKey := make(map[parcel.Key]int)

	for i, r := range rows {
		o := outcomes[i]
		if o.Kind == KindSkipped {
			p.Skipped = append(p.Skipped, Skip{Row: r.Raw.Row, Source: r.Raw.Source, Reason: o.Reason})
			continue
		}
		if o.LowConfidence {
			p.Ambiguous++
		}
		if o.Spatial != nil && o.Spatial.OverThreshold {
			p.Flagged++
		}

		rec := incoming(r, o, geometry)
		authoritative := r.Raw.Source == parcel.SourceSpreadsheet

		if o.Kind == KindUpdate {
			if j, ok := updateByKey[o.Key]; ok {
				u := &p.Updates[j]
				merged, _, err := parcel.Merge(u.Incoming, rec, authoritative)
				if err == nil {
					u.Incoming = merged
				}
				u.Authoritative = u.Authoritative || authoritative
				u.Rows = append(u.Rows, r.Raw.Row)
				p.Collapsed++
				continue
			}
			updateByKey[o.Key] = len(p.Updates)
			p.Updates = append(p.Updates, Update{Key: o.Key, Incoming: rec, Authoritative: authoritative, Rows: []int{r.Raw.Row}})
			continue
		}

		j, ok := insertByID[o.Key.ParcelID]
		if !ok && r.AddressKey != "" {
			// two distinct real identifiers at one address stay distinct
			if k, found := insertByAddr[r.AddressKey]; found && (parcel.IsDerived(p.Inserts[k].ParcelID) || parcel.IsDerived(rec.ParcelID)) {
				j, ok = k, true
			}
		}
		if ok {
			existing := p.Inserts[j]
			merged, _, err := parcel.Merge(existing, rec, authoritative)
			if err != nil {
				p.Skipped = append(p.Skipped, Skip{Row: r.Raw.Row, Source: r.Raw.Source, Reason: err.Error()})
				continue
			}
			// a real identifier replaces one minted from the address
			if parcel.IsDerived(merged.ParcelID) && !parcel.IsDerived(rec.ParcelID) {
				merged.Key = rec.Key
				insertByID[rec.ParcelID] = j
			}
			p.Inserts[j] = merged
			p.Collapsed++
		} else {
			j = len(p.Inserts)
			p.Inserts = append(p.Inserts, rec)
		}
		insertByID[o.Key.ParcelID] = j
		if r.AddressKey != "" {
			if _, seen := insertByAddr[r.AddressKey]; !seen {
				insertByAddr[r.AddressKey] = j
			}
		}
	}
	return p
}

func incoming(r Row, o Outcome, geometry GeometryFunc) parcel.Record {
	rec := parcel.FromRaw(r.Raw, o.Key.ParcelID)
	rec.Key = o.Key
	rec.Lon, rec.Lat = r.Lon, r.Lat
	rec.MatchMethod = string(o.Method)
	rec.LowConfidence = o.LowConfidence
	rec.OverThreshold = o.Spatial != nil && o.Spatial.OverThreshold

	if geometry != nil {
		if g, ok := geometry(o.Key.ParcelID); ok {
			lon, lat := g.Centroid[0], g.Centroid[1]
			rec.Lon, rec.Lat = &lon, &lat
			rec.GeometryWKT = g.WKT()
		}
	}
	return rec
}
