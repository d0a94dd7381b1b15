package source

import (
	"github.com/agnivade/levenshtein"

	"github.com/parcel-linkage/internal/normalize"
	"github.com/parcel-linkage/internal/parcel"
)

// MergeStats counts how supplementary rows were attached
type MergeStats struct {
	Attached   int
	Ambiguous  int // attached after an owner-name tie-break
	Standalone int
}

// MergeSupplementary attaches supplementary rows to spreadsheet rows sharing
// the same normalized address. The spreadsheet row gains the supplementary
// parcel identifier and any building detail it lacks. When several
// spreadsheet rows share the address, the one whose owner name is the
// smallest edit distance from the supplementary owner wins; rows already
// claimed are only used when nothing else is left. Unmatched supplementary
// rows are returned after the spreadsheet rows as records of their own.
func MergeSupplementary(primary, supplementary []parcel.RawRecord) ([]parcel.RawRecord, MergeStats) {
	out := make([]parcel.RawRecord, len(primary), len(primary)+len(supplementary))
	copy(out, primary)

	byAddress := make(map[string][]int)
	for i, r := range out {
		if k := normalize.Address(r.Address); k != "" {
			byAddress[k] = append(byAddress[k], i)
		}
	}

	var stats MergeStats
	claimed := make(map[int]bool)
	for _, s := range supplementary {
		cands := unclaimed(byAddress[normalize.Address(s.Address)], claimed)
		if len(cands) == 0 {
			out = append(out, s)
			stats.Standalone++
			continue
		}

		pick := cands[0]
		if len(cands) > 1 {
			pick = closestOwner(out, cands, s.OwnerName)
			stats.Ambiguous++
		}
		claimed[pick] = true
		out[pick] = attach(out[pick], s)
		stats.Attached++
	}
	return out, stats
}

func unclaimed(idx []int, claimed map[int]bool) []int {
	var out []int
	for _, i := range idx {
		if !claimed[i] {
			out = append(out, i)
		}
	}
	return out
}

func closestOwner(rows []parcel.RawRecord, cands []int, owner string) int {
	target := normalize.Name(owner)
	if target == "" {
		return cands[0]
	}
	best, bestDist := cands[0], -1
	for _, i := range cands {
		d := levenshtein.ComputeDistance(normalize.Name(rows[i].OwnerName), target)
		if bestDist < 0 || d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// attach fills p from s without overwriting anything p already has
func attach(p, s parcel.RawRecord) parcel.RawRecord {
	if p.ParcelID == "" {
		p.ParcelID = s.ParcelID
	}
	a, b := &p.Attributes, s.Attributes
	if a.LivingArea == nil {
		a.LivingArea = b.LivingArea
	}
	if a.YearBuilt == nil {
		a.YearBuilt = b.YearBuilt
	}
	if a.Bedrooms == nil {
		a.Bedrooms = b.Bedrooms
	}
	if a.Bathrooms == nil {
		a.Bathrooms = b.Bathrooms
	}
	if a.LotAcres == nil {
		a.LotAcres = b.LotAcres
	}
	if a.PropertyClass == "" {
		a.PropertyClass = b.PropertyClass
	}
	if a.AssessedTotal == nil {
		a.AssessedTotal = b.AssessedTotal
	}
	if a.AssessedLand == nil {
		a.AssessedLand = b.AssessedLand
	}
	if a.AssessedBuilding == nil {
		a.AssessedBuilding = b.AssessedBuilding
	}
	if p.Lon == nil && s.Lon != nil {
		p.Lon, p.Lat = s.Lon, s.Lat
	}
	p.Supplemented = true
	return p
}
