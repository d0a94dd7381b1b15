package parcel

import (
	"fmt"
	"strings"
)

// Merge folds incoming into existing and reports whether anything changed.
//
// Ordinary fields only fill values that are missing on existing. When
// authoritative is true the owner, mailing, address and assessment fields are
// refreshed from incoming wherever incoming carries a value. Municipality is
// never rewritten.
func Merge(existing Record, incoming Record, authoritative bool) (Record, bool, error) {
	if !strings.EqualFold(existing.Municipality, incoming.Municipality) {
		return existing, false, fmt.Errorf("%w: %s vs %s for parcel %s",
			ErrMunicipalityConflict, existing.Municipality, incoming.Municipality, existing.ParcelID)
	}

	out := existing
	changed := false

	str := func(dst *string, src string, refresh bool) {
		src = strings.TrimSpace(src)
		if src == "" || *dst == src {
			return
		}
		if *dst == "" || refresh {
			*dst = src
			changed = true
		}
	}
	flt := func(dst **float64, src *float64, refresh bool) {
		if src == nil || (*dst != nil && **dst == *src) {
			return
		}
		if *dst == nil || refresh {
			v := *src
			*dst = &v
			changed = true
		}
	}
	num := func(dst **int, src *int) {
		if src != nil && *dst == nil {
			v := *src
			*dst = &v
			changed = true
		}
	}

	a, in := &out.Attributes, incoming.Attributes

	str(&a.Address, in.Address, authoritative)
	str(&a.OwnerName, in.OwnerName, authoritative)
	str(&a.CoOwner, in.CoOwner, authoritative)
	str(&a.MailingAddress, in.MailingAddress, authoritative)
	str(&a.MailingCity, in.MailingCity, authoritative)
	str(&a.MailingState, in.MailingState, authoritative)
	str(&a.MailingZip, in.MailingZip, authoritative)
	flt(&a.AssessedTotal, in.AssessedTotal, authoritative)
	flt(&a.AssessedLand, in.AssessedLand, authoritative)
	flt(&a.AssessedBuilding, in.AssessedBuilding, authoritative)
	str(&a.PropertyClass, in.PropertyClass, authoritative)

	num(&a.LivingArea, in.LivingArea)
	num(&a.YearBuilt, in.YearBuilt)
	num(&a.Bedrooms, in.Bedrooms)
	flt(&a.Bathrooms, in.Bathrooms, false)
	flt(&a.LotAcres, in.LotAcres, false)

	if out.Lon == nil && out.Lat == nil && incoming.Lon != nil && incoming.Lat != nil {
		lon, lat := *incoming.Lon, *incoming.Lat
		out.Lon, out.Lat = &lon, &lat
		changed = true
	}
	str(&out.GeometryWKT, incoming.GeometryWKT, false)

	for _, tag := range strings.Split(incoming.Provenance, ",") {
		if tag != "" && !out.HasProvenance(tag) {
			if out.Provenance == "" {
				out.Provenance = tag
			} else {
				out.Provenance += "," + tag
			}
			changed = true
		}
	}
	return out, changed, nil
}
