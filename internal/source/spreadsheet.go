package source

import (
	"github.com/parcel-linkage/internal/normalize"
	"github.com/parcel-linkage/internal/parcel"
)

// Canonical field names shared by both tabular readers
const (
	fID          = "parcel_id"
	fAddress     = "address"
	fOwner       = "owner"
	fCoOwner     = "co_owner"
	fMailAddress = "mailing_address"
	fMailCity    = "mailing_city"
	fMailState   = "mailing_state"
	fMailZip     = "mailing_zip"
	fTotal       = "assessed_total"
	fLand        = "assessed_land"
	fBuilding    = "assessed_building"
	fClass       = "property_class"
	fLivingArea  = "living_area"
	fYearBuilt   = "year_built"
	fBedrooms    = "bedrooms"
	fBathrooms   = "bathrooms"
	fAcres       = "lot_acres"
	fLon         = "lon"
	fLat         = "lat"
)

var columnAliases = map[string][]string{
	fID:          {"Parcel ID", "ParcelID", "PID", "MBL", "Map Block Lot", "GIS ID", "Unique ID", "Parcel"},
	fAddress:     {"Property Address", "Location", "Site Address", "Property Location", "Address", "Street Address"},
	fOwner:       {"Full Name", "Owner", "Owner Name", "Owner 1", "Primary Owner"},
	fCoOwner:     {"Co-Owner", "Co Owner", "Owner 2", "Secondary Owner"},
	fMailAddress: {"Mailing Address", "Mail Address", "Owner Address"},
	fMailCity:    {"Mailing City", "Mail City", "Owner City"},
	fMailState:   {"Mailing State", "Mail State", "Owner State"},
	fMailZip:     {"Mailing Zip", "Mail Zip", "Owner Zip", "Zip"},
	fTotal:       {"Assessed Value", "Total Assessment", "Assessment", "Total Assessed", "Assessed Total"},
	fLand:        {"Land Assessment", "Assessed Land", "Land Value"},
	fBuilding:    {"Building Assessment", "Assessed Building", "Improvements", "Building Value"},
	fClass:       {"Property Class", "Class", "Use Code", "Land Use", "Property Type"},
	fLivingArea:  {"Living Area", "Gross Living Area", "Sq Ft", "SqFt"},
	fYearBuilt:   {"Year Built", "YrBuilt"},
	fBedrooms:    {"Bedrooms", "Beds"},
	fBathrooms:   {"Bathrooms", "Baths", "Full Baths"},
	fAcres:       {"Acres", "Lot Acres", "Lot Size"},
	fLon:         {"Longitude", "Lon", "Lng"},
	fLat:         {"Latitude", "Lat"},
}

func attributes(r row) parcel.Attributes {
	return parcel.Attributes{
		Address:          r.get(fAddress),
		OwnerName:        r.get(fOwner),
		CoOwner:          r.get(fCoOwner),
		MailingAddress:   r.get(fMailAddress),
		MailingCity:      r.get(fMailCity),
		MailingState:     r.get(fMailState),
		MailingZip:       r.get(fMailZip),
		AssessedTotal:    normalize.ParseAmount(r.get(fTotal)),
		AssessedLand:     normalize.ParseAmount(r.get(fLand)),
		AssessedBuilding: normalize.ParseAmount(r.get(fBuilding)),
		PropertyClass:    r.get(fClass),
		LivingArea:       normalize.ParseCount(r.get(fLivingArea)),
		YearBuilt:        normalize.ParseCount(r.get(fYearBuilt)),
		Bedrooms:         normalize.ParseCount(r.get(fBedrooms)),
		Bathrooms:        normalize.ParseAmount(r.get(fBathrooms)),
		LotAcres:         normalize.ParseAmount(r.get(fAcres)),
	}
}

func coordinate(r row) (lon, lat *float64) {
	lon, lat = normalize.ParseAmount(r.get(fLon)), normalize.ParseAmount(r.get(fLat))
	if lon == nil || lat == nil || *lon < -180 || *lon > 180 || *lat < -90 || *lat > 90 {
		return nil, nil
	}
	return lon, lat
}

// ReadSpreadsheet reads the owner/mailing/assessment export for one
// municipality. The owner and address columns are required. A tracking row
// directly under the header, one with neither owner nor address, is skipped,
// as is any row that is blank in both.
func ReadSpreadsheet(path, municipality string) ([]parcel.RawRecord, error) {
	var out []parcel.RawRecord
	err := readCSV(path, columnAliases, []string{fOwner, fAddress}, func(n int, r row) error {
		if r.blank(fOwner, fAddress) {
			return nil
		}
		lon, lat := coordinate(r)
		out = append(out, parcel.RawRecord{
			Source:       parcel.SourceSpreadsheet,
			Municipality: municipality,
			Row:          n,
			ParcelID:     r.get(fID),
			Attributes:   attributes(r),
			Lon:          lon,
			Lat:          lat,
		})
		return nil
	})
	return out, err
}

// ReadSupplementary reads the raw assessor export carrying parcel identifiers
// and building detail. The identifier and address columns are required.
func ReadSupplementary(path, municipality string) ([]parcel.RawRecord, error) {
	var out []parcel.RawRecord
	err := readCSV(path, columnAliases, []string{fID, fAddress}, func(n int, r row) error {
		if r.blank(fID, fAddress) {
			return nil
		}
		lon, lat := coordinate(r)
		out = append(out, parcel.RawRecord{
			Source:       parcel.SourceSupplementary,
			Municipality: municipality,
			Row:          n,
			ParcelID:     r.get(fID),
			Attributes:   attributes(r),
			Lon:          lon,
			Lat:          lat,
		})
		return nil
	})
	return out, err
}
