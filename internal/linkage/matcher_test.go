package linkage

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parcel-linkage/internal/parcel"
	"github.com/parcel-linkage/internal/spatial"
)

func fp(v float64) *float64 { return &v }

func rec(id, muni, addr, owner string) parcel.Record {
	return parcel.Record{
		Key:        parcel.Key{ParcelID: id, Municipality: muni},
		Attributes: parcel.Attributes{Address: addr, OwnerName: owner},
	}
}

func raw(muni, id, addr, owner string) parcel.RawRecord {
	return parcel.RawRecord{
		Source:       parcel.SourceSpreadsheet,
		Municipality: muni,
		ParcelID:     id,
		Attributes:   parcel.Attributes{Address: addr, OwnerName: owner},
	}
}

func torringtonIndex() *Index {
	return NewIndex("Torrington", []parcel.Record{
		rec("141/5/72", "Torrington", "12 MARGERIE STREET", "SMITH JOHN"),
		rec("141/5/80", "Torrington", "30 MARGERIE STREET", ""),
		rec("200/1/1", "Torrington", "40 WATER ST", "BROWN ALICE"),
		rec("200/1/2", "Torrington", "40 WATER STREET", ""),
	}, nil)
}

func TestAbbreviatedAddressResolvesToSameRecord(t *testing.T) {
	m := NewMatcher(torringtonIndex(), nil, Options{})

	a := m.Match(NewRow(raw("Torrington", "", "12 MARGERIE ST", "SMITH JOHN")))
	b := m.Match(NewRow(raw("Torrington", "", "12 MARGERIE STREET", "SMITH JOHN")))

	assert.Equal(t, KindUpdate, a.Kind)
	assert.Equal(t, MethodAddress, a.Method)
	assert.Equal(t, a.Key, b.Key)
	assert.Equal(t, "141/5/72", a.Key.ParcelID)
	assert.False(t, a.LowConfidence)
}

func TestIdentifierMatchWins(t *testing.T) {
	m := NewMatcher(torringtonIndex(), nil, Options{})
	o := m.Match(NewRow(raw("Torrington", "141/5/80", "12 MARGERIE ST", "")))
	assert.Equal(t, KindUpdate, o.Kind)
	assert.Equal(t, MethodIdentifier, o.Method)
	assert.Equal(t, "141/5/80", o.Key.ParcelID)
}

func TestMunicipalityChangeIsSkipped(t *testing.T) {
	torrington := rec("141/5/72", "Torrington", "12 MARGERIE STREET", "SMITH JOHN")

	// the same parcel submitted under Winchester
	ix := NewIndex("Winchester", nil, []parcel.Record{torrington})
	o := NewMatcher(ix, nil, Options{}).Match(NewRow(raw("Winchester", "141/5/72", "12 Margerie St", "SMITH JOHN")))
	assert.Equal(t, KindSkipped, o.Kind)
	assert.Contains(t, o.Reason, "Torrington")

	// a row labelled with another municipality inside a Torrington run
	o = NewMatcher(torringtonIndex(), nil, Options{}).Match(NewRow(raw("Winchester", "141/5/72", "12 Margerie St", "")))
	assert.Equal(t, KindSkipped, o.Kind)

	// an identifier reused by an unrelated Winchester parcel is not a conflict
	o = NewMatcher(ix, nil, Options{}).Match(NewRow(raw("Winchester", "141/5/72", "9 Elm St", "")))
	assert.Equal(t, KindNew, o.Kind)
	assert.Equal(t, parcel.Key{ParcelID: "141/5/72", Municipality: "Winchester"}, o.Key)
}

func TestAmbiguousAddressPrefersRecordWithoutOwnerData(t *testing.T) {
	m := NewMatcher(torringtonIndex(), nil, Options{})
	o := m.Match(NewRow(raw("Torrington", "", "40 Water St", "GREEN ROBERT")))
	assert.Equal(t, KindUpdate, o.Kind)
	assert.Equal(t, "200/1/2", o.Key.ParcelID)
	assert.True(t, o.LowConfidence)
}

func TestStreetNameWithOverlappingHouseNumber(t *testing.T) {
	m := NewMatcher(torringtonIndex(), nil, Options{})

	o := m.Match(NewRow(raw("Torrington", "", "12A Margerie St", "")))
	assert.Equal(t, KindUpdate, o.Kind)
	assert.Equal(t, MethodStreet, o.Method)
	assert.Equal(t, "141/5/72", o.Key.ParcelID)

	o = m.Match(NewRow(raw("Torrington", "", "28-30 Margerie St", "")))
	assert.Equal(t, "141/5/80", o.Key.ParcelID)

	o = m.Match(NewRow(raw("Torrington", "", "14 Margerie St", "")))
	assert.Equal(t, KindNew, o.Kind, "a different house on the same street is not a match")
}

func TestStreetNameOnlyParcelOnStreet(t *testing.T) {
	ix := NewIndex("Goshen", []parcel.Record{
		rec("9/1/1", "Goshen", "12 Maple Ave", "KING RUTH"),
		rec("9/2/1", "Goshen", "1 Elm St", ""),
		rec("9/2/2", "Goshen", "3 Elm St", ""),
	}, nil)
	m := NewMatcher(ix, nil, Options{})

	tests := []struct {
		name    string
		address string
		want    Kind
		id      string
	}{
		{"house outside range", "14 Maple Ave", KindUpdate, "9/1/1"},
		{"no house number", "MAPLE AVE", KindUpdate, "9/1/1"},
		{"town segment ignored", "14 Maple Avenue, Goshen, CT", KindUpdate, "9/1/1"},
		{"several parcels on street", "5 Elm St", KindNew, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := m.Match(NewRow(raw("Goshen", "", tt.address, "")))
			assert.Equal(t, tt.want, o.Kind)
			if tt.want != KindUpdate {
				return
			}
			assert.Equal(t, MethodStreet, o.Method)
			assert.Equal(t, tt.id, o.Key.ParcelID)
			assert.True(t, o.LowConfidence)
		})
	}
}

func TestNewRowSplitsComponents(t *testing.T) {
	r := NewRow(raw("Torrington", "", "12A Margerie St Apt 2, Torrington, CT 06790", ""))
	assert.Equal(t, "12A", r.HouseNumber)
	assert.Equal(t, "MARGERIE STREET", r.StreetKey)
}

func TestDistinctIdentifierAtSameAddressIsNew(t *testing.T) {
	m := NewMatcher(torringtonIndex(), nil, Options{})
	o := m.Match(NewRow(raw("Torrington", "141/5/72-U2", "12 Margerie St", "")))
	assert.Equal(t, KindNew, o.Kind)
	assert.Equal(t, "141/5/72-U2", o.Key.ParcelID)
}

type fakeLookup struct{ match *spatial.Match }

func (f fakeLookup) Nearest(float64, float64) *spatial.Match { return f.match }

func TestSpatialStrategy(t *testing.T) {
	row := NewRow(raw("Torrington", "", "Rear Lot Off Route 4", ""))
	row.Lon, row.Lat = fp(-73.12), fp(41.80)

	existing := NewMatcher(torringtonIndex(), fakeLookup{&spatial.Match{ParcelID: "200/1/1", Distance: 40}}, Options{})
	o := existing.Match(row)
	assert.Equal(t, KindUpdate, o.Kind)
	assert.Equal(t, MethodSpatial, o.Method)
	assert.Equal(t, "200/1/1", o.Key.ParcelID)
	require.NotNil(t, o.Spatial)
	assert.LessOrEqual(t, o.Spatial.Distance, 150.0)
	assert.False(t, o.Spatial.OverThreshold)

	unseen := NewMatcher(torringtonIndex(), fakeLookup{&spatial.Match{ParcelID: "300/2/9", Distance: 400, OverThreshold: true}}, Options{})
	o = unseen.Match(row)
	assert.Equal(t, KindNew, o.Kind)
	assert.Equal(t, "300/2/9", o.Key.ParcelID)
	assert.True(t, o.Spatial.OverThreshold)

	strict := NewMatcher(torringtonIndex(), fakeLookup{&spatial.Match{ParcelID: "300/2/9", Distance: 400, OverThreshold: true}}, Options{StrictSpatial: true})
	o = strict.Match(row)
	assert.Equal(t, KindNew, o.Kind)
	assert.Equal(t, MethodNone, o.Method)
	assert.True(t, parcel.IsDerived(o.Key.ParcelID))
}

func TestNoIdentifierNoAddressIsSkipped(t *testing.T) {
	m := NewMatcher(torringtonIndex(), nil, Options{})
	o := m.Match(NewRow(raw("Torrington", "", "", "SMITH JOHN")))
	assert.Equal(t, KindSkipped, o.Kind)
}

func TestSpatialMatchAgainstRealIndex(t *testing.T) {
	p, err := spatial.NewParcel("200/1/1", orb.Point{-73.1200, 41.8000}, nil)
	require.NoError(t, err)
	lookup := spatial.NewLookup(spatial.NewIndex([]spatial.Parcel{p}, 6), nil, 5, 150)

	row := NewRow(raw("Torrington", "", "Off Water St", ""))
	row.Lon, row.Lat = fp(-73.1201), fp(41.8001)

	o := NewMatcher(torringtonIndex(), lookup, Options{}).Match(row)
	assert.Equal(t, KindUpdate, o.Kind)
	assert.Equal(t, "200/1/1", o.Key.ParcelID)
	assert.Less(t, o.Spatial.Distance, 150.0)
}
