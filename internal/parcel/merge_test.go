package parcel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fp(v float64) *float64 { return &v }
func ip(v int) *int         { return &v }

func baseRecord() Record {
	return Record{
		Key: Key{ParcelID: "141/5/72", Municipality: "Torrington"},
		Attributes: Attributes{
			Address:       "12 MARGERIE ST",
			OwnerName:     "SMITH JOHN",
			AssessedTotal: fp(120000),
			YearBuilt:     ip(1952),
		},
		Provenance: "spreadsheet",
	}
}

func TestMergeNonDestructive(t *testing.T) {
	existing := baseRecord()
	incoming := Record{
		Key: existing.Key,
		Attributes: Attributes{
			OwnerName: "DOE JANE",
			YearBuilt: ip(1960),
			Bedrooms:  ip(3),
		},
		Provenance: "supplementary",
	}

	merged, changed, err := Merge(existing, incoming, false)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "SMITH JOHN", merged.OwnerName, "ordinary merge keeps existing owner")
	assert.Equal(t, 1952, *merged.YearBuilt, "existing values are never overwritten")
	assert.Equal(t, 3, *merged.Bedrooms, "missing values are filled")
	assert.Equal(t, "spreadsheet,supplementary", merged.Provenance)
}

func TestMergeAuthoritativeRefresh(t *testing.T) {
	existing := baseRecord()
	incoming := Record{
		Key: existing.Key,
		Attributes: Attributes{
			OwnerName:     "DOE JANE",
			AssessedTotal: fp(135000),
			YearBuilt:     ip(1960),
		},
		Provenance: "spreadsheet",
	}

	merged, changed, err := Merge(existing, incoming, true)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "DOE JANE", merged.OwnerName)
	assert.Equal(t, 135000.0, *merged.AssessedTotal)
	assert.Equal(t, 1952, *merged.YearBuilt, "building detail is not authoritative")
	assert.Equal(t, "12 MARGERIE ST", merged.Address, "blank incoming never clears")
}

func TestMergeUnchanged(t *testing.T) {
	existing := baseRecord()
	_, changed, err := Merge(existing, existing, true)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestMergeMunicipalityConflict(t *testing.T) {
	existing := baseRecord()
	incoming := existing
	incoming.Municipality = "Winchester"

	merged, changed, err := Merge(existing, incoming, true)
	require.ErrorIs(t, err, ErrMunicipalityConflict)
	assert.False(t, changed)
	assert.Equal(t, "Torrington", merged.Municipality)
}

func TestDerivedIDStable(t *testing.T) {
	a := DerivedID("12 MARGERIE STREET", "Torrington")
	b := DerivedID("12 MARGERIE STREET", " torrington ")
	c := DerivedID("12 MARGERIE STREET", "Winchester")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.True(t, IsDerived(a))
	assert.Len(t, a, len(DerivedPrefix)+12)
}
