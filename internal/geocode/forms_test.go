package geocode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueryForms(t *testing.T) {
	forms := QueryForms("200 Main St Apt 4", "Torrington", "CT", 3)
	assert.Equal(t, []string{
		"200 Main St Apt 4",
		"200 Main St Apt 4, Torrington, CT",
		"200 MAIN STREET APT 4, Torrington, CT",
		"200 MAIN STREET, TORRINGTON, CT",
	}, forms)
}

func TestQueryFormsSkipsExistingLocality(t *testing.T) {
	forms := QueryForms("200 MAIN ST, Example Town, CT", "Example Town", "CT", 4)
	assert.Equal(t, "200 MAIN ST, Example Town, CT", forms[0])
	assert.Equal(t, "200 MAIN STREET, Example Town, CT", forms[1])
	assert.Len(t, forms, 2)
}

func TestQueryFormsShortened(t *testing.T) {
	forms := QueryForms("1200 North Old Winsted Road Extension", "Torrington", "CT", 4)
	assert.Equal(t, "1200 NORTH OLD WINSTED, Torrington, CT", forms[len(forms)-1])
	assert.Nil(t, QueryForms("", "Torrington", "CT", 4))
}
