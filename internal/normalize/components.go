package normalize

import "strings"

// Components are the structured parts of a free-text address
type Components struct {
	HouseNumber string
	Road        string
	Unit        string
	City        string
	State       string
	Postcode    string
}

// StreetLine joins house number and road in their normalized form
func (c Components) StreetLine() string {
	return Address(strings.TrimSpace(c.HouseNumber + " " + c.Road))
}

// ParseComponents splits an address into components. Builds tagged libpostal
// use the libpostal CRF parser; the default build uses a comma/regex parser
// that understands "<number> <street>[, <town>][, <state> <zip>]".
func ParseComponents(addr string) Components {
	return parseComponents(addr)
}

// StreetKeys splits a free-text address with ParseComponents and returns the
// normalized house number and street name. Addresses the parser finds no road
// in fall back to splitting the normalized key.
func StreetKeys(addr string) (house, street string) {
	c := ParseComponents(addr)
	street = Address(c.Road)
	if street == "" {
		key := Address(addr)
		return HouseNumber(key), StreetName(key)
	}
	return strings.ReplaceAll(Address(c.HouseNumber), " ", ""), street
}
