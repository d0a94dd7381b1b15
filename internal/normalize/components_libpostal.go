//go:build libpostal

package normalize

import (
	"strings"

	postal "github.com/openvenues/gopostal/parser"
)

func parseComponents(addr string) Components {
	var c Components
	if strings.TrimSpace(addr) == "" {
		return c
	}
	for _, part := range postal.ParseAddress(addr) {
		v := strings.ToUpper(part.Value)
		switch part.Label {
		case "house_number":
			c.HouseNumber = v
		case "road":
			c.Road = v
		case "unit", "level":
			c.Unit = strings.TrimSpace(c.Unit + " " + v)
		case "city", "suburb", "city_district":
			if c.City == "" {
				c.City = v
			}
		case "state":
			c.State = v
		case "postcode":
			c.Postcode = v
		}
	}
	return c
}
