//go:build !libpostal

package normalize

import (
	"regexp"
	"strings"
)

var (
	reStateZip = regexp.MustCompile(`^([A-Z]{2})(?:\s+(\d{5}(?:-\d{4})?))?$`)
	reUnitPart = regexp.MustCompile(`(?:\b(?:APT|APARTMENT|UNIT|STE|SUITE|FL|FLOOR|RM|ROOM|BLDG|BUILDING|LOT)\b[.:\s-]*|#\s*)([A-Z0-9][A-Z0-9-]*)`)
)

func parseComponents(addr string) Components {
	var c Components
	s := strings.ToUpper(strings.TrimSpace(addr))
	if s == "" {
		return c
	}

	segments := strings.Split(s, ",")
	for i := range segments {
		segments[i] = strings.Join(strings.Fields(segments[i]), " ")
	}

	street := segments[0]
	if m := reUnitPart.FindStringSubmatch(street); m != nil {
		c.Unit = m[1]
		street = strings.Join(strings.Fields(reUnitPart.ReplaceAllString(street, " ")), " ")
	}
	if h := HouseNumber(cleanPunctuation(street)); h != "" {
		c.HouseNumber = h
		street = strings.TrimSpace(strings.TrimPrefix(cleanPunctuation(street), h))
	}
	c.Road = strings.Join(strings.Fields(street), " ")

	rest := segments[1:]
	if n := len(rest); n > 0 {
		if m := reStateZip.FindStringSubmatch(rest[n-1]); m != nil {
			c.State, c.Postcode = m[1], m[2]
			rest = rest[:n-1]
		}
	}
	if len(rest) > 0 {
		c.City = rest[0]
	}
	return c
}
