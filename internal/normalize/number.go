package normalize

import (
	"strconv"
	"strings"
)

// ParseAmount parses assessor-style figures such as "$123,400", "1,850.5" or
// "(200)". Blank and unparseable input returns nil.
func ParseAmount(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	neg := strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")")
	s = strings.Trim(s, "()")
	s = strings.NewReplacer("$", "", ",", "", " ", "").Replace(s)
	if s == "" || s == "-" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	if neg {
		v = -v
	}
	return &v
}

// ParseCount parses an integer attribute (year built, bedrooms, living area),
// accepting "1,850" and "1850.0". Blank, zero-like and unparseable input
// returns nil.
func ParseCount(s string) *int {
	v := ParseAmount(s)
	if v == nil || *v <= 0 {
		return nil
	}
	n := int(*v)
	return &n
}
