package normalize

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	reHouseRange = regexp.MustCompile(`^(\d+)([A-Z]?)-(\d+)([A-Z]?)$`)
	reLeadDigits = regexp.MustCompile(`^\d+`)
)

// maxRangeSpan bounds how wide a numeric house range may be before it is
// treated as a single opaque token
const maxRangeSpan = 50

// HouseNumbers expands a house number token into the individual numbers it
// covers: "12" -> [12], "12A" -> [12A 12], "12-16" -> [12 13 14 15 16],
// "9A-9C" -> [9A 9B 9C 9]. Unparseable tokens are returned as-is.
func HouseNumbers(house string) []string {
	house = strings.ToUpper(strings.TrimSpace(house))
	if house == "" {
		return nil
	}

	if m := reHouseRange.FindStringSubmatch(house); m != nil {
		start, _ := strconv.Atoi(m[1])
		end, _ := strconv.Atoi(m[3])
		startSuffix, endSuffix := m[2], m[4]

		// letter range on the same number
		if start == end && len(startSuffix) == 1 && len(endSuffix) == 1 && startSuffix[0] <= endSuffix[0] {
			var out []string
			for c := startSuffix[0]; c <= endSuffix[0]; c++ {
				out = append(out, m[1]+string(c))
			}
			return append(out, m[1])
		}
		if start < end && end-start <= maxRangeSpan {
			out := make([]string, 0, end-start+1)
			for n := start; n <= end; n++ {
				out = append(out, strconv.Itoa(n))
			}
			return out
		}
		return []string{house}
	}

	if base := reLeadDigits.FindString(house); base != "" && base != house {
		return []string{house, base}
	}
	return []string{house}
}

// HouseNumbersOverlap reports whether two house number tokens cover a common
// number
func HouseNumbersOverlap(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	seen := make(map[string]bool)
	for _, n := range HouseNumbers(a) {
		seen[n] = true
	}
	for _, n := range HouseNumbers(b) {
		if seen[n] {
			return true
		}
	}
	return false
}
