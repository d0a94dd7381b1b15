// Package normalize turns free-text addresses and owner names into stable
// comparison keys. Every function is pure and idempotent.
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// streetTypes maps USPS street suffix abbreviations to their full form
var streetTypes = map[string]string{
	"AV": "AVENUE", "AVE": "AVENUE", "AVN": "AVENUE",
	"BLVD": "BOULEVARD", "BND": "BEND", "BR": "BRANCH", "BRK": "BROOK",
	"CIR": "CIRCLE", "CRCL": "CIRCLE", "CT": "COURT", "CTR": "CENTER",
	"CV": "COVE", "CRES": "CRESCENT", "DR": "DRIVE", "DRV": "DRIVE",
	"EXT": "EXTENSION", "EXTN": "EXTENSION", "GRN": "GREEN", "HL": "HILL",
	"HTS": "HEIGHTS", "HWY": "HIGHWAY", "HOLW": "HOLLOW", "LK": "LAKE",
	"LN": "LANE", "MDW": "MEADOW", "MDWS": "MEADOWS", "MT": "MOUNT", "MTN": "MOUNTAIN",
	"PKWY": "PARKWAY", "PK": "PARK", "PL": "PLACE", "PLZ": "PLAZA",
	"PT": "POINT", "RD": "ROAD", "RDG": "RIDGE", "SQ": "SQUARE",
	"TER": "TERRACE", "TERR": "TERRACE", "TPKE": "TURNPIKE", "TRL": "TRAIL",
	"XING": "CROSSING", "VW": "VIEW", "WY": "WAY",
}

var directionals = map[string]string{
	"N": "NORTH", "S": "SOUTH", "E": "EAST", "W": "WEST",
	"NE": "NORTHEAST", "NW": "NORTHWEST", "SE": "SOUTHEAST", "SW": "SOUTHWEST",
}

// Unit designators and the token that follows them
var (
	reUnit  = regexp.MustCompile(`\b(APT|APARTMENT|UNIT|STE|SUITE|FL|FLOOR|RM|ROOM|BLDG|BUILDING|LOT)\b[.:\s-]*[A-Z0-9][A-Z0-9-]*`)
	reHash  = regexp.MustCompile(`#\s*[A-Z0-9][A-Z0-9-]*`)
	reHouse = regexp.MustCompile(`^\d+[A-Z]?([-/]\d+[A-Z]?)?$`)
)

// Address returns the comparison key for a street address: diacritics folded,
// upper-cased, unit sub-fields removed, punctuation dropped, street types and
// directionals expanded, whitespace collapsed. Address(Address(s)) == Address(s).
func Address(raw string) string {
	s := address(raw)
	// a unit split from its number by a comma only lines up once the
	// segments are joined
	for i := 0; i < 4; i++ {
		next := address(s)
		if next == s {
			break
		}
		s = next
	}
	return s
}

func address(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(fold(raw)))
	if s == "" {
		return ""
	}
	s = reHash.ReplaceAllString(s, " ")
	s = cleanPunctuation(s)
	s = reUnit.ReplaceAllString(s, " ")

	segments := strings.Split(s, ",")
	out := make([]string, 0, len(segments))
	for _, seg := range segments {
		tokens := strings.Fields(seg)
		if len(tokens) == 0 {
			continue
		}
		out = append(out, strings.Join(expandTokens(tokens), " "))
	}
	return strings.Join(out, " ")
}

// ExpandAbbreviations expands street types and directionals in the first
// comma-delimited segment only, leaving town and state segments untouched so
// that a trailing ", CT" is not read as COURT.
func ExpandAbbreviations(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	head, tail, hasTail := strings.Cut(s, ",")
	tokens := strings.Fields(strings.ReplaceAll(strings.ToUpper(head), ".", " "))
	head = strings.Join(expandTokens(tokens), " ")
	if !hasTail {
		return head
	}
	return head + "," + tail
}

// StripUnit removes apartment/unit/suite sub-fields, keeping the rest of the
// text as written
func StripUnit(s string) string {
	up := strings.ReplaceAll(strings.ToUpper(s), "_", " ")
	out := stripUnit(up)
	return strings.ReplaceAll(strings.Join(strings.Fields(out), " "), " ,", ",")
}

func stripUnit(s string) string {
	s = reHash.ReplaceAllString(s, " ")
	return reUnit.ReplaceAllString(s, " ")
}

// HouseNumber returns the leading house number token of a normalized address,
// or "" when the address does not start with one.
func HouseNumber(addressKey string) string {
	tokens := strings.Fields(addressKey)
	if len(tokens) > 0 && reHouse.MatchString(tokens[0]) {
		return tokens[0]
	}
	return ""
}

// StreetName strips the leading house number from a normalized address
func StreetName(addressKey string) string {
	tokens := strings.Fields(addressKey)
	for len(tokens) > 0 && (reHouse.MatchString(tokens[0]) || tokens[0] == "1/2") {
		tokens = tokens[1:]
	}
	return strings.Join(tokens, " ")
}

// FirstWords returns the first n words of the street segment of s
func FirstWords(s string, n int) string {
	head, _, _ := strings.Cut(s, ",")
	tokens := strings.Fields(head)
	if n > 0 && len(tokens) > n {
		tokens = tokens[:n]
	}
	return strings.Join(tokens, " ")
}

func expandTokens(tokens []string) []string {
	out := make([]string, len(tokens))
	for i, tok := range tokens {
		switch {
		case tok == "ST":
			// ST before another word is SAINT when it opens the street name
			if i+1 < len(tokens) && (i == 0 || reHouse.MatchString(tokens[i-1])) {
				out[i] = "SAINT"
			} else {
				out[i] = "STREET"
			}
		case streetTypes[tok] != "":
			out[i] = streetTypes[tok]
		case directionals[tok] != "":
			out[i] = directionals[tok]
		default:
			out[i] = tok
		}
	}
	return out
}

// cleanPunctuation keeps letters, digits, commas and in-number separators
func cleanPunctuation(s string) string {
	rs := []rune(s)
	var b strings.Builder
	b.Grow(len(s))
	for i, r := range rs {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == ',':
			b.WriteRune(r)
		case (r == '-' || r == '/') && i > 0 && i+1 < len(rs) && (unicode.IsDigit(rs[i-1]) || unicode.IsLetter(rs[i-1])) && unicode.IsDigit(rs[i+1]):
			b.WriteRune(r)
		case r == '.' || r == '\'':
			// dropped without a gap: "ST." -> "ST", "O'NEIL" -> "ONEIL"
		default:
			b.WriteRune(' ')
		}
	}
	return b.String()
}

// fold strips combining marks after canonical decomposition
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
