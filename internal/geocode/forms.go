package geocode

import (
	"strings"

	"github.com/parcel-linkage/internal/normalize"
)

// QueryForms returns the query strings tried for one address, in order:
// verbatim; with town and region appended; street types expanded; unit
// stripped; first n words of the street plus town and region. Duplicates are
// dropped so each distinct form costs at most one request per provider.
func QueryForms(address, municipality, region string, n int) []string {
	verbatim := strings.Join(strings.Fields(address), " ")
	if verbatim == "" {
		return nil
	}

	located := withLocality(verbatim, municipality, region)
	expanded := normalize.ExpandAbbreviations(located)
	stripped := normalize.StripUnit(expanded)
	short := withLocality(normalize.FirstWords(stripped, n), municipality, region)

	var out []string
	seen := make(map[string]bool)
	for _, f := range []string{verbatim, located, expanded, stripped, short} {
		k := strings.ToUpper(f)
		if f == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, f)
	}
	return out
}

func withLocality(s, municipality, region string) string {
	up := strings.ToUpper(s)
	if m := strings.TrimSpace(municipality); m != "" && !strings.Contains(up, strings.ToUpper(m)) {
		s += ", " + m
		up = strings.ToUpper(s)
	}
	if r := strings.ToUpper(strings.TrimSpace(region)); r != "" &&
		!strings.HasSuffix(up, " "+r) && !strings.HasSuffix(up, ","+r) &&
		!strings.Contains(up, " "+r+" ") && !strings.Contains(up, ","+r+" ") {
		s += ", " + strings.TrimSpace(region)
	}
	return s
}
