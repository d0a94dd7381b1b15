package normalize

import (
	"strings"
	"unicode"

	"github.com/mozillazg/go-unidecode"
)

// Name returns the comparison key for an owner name: transliterated to ASCII,
// upper-cased, punctuation removed and whitespace collapsed. "&" is kept as a
// word so joint owners compare on both names.
func Name(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	s = strings.ToUpper(unidecode.Unidecode(s))

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '&':
			b.WriteString(" & ")
		case r == '.' || r == '\'':
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
