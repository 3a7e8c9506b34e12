package evidence

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// HGNC-Symbole: Großbuchstaben, Ziffern, Bindestrich, Punkt und Unterstrich.
var symbolPattern = regexp.MustCompile(`^[A-Z][A-Z0-9\-._@]{0,31}$`)

// NormalizeSymbol bringt ein Gensymbol in kanonische Form. Ungültige Symbole liefern "".
func NormalizeSymbol(raw string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFKC)
	s, _, err := transform.String(t, raw)
	if err != nil {
		return ""
	}
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.Trim(s, `"'`)
	if !symbolPattern.MatchString(s) {
		return ""
	}
	return s
}
