package ingest

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stripDiacritics decomposes accented runes and drops the combining
// marks, so "São Paulo" folds to "Sao Paulo".
var stripDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slugify derives the deterministic URL-safe identity key for a city or
// venue name: diacritics folded, lowercased, every run of
// non-alphanumeric characters collapsed into a single hyphen.
func Slugify(name string) string {
	folded, _, err := transform.String(stripDiacritics, name)
	if err != nil {
		folded = name
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	b.Grow(len(folded))
	pendingHyphen := false
	for _, r := range folded {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
			continue
		}
		pendingHyphen = true
	}
	return b.String()
}

// DisambiguateSlug appends the lowercased country code, used when the
// base slug is held by a city in a different country.
func DisambiguateSlug(slug, countryCode string) string {
	return slug + "-" + strings.ToLower(countryCode)
}

// NormalizeCityName trims and collapses internal whitespace runs so
// "  Wellington " and "Wellington" resolve to the same city.
func NormalizeCityName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}

// NormalizeCountryCode trims and uppercases an ISO country code.
func NormalizeCountryCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
