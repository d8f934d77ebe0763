package extract

import (
	"regexp"
	"strings"

	"github.com/gozephyr/giftrelay/internal"
)

var builderPool = internal.NewObjectPool(
	func() *strings.Builder { return new(strings.Builder) },
	func(b *strings.Builder) { b.Reset() },
)

var (
	parenPattern       = regexp.MustCompile(`\([^)]*\)|\[[^\]]*\]`)
	punctPattern       = regexp.MustCompile(`[^\p{L}\p{N}\s'-]+`)
	looseHyphenPattern = regexp.MustCompile(`(?:^|\s)-+(?:\s|$)|-{2,}`)

	qualifierPattern = regexp.MustCompile(`\s+[-–—|]\s+|,\s+`)
	editionPattern   = regexp.MustCompile(`(?i)\b(?:\d+(?:st|nd|rd|th)\s+)?(?:edition|version|series|generation|gen|model)\b|\bv\d+(?:\.\d+)?\b`)
	sizePattern      = regexp.MustCompile(`(?i)\b\d+(?:\.\d+)?[\s-]*(?:gb|tb|mb|inch(?:es)?|oz|ml|lbs?|mm|cm|ft|pack|pcs|count|ct|piece|pieces)\b|\b\d+(?:\.\d+)?"`)
)

// SanitizeTerm prepares a product name for a search query: it drops
// parenthetical asides, spells out "&", strips punctuation and collapses
// whitespace.
func SanitizeTerm(term string) string {
	s := parenPattern.ReplaceAllString(term, " ")
	s = strings.ReplaceAll(s, "&", " and ")
	s = punctPattern.ReplaceAllString(s, " ")
	s = strings.ReplaceAll(s, "'", "")
	s = looseHyphenPattern.ReplaceAllString(s, " ")
	return normalizeSpace(s)
}

// SimplifyTerm reduces a product name to its core words: it cuts trailing
// " - qualifier" parts and drops edition/version/series words and size
// tokens such as "16GB" or "10 inch". The result is sanitized.
func SimplifyTerm(term string) string {
	s := parenPattern.ReplaceAllString(term, " ")
	if loc := qualifierPattern.FindStringIndex(s); loc != nil && loc[0] > 0 {
		s = s[:loc[0]]
	}
	s = sizePattern.ReplaceAllString(s, " ")
	s = editionPattern.ReplaceAllString(s, " ")
	return SanitizeTerm(s)
}

// normalizeSpace trims s and collapses runs of whitespace to one space
func normalizeSpace(s string) string {
	b := builderPool.Get()
	defer builderPool.Put(b)

	for i, f := range strings.Fields(s) {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(f)
	}
	return b.String()
}
