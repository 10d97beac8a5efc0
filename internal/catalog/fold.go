package catalog

import (
	"fmt"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Fold prepares text for case-insensitive matching. It applies full Unicode case
// folding, which does not depend on a locale, so stored names and keywords fold
// the same way whatever locale a request carries. Accents are kept, so "café"
// and "cafe" stay distinct.
func Fold(s string) string {
	return cases.Fold().String(norm.NFC.String(s))
}

// ParseLocale parses a BCP 47 tag, falling back to def when s is empty.
func ParseLocale(s string, def language.Tag) (language.Tag, error) {
	if s == "" {
		return def, nil
	}
	tag, err := language.Parse(s)
	if err != nil {
		return language.Und, fmt.Errorf("%w: locale %q: %w", ErrInvalidQuery, s, err)
	}
	return tag, nil
}
