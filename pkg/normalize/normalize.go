// Package normalize provides the canonical text normalization used for
// provider names and invoice numbers.
package normalize

import (
	"errors"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// ErrEmptyResult indicates no alphanumeric characters survived normalization.
var ErrEmptyResult = errors.New("normalized result is empty")

// Normalize lower-cases the input, strips diacritics via NFD decomposition,
// removes whitespace and punctuation, and keeps only [a-z0-9]. It is
// idempotent: Normalize(Normalize(x)) == Normalize(x).
func Normalize(text string) (string, error) {
	decomposed := norm.NFD.String(text)

	var b strings.Builder
	b.Grow(len(decomposed))

	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		r = unicode.ToLower(r)
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}

	result := b.String()
	if result == "" {
		return "", ErrEmptyResult
	}
	return result, nil
}
