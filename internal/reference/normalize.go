// Package reference validates and canonicalizes user-entered listing
// reference codes.
package reference

import (
	"strings"
	"unicode"
)

// MaxLength is the longest accepted reference after normalization.
const MaxLength = 20

// Normalize strips every non-alphanumeric character from raw and uppercases
// the rest. It reports false for empty results, results longer than
// MaxLength, and all-zero sentinels.
func Normalize(raw string) (string, bool) {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}

	ref := strings.TrimSpace(b.String())
	if ref == "" || len(ref) > MaxLength {
		return "", false
	}
	if strings.Trim(ref, "0") == "" {
		return "", false
	}
	return ref, true
}

// FormatForDisplay formats an already-normalized reference for output.
func FormatForDisplay(normalized string) string {
	return strings.ToUpper(strings.TrimSpace(normalized))
}
