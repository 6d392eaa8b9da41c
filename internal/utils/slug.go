package utils

import (
	"strings"
	"unicode"
)

// Slugify lowercases s and keeps [a-z0-9], collapsing everything else into single dashes.
func Slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case unicode.IsSpace(r) || r == '-' || r == '_' || r == '.' || r == '/':
			if b.Len() > 0 && !dash {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// ValidSlug reports whether s is already in slug form.
func ValidSlug(s string) bool {
	return s != "" && len(s) <= 63 && Slugify(s) == s
}
