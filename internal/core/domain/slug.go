package domain

import "strings"

// =============================================================================
// Slug Generation
// =============================================================================

// Slugify converts a title to a URL-safe slug.
//
// The transformation rules are:
//   - ASCII letters are lowercased, digits are kept
//   - Spaces, hyphens, underscores and slashes become a single hyphen
//   - All other characters are removed
//   - Leading and trailing hyphens are trimmed
//
// Titles written entirely in Thai script slugify to "" and callers fall back
// to the row's reference id.
//
// Example:
//
//	Slugify("Rajadamnern Stadium")       // returns "rajadamnern-stadium"
//	Slugify("Fight Night #12 -- Phuket") // returns "fight-night-12-phuket"
func Slugify(title string) string {
	var b strings.Builder
	dash := false
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + 32)
			dash = false
		case r == ' ' || r == '-' || r == '_' || r == '/':
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}
