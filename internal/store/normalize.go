package store

import (
	"strings"
	"unicode"
)

// NormalizeEntityID derives the stable entity ID from a raw name.
// Rules: fold to lowercase, trim, collapse internal whitespace runs into a
// single underscore. Two raw names that normalize identically are the same
// entity. Pure function, no I/O.
func NormalizeEntityID(name string) string {
	var out strings.Builder
	out.Grow(len(name))

	pendingSep := false
	for _, r := range strings.TrimSpace(name) {
		if unicode.IsSpace(r) {
			pendingSep = true
			continue
		}
		if pendingSep {
			out.WriteByte('_')
			pendingSep = false
		}
		out.WriteRune(unicode.ToLower(r))
	}
	return out.String()
}

// sortPair orders two entity IDs under the total lexicographic order used
// as the co-occurrence primary key.
func sortPair(a, b string) (string, string) {
	if a > b {
		return b, a
	}
	return a, b
}
