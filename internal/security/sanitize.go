// Package security cleans identifiers that arrive off the wire before they
// are embedded in object keys or file names.
package security

import "strings"

const maxSegmentLen = 128

// SanitizeSegment makes a single path segment from an arbitrary string.
// Anything other than ASCII letters, digits, dot, underscore or dash becomes
// an underscore, runs of underscores collapse, and leading or trailing dots
// and underscores are trimmed. The empty result is "unknown".
func SanitizeSegment(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxSegmentLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.', r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}
