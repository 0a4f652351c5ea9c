// Package sanitize cleans user-supplied message text before it is
// persisted or broadcast.
package sanitize

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// MaxMessageLen is the hard cap on message body length, in runes.
const MaxMessageLen = 1000

var strict = bluemonday.StrictPolicy()

// Text strips all HTML markup from s and truncates it to MaxMessageLen.
// The result may be empty or whitespace-only; callers decide whether that
// is acceptable (the gateway rejects it).
func Text(s string) string {
	// StrictPolicy entity-escapes what survives tag removal; unescape so
	// plain text like "a < b" round-trips.
	out := html.UnescapeString(strict.Sanitize(s))
	if r := []rune(out); len(r) > MaxMessageLen {
		out = string(r[:MaxMessageLen])
	}
	return out
}

// IsBlank reports whether s is empty after trimming whitespace.
func IsBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
