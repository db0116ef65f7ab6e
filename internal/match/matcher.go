// Package match decides which monitored keywords occur in a piece of
// content. Matching is pure: no registries, no I/O, no clock.
package match

import (
	"strings"
	"unicode"
)

// Policy tunes how containment is decided.
type Policy struct {
	// WholeWord requires the keyword to appear as a standalone word
	// rather than inside a longer token. Off by default, so "crypto"
	// matches "cryptocurrency".
	WholeWord bool
}

// Match returns the keywords that occur in content, preserving the
// order of the keywords slice and never repeating an entry. Keywords
// are expected in normalized (lowercased, trimmed) form; content is
// folded here. Empty content or an empty keyword set yields nil
// without scanning.
func Match(content string, keywords []string, policy Policy) []string {
	if content == "" || len(keywords) == 0 {
		return nil
	}
	folded := strings.ToLower(content)

	var hits []string
	seen := make(map[string]struct{}, len(keywords))
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if _, dup := seen[kw]; dup {
			continue
		}
		if contains(folded, kw, policy) {
			seen[kw] = struct{}{}
			hits = append(hits, kw)
		}
	}
	return hits
}

func contains(folded, kw string, policy Policy) bool {
	if !policy.WholeWord {
		return strings.Contains(folded, kw)
	}
	for from := 0; ; {
		i := strings.Index(folded[from:], kw)
		if i < 0 {
			return false
		}
		i += from
		if boundaryBefore(folded, i) && boundaryAfter(folded, i+len(kw)) {
			return true
		}
		from = i + 1
	}
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r := lastRune(s[:i])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r := firstRune(s[i:])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func firstRune(s string) rune {
	for _, r := range s {
		return r
	}
	return 0
}

func lastRune(s string) rune {
	var last rune
	for _, r := range s {
		last = r
	}
	return last
}
