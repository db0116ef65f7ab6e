// Package notify turns match events into alert messages and delivers
// them to every registered destination.
package notify

import (
	"fmt"
	"strings"

	"mentionbot/internal/watch"
)

// maxExcerptRunes bounds the quoted excerpt so one long post cannot
// blow past message size limits downstream.
const maxExcerptRunes = 280

// FormatAlert renders the single-line alert for one match event:
//
//	Source: <name> | Time: <UTC HH:MM> | Match: "<keyword>" | Context: <label> | Excerpt: "<content>" | Link: <url>
func FormatAlert(ev watch.MatchEvent) string {
	return fmt.Sprintf("Source: %s | Time: %s | Match: %q | Context: %s | Excerpt: %q | Link: %s",
		ev.SourceName,
		ev.At.UTC().Format("15:04"),
		ev.Keyword,
		ev.Context,
		excerpt(ev.Excerpt),
		ev.Link,
	)
}

// excerpt flattens whitespace and clips the content to a bounded run
// of runes.
func excerpt(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= maxExcerptRunes {
		return s
	}
	return string(runes[:maxExcerptRunes]) + "..."
}
