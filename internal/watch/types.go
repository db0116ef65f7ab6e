// Package watch runs the source watchers: poll loops and stream
// consumers that fetch new items, dedup them, run the keyword matcher
// and hand match events to the notifier.
package watch

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Item is one piece of content fetched from a source, already reduced
// to the fields the pipeline cares about.
type Item struct {
	// ID uniquely identifies the item within its target. Used by
	// recency-set dedup.
	ID string
	// At is the item's publication time. Used by watermark dedup;
	// may be zero when the source does not expose timestamps.
	At time.Time
	// Content is the text the matcher scans.
	Content string
	// ContextLabel names where the item came from, e.g. "r/golang"
	// or a feed title.
	ContextLabel string
	// Link points at the item, when the source provides one.
	Link string
}

// MatchEvent is one keyword hit on one item. The watcher emits one
// event per matched keyword so each alert names a single keyword.
type MatchEvent struct {
	ID         string
	SourceName string
	Keyword    string
	Context    string
	Excerpt    string
	Link       string
	At         time.Time
}

// NewMatchEvent stamps a fresh event ID.
func NewMatchEvent(sourceName, keyword string, it Item) MatchEvent {
	at := it.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return MatchEvent{
		ID:         uuid.NewString(),
		SourceName: sourceName,
		Keyword:    keyword,
		Context:    it.ContextLabel,
		Excerpt:    it.Content,
		Link:       it.Link,
		At:         at,
	}
}

// PollClient fetches the most recent items for one target. It is a
// thin boundary over the upstream API; dedup and matching happen in
// the watcher, not here.
type PollClient interface {
	// Source returns the registry source key, e.g. "reddit".
	Source() string
	// Fetch returns recent items for targetID, newest last. Errors
	// should be classified with Transient, TargetUnavailable or
	// Fatal; anything else is treated as transient.
	Fetch(ctx context.Context, targetID string) ([]Item, error)
}

// StreamItem is one pushed item tagged with the target it arrived on.
type StreamItem struct {
	TargetID string
	Item     Item
}

// StreamClient delivers items as the upstream pushes them.
type StreamClient interface {
	Source() string
	// Subscribe returns a channel of pushed items. The channel is
	// closed when ctx ends or the upstream connection is lost.
	Subscribe(ctx context.Context) (<-chan StreamItem, error)
}

// Sink receives match events. Enqueue must not block; it reports
// whether the event was accepted.
type Sink interface {
	Enqueue(ev MatchEvent) bool
}
