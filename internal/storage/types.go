package storage

import "time"

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled and all state is
// in-memory only.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// KeywordRow is a persisted keyword. Keyword holds the normalized form.
type KeywordRow struct {
	Keyword string
	AddedBy int64
	AddedAt time.Time
}

// TargetRow is a persisted monitored target (a subreddit, a feed URL,
// a channel identifier), unique per (Source, ID).
type TargetRow struct {
	Source  string
	ID      string
	Label   string
	AddedBy int64
	AddedAt time.Time
}

// DestinationRow is a persisted alert destination.
type DestinationRow struct {
	ChatID  int64
	Primary bool
	AddedBy int64
	AddedAt time.Time
}

// OperatorRow is a persisted trusted operator.
type OperatorRow struct {
	UserID    int64
	Username  string
	GrantedBy int64
	GrantedAt time.Time
}

// CursorRow is a persisted dedup cursor for one (source, target) pair.
// Watermark is set for monotonic sources; Seen holds the bounded
// recency set for unordered ones.
type CursorRow struct {
	Key       string
	Watermark string
	Seen      []string
}
