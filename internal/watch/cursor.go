package watch

import (
	"context"
	"sync"
	"time"

	"mentionbot/internal/storage"
)

// defaultSeenLimit bounds the recency set per cursor. Old entries are
// evicted oldest-first once the limit is reached.
const defaultSeenLimit = 500

// Cursor is the dedup state for one (source, target) pair. Sources
// with monotonic timestamps use the watermark; unordered sources use
// the bounded recency set. A cursor can carry both.
type Cursor struct {
	watermark time.Time
	order     []string
	seen      map[string]struct{}
	limit     int
	dirty     bool
}

// NewCursor returns an empty cursor. limit bounds the recency set;
// zero or negative selects the default.
func NewCursor(limit int) *Cursor {
	if limit <= 0 {
		limit = defaultSeenLimit
	}
	return &Cursor{seen: map[string]struct{}{}, limit: limit}
}

// Watermark returns the current high-water mark, zero if unset.
func (c *Cursor) Watermark() time.Time { return c.watermark }

// Advance moves the watermark forward to t. Older or equal timestamps
// leave it untouched, so the watermark is monotonic.
func (c *Cursor) Advance(t time.Time) bool {
	if !t.After(c.watermark) {
		return false
	}
	c.watermark = t
	c.dirty = true
	return true
}

// Before reports whether t is at or behind the watermark, i.e. the
// item was already processed. A zero watermark passes everything.
func (c *Cursor) Before(t time.Time) bool {
	if c.watermark.IsZero() {
		return false
	}
	return !t.After(c.watermark)
}

// Seen reports whether id is in the recency set.
func (c *Cursor) Seen(id string) bool {
	_, ok := c.seen[id]
	return ok
}

// MarkSeen records id, evicting the oldest entry if the set is full.
func (c *Cursor) MarkSeen(id string) {
	if id == "" {
		return
	}
	if _, dup := c.seen[id]; dup {
		return
	}
	for len(c.order) >= c.limit {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.seen, oldest)
	}
	c.seen[id] = struct{}{}
	c.order = append(c.order, id)
	c.dirty = true
}

// Dirty reports whether the cursor changed since the last Save.
func (c *Cursor) Dirty() bool { return c.dirty }

func (c *Cursor) row(key string) storage.CursorRow {
	row := storage.CursorRow{Key: key, Seen: append([]string(nil), c.order...)}
	if !c.watermark.IsZero() {
		row.Watermark = c.watermark.UTC().Format(time.RFC3339Nano)
	}
	return row
}

func (c *Cursor) restore(row storage.CursorRow) {
	if row.Watermark != "" {
		if t, err := time.Parse(time.RFC3339Nano, row.Watermark); err == nil {
			c.watermark = t
		}
	}
	start := 0
	if len(row.Seen) > c.limit {
		start = len(row.Seen) - c.limit
	}
	for _, id := range row.Seen[start:] {
		if _, dup := c.seen[id]; dup {
			continue
		}
		c.seen[id] = struct{}{}
		c.order = append(c.order, id)
	}
	c.dirty = false
}

// CursorKey builds the storage key for one (source, target) pair.
func CursorKey(source, targetID string) string {
	return source + "/" + targetID
}

// Cursors loads and saves per-target cursors. A nil store means dedup
// state lives only in memory for the process lifetime.
type Cursors struct {
	mu    sync.Mutex
	store storage.Store
	limit int
	cache map[string]*Cursor
}

func NewCursors(store storage.Store, seenLimit int) *Cursors {
	if seenLimit <= 0 {
		seenLimit = defaultSeenLimit
	}
	return &Cursors{store: store, limit: seenLimit, cache: map[string]*Cursor{}}
}

// Load returns the cursor for key, restoring persisted state on first
// use. The same *Cursor is returned for repeated calls.
func (cs *Cursors) Load(ctx context.Context, key string) (*Cursor, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if c, ok := cs.cache[key]; ok {
		return c, nil
	}
	c := NewCursor(cs.limit)
	if cs.store != nil {
		row, ok, err := cs.store.GetCursor(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			c.restore(row)
		}
	}
	cs.cache[key] = c
	return c, nil
}

// Save persists the cursor if it changed since the last save.
func (cs *Cursors) Save(ctx context.Context, key string, c *Cursor) error {
	if !c.dirty {
		return nil
	}
	if cs.store != nil {
		if err := cs.store.PutCursor(ctx, c.row(key)); err != nil {
			return err
		}
	}
	c.dirty = false
	return nil
}

// Forget drops the cached cursor for key, e.g. after its target was
// removed.
func (cs *Cursors) Forget(key string) {
	cs.mu.Lock()
	delete(cs.cache, key)
	cs.mu.Unlock()
}
