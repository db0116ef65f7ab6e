package watch

import (
	"context"
	"testing"
	"time"

	"mentionbot/internal/storage"
)

func TestCursorWatermarkMonotonic(t *testing.T) {
	t.Parallel()
	c := NewCursor(0)
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if c.Before(t0) {
		t.Fatal("zero watermark must pass everything")
	}
	if !c.Advance(t0) {
		t.Fatal("Advance from zero should move the watermark")
	}
	if c.Advance(t0.Add(-time.Minute)) {
		t.Fatal("Advance must not move the watermark backwards")
	}
	if c.Advance(t0) {
		t.Fatal("Advance to the same instant must be a no-op")
	}
	if !c.Before(t0) {
		t.Fatal("an item at the watermark counts as processed")
	}
	if c.Before(t0.Add(time.Second)) {
		t.Fatal("an item past the watermark is new")
	}
}

func TestCursorSeenEviction(t *testing.T) {
	t.Parallel()
	c := NewCursor(3)
	for _, id := range []string{"a", "b", "c"} {
		c.MarkSeen(id)
	}
	c.MarkSeen("a") // duplicate, must not evict
	if !c.Seen("a") || !c.Seen("b") || !c.Seen("c") {
		t.Fatal("all three entries should still be present")
	}

	c.MarkSeen("d")
	if c.Seen("a") {
		t.Fatal("oldest entry should have been evicted")
	}
	for _, id := range []string{"b", "c", "d"} {
		if !c.Seen(id) {
			t.Fatalf("entry %q unexpectedly evicted", id)
		}
	}
}

func TestCursorRestoreTrimsToLimit(t *testing.T) {
	t.Parallel()
	c := NewCursor(2)
	c.restore(storage.CursorRow{Seen: []string{"old1", "old2", "new1", "new2"}})
	if c.Seen("old1") || c.Seen("old2") {
		t.Fatal("restore should keep only the newest entries up to the limit")
	}
	if !c.Seen("new1") || !c.Seen("new2") {
		t.Fatal("restore dropped entries that fit the limit")
	}
	if c.Dirty() {
		t.Fatal("restore must not mark the cursor dirty")
	}
}

func TestCursorsCacheAndSave(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cs := NewCursors(nil, 10)

	a, err := cs.Load(ctx, CursorKey("reddit", "golang"))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	b, err := cs.Load(ctx, CursorKey("reddit", "golang"))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if a != b {
		t.Fatal("Load must return the same cursor for the same key")
	}

	a.MarkSeen("x")
	if !a.Dirty() {
		t.Fatal("MarkSeen should dirty the cursor")
	}
	if err := cs.Save(ctx, CursorKey("reddit", "golang"), a); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	if a.Dirty() {
		t.Fatal("Save should clear the dirty flag")
	}

	cs.Forget(CursorKey("reddit", "golang"))
	c, err := cs.Load(ctx, CursorKey("reddit", "golang"))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if c == a {
		t.Fatal("Forget should drop the cached cursor")
	}
}
