package registry

import (
	"context"
	"strings"
	"sync"
	"time"

	"mentionbot/internal/storage"
)

// Target identifies one thing a watcher polls or subscribes to: a
// subreddit name, a feed URL, a channel identifier. Unique per
// (Source, ID).
type Target struct {
	Source  string
	ID      string
	Label   string
	AddedBy int64
	AddedAt time.Time
}

func targetKey(source, id string) string {
	return source + "\x00" + id
}

// Targets is the live set of monitored targets across all source types.
type Targets struct {
	mu    sync.RWMutex
	list  []Target
	index map[string]int
	store storage.Store
}

func NewTargets(store storage.Store) *Targets {
	return &Targets{index: map[string]int{}, store: store}
}

func (t *Targets) Hydrate(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	rows, err := t.store.ListTargets(ctx)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.list = t.list[:0]
	t.index = make(map[string]int, len(rows))
	for _, r := range rows {
		key := targetKey(r.Source, r.ID)
		if _, dup := t.index[key]; dup {
			continue
		}
		t.index[key] = len(t.list)
		t.list = append(t.list, Target{Source: r.Source, ID: r.ID, Label: r.Label, AddedBy: r.AddedBy, AddedAt: r.AddedAt})
	}
	return nil
}

// List returns a snapshot of every target, insertion-ordered.
func (t *Targets) List() []Target {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Target(nil), t.list...)
}

// ListSource returns a snapshot of the targets for one source type.
// Watchers call this at the start of each poll cycle; mutations made
// mid-cycle become visible on the next snapshot.
func (t *Targets) ListSource(source string) []Target {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []Target
	for _, tg := range t.list {
		if tg.Source == source {
			out = append(out, tg)
		}
	}
	return out
}

func (t *Targets) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.list)
}

func (t *Targets) Add(ctx context.Context, target Target) (Target, error) {
	target.Source = strings.ToLower(strings.TrimSpace(target.Source))
	target.ID = strings.TrimSpace(target.ID)
	if target.Source == "" || target.ID == "" {
		return Target{}, ErrInvalid
	}
	if target.Label == "" {
		target.Label = target.ID
	}
	if target.AddedAt.IsZero() {
		target.AddedAt = time.Now().UTC()
	}
	key := targetKey(target.Source, target.ID)

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, dup := t.index[key]; dup {
		return Target{}, ErrAlreadyExists
	}
	if t.store != nil {
		row := storage.TargetRow{Source: target.Source, ID: target.ID, Label: target.Label, AddedBy: target.AddedBy, AddedAt: target.AddedAt}
		if err := t.store.PutTarget(ctx, row); err != nil {
			return Target{}, err
		}
	}
	t.index[key] = len(t.list)
	t.list = append(t.list, target)
	return target, nil
}

func (t *Targets) Remove(ctx context.Context, source, id string) error {
	source = strings.ToLower(strings.TrimSpace(source))
	id = strings.TrimSpace(id)
	key := targetKey(source, id)

	t.mu.Lock()
	defer t.mu.Unlock()
	i, ok := t.index[key]
	if !ok {
		return ErrNotFound
	}
	if t.store != nil {
		if err := t.store.DeleteTarget(ctx, source, id); err != nil {
			return err
		}
	}
	t.list = append(t.list[:i], t.list[i+1:]...)
	delete(t.index, key)
	for j := i; j < len(t.list); j++ {
		t.index[targetKey(t.list[j].Source, t.list[j].ID)] = j
	}
	return nil
}
