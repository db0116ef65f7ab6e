package registry

import (
	"context"
	"strings"
	"sync"
	"time"

	"mentionbot/internal/storage"
)

// Keyword is one monitored keyword. Value always holds the normalized
// (case-folded, trimmed) form; no two entries normalize to the same value.
type Keyword struct {
	Value   string
	AddedBy int64
	AddedAt time.Time
}

// NormalizeKeyword maps raw operator input to the canonical form used
// for uniqueness and matching.
func NormalizeKeyword(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// Keywords is the live keyword set. Readers get point-in-time snapshots
// in insertion order; writers are serialized, and when a store is
// present the mutation is durable before it becomes visible.
type Keywords struct {
	mu    sync.RWMutex
	list  []Keyword
	index map[string]int
	store storage.Store
}

func NewKeywords(store storage.Store) *Keywords {
	return &Keywords{index: map[string]int{}, store: store}
}

// Hydrate loads the persisted set. Call once before the watchers start.
func (k *Keywords) Hydrate(ctx context.Context) error {
	if k.store == nil {
		return nil
	}
	rows, err := k.store.ListKeywords(ctx)
	if err != nil {
		return err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.list = k.list[:0]
	k.index = make(map[string]int, len(rows))
	for _, r := range rows {
		if _, dup := k.index[r.Keyword]; dup {
			continue
		}
		k.index[r.Keyword] = len(k.list)
		k.list = append(k.list, Keyword{Value: r.Keyword, AddedBy: r.AddedBy, AddedAt: r.AddedAt})
	}
	return nil
}

// List returns a snapshot in insertion order.
func (k *Keywords) List() []Keyword {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return append([]Keyword(nil), k.list...)
}

// Values returns just the normalized keyword strings, insertion-ordered.
func (k *Keywords) Values() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]string, len(k.list))
	for i, kw := range k.list {
		out[i] = kw.Value
	}
	return out
}

func (k *Keywords) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.list)
}

func (k *Keywords) Add(ctx context.Context, raw string, addedBy int64) (Keyword, error) {
	norm := NormalizeKeyword(raw)
	if norm == "" {
		return Keyword{}, ErrInvalid
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if _, dup := k.index[norm]; dup {
		return Keyword{}, ErrAlreadyExists
	}
	kw := Keyword{Value: norm, AddedBy: addedBy, AddedAt: time.Now().UTC()}
	if k.store != nil {
		if err := k.store.PutKeyword(ctx, storage.KeywordRow{Keyword: kw.Value, AddedBy: kw.AddedBy, AddedAt: kw.AddedAt}); err != nil {
			return Keyword{}, err
		}
	}
	k.index[norm] = len(k.list)
	k.list = append(k.list, kw)
	return kw, nil
}

func (k *Keywords) Remove(ctx context.Context, raw string) error {
	norm := NormalizeKeyword(raw)
	if norm == "" {
		return ErrInvalid
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	i, ok := k.index[norm]
	if !ok {
		return ErrNotFound
	}
	if k.store != nil {
		if err := k.store.DeleteKeyword(ctx, norm); err != nil {
			return err
		}
	}
	k.list = append(k.list[:i], k.list[i+1:]...)
	delete(k.index, norm)
	for j := i; j < len(k.list); j++ {
		k.index[k.list[j].Value] = j
	}
	return nil
}
