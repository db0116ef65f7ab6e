package registry

import (
	"context"
	"sync"
	"time"

	"mentionbot/internal/storage"
)

// Destination is a notification endpoint (a Telegram chat). At most one
// destination is primary at any time; promoting a new primary clears
// the previous one in the same mutation.
type Destination struct {
	ChatID  int64
	Primary bool
	AddedBy int64
	AddedAt time.Time
}

type Destinations struct {
	mu    sync.RWMutex
	list  []Destination
	index map[int64]int
	store storage.Store
}

func NewDestinations(store storage.Store) *Destinations {
	return &Destinations{index: map[int64]int{}, store: store}
}

func (d *Destinations) Hydrate(ctx context.Context) error {
	if d.store == nil {
		return nil
	}
	rows, err := d.store.ListDestinations(ctx)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.list = d.list[:0]
	d.index = make(map[int64]int, len(rows))
	for _, r := range rows {
		if _, dup := d.index[r.ChatID]; dup {
			continue
		}
		d.index[r.ChatID] = len(d.list)
		d.list = append(d.list, Destination{ChatID: r.ChatID, Primary: r.Primary, AddedBy: r.AddedBy, AddedAt: r.AddedAt})
	}
	return nil
}

// List returns a snapshot, insertion-ordered. The notifier reads one
// snapshot per event and fans out to every entry in it.
func (d *Destinations) List() []Destination {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Destination(nil), d.list...)
}

// Primary returns the current primary destination, if any.
func (d *Destinations) Primary() (Destination, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, dst := range d.list {
		if dst.Primary {
			return dst, true
		}
	}
	return Destination{}, false
}

func (d *Destinations) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.list)
}

// Add registers a secondary destination. Duplicate chat IDs conflict.
func (d *Destinations) Add(ctx context.Context, chatID, addedBy int64) (Destination, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, dup := d.index[chatID]; dup {
		return Destination{}, ErrAlreadyExists
	}
	dst := Destination{ChatID: chatID, AddedBy: addedBy, AddedAt: time.Now().UTC()}
	if d.store != nil {
		row := storage.DestinationRow{ChatID: dst.ChatID, AddedBy: dst.AddedBy, AddedAt: dst.AddedAt}
		if err := d.store.PutDestination(ctx, row); err != nil {
			return Destination{}, err
		}
	}
	d.index[chatID] = len(d.list)
	d.list = append(d.list, dst)
	return dst, nil
}

// SetPrimary promotes chatID to primary, registering it first if it is
// unknown. Any previous primary loses the flag in the same critical
// section, so readers never observe zero-then-two primaries.
func (d *Destinations) SetPrimary(ctx context.Context, chatID, addedBy int64) (Destination, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	i, known := d.index[chatID]
	if d.store != nil {
		if known {
			if err := d.store.SetPrimary(ctx, chatID); err != nil {
				return Destination{}, err
			}
		} else {
			row := storage.DestinationRow{ChatID: chatID, Primary: true, AddedBy: addedBy, AddedAt: time.Now().UTC()}
			if err := d.store.PutDestination(ctx, row); err != nil {
				return Destination{}, err
			}
		}
	}

	for j := range d.list {
		d.list[j].Primary = false
	}
	if known {
		d.list[i].Primary = true
		return d.list[i], nil
	}
	dst := Destination{ChatID: chatID, Primary: true, AddedBy: addedBy, AddedAt: time.Now().UTC()}
	d.index[chatID] = len(d.list)
	d.list = append(d.list, dst)
	return dst, nil
}

func (d *Destinations) Remove(ctx context.Context, chatID int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	i, ok := d.index[chatID]
	if !ok {
		return ErrNotFound
	}
	if d.store != nil {
		if err := d.store.DeleteDestination(ctx, chatID); err != nil {
			return err
		}
	}
	d.list = append(d.list[:i], d.list[i+1:]...)
	delete(d.index, chatID)
	for j := i; j < len(d.list); j++ {
		d.index[d.list[j].ChatID] = j
	}
	return nil
}
