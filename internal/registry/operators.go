package registry

import (
	"context"
	"strconv"
	"sync"
	"time"

	"mentionbot/internal/storage"
)

const creatorMetaKey = "creator_id"

// Operator is a trusted identity permitted to mutate the registries.
type Operator struct {
	UserID    int64
	Username  string
	GrantedBy int64
	GrantedAt time.Time
}

// Operators is the live operator set. The first identity ever granted
// (the creator) is recorded durably and cannot be revoked.
type Operators struct {
	mu        sync.RWMutex
	list      []Operator
	index     map[int64]int
	creatorID int64
	store     storage.Store
}

func NewOperators(store storage.Store) *Operators {
	return &Operators{index: map[int64]int{}, store: store}
}

func (o *Operators) Hydrate(ctx context.Context) error {
	if o.store == nil {
		return nil
	}
	rows, err := o.store.ListOperators(ctx)
	if err != nil {
		return err
	}
	creator, ok, err := o.store.GetMeta(ctx, creatorMetaKey)
	if err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.list = o.list[:0]
	o.index = make(map[int64]int, len(rows))
	for _, r := range rows {
		if _, dup := o.index[r.UserID]; dup {
			continue
		}
		o.index[r.UserID] = len(o.list)
		o.list = append(o.list, Operator{UserID: r.UserID, Username: r.Username, GrantedBy: r.GrantedBy, GrantedAt: r.GrantedAt})
	}
	if ok {
		if id, err := strconv.ParseInt(creator, 10, 64); err == nil {
			o.creatorID = id
		}
	}
	return nil
}

func (o *Operators) List() []Operator {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]Operator(nil), o.list...)
}

func (o *Operators) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.list)
}

func (o *Operators) IsOperator(userID int64) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, ok := o.index[userID]
	return ok
}

// HasCreator reports whether the bootstrap identity has been claimed.
func (o *Operators) HasCreator() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.creatorID != 0
}

func (o *Operators) CreatorID() int64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.creatorID
}

// Bootstrap claims the creator slot for userID if nobody holds it yet.
// Returns true when this call performed the bootstrap.
func (o *Operators) Bootstrap(ctx context.Context, userID int64, username string) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.creatorID != 0 {
		return false, nil
	}
	now := time.Now().UTC()
	if o.store != nil {
		if err := o.store.SetMeta(ctx, creatorMetaKey, strconv.FormatInt(userID, 10)); err != nil {
			return false, err
		}
		row := storage.OperatorRow{UserID: userID, Username: username, GrantedBy: userID, GrantedAt: now}
		if err := o.store.PutOperator(ctx, row); err != nil {
			return false, err
		}
	}
	o.creatorID = userID
	if _, known := o.index[userID]; !known {
		o.index[userID] = len(o.list)
		o.list = append(o.list, Operator{UserID: userID, Username: username, GrantedBy: userID, GrantedAt: now})
	}
	return true, nil
}

func (o *Operators) Grant(ctx context.Context, op Operator) (Operator, error) {
	if op.GrantedAt.IsZero() {
		op.GrantedAt = time.Now().UTC()
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, dup := o.index[op.UserID]; dup {
		return Operator{}, ErrAlreadyExists
	}
	if o.store != nil {
		row := storage.OperatorRow{UserID: op.UserID, Username: op.Username, GrantedBy: op.GrantedBy, GrantedAt: op.GrantedAt}
		if err := o.store.PutOperator(ctx, row); err != nil {
			return Operator{}, err
		}
	}
	o.index[op.UserID] = len(o.list)
	o.list = append(o.list, op)
	return op, nil
}

func (o *Operators) Revoke(ctx context.Context, userID int64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.creatorID != 0 && userID == o.creatorID {
		return ErrProtected
	}
	i, ok := o.index[userID]
	if !ok {
		return ErrNotFound
	}
	if o.store != nil {
		if err := o.store.DeleteOperator(ctx, userID); err != nil {
			return err
		}
	}
	o.list = append(o.list[:i], o.list[i+1:]...)
	delete(o.index, userID)
	for j := i; j < len(o.list); j++ {
		o.index[o.list[j].UserID] = j
	}
	return nil
}
