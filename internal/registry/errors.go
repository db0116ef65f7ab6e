package registry

import "errors"

var (
	// ErrAlreadyExists is returned when an Add collides with an entry
	// that normalizes to the same key.
	ErrAlreadyExists = errors.New("already exists")

	// ErrNotFound is returned when a Remove targets an absent entry.
	ErrNotFound = errors.New("not found")

	// ErrProtected is returned when a mutation would remove the
	// bootstrap creator.
	ErrProtected = errors.New("entry is protected")

	// ErrInvalid is returned for entries that normalize to nothing.
	ErrInvalid = errors.New("invalid entry")
)
