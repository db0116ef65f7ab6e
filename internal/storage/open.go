package storage

import (
	"context"
	"errors"
	"strings"

	"mentionbot/pkg/logx"
)

// Store is the persistence API used by the registries and the dedup
// cursor store.
type Store interface {
	ListKeywords(ctx context.Context) ([]KeywordRow, error)
	PutKeyword(ctx context.Context, row KeywordRow) error
	DeleteKeyword(ctx context.Context, keyword string) error

	ListTargets(ctx context.Context) ([]TargetRow, error)
	PutTarget(ctx context.Context, row TargetRow) error
	DeleteTarget(ctx context.Context, source, id string) error

	ListDestinations(ctx context.Context) ([]DestinationRow, error)
	PutDestination(ctx context.Context, row DestinationRow) error
	// SetPrimary marks one destination primary and clears any other,
	// atomically.
	SetPrimary(ctx context.Context, chatID int64) error
	DeleteDestination(ctx context.Context, chatID int64) error

	ListOperators(ctx context.Context) ([]OperatorRow, error)
	PutOperator(ctx context.Context, row OperatorRow) error
	DeleteOperator(ctx context.Context, userID int64) error

	GetCursor(ctx context.Context, key string) (CursorRow, bool, error)
	PutCursor(ctx context.Context, row CursorRow) error

	GetMeta(ctx context.Context, key string) (string, bool, error)
	SetMeta(ctx context.Context, key, value string) error

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
