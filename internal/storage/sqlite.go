package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"mentionbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- keywords ----

func (s *sqliteStore) ListKeywords(ctx context.Context) ([]KeywordRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT keyword, added_by, added_at FROM keywords ORDER BY added_at, keyword`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []KeywordRow
	for rows.Next() {
		var r KeywordRow
		var at string
		if err := rows.Scan(&r.Keyword, &r.AddedBy, &at); err != nil {
			return nil, err
		}
		r.AddedAt = parseTime(at)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutKeyword(ctx context.Context, row KeywordRow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO keywords(keyword, added_by, added_at) VALUES(?,?,?)
		 ON CONFLICT(keyword) DO NOTHING`,
		row.Keyword, row.AddedBy, fmtTime(row.AddedAt))
	return err
}

func (s *sqliteStore) DeleteKeyword(ctx context.Context, keyword string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM keywords WHERE keyword = ?`, keyword)
	return err
}

// ---- targets ----

func (s *sqliteStore) ListTargets(ctx context.Context) ([]TargetRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source, id, label, added_by, added_at FROM targets ORDER BY added_at, source, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TargetRow
	for rows.Next() {
		var r TargetRow
		var label sql.NullString
		var at string
		if err := rows.Scan(&r.Source, &r.ID, &label, &r.AddedBy, &at); err != nil {
			return nil, err
		}
		r.Label = label.String
		r.AddedAt = parseTime(at)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutTarget(ctx context.Context, row TargetRow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO targets(source, id, label, added_by, added_at) VALUES(?,?,?,?,?)
		 ON CONFLICT(source, id) DO UPDATE SET label=excluded.label`,
		row.Source, row.ID, nullStr(row.Label), row.AddedBy, fmtTime(row.AddedAt))
	return err
}

func (s *sqliteStore) DeleteTarget(ctx context.Context, source, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM targets WHERE source = ? AND id = ?`, source, id)
	return err
}

// ---- destinations ----

func (s *sqliteStore) ListDestinations(ctx context.Context) ([]DestinationRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, is_primary, added_by, added_at FROM destinations ORDER BY added_at, chat_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DestinationRow
	for rows.Next() {
		var r DestinationRow
		var primary int
		var at string
		if err := rows.Scan(&r.ChatID, &primary, &r.AddedBy, &at); err != nil {
			return nil, err
		}
		r.Primary = primary != 0
		r.AddedAt = parseTime(at)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutDestination(ctx context.Context, row DestinationRow) error {
	if row.Primary {
		return s.putPrimaryDestination(ctx, row)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO destinations(chat_id, is_primary, added_by, added_at) VALUES(?,0,?,?)
		 ON CONFLICT(chat_id) DO NOTHING`,
		row.ChatID, row.AddedBy, fmtTime(row.AddedAt))
	return err
}

func (s *sqliteStore) putPrimaryDestination(ctx context.Context, row DestinationRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `UPDATE destinations SET is_primary = 0 WHERE is_primary = 1`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO destinations(chat_id, is_primary, added_by, added_at) VALUES(?,1,?,?)
		 ON CONFLICT(chat_id) DO UPDATE SET is_primary = 1`,
		row.ChatID, row.AddedBy, fmtTime(row.AddedAt)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) SetPrimary(ctx context.Context, chatID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `UPDATE destinations SET is_primary = 0 WHERE is_primary = 1`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE destinations SET is_primary = 1 WHERE chat_id = ?`, chatID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) DeleteDestination(ctx context.Context, chatID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM destinations WHERE chat_id = ?`, chatID)
	return err
}

// ---- operators ----

func (s *sqliteStore) ListOperators(ctx context.Context) ([]OperatorRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, username, granted_by, granted_at FROM operators ORDER BY granted_at, user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []OperatorRow
	for rows.Next() {
		var r OperatorRow
		var name sql.NullString
		var at string
		if err := rows.Scan(&r.UserID, &name, &r.GrantedBy, &at); err != nil {
			return nil, err
		}
		r.Username = name.String
		r.GrantedAt = parseTime(at)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutOperator(ctx context.Context, row OperatorRow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO operators(user_id, username, granted_by, granted_at) VALUES(?,?,?,?)
		 ON CONFLICT(user_id) DO NOTHING`,
		row.UserID, nullStr(row.Username), row.GrantedBy, fmtTime(row.GrantedAt))
	return err
}

func (s *sqliteStore) DeleteOperator(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM operators WHERE user_id = ?`, userID)
	return err
}

// ---- cursors ----

func (s *sqliteStore) GetCursor(ctx context.Context, key string) (CursorRow, bool, error) {
	var r CursorRow
	var wm, seen sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT watermark, seen FROM cursors WHERE key = ?`, key).
		Scan(&wm, &seen)
	if errors.Is(err, sql.ErrNoRows) {
		return CursorRow{}, false, nil
	}
	if err != nil {
		return CursorRow{}, false, err
	}
	r.Key = key
	r.Watermark = wm.String
	if seen.Valid && seen.String != "" {
		if err := json.Unmarshal([]byte(seen.String), &r.Seen); err != nil {
			// Corrupt seen set is recoverable: worst case is one duplicate alert.
			s.log.Warn("cursor seen set unreadable; resetting", logx.String("key", key), logx.Err(err))
			r.Seen = nil
		}
	}
	return r, true, nil
}

func (s *sqliteStore) PutCursor(ctx context.Context, row CursorRow) error {
	var seen any
	if len(row.Seen) > 0 {
		b, err := json.Marshal(row.Seen)
		if err != nil {
			return err
		}
		seen = string(b)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cursors(key, watermark, seen) VALUES(?,?,?)
		 ON CONFLICT(key) DO UPDATE SET watermark=excluded.watermark, seen=excluded.seen`,
		row.Key, nullStr(row.Watermark), seen)
	return err
}

// ---- meta ----

func (s *sqliteStore) GetMeta(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *sqliteStore) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO meta(key, value) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value)
	return err
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
