package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the shared persistent backing store. It exposes the
// namespaced key/value and capped-list semantics all higher-level stores
// are built on. TTLs are tracked per key and refreshed on write; expired
// entries read as absent until a sweep removes them.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates/opens the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Single-process store. Use one shared connection to avoid writer lock
	// contention with SQLite under concurrent goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA temp_store=MEMORY;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS entries (
			store TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at_ms INTEGER NOT NULL,
			expires_at_ms INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY(store, key)
		);`,
		`CREATE INDEX IF NOT EXISTS entries_exp_idx ON entries(expires_at_ms);`,
		`CREATE TABLE IF NOT EXISTS list_items (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			store TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS list_items_key_idx ON list_items(store, key, id);`,
		`CREATE TABLE IF NOT EXISTS list_meta (
			store TEXT NOT NULL,
			key TEXT NOT NULL,
			expires_at_ms INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY(store, key)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init store schema: %w", err)
		}
	}
	return nil
}

func nowMS() int64 {
	return time.Now().UnixMilli()
}

func expiryMS(now int64, ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return now + ttl.Milliseconds()
}

// Get returns the value for (store, key). Expired or missing keys report
// ok=false with no error.
func (s *SQLiteStore) Get(ctx context.Context, store, key string) (string, bool, error) {
	var value string
	var expiresAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at_ms FROM entries WHERE store = ? AND key = ?`,
		store, key).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s:%s: %w", store, key, err)
	}
	if expiresAt > 0 && expiresAt <= nowMS() {
		return "", false, nil
	}
	return value, true, nil
}

// Set writes the value for (store, key) and refreshes its TTL. ttl<=0 means
// the entry never expires.
func (s *SQLiteStore) Set(ctx context.Context, store, key, value string, ttl time.Duration) error {
	now := nowMS()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entries(store, key, value, updated_at_ms, expires_at_ms)
		 VALUES(?, ?, ?, ?, ?)
		 ON CONFLICT(store, key) DO UPDATE SET
		   value = excluded.value,
		   updated_at_ms = excluded.updated_at_ms,
		   expires_at_ms = excluded.expires_at_ms`,
		store, key, value, now, expiryMS(now, ttl))
	if err != nil {
		return fmt.Errorf("set %s:%s: %w", store, key, err)
	}
	return nil
}

// Delete removes the entry for (store, key).
func (s *SQLiteStore) Delete(ctx context.Context, store, key string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM entries WHERE store = ? AND key = ?`, store, key); err != nil {
		return fmt.Errorf("delete %s:%s: %w", store, key, err)
	}
	return nil
}

// Incr adds delta to a numeric entry, creating it at delta, and refreshes
// the TTL. Returns the new value. Upsert and readback share one transaction
// so a concurrent increment cannot leak into the returned value.
func (s *SQLiteStore) Incr(ctx context.Context, store, key string, delta int64, ttl time.Duration) (int64, error) {
	now := nowMS()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("incr %s:%s: begin: %w", store, key, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO entries(store, key, value, updated_at_ms, expires_at_ms)
		 VALUES(?, ?, CAST(? AS TEXT), ?, ?)
		 ON CONFLICT(store, key) DO UPDATE SET
		   value = CAST(CAST(entries.value AS INTEGER) + ? AS TEXT),
		   updated_at_ms = ?,
		   expires_at_ms = ?`,
		store, key, delta, now, expiryMS(now, ttl),
		delta, now, expiryMS(now, ttl)); err != nil {
		return 0, fmt.Errorf("incr %s:%s: %w", store, key, err)
	}
	var out int64
	if err := tx.QueryRowContext(ctx,
		`SELECT CAST(value AS INTEGER) FROM entries WHERE store = ? AND key = ?`,
		store, key).Scan(&out); err != nil {
		return 0, fmt.Errorf("incr readback %s:%s: %w", store, key, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("incr %s:%s: commit: %w", store, key, err)
	}
	return out, nil
}

// Append adds value to the (store, key) list, trims it to the newest max
// items, and refreshes the list TTL, all in one transaction. This is the
// atomic append-and-trim the history contract requires.
func (s *SQLiteStore) Append(ctx context.Context, store, key, value string, max int, ttl time.Duration) error {
	now := nowMS()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append %s:%s: begin: %w", store, key, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO list_items(store, key, value, created_at_ms) VALUES(?, ?, ?, ?)`,
		store, key, value, now); err != nil {
		return fmt.Errorf("append %s:%s: insert: %w", store, key, err)
	}
	if max > 0 {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM list_items WHERE store = ? AND key = ? AND id NOT IN (
			   SELECT id FROM list_items WHERE store = ? AND key = ? ORDER BY id DESC LIMIT ?
			 )`,
			store, key, store, key, max); err != nil {
			return fmt.Errorf("append %s:%s: trim: %w", store, key, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO list_meta(store, key, expires_at_ms) VALUES(?, ?, ?)
		 ON CONFLICT(store, key) DO UPDATE SET expires_at_ms = excluded.expires_at_ms`,
		store, key, expiryMS(now, ttl)); err != nil {
		return fmt.Errorf("append %s:%s: meta: %w", store, key, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append %s:%s: commit: %w", store, key, err)
	}
	return nil
}

// ReadList returns the (store, key) list oldest-first, or an empty slice if
// the key is absent or its TTL has lapsed.
func (s *SQLiteStore) ReadList(ctx context.Context, store, key string) ([]string, error) {
	var expiresAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT expires_at_ms FROM list_meta WHERE store = ? AND key = ?`,
		store, key).Scan(&expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s:%s: meta: %w", store, key, err)
	}
	if expiresAt > 0 && expiresAt <= nowMS() {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT value FROM list_items WHERE store = ? AND key = ? ORDER BY id ASC`,
		store, key)
	if err != nil {
		return nil, fmt.Errorf("read %s:%s: %w", store, key, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("read %s:%s: scan: %w", store, key, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ClearList deletes the (store, key) list and its metadata immediately.
func (s *SQLiteStore) ClearList(ctx context.Context, store, key string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("clear %s:%s: begin: %w", store, key, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM list_items WHERE store = ? AND key = ?`, store, key); err != nil {
		return fmt.Errorf("clear %s:%s: items: %w", store, key, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM list_meta WHERE store = ? AND key = ?`, store, key); err != nil {
		return fmt.Errorf("clear %s:%s: meta: %w", store, key, err)
	}
	return tx.Commit()
}

// Sweep removes expired entries and lists. Returns rows removed.
func (s *SQLiteStore) Sweep(ctx context.Context) (int64, error) {
	now := nowMS()
	var removed int64

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM entries WHERE expires_at_ms > 0 AND expires_at_ms <= ?`, now)
	if err != nil {
		return removed, fmt.Errorf("sweep entries: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		removed += n
	}

	res, err = s.db.ExecContext(ctx,
		`DELETE FROM list_items WHERE (store, key) IN (
		   SELECT store, key FROM list_meta WHERE expires_at_ms > 0 AND expires_at_ms <= ?
		 )`, now)
	if err != nil {
		return removed, fmt.Errorf("sweep list items: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		removed += n
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM list_meta WHERE expires_at_ms > 0 AND expires_at_ms <= ?`, now); err != nil {
		return removed, fmt.Errorf("sweep list meta: %w", err)
	}

	return removed, nil
}
