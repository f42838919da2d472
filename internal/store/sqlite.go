package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// SQLiteKV stores each logical table as a SQLite table of JSON documents.
type SQLiteKV struct {
	db *sql.DB
}

// NewSQLiteKV opens (or creates) a SQLite database at dbPath and creates
// the tables. ":memory:" gives a private in-memory database.
func NewSQLiteKV(ctx context.Context, dbPath string) (*SQLiteKV, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	// One connection: writes are serialized and ":memory:" stays a single database.
	db.SetMaxOpenConns(1)

	kv := &SQLiteKV{db: db}
	if err := kv.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return kv, nil
}

func (s *SQLiteKV) migrate(ctx context.Context) error {
	stmts := []string{"PRAGMA busy_timeout = 5000"}
	for _, t := range tables {
		stmts = append(stmts, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`, t))
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Table names are interpolated into SQL, so only the fixed set is allowed.
func checkTable(t Table) error {
	if !t.valid() {
		return fmt.Errorf("unknown table %q", t)
	}
	return nil
}

func (s *SQLiteKV) Get(ctx context.Context, t Table, key string) ([]byte, bool, error) {
	if err := checkTable(t); err != nil {
		return nil, false, err
	}
	var v string
	err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT value FROM %s WHERE key = ?", t), key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s/%s: %w", t, key, err)
	}
	return []byte(v), true, nil
}

func (s *SQLiteKV) Set(ctx context.Context, t Table, key string, value []byte) error {
	if err := checkTable(t); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`, t),
		key, string(value), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("set %s/%s: %w", t, key, err)
	}
	return nil
}

func (s *SQLiteKV) Delete(ctx context.Context, t Table, key string) error {
	if err := checkTable(t); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE key = ?", t), key); err != nil {
		return fmt.Errorf("delete %s/%s: %w", t, key, err)
	}
	return nil
}

func (s *SQLiteKV) Scan(ctx context.Context, t Table, fn func(key string, value []byte) error) error {
	if err := checkTable(t); err != nil {
		return err
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT key, value FROM %s ORDER BY key", t))
	if err != nil {
		return fmt.Errorf("scan %s: %w", t, err)
	}
	type entry struct {
		key   string
		value []byte
	}
	// Drain first: fn may call back into the store and there is one connection.
	var entries []entry
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			rows.Close()
			return fmt.Errorf("scan %s: %w", t, err)
		}
		entries = append(entries, entry{k, []byte(v)})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("scan %s: %w", t, err)
	}
	rows.Close()

	for _, e := range entries {
		if err := fn(e.key, e.value); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteKV) Count(ctx context.Context, t Table) (int, error) {
	if err := checkTable(t); err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", t)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", t, err)
	}
	return n, nil
}

func (s *SQLiteKV) Truncate(ctx context.Context, t Table) error {
	if err := checkTable(t); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", t)); err != nil {
		return fmt.Errorf("truncate %s: %w", t, err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteKV) Close() error {
	return s.db.Close()
}
