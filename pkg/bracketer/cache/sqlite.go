package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore keeps correlation state in a SQLite database.
// Several processes may share one database file: Update runs inside a
// BEGIN IMMEDIATE transaction, so read-modify-write cycles on the same file
// are serialized by SQLite's write lock.
type SQLiteStore struct {
	db     *sql.DB
	now    func() time.Time
	mu     sync.RWMutex
	closed bool
}

// SQLiteOption configures a SQLiteStore.
type SQLiteOption func(*SQLiteStore)

// WithSQLiteClock overrides the clock used for expiry. Intended for tests.
func WithSQLiteClock(now func() time.Time) SQLiteOption {
	return func(s *SQLiteStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSQLiteStore opens (or creates) a SQLite store.
// The path should be a file path (e.g., "./correlation.db") or ":memory:" for testing.
func NewSQLiteStore(path string, opts ...SQLiteOption) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One connection: ":memory:" databases are per-connection, and a single
	// writer per process keeps BEGIN IMMEDIATE from contending with itself.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s, err := NewSQLiteStoreFromDB(db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStoreFromDB wraps an existing handle and ensures the schema exists.
// The store takes ownership of db and closes it on Close.
func NewSQLiteStoreFromDB(db *sql.DB, opts ...SQLiteOption) (*SQLiteStore, error) {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS correlation_entries (
			key TEXT NOT NULL PRIMARY KEY,
			value BLOB NOT NULL,
			expires_at INTEGER NOT NULL DEFAULT 0
		)
	`); err != nil {
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_correlation_entries_expires_at
		ON correlation_entries(expires_at)
	`); err != nil {
		return nil, fmt.Errorf("create index: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// GetOrCreate implements Store.
func (s *SQLiteStore) GetOrCreate(ctx context.Context, key string, init func() ([]byte, error)) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, unavailable("get_or_create", key, ErrStoreClosed)
	}

	now := s.now().UnixNano()
	if v, ok, err := s.get(ctx, s.db, key, now); err != nil {
		return nil, unavailable("get_or_create", key, err)
	} else if ok {
		return v, nil
	}

	v, err := init()
	if err != nil {
		return nil, err
	}

	// A concurrent creator may have won; keep whichever value landed first.
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO correlation_entries (key, value, expires_at)
		VALUES (?, ?, 0)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = 0
		WHERE correlation_entries.expires_at != 0 AND correlation_entries.expires_at <= ?
	`, key, v, now); err != nil {
		return nil, unavailable("get_or_create", key, err)
	}

	stored, ok, err := s.get(ctx, s.db, key, now)
	if err != nil {
		return nil, unavailable("get_or_create", key, err)
	}
	if !ok {
		return v, nil
	}
	return stored, nil
}

// Set implements Store.
func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return unavailable("set", key, ErrStoreClosed)
	}

	if err := s.put(ctx, s.db, key, value, s.expiry(ttl)); err != nil {
		return unavailable("set", key, err)
	}
	return nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, keys ...string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return unavailable("delete", firstKey(keys), ErrStoreClosed)
	}
	if len(keys) == 0 {
		return nil
	}

	if err := s.del(ctx, s.db, keys); err != nil {
		return unavailable("delete", firstKey(keys), err)
	}
	return nil
}

// Update implements Store.
func (s *SQLiteStore) Update(ctx context.Context, keys []string, fn UpdateFunc) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return unavailable("update", firstKey(keys), ErrStoreClosed)
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return unavailable("update", firstKey(keys), err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return unavailable("update", firstKey(keys), err)
	}

	committed := false
	defer func() {
		if !committed {
			// Rollback must run even when ctx is already done.
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	now := s.now().UnixNano()
	current := make(map[string][]byte, len(keys))
	for _, k := range keys {
		v, ok, err := s.get(ctx, conn, k, now)
		if err != nil {
			return unavailable("update", k, err)
		}
		if ok {
			current[k] = v
		}
	}

	mut, err := fn(current)
	if err != nil {
		return err
	}

	if len(mut.Delete) > 0 {
		if err := s.del(ctx, conn, mut.Delete); err != nil {
			return unavailable("update", firstKey(mut.Delete), err)
		}
	}
	expiresAt := s.expiry(mut.TTL)
	for k, v := range mut.Set {
		if err := s.put(ctx, conn, k, v, expiresAt); err != nil {
			return unavailable("update", k, err)
		}
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return unavailable("update", firstKey(keys), err)
	}
	committed = true
	return nil
}

// Sweep implements Sweeper.
func (s *SQLiteStore) Sweep(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, unavailable("sweep", "", ErrStoreClosed)
	}

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM correlation_entries
		WHERE expires_at != 0 AND expires_at <= ?
	`, s.now().UnixNano())
	if err != nil {
		return 0, unavailable("sweep", "", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable("sweep", "", err)
	}
	return int(n), nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}

// execer is satisfied by *sql.DB and *sql.Conn.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) get(ctx context.Context, q execer, key string, now int64) ([]byte, bool, error) {
	var data []byte
	err := q.QueryRowContext(ctx, `
		SELECT value FROM correlation_entries
		WHERE key = ? AND (expires_at = 0 OR expires_at > ?)
	`, key, now).Scan(&data)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (s *SQLiteStore) put(ctx context.Context, q execer, key string, value []byte, expiresAt int64) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO correlation_entries (key, value, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			expires_at = excluded.expires_at
	`, key, value, expiresAt)
	return err
}

func (s *SQLiteStore) del(ctx context.Context, q execer, keys []string) error {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	_, err := q.ExecContext(ctx,
		"DELETE FROM correlation_entries WHERE key IN ("+placeholders+")", args...)
	return err
}

func (s *SQLiteStore) expiry(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return s.now().Add(ttl).UnixNano()
}
