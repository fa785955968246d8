package kv

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite (pure-Go, no CGO).
// It is the default backend: a single file, WAL mode, and a background
// sweep that deletes expired rows.
type SQLiteStore struct {
	db   *sql.DB
	stop chan struct{}
}

// NewSQLite opens or creates a SQLite-backed store at the given DSN.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite pragmas: %w", err)
	}
	// SQLite only supports one writer at a time. Keep the pool small.
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	s := &SQLiteStore{db: db, stop: make(chan struct{})}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	go s.sweepLoop()
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			expires_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_kv_expires ON kv(expires_at) WHERE expires_at IS NOT NULL`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	var expiresAt sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM kv WHERE key = ?`, key).Scan(&value, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("kv get %q: %w", key, err)
	}
	if expiresAt.Valid && time.Now().UnixMilli() >= expiresAt.Int64 {
		// Expired but not yet swept; treat as absent.
		return nil, nil
	}
	return value, nil
}

func (s *SQLiteStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt any
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl).UnixMilli()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expiresAt)
	if err != nil {
		return fmt.Errorf("kv put %q: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("kv delete %q: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, prefix, cursor string, limit int) ([]string, string, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	// Fetch one extra row to know whether another page exists. The cursor
	// is the last key of the previous page, so resume strictly after it.
	cmp := `key >= ?`
	start := prefix
	if cursor != "" {
		cmp = `key > ?`
		start = cursor
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM kv
		 WHERE `+cmp+` AND key GLOB ?
		   AND (expires_at IS NULL OR expires_at > ?)
		 ORDER BY key LIMIT ?`,
		start, globEscape(prefix)+"*", time.Now().UnixMilli(), limit+1)
	if err != nil {
		return nil, "", fmt.Errorf("kv list %q: %w", prefix, err)
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, "", err
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	next := ""
	if len(keys) > limit {
		keys = keys[:limit]
		next = keys[len(keys)-1]
	}
	return keys, next, nil
}

func (s *SQLiteStore) Close() error {
	close(s.stop)
	return s.db.Close()
}

// sweepLoop deletes expired rows once a minute.
func (s *SQLiteStore) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_, _ = s.db.Exec(`DELETE FROM kv WHERE expires_at IS NOT NULL AND expires_at <= ?`,
				time.Now().UnixMilli())
		case <-s.stop:
			return
		}
	}
}

// globEscape escapes GLOB metacharacters in a literal prefix.
func globEscape(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '*', '?', '[', ']':
			out = append(out, '[', s[i], ']')
		default:
			out = append(out, s[i])
		}
	}
	return string(out)
}
