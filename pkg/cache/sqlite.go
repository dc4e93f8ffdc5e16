package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// SQLiteStore is a Store persisted in a SQLite database file.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) the database at filename.
// If filename is empty, a private in-memory database is used.
func NewSQLiteStore(filename string) (*SQLiteStore, error) {
	if filename == "" {
		filename = ":memory:"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps the pragmas below in effect for every statement
	// and makes ":memory:" a single database.
	db.SetMaxOpenConns(1)

	statements := []string{
		`CREATE TABLE IF NOT EXISTS cache (
			key TEXT PRIMARY KEY,
			expires INTEGER NOT NULL,
			value BLOB NOT NULL
		)`,
		"CREATE INDEX IF NOT EXISTS expires_idx ON cache (expires)",
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init sqlite: %w", err)
		}
	}

	return &SQLiteStore{
		db:  db,
		now: time.Now,
	}, nil
}

// Get returns the value stored under key, or ErrCacheMiss.
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var expires int64
	var value []byte
	err := s.db.QueryRowContext(ctx, "SELECT expires, value FROM cache WHERE key = ?", key).Scan(&expires, &value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			StoreMisses.WithLabelValues(layerSQLite).Inc()
			return nil, ErrCacheMiss
		}
		StoreErrors.WithLabelValues(layerSQLite, "get").Inc()
		return nil, fmt.Errorf("sqlite get: %w", err)
	}

	if s.now().UnixMilli() >= expires {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM cache WHERE key = ? AND expires = ?", key, expires); err != nil {
			StoreErrors.WithLabelValues(layerSQLite, "delete").Inc()
		}
		StoreMisses.WithLabelValues(layerSQLite).Inc()
		return nil, ErrCacheMiss
	}

	StoreHits.WithLabelValues(layerSQLite).Inc()
	return value, nil
}

// Set stores value under key, replacing any previous value.
func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if value == nil {
		value = []byte{}
	}
	expires := s.now().Add(ttl).UnixMilli()
	_, err := s.db.ExecContext(ctx, "INSERT OR REPLACE INTO cache (key, expires, value) VALUES (?, ?, ?)", key, expires, value)
	if err != nil {
		StoreErrors.WithLabelValues(layerSQLite, "set").Inc()
		return fmt.Errorf("sqlite set: %w", err)
	}

	StoreWrittenBytes.WithLabelValues(layerSQLite).Add(float64(len(value)))
	return nil
}

// Delete removes key.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM cache WHERE key = ?", key); err != nil {
		StoreErrors.WithLabelValues(layerSQLite, "delete").Inc()
		return fmt.Errorf("sqlite delete: %w", err)
	}
	return nil
}

// PurgeExpired deletes every expired row and returns how many were removed.
func (s *SQLiteStore) PurgeExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM cache WHERE expires <= ?", s.now().UnixMilli())
	if err != nil {
		StoreErrors.WithLabelValues(layerSQLite, "delete").Inc()
		return 0, fmt.Errorf("sqlite purge: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
