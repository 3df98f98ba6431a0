package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a durable Engine that keeps every pair in a single SQLite
// table. SQLite compares BLOBs with memcmp, so ORDER BY key is
// byte-lexicographic.
type SQLiteStore struct {
	mu   sync.RWMutex
	db   *sql.DB
	path string
}

const sqliteSchema = `CREATE TABLE IF NOT EXISTS kv (
	key   BLOB PRIMARY KEY,
	value BLOB NOT NULL
) WITHOUT ROWID`

// OpenSQLiteStore opens or creates the database file at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// A single connection keeps writes ordered and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		sqliteSchema,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init sqlite %s: %w", path, err)
		}
	}
	return &SQLiteStore{db: db, path: path}, nil
}

func (s *SQLiteStore) Set(key, value []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return ErrClosed
	}
	_, err := s.db.Exec(
		`INSERT INTO kv (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		clone(key), clone(value),
	)
	if err != nil {
		return fmt.Errorf("sqlite set: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, ErrClosed
	}
	var value []byte
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, clone(key)).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite get: %w", err)
	}
	return clone(value), nil
}

func (s *SQLiteStore) Delete(key []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return ErrClosed
	}
	if _, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, clone(key)); err != nil {
		return fmt.Errorf("sqlite delete: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Scan(start, end []byte, fn ScanFunc) error {
	return s.query(start, end, false, fn)
}

func (s *SQLiteStore) ReverseScan(start, end []byte, fn ScanFunc) error {
	return s.query(start, end, true, fn)
}

func (s *SQLiteStore) ScanPrefix(prefix []byte, fn ScanFunc) error {
	return s.query(prefix, PrefixEnd(prefix), false, fn)
}

func (s *SQLiteStore) query(start, end []byte, reverse bool, fn ScanFunc) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return ErrClosed
	}
	if err := checkRange(start, end); err != nil {
		return err
	}

	var (
		where []string
		args  []any
	)
	if start != nil {
		where = append(where, "key >= ?")
		args = append(args, clone(start))
	}
	if end != nil {
		where = append(where, "key < ?")
		args = append(args, clone(end))
	}
	q := "SELECT key, value FROM kv"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	if reverse {
		q += " ORDER BY key DESC"
	} else {
		q += " ORDER BY key ASC"
	}

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return fmt.Errorf("sqlite scan: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return fmt.Errorf("sqlite scan: %w", err)
		}
		if !fn(clone(key), clone(value)) {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("sqlite scan: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
