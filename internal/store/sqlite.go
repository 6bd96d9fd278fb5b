package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const kvSchema = `
CREATE TABLE IF NOT EXISTS kv (
	box        TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (box, key)
)`

// SQLiteStore implements domain.KeyValueStore on a single SQLite table.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (or creates) a SQLite key-value database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// One writer at a time; WAL keeps readers unblocked
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(kvSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

func (s *SQLiteStore) Get(box, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE box = ? AND key = ?`, box, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s/%s: %w", box, key, err)
	}
	return value, true, nil
}

func (s *SQLiteStore) Put(box, key, value string) error {
	if box == "" || key == "" {
		return errors.New("box and key are required")
	}
	_, err := s.db.Exec(`
		INSERT INTO kv (box, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(box, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`,
		box, key, value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to write %s/%s: %w", box, key, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(box, key string) error {
	if _, err := s.db.Exec(`DELETE FROM kv WHERE box = ? AND key = ?`, box, key); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", box, key, err)
	}
	return nil
}

func (s *SQLiteStore) Keys(box string) ([]string, error) {
	rows, err := s.db.Query(`SELECT key FROM kv WHERE box = ? ORDER BY key`, box)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", box, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *SQLiteStore) Clear(box string) error {
	if _, err := s.db.Exec(`DELETE FROM kv WHERE box = ?`, box); err != nil {
		return fmt.Errorf("failed to clear %s: %w", box, err)
	}
	return nil
}

// Close checkpoints the WAL and closes the database.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	return s.db.Close()
}
