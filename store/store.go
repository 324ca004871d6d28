// Package store persists the small amount of state the game link keeps
// across restarts: each transport's address book and a few counters.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/opd-ai/gamelink/addrbook"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	dsn := path
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and
	// serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "store.Open",
		"path":     path,
	}).Debug("Opened store")
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS peers (
		transport TEXT NOT NULL,
		addr TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		updated_at REAL DEFAULT (unixepoch()),
		PRIMARY KEY (transport, addr)
	);

	CREATE TABLE IF NOT EXISTS counters (
		name TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveAddresses replaces the stored address table for transport. It
// satisfies addrbook.Persister.
func (s *Store) SaveAddresses(transport string, entries []addrbook.Entry) error {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM peers WHERE transport = ?`, transport); err != nil {
		return fmt.Errorf("failed to clear peers: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO peers (transport, addr, name, updated_at) VALUES (?, ?, ?, unixepoch())
	ON CONFLICT(transport, addr) DO UPDATE SET
		name = excluded.name,
		updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, transport, e.Addr, e.Name); err != nil {
			return fmt.Errorf("failed to insert peer %s: %w", e.Addr, err)
		}
	}
	return tx.Commit()
}

// LoadAddresses returns the stored address table for transport.
func (s *Store) LoadAddresses(transport string) ([]addrbook.Entry, error) {
	rows, err := s.db.Query(`SELECT addr, name FROM peers WHERE transport = ? ORDER BY addr`, transport)
	if err != nil {
		return nil, fmt.Errorf("failed to query peers: %w", err)
	}
	defer rows.Close()

	var entries []addrbook.Entry
	for rows.Next() {
		var e addrbook.Entry
		if err := rows.Scan(&e.Addr, &e.Name); err != nil {
			return nil, fmt.Errorf("failed to scan peer: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Counter returns the stored value of a named counter, or zero.
func (s *Store) Counter(name string) (int64, error) {
	var v int64
	err := s.db.QueryRow(`SELECT value FROM counters WHERE name = ?`, name).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read counter %s: %w", name, err)
	}
	return v, nil
}

// SetCounter stores a named counter.
func (s *Store) SetCounter(name string, value int64) error {
	_, err := s.db.Exec(`
	INSERT INTO counters (name, value) VALUES (?, ?)
	ON CONFLICT(name) DO UPDATE SET value = excluded.value
	`, name, value)
	if err != nil {
		return fmt.Errorf("failed to write counter %s: %w", name, err)
	}
	return nil
}
