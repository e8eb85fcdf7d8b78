// Package kv implements the content-addressed object cache (C1): a
// single `key_value` table mapping a canonical activity/object URL to
// its last-known verbatim JSON-LD bytes. Safe for concurrent
// single-key writes; last-writer-wins is acceptable because values
// are content-addressed by canonical id (spec.md §5).
package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Store is the C1 KV store interface, backed by MySQL.
type Store struct {
	db *sql.DB

	getStmt    *sql.Stmt
	existsStmt *sql.Stmt
	putStmt    *sql.Stmt
	delStmt    *sql.Stmt
}

// New prepares the statements used against the key_value table.
func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	var err error
	if s.getStmt, err = db.Prepare(`SELECT value FROM key_value WHERE ` + "`key`" + ` = ?`); err != nil {
		return nil, fmt.Errorf("kv: prepare get: %w", err)
	}
	if s.existsStmt, err = db.Prepare(`SELECT 1 FROM key_value WHERE ` + "`key`" + ` = ?`); err != nil {
		return nil, fmt.Errorf("kv: prepare exists: %w", err)
	}
	if s.putStmt, err = db.Prepare(`INSERT INTO key_value (` + "`key`" + `, value) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE value = VALUES(value)`); err != nil {
		return nil, fmt.Errorf("kv: prepare put: %w", err)
	}
	if s.delStmt, err = db.Prepare(`DELETE FROM key_value WHERE ` + "`key`" + ` = ?`); err != nil {
		return nil, fmt.Errorf("kv: prepare delete: %w", err)
	}
	return s, nil
}

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("kv: key not found")

// Get returns the bytes stored under key, or ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.getStmt.QueryRowContext(ctx, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kv: get %q: %w", key, err)
	}
	return value, nil
}

// Exists reports whether key has a stored value.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	var one int
	err := s.existsStmt.QueryRowContext(ctx, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("kv: exists %q: %w", key, err)
	}
	return true, nil
}

// Put stores value under key, overwriting any prior value
// (last-writer-wins).
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if _, err := s.putStmt.ExecContext(ctx, key, value); err != nil {
		return fmt.Errorf("kv: put %q: %w", key, err)
	}
	return nil
}

// Delete removes key, if present.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.delStmt.ExecContext(ctx, key); err != nil {
		return fmt.Errorf("kv: delete %q: %w", key, err)
	}
	return nil
}
