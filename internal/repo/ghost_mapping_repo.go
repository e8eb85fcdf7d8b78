package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/blogfed/apsrv/internal/domain"
)

// GhostMappingStore tracks the idempotent mapping between a Ghost
// post's uuid and its federated apId (spec.md §4.3, §6
// "ghost_ap_post_mappings(ghost_uuid UNIQUE, ap_id, ap_id_hash
// UNIQUE)"), so a replayed webhook for a uuid already seen never
// produces a second Post.
type GhostMappingStore struct {
	db *sql.DB

	getByGhostUUID *sql.Stmt
	insert         *sql.Stmt
}

// NewGhostMappingStore prepares the statements used by the store.
func NewGhostMappingStore(db *sql.DB) (*GhostMappingStore, error) {
	s := &GhostMappingStore{db: db}
	var err error
	if s.getByGhostUUID, err = db.Prepare(`SELECT ap_id FROM ghost_ap_post_mappings WHERE ghost_uuid = ?`); err != nil {
		return nil, fmt.Errorf("repo: prepare mapping getByGhostUUID: %w", err)
	}
	if s.insert, err = db.Prepare(`INSERT INTO ghost_ap_post_mappings
		(ghost_uuid, ap_id, ap_id_hash) VALUES (?, ?, UNHEX(SHA2(LOWER(?), 256)))`); err != nil {
		return nil, fmt.Errorf("repo: prepare mapping insert: %w", err)
	}
	return s, nil
}

// ApIDFor returns the apId already mapped to ghostUUID, if any.
func (s *GhostMappingStore) ApIDFor(ctx context.Context, ghostUUID string) (string, error) {
	var apID string
	err := s.getByGhostUUID.QueryRowContext(ctx, ghostUUID).Scan(&apID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.New(domain.KindNotFound, "no mapping for ghost uuid")
	}
	if err != nil {
		return "", fmt.Errorf("repo: mapping getByGhostUUID %q: %w", ghostUUID, err)
	}
	return apID, nil
}

// Create inserts a new ghostUUID -> apId mapping. A unique-constraint
// violation on ghost_uuid means a concurrent webhook replay already
// claimed it; this is reported as domain.KindPostAlreadyExists so
// callers can treat it as the idempotence case spec.md §4.3 names.
func (s *GhostMappingStore) Create(ctx context.Context, ghostUUID, apID string) error {
	_, err := s.insert.ExecContext(ctx, ghostUUID, apID, apID)
	if err == nil {
		return nil
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
		return domain.New(domain.KindPostAlreadyExists, "ghost post already mapped")
	}
	return fmt.Errorf("repo: mapping insert %q: %w", ghostUUID, err)
}
