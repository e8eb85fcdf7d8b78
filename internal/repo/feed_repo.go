package repo

import (
	"context"
	"database/sql"
	"fmt"
)

// FeedRepository writes and reads the denormalized per-account feed
// projection (C10, spec.md §4.7).
type FeedRepository struct {
	db *sql.DB

	insert *sql.Stmt
}

// NewFeedRepository prepares the statements used by the repository.
func NewFeedRepository(db *sql.DB) (*FeedRepository, error) {
	r := &FeedRepository{db: db}
	var err error
	if r.insert, err = db.Prepare(`INSERT IGNORE INTO feeds (account_id, post_id, created_at) VALUES (?, ?, NOW())`); err != nil {
		return nil, fmt.Errorf("repo: prepare feed insert: %w", err)
	}
	return r, nil
}

// Append adds postID to accountID's feed. Idempotent: a replayed event
// for the same (account, post) pair is a no-op.
func (r *FeedRepository) Append(ctx context.Context, accountID, postID int64) error {
	_, err := r.insert.ExecContext(ctx, accountID, postID)
	if err != nil {
		return fmt.Errorf("repo: feed append account=%d post=%d: %w", accountID, postID, err)
	}
	return nil
}

// Page returns the page of post ids in accountID's feed in
// [offset, offset+limit), reverse chronological.
func (r *FeedRepository) Page(ctx context.Context, accountID int64, offset, limit int) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT post_id FROM feeds WHERE account_id = ?
		ORDER BY created_at DESC, post_id DESC LIMIT ? OFFSET ?`, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("repo: feed page: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
