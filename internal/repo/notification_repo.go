package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// NotificationKind distinguishes the reasons a notification was
// created (spec.md §4.7).
type NotificationKind string

const (
	NotificationLike    NotificationKind = "like"
	NotificationRepost  NotificationKind = "repost"
	NotificationReply   NotificationKind = "reply"
	NotificationMention NotificationKind = "mention"
	NotificationFollow  NotificationKind = "follow"
)

// NotificationRepository writes and reads the notifications
// projection (C11, spec.md §4.7).
type NotificationRepository struct {
	db *sql.DB

	insert        *sql.Stmt
	deleteByActor *sql.Stmt
}

// NewNotificationRepository prepares the statements used by the
// repository.
func NewNotificationRepository(db *sql.DB) (*NotificationRepository, error) {
	r := &NotificationRepository{db: db}
	var err error
	if r.insert, err = db.Prepare(`INSERT INTO notifications
		(recipient_id, kind, actor_id, post_id, created_at) VALUES (?, ?, ?, ?, NOW())`); err != nil {
		return nil, fmt.Errorf("repo: prepare notification insert: %w", err)
	}
	if r.deleteByActor, err = db.Prepare(`DELETE FROM notifications WHERE recipient_id = ? AND actor_id = ?`); err != nil {
		return nil, fmt.Errorf("repo: prepare notification deleteByActor: %w", err)
	}
	return r, nil
}

// Create records a notification for recipientID caused by actorID,
// optionally about postID (zero when not post-related, e.g. Follow).
func (r *NotificationRepository) Create(ctx context.Context, recipientID int64, kind NotificationKind, actorID, postID int64) error {
	if recipientID == actorID {
		return nil // spec.md §8: self-anything is a no-op
	}
	var post interface{}
	if postID != 0 {
		post = postID
	}
	if _, err := r.insert.ExecContext(ctx, recipientID, string(kind), actorID, post); err != nil {
		return fmt.Errorf("repo: notification create recipient=%d actor=%d: %w", recipientID, actorID, err)
	}
	return nil
}

// DeleteByActor removes every notification recipientID has received
// from actorID, per spec.md §4.7 "On account block: remove all
// existing notifications originating from that account".
func (r *NotificationRepository) DeleteByActor(ctx context.Context, recipientID, actorID int64) error {
	if _, err := r.deleteByActor.ExecContext(ctx, recipientID, actorID); err != nil {
		return fmt.Errorf("repo: notification deleteByActor recipient=%d actor=%d: %w", recipientID, actorID, err)
	}
	return nil
}

// Page returns the page of notifications for recipientID in
// [offset, offset+limit), most recent first.
func (r *NotificationRepository) Page(ctx context.Context, recipientID int64, offset, limit int) ([]Notification, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, kind, actor_id, post_id, created_at FROM notifications
		WHERE recipient_id = ? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, recipientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("repo: notification page: %w", err)
	}
	defer rows.Close()
	var out []Notification
	for rows.Next() {
		var n Notification
		var postID sql.NullInt64
		if err := rows.Scan(&n.ID, &n.Kind, &n.ActorID, &postID, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.PostID = postID.Int64
		out = append(out, n)
	}
	return out, rows.Err()
}

// Notification is one row of the notifications projection.
type Notification struct {
	ID        int64
	Kind      NotificationKind
	ActorID   int64
	PostID    int64
	CreatedAt time.Time
}
