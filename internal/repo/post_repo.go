package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/blogfed/apsrv/internal/domain"
	"github.com/blogfed/apsrv/internal/eventbus"
)

// PostRepository persists Post aggregates and publishes their
// lifecycle events after commit (C3, spec.md §4.2).
type PostRepository struct {
	db  *sql.DB
	bus *eventbus.Bus

	getByID   *sql.Stmt
	getByApID *sql.Stmt
	insert    *sql.Stmt
}

const postColumns = `id, uuid, type, audience, author_id, title, excerpt, summary, content,
	url, image_url, published_at, in_reply_to, thread_root, like_count, repost_count,
	reply_count, reading_time_minutes, attachments, ap_id, metadata, deleted_at`

// NewPostRepository prepares the statements used by the repository.
func NewPostRepository(db *sql.DB, bus *eventbus.Bus) (*PostRepository, error) {
	r := &PostRepository{db: db, bus: bus}
	var err error
	if r.getByID, err = db.Prepare(`SELECT ` + postColumns + ` FROM posts WHERE id = ?`); err != nil {
		return nil, fmt.Errorf("repo: prepare post getByID: %w", err)
	}
	if r.getByApID, err = db.Prepare(`SELECT ` + postColumns + ` FROM posts WHERE ap_id = ?`); err != nil {
		return nil, fmt.Errorf("repo: prepare post getByApID: %w", err)
	}
	if r.insert, err = db.Prepare(`INSERT INTO posts
		(uuid, type, audience, author_id, title, excerpt, summary, content, url, image_url,
		 published_at, in_reply_to, thread_root, like_count, repost_count, reply_count,
		 reading_time_minutes, attachments, ap_id, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`); err != nil {
		return nil, fmt.Errorf("repo: prepare post insert: %w", err)
	}
	return r, nil
}

func scanPost(row interface{ Scan(...interface{}) error }) (*domain.Post, error) {
	p := &domain.Post{}
	var inReplyTo, threadRoot sql.NullInt64
	var publishedAt, deletedAt sql.NullTime
	var attachmentsJSON, metadataJSON []byte
	err := row.Scan(&p.ID, &p.UUID, &p.Type, &p.Audience, &p.AuthorID, &p.Title, &p.Excerpt,
		&p.Summary, &p.Content, &p.URL, &p.ImageURL, &publishedAt, &inReplyTo, &threadRoot,
		&p.LikeCount, &p.RepostCount, &p.ReplyCount, &p.ReadingTimeMinutes, &attachmentsJSON,
		&p.ApID, &metadataJSON, &deletedAt)
	if err != nil {
		return nil, err
	}
	if publishedAt.Valid {
		p.PublishedAt = publishedAt.Time
	}
	if deletedAt.Valid {
		p.DeletedAt = deletedAt.Time
	}
	p.InReplyTo = inReplyTo.Int64
	p.ThreadRoot = threadRoot.Int64
	if len(attachmentsJSON) > 0 {
		_ = json.Unmarshal(attachmentsJSON, &p.Attachments)
	}
	if len(metadataJSON) > 0 {
		_ = json.Unmarshal(metadataJSON, &p.Metadata)
	}
	return p, nil
}

// GetByID loads a post by internal id.
func (r *PostRepository) GetByID(ctx context.Context, id int64) (*domain.Post, error) {
	p, err := scanPost(r.getByID.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.New(domain.KindNotFound, "post not found")
	}
	if err != nil {
		return nil, fmt.Errorf("repo: getByID post %d: %w", id, err)
	}
	return p, nil
}

// GetByApID loads a post by its canonical activity-object URL.
func (r *PostRepository) GetByApID(ctx context.Context, apID string) (*domain.Post, error) {
	p, err := scanPost(r.getByApID.QueryRowContext(ctx, apID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.New(domain.KindNotFound, "post not found")
	}
	if err != nil {
		return nil, fmt.Errorf("repo: getByApID post %q: %w", apID, err)
	}
	return p, nil
}

// Insert creates a new post row, assigns its id, and publishes its
// pulled events (PostCreated) after commit.
func (r *PostRepository) Insert(ctx context.Context, p *domain.Post) error {
	if p.UUID == "" {
		p.UUID = uuid.NewString()
	}
	attachmentsJSON, err := json.Marshal(p.Attachments)
	if err != nil {
		return fmt.Errorf("repo: marshal attachments: %w", err)
	}
	metadataJSON, err := json.Marshal(p.Metadata)
	if err != nil {
		return fmt.Errorf("repo: marshal metadata: %w", err)
	}

	var nullInReplyTo, nullThreadRoot interface{}
	if p.InReplyTo != 0 {
		nullInReplyTo = p.InReplyTo
	}
	if p.ThreadRoot != 0 {
		nullThreadRoot = p.ThreadRoot
	}

	events := p.PullEvents()

	res, err := r.insert.ExecContext(ctx, p.UUID, p.Type, p.Audience, p.AuthorID, p.Title,
		p.Excerpt, p.Summary, p.Content, p.URL, p.ImageURL, p.PublishedAt, nullInReplyTo,
		nullThreadRoot, p.LikeCount, p.RepostCount, p.ReplyCount, p.ReadingTimeMinutes,
		attachmentsJSON, p.ApID, metadataJSON)
	if err != nil {
		return fmt.Errorf("repo: insert post %q: %w", p.ApID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("repo: insert post %q: last insert id: %w", p.ApID, err)
	}
	p.ID = id
	// Events emitted before the insert (MarkCreated) carry PostID 0.
	for i := range events {
		if events[i].PostID == 0 {
			events[i].PostID = id
		}
	}

	r.bus.PublishAll(events)
	return nil
}

// Save applies a partial UPDATE built from the aggregate's dirty
// fields, then publishes its drained events after commit (C3,
// spec.md §4.2).
func (r *PostRepository) Save(ctx context.Context, p *domain.Post) error {
	events := p.PullEvents()
	dirty := p.Dirty()

	if len(dirty) > 0 {
		set, args := buildPostUpdate(p, dirty)
		args = append(args, p.ID)
		if _, err := r.db.ExecContext(ctx, `UPDATE posts SET `+set+` WHERE id = ?`, args...); err != nil {
			return fmt.Errorf("repo: update post %d: %w", p.ID, err)
		}
	}

	r.bus.PublishAll(events)
	return nil
}

func buildPostUpdate(p *domain.Post, dirty map[string]bool) (string, []interface{}) {
	set := ""
	var args []interface{}
	add := func(col string, val interface{}) {
		if set != "" {
			set += ", "
		}
		set += col + " = ?"
		args = append(args, val)
	}
	if dirty["deleted_at"] {
		add("deleted_at", p.DeletedAt)
	}
	if dirty["reply_count"] {
		add("reply_count", p.ReplyCount)
	}
	return set, args
}

// Publish drains p's accumulated events and publishes them with no
// accompanying write. Used after RecordLike/RemoveLike/RecordRepost/
// RemoveRepost, whose counter update already committed transactionally
// alongside the edge insert/delete — a second absolute-value UPDATE via
// Save would race with a concurrent like/repost from another actor and
// could clobber it (spec.md §4.3 "conditional increment for the
// counter").
func (r *PostRepository) Publish(p *domain.Post) {
	r.bus.PublishAll(p.PullEvents())
}

// RecordLike atomically inserts the (post, account) like edge,
// ignore-on-conflict, and increments like_count only when the edge is
// newly created, in one transaction (spec.md §4.3/§4.4: "ignore-on-
// conflict for the edge, conditional increment for the counter").
// Returns whether the edge was newly created.
func (r *PostRepository) RecordLike(ctx context.Context, postID, accountID int64) (bool, error) {
	return r.recordEdge(ctx, "likes", "like_count", postID, accountID)
}

// RemoveLike atomically deletes the (post, account) like edge and
// decrements like_count only when a row was actually removed. No-op,
// not an error, if the edge is already absent (spec.md §4.4 Undo(Like):
// "idempotent: no-op if edge absent").
func (r *PostRepository) RemoveLike(ctx context.Context, postID, accountID int64) (bool, error) {
	return r.removeEdge(ctx, "likes", "like_count", postID, accountID)
}

// RecordRepost is RecordLike's counterpart for the reposts edge/counter.
func (r *PostRepository) RecordRepost(ctx context.Context, postID, accountID int64) (bool, error) {
	return r.recordEdge(ctx, "reposts", "repost_count", postID, accountID)
}

// RemoveRepost is RemoveLike's counterpart for the reposts edge/counter.
func (r *PostRepository) RemoveRepost(ctx context.Context, postID, accountID int64) (bool, error) {
	return r.removeEdge(ctx, "reposts", "repost_count", postID, accountID)
}

func (r *PostRepository) recordEdge(ctx context.Context, table, counterCol string, postID, accountID int64) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("repo: record %s edge tx: %w", table, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `INSERT IGNORE INTO `+table+` (post_id, account_id) VALUES (?, ?)`, postID, accountID)
	if err != nil {
		return false, fmt.Errorf("repo: insert %s edge: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("repo: insert %s edge: %w", table, err)
	}
	if n == 0 {
		return false, tx.Commit()
	}
	if _, err := tx.ExecContext(ctx, `UPDATE posts SET `+counterCol+` = `+counterCol+` + 1 WHERE id = ?`, postID); err != nil {
		return false, fmt.Errorf("repo: increment %s: %w", counterCol, err)
	}
	return true, tx.Commit()
}

func (r *PostRepository) removeEdge(ctx context.Context, table, counterCol string, postID, accountID int64) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("repo: remove %s edge tx: %w", table, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE post_id = ? AND account_id = ?`, postID, accountID)
	if err != nil {
		return false, fmt.Errorf("repo: delete %s edge: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("repo: delete %s edge: %w", table, err)
	}
	if n == 0 {
		return false, tx.Commit()
	}
	if _, err := tx.ExecContext(ctx, `UPDATE posts SET `+counterCol+` = GREATEST(`+counterCol+` - 1, 0) WHERE id = ?`, postID); err != nil {
		return false, fmt.Errorf("repo: decrement %s: %w", counterCol, err)
	}
	return true, tx.Commit()
}

// SetThreadRootSelf sets thread_root = id for a freshly inserted
// non-reply post, whose thread root is itself (spec.md §3) but whose
// id is only known after the INSERT completes.
func (r *PostRepository) SetThreadRootSelf(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE posts SET thread_root = ? WHERE id = ?`, id, id); err != nil {
		return fmt.Errorf("repo: set thread root for post %d: %w", id, err)
	}
	return nil
}

// ByAuthor returns the page of apIds of authorID's non-deleted posts,
// reverse chronological by id (spec.md §4.8's outbox collection).
func (r *PostRepository) ByAuthor(ctx context.Context, authorID int64, offset, limit int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT ap_id FROM posts
		WHERE author_id = ? AND deleted_at IS NULL
		ORDER BY id DESC LIMIT ? OFFSET ?`, authorID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("repo: ByAuthor: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var apID string
		if err := rows.Scan(&apID); err != nil {
			return nil, err
		}
		ids = append(ids, apID)
	}
	return ids, rows.Err()
}

// LikedByAccount returns the page of apIds of posts accountID has
// liked, reverse chronological by post id (spec.md §4.8's liked
// collection).
func (r *PostRepository) LikedByAccount(ctx context.Context, accountID int64, offset, limit int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT p.ap_id FROM likes l JOIN posts p ON p.id = l.post_id
		WHERE l.account_id = ? ORDER BY p.id DESC LIMIT ? OFFSET ?`, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("repo: LikedByAccount: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var apID string
		if err := rows.Scan(&apID); err != nil {
			return nil, err
		}
		ids = append(ids, apID)
	}
	return ids, rows.Err()
}

// Replies returns the page of apIds of posts directly replying to
// parentID, reverse chronological by id (thread view, spec.md §4.8).
func (r *PostRepository) Replies(ctx context.Context, parentID int64, offset, limit int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT ap_id FROM posts
		WHERE in_reply_to = ? AND deleted_at IS NULL
		ORDER BY id DESC LIMIT ? OFFSET ?`, parentID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("repo: Replies: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var apID string
		if err := rows.Scan(&apID); err != nil {
			return nil, err
		}
		ids = append(ids, apID)
	}
	return ids, rows.Err()
}

// FollowersInboxes returns the distinct inbox URLs of accountID's
// followers, preferring the shared inbox when present, for outbox
// fan-out.
func (r *PostRepository) FollowersInboxes(ctx context.Context, accountID int64) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT COALESCE(NULLIF(a.ap_shared_inbox_url, ''), a.ap_inbox_url)
		FROM follows f JOIN accounts a ON a.id = f.follower_id WHERE f.following_id = ?`, accountID)
	if err != nil {
		return nil, fmt.Errorf("repo: FollowersInboxes: %w", err)
	}
	defer rows.Close()
	var inboxes []string
	for rows.Next() {
		var inbox string
		if err := rows.Scan(&inbox); err != nil {
			return nil, err
		}
		inboxes = append(inboxes, inbox)
	}
	return inboxes, rows.Err()
}

// LocalPostCount returns the number of non-deleted posts authored by
// internal accounts, for the NodeInfo usage.localPosts figure (spec.md
// §6).
func (r *PostRepository) LocalPostCount(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts p
		JOIN accounts a ON a.id = p.author_id
		WHERE a.ap_private_key != '' AND p.deleted_at IS NULL`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("repo: LocalPostCount: %w", err)
	}
	return n, nil
}
