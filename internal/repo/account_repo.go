package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/blogfed/apsrv/internal/domain"
	"github.com/blogfed/apsrv/internal/eventbus"
)

// AccountRepository persists Account aggregates and applies their
// domain events transactionally with the row update (C2, spec.md
// §4.1).
type AccountRepository struct {
	db  *sql.DB
	bus *eventbus.Bus

	getByID     *sql.Stmt
	getByApID   *sql.Stmt
	insert      *sql.Stmt
	updateUUID  *sql.Stmt
}

const accountColumns = `id, uuid, username, name, bio, avatar_url, banner_image_url,
	ap_id, ap_inbox_url, ap_shared_inbox_url, ap_outbox_url, ap_followers_url,
	ap_following_url, ap_liked_url, ap_public_key, ap_private_key, url, created_at, deleted_at`

// NewAccountRepository prepares the statements used by the repository.
func NewAccountRepository(db *sql.DB, bus *eventbus.Bus) (*AccountRepository, error) {
	r := &AccountRepository{db: db, bus: bus}
	var err error
	if r.getByID, err = db.Prepare(`SELECT ` + accountColumns + ` FROM accounts WHERE id = ?`); err != nil {
		return nil, fmt.Errorf("repo: prepare account getByID: %w", err)
	}
	if r.getByApID, err = db.Prepare(`SELECT ` + accountColumns + ` FROM accounts
		WHERE ap_id_hash = UNHEX(SHA2(LOWER(?), 256))`); err != nil {
		return nil, fmt.Errorf("repo: prepare account getByApID: %w", err)
	}
	if r.insert, err = db.Prepare(`INSERT INTO accounts
		(uuid, username, name, bio, avatar_url, banner_image_url, ap_id, ap_id_hash,
		 ap_inbox_url, ap_shared_inbox_url, ap_outbox_url, ap_followers_url,
		 ap_following_url, ap_liked_url, ap_public_key, ap_private_key, url,
		 domain_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, UNHEX(SHA2(LOWER(?), 256)), ?, ?, ?, ?, ?, ?, ?, ?, ?,
		 UNHEX(SHA2(LOWER(?), 256)), ?)`); err != nil {
		return nil, fmt.Errorf("repo: prepare account insert: %w", err)
	}
	if r.updateUUID, err = db.Prepare(`UPDATE accounts SET uuid = ? WHERE id = ? AND uuid IS NULL`); err != nil {
		return nil, fmt.Errorf("repo: prepare account updateUUID: %w", err)
	}
	return r, nil
}

func scanAccount(row interface{ Scan(...interface{}) error }) (*domain.Account, error) {
	a := &domain.Account{}
	var uuidVal, url sql.NullString
	var createdAt, deletedAt sql.NullTime
	err := row.Scan(&a.ID, &uuidVal, &a.Username, &a.Name, &a.Bio, &a.AvatarURL,
		&a.BannerImageURL, &a.ApID, &a.ApInbox, &a.ApSharedInbox, &a.ApOutbox,
		&a.ApFollowers, &a.ApFollowing, &a.ApLiked, &a.ApPublicKey, &a.ApPrivateKey,
		&url, &createdAt, &deletedAt)
	if err != nil {
		return nil, err
	}
	a.UUID = uuidVal.String
	a.URL = url.String
	if createdAt.Valid {
		a.CreatedAt = createdAt.Time
	}
	if deletedAt.Valid {
		a.DeletedAt = deletedAt.Time
	}
	return a, nil
}

// backfillUUID assigns and persists a fresh UUID for an account whose
// row has a null uuid column (spec.md §9 "lazy UUID backfill"). Races
// between concurrent readers converge because of the unique column
// and the guard clause in the UPDATE.
func (r *AccountRepository) backfillUUID(ctx context.Context, a *domain.Account) error {
	if a.UUID != "" {
		return nil
	}
	a.UUID = uuid.NewString()
	if _, err := r.updateUUID.ExecContext(ctx, a.UUID, a.ID); err != nil {
		return fmt.Errorf("repo: backfill uuid for account %d: %w", a.ID, err)
	}
	return nil
}

// GetByID loads an account by internal id. Returns a domain error of
// KindNotFound when absent.
func (r *AccountRepository) GetByID(ctx context.Context, id int64) (*domain.Account, error) {
	a, err := scanAccount(r.getByID.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.New(domain.KindNotFound, "account not found")
	}
	if err != nil {
		return nil, fmt.Errorf("repo: getByID account %d: %w", id, err)
	}
	if err := r.backfillUUID(ctx, a); err != nil {
		return nil, err
	}
	return a.WithDefaults(), nil
}

// GetByApID loads an account by its canonical actor URL, comparing
// case-insensitively via the ap_id_hash column.
func (r *AccountRepository) GetByApID(ctx context.Context, apID string) (*domain.Account, error) {
	a, err := scanAccount(r.getByApID.QueryRowContext(ctx, apID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.New(domain.KindNotFound, "account not found")
	}
	if err != nil {
		return nil, fmt.Errorf("repo: getByApID %q: %w", apID, err)
	}
	if err := r.backfillUUID(ctx, a); err != nil {
		return nil, err
	}
	return a.WithDefaults(), nil
}

// Insert creates a new account row (internal or external) and assigns
// its id.
func (r *AccountRepository) Insert(ctx context.Context, a *domain.Account) error {
	a.WithDefaults()
	if a.UUID == "" {
		a.UUID = uuid.NewString()
	}
	res, err := r.insert.ExecContext(ctx,
		a.UUID, a.Username, a.Name, a.Bio, a.AvatarURL, a.BannerImageURL,
		a.ApID, a.ApID, a.ApInbox, a.ApSharedInbox, a.ApOutbox, a.ApFollowers,
		a.ApFollowing, a.ApLiked, a.ApPublicKey, a.ApPrivateKey, a.URL,
		a.Domain(), a.CreatedAt)
	if err != nil {
		return fmt.Errorf("repo: insert account %q: %w", a.ApID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("repo: insert account %q: last insert id: %w", a.ApID, err)
	}
	a.ID = id
	return nil
}

// Save runs the transactional profile UPDATE plus domain event
// side-effects described in spec.md §4.1, then publishes the drained
// events to the bus after commit.
func (r *AccountRepository) Save(ctx context.Context, a *domain.Account) error {
	events := a.PullEvents()

	err := doInTx(ctx, r.db, func(tx *sql.Tx) error {
		if dirty := a.Dirty(); len(dirty) > 0 {
			if err := updateAccountProfile(ctx, tx, a); err != nil {
				return err
			}
		}
		for _, ev := range events {
			if err := applyAccountEvent(ctx, tx, ev); err != nil {
				return fmt.Errorf("repo: apply event %s: %w", ev.Kind, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.bus.PublishAll(events)
	return nil
}

func updateAccountProfile(ctx context.Context, tx *sql.Tx, a *domain.Account) error {
	var deletedAt interface{}
	if !a.DeletedAt.IsZero() {
		deletedAt = a.DeletedAt
	}
	res, err := tx.ExecContext(ctx, `UPDATE accounts SET
		name = ?, bio = ?, username = ?, avatar_url = ?, banner_image_url = ?, deleted_at = ?
		WHERE id = ?`, a.Name, a.Bio, a.Username, a.AvatarURL, a.BannerImageURL, deletedAt, a.ID)
	if err != nil {
		return fmt.Errorf("update account %d: %w", a.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.New(domain.KindNotFound, "account not found")
	}
	return nil
}

func applyAccountEvent(ctx context.Context, tx *sql.Tx, ev domain.Event) error {
	switch ev.Kind {
	case domain.EventAccountFollowed:
		_, err := tx.ExecContext(ctx, `INSERT IGNORE INTO follows (follower_id, following_id, created_at)
			VALUES (?, ?, NOW())`, ev.AccountID, ev.OtherID)
		return err
	case domain.EventAccountUnfollowed:
		_, err := tx.ExecContext(ctx, `DELETE FROM follows WHERE follower_id = ? AND following_id = ?`,
			ev.AccountID, ev.OtherID)
		return err
	case domain.EventAccountBlocked:
		if _, err := tx.ExecContext(ctx, `INSERT IGNORE INTO blocks (blocker_id, blocked_id, created_at)
			VALUES (?, ?, NOW())`, ev.AccountID, ev.OtherID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM follows
			WHERE (follower_id = ? AND following_id = ?) OR (follower_id = ? AND following_id = ?)`,
			ev.AccountID, ev.OtherID, ev.OtherID, ev.AccountID)
		return err
	case domain.EventAccountUnblocked:
		_, err := tx.ExecContext(ctx, `DELETE FROM blocks WHERE blocker_id = ? AND blocked_id = ?`,
			ev.AccountID, ev.OtherID)
		return err
	case domain.EventDomainBlocked:
		if _, err := tx.ExecContext(ctx, `INSERT IGNORE INTO domain_blocks (blocker_id, domain, created_at)
			VALUES (?, ?, NOW())`, ev.AccountID, ev.Domain); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE f FROM follows f
			JOIN accounts ablocker ON ablocker.id = ?
			JOIN accounts aother ON aother.id = f.follower_id OR aother.id = f.following_id
			WHERE (f.follower_id = ? OR f.following_id = ?)
			  AND aother.domain_hash = UNHEX(SHA2(LOWER(?), 256))`,
			ev.AccountID, ev.AccountID, ev.AccountID, ev.Domain)
		return err
	case domain.EventDomainUnblocked:
		_, err := tx.ExecContext(ctx, `DELETE FROM domain_blocks WHERE blocker_id = ? AND domain = ?`,
			ev.AccountID, ev.Domain)
		return err
	default:
		return nil
	}
}

// IsBlocked reports whether blocker blocks target, either directly or
// via a domain block matching target's domain.
func (r *AccountRepository) IsBlocked(ctx context.Context, blockerID int64, target *domain.Account) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM blocks WHERE blocker_id = ? AND blocked_id = ?
		UNION SELECT 1 FROM domain_blocks WHERE blocker_id = ? AND domain = ? LIMIT 1`,
		blockerID, target.ID, blockerID, target.Domain()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("repo: IsBlocked: %w", err)
	}
	return true, nil
}

// IsFollowing reports whether followerID follows followingID.
func (r *AccountRepository) IsFollowing(ctx context.Context, followerID, followingID int64) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM follows WHERE follower_id = ? AND following_id = ?`,
		followerID, followingID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("repo: IsFollowing: %w", err)
	}
	return true, nil
}

// Following returns the page of followed account ids in
// [offset, offset+limit), reverse chronological, tie-broken by account
// id descending (spec.md §4.8).
func (r *AccountRepository) Following(ctx context.Context, accountID int64, offset, limit int) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT following_id FROM follows WHERE follower_id = ?
		ORDER BY created_at DESC, following_id DESC LIMIT ? OFFSET ?`, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("repo: Following: %w", err)
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

// Followers returns the page of follower account ids in
// [offset, offset+limit), reverse chronological by follows.created_at,
// tie-broken by account id descending (spec.md §4.8).
func (r *AccountRepository) Followers(ctx context.Context, accountID int64, offset, limit int) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT follower_id FROM follows WHERE following_id = ?
		ORDER BY created_at DESC, follower_id DESC LIMIT ? OFFSET ?`, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("repo: Followers: %w", err)
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

// AccountCount returns the number of non-deleted internal accounts,
// for the NodeInfo usage.users.total figure (spec.md §6).
func (r *AccountRepository) AccountCount(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts
		WHERE ap_private_key != '' AND deleted_at IS NULL`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("repo: AccountCount: %w", err)
	}
	return n, nil
}
