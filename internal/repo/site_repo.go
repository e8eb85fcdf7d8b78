package repo

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/blogfed/apsrv/internal/cryptoutil"
	"github.com/blogfed/apsrv/internal/domain"
	"github.com/blogfed/apsrv/internal/paths"
)

// Site is one tenant: an HTTP host bound to a single default internal
// Account (spec.md §3).
type Site struct {
	ID            int64
	Host          string
	WebhookSecret string
	GhostUUID     string
	DefaultAccountID int64
}

// SiteRegistry maps an HTTP host to its tenant row and provisions new
// tenants (C4, spec.md §2).
type SiteRegistry struct {
	db *sql.DB

	getByHost *sql.Stmt
	insert    *sql.Stmt
	bindUser  *sql.Stmt
}

// NewSiteRegistry prepares the statements used by the registry.
func NewSiteRegistry(db *sql.DB) (*SiteRegistry, error) {
	r := &SiteRegistry{db: db}
	var err error
	if r.getByHost, err = db.Prepare(`SELECT s.id, s.host, s.webhook_secret, s.ghost_uuid, u.account_id
		FROM sites s JOIN users u ON u.site_id = s.id WHERE s.host = ?`); err != nil {
		return nil, fmt.Errorf("repo: prepare site getByHost: %w", err)
	}
	if r.insert, err = db.Prepare(`INSERT INTO sites (host, webhook_secret, ghost_uuid) VALUES (?, ?, ?)`); err != nil {
		return nil, fmt.Errorf("repo: prepare site insert: %w", err)
	}
	if r.bindUser, err = db.Prepare(`INSERT INTO users (site_id, account_id) VALUES (?, ?)`); err != nil {
		return nil, fmt.Errorf("repo: prepare site bindUser: %w", err)
	}
	return r, nil
}

// GetByHost looks up the tenant owning host (already lowercased by
// the caller).
func (r *SiteRegistry) GetByHost(ctx context.Context, host string) (*Site, error) {
	s := &Site{}
	var ghostUUID sql.NullString
	err := r.getByHost.QueryRowContext(ctx, host).Scan(&s.ID, &s.Host, &s.WebhookSecret, &ghostUUID, &s.DefaultAccountID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.New(domain.KindNotFound, "site not found")
	}
	if err != nil {
		return nil, fmt.Errorf("repo: site getByHost %q: %w", host, err)
	}
	s.GhostUUID = ghostUUID.String
	return s, nil
}

// generateWebhookSecret returns a random 32-byte hex string, per
// spec.md §3 ("webhook_secret (random 32-byte hex)").
func generateWebhookSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("repo: generate webhook secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Provision creates a new Site for host, generates its default
// internal Account's RSA key pair, and binds the two via the users
// join table (spec.md §3 "exactly one default Account is bound to a
// Site via a Users join"). The account insert, the site insert and the
// binding are three separate statements, not one transaction: a
// failure after the account insert leaves that account row unbound.
func (r *SiteRegistry) Provision(ctx context.Context, host string, baseURL string, accounts *AccountRepository) (*Site, error) {
	secret, err := generateWebhookSecret()
	if err != nil {
		return nil, err
	}

	kp, err := cryptoutil.Generate()
	if err != nil {
		return nil, fmt.Errorf("repo: provision %q: %w", host, err)
	}
	privPEM, err := cryptoutil.EncodePrivatePEM(kp.Private)
	if err != nil {
		return nil, err
	}
	pubPEM, err := cryptoutil.EncodePublicPEM(kp.Public)
	if err != nil {
		return nil, err
	}

	handle := "index"
	apID := paths.Actor(baseURL, handle)
	account := &domain.Account{
		Username:      handle,
		ApID:          apID,
		ApInbox:       paths.Inbox(baseURL, handle),
		ApSharedInbox: paths.SharedInbox(baseURL),
		ApOutbox:      paths.Outbox(baseURL, handle),
		ApFollowers:   paths.Followers(baseURL, handle),
		ApFollowing:   paths.Following(baseURL, handle),
		ApLiked:       paths.Liked(baseURL, handle),
		ApPublicKey:   pubPEM,
		ApPrivateKey:  privPEM,
		CreatedAt:     time.Now(),
	}
	if err := accounts.Insert(ctx, account); err != nil {
		return nil, fmt.Errorf("repo: provision %q: insert default account: %w", host, err)
	}

	res, err := r.insert.ExecContext(ctx, host, secret, nil)
	if err != nil {
		return nil, fmt.Errorf("repo: provision %q: insert site: %w", host, err)
	}
	siteID, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("repo: provision %q: last insert id: %w", host, err)
	}
	if _, err := r.bindUser.ExecContext(ctx, siteID, account.ID); err != nil {
		return nil, fmt.Errorf("repo: provision %q: bind user: %w", host, err)
	}

	return &Site{ID: siteID, Host: host, WebhookSecret: secret, DefaultAccountID: account.ID}, nil
}
