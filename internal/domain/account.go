package domain

import (
	"net/url"
	"time"
)

// Account is an ActivityPub actor: either internal (owned by a Site,
// carrying a private key) or external (discovered via WebFinger/lookup).
// See spec.md §3.
type Account struct {
	eventSource

	ID       int64
	UUID     string // lazily backfilled on read if empty, see AccountRepository.GetByID/GetByApID
	Username string
	Name     string
	Bio      string
	AvatarURL       string
	BannerImageURL  string

	ApID          string // canonical actor URL, unique
	ApInbox       string
	ApSharedInbox string
	ApOutbox      string
	ApFollowers   string
	ApFollowing   string
	ApLiked       string
	ApPublicKey   string
	ApPrivateKey  string // internal only; empty for external accounts

	URL       string // defaults to ApID when empty, see WithDefaults
	CreatedAt time.Time
	DeletedAt time.Time // zero means not deleted

	dirty map[string]bool // profile-change tracking; see Dirty
}

// IsDeleted reports whether the account has been soft-deleted, e.g. on
// receiving a remote Delete(actor) activity (spec.md §4.4 step 6).
func (a *Account) IsDeleted() bool {
	return !a.DeletedAt.IsZero()
}

// Delete soft-deletes the account. Idempotent.
func (a *Account) Delete() error {
	if a.IsDeleted() {
		return nil
	}
	a.DeletedAt = time.Now()
	a.markDirty("deleted_at")
	return nil
}

// IsInternal reports whether this account is owned by a local Site
// (has a private key) as opposed to a remote, externally-discovered
// actor.
func (a *Account) IsInternal() bool {
	return a.ApPrivateKey != ""
}

// WithDefaults fills derived fields that have simple, deterministic
// defaults (spec.md §3: "url defaults to apId when missing").
func (a *Account) WithDefaults() *Account {
	if a.URL == "" {
		a.URL = a.ApID
	}
	return a
}

// Domain extracts the host component of the account's ApID, used for
// domain-block comparisons.
func (a *Account) Domain() string {
	return hostOf(a.ApID)
}

// markDirty records that a mutable profile field changed, so the
// repository knows the profile needs writing. Mirrors the teacher's
// dirty-flag pattern used for Post updates (spec.md §4.2).
func (a *Account) markDirty(field string) {
	if a.dirty == nil {
		a.dirty = make(map[string]bool)
	}
	a.dirty[field] = true
}

// Dirty returns the set of field names changed since the account was
// loaded. AccountRepository.Save runs its profile UPDATE, which writes
// every profile column, only when this set is non-empty.
func (a *Account) Dirty() map[string]bool {
	return a.dirty
}

// SetProfile updates the mutable profile fields of the account and
// tracks which of them actually changed.
func (a *Account) SetProfile(name, bio, avatarURL, bannerImageURL string) {
	if a.Name != name {
		a.Name = name
		a.markDirty("name")
	}
	if a.Bio != bio {
		a.Bio = bio
		a.markDirty("bio")
	}
	if a.AvatarURL != avatarURL {
		a.AvatarURL = avatarURL
		a.markDirty("avatar_url")
	}
	if a.BannerImageURL != bannerImageURL {
		a.BannerImageURL = bannerImageURL
		a.markDirty("banner_image_url")
	}
}

// Follow records that this account now follows other. Self-follow is a
// silent no-op (spec.md §8 "self-anything is a no-op").
func (a *Account) Follow(other *Account) error {
	if a.ID == other.ID {
		return nil
	}
	a.emit(Event{Kind: EventAccountFollowed, At: time.Now(), AccountID: a.ID, OtherID: other.ID})
	return nil
}

// Unfollow records that this account no longer follows other.
// Tolerates an absent edge (idempotent, per spec.md §5 ordering
// guarantees: an Undo may race ahead of its Follow).
func (a *Account) Unfollow(other *Account) error {
	if a.ID == other.ID {
		return nil
	}
	a.emit(Event{Kind: EventAccountUnfollowed, At: time.Now(), AccountID: a.ID, OtherID: other.ID})
	return nil
}

// Block records that this account blocks other, severing any existing
// follow edge between the pair in both directions (applied by the
// repository within the same transaction as this event, spec.md §3).
func (a *Account) Block(other *Account) error {
	if a.ID == other.ID {
		return nil
	}
	a.emit(Event{Kind: EventAccountBlocked, At: time.Now(), AccountID: a.ID, OtherID: other.ID})
	return nil
}

// Unblock removes an existing block.
func (a *Account) Unblock(other *Account) error {
	if a.ID == other.ID {
		return nil
	}
	a.emit(Event{Kind: EventAccountUnblocked, At: time.Now(), AccountID: a.ID, OtherID: other.ID})
	return nil
}

// BlockDomain blocks an entire remote domain, severing any follow edge
// whose counterparty's account domain matches.
func (a *Account) BlockDomain(domain string) error {
	if domain == "" || domain == a.Domain() {
		return nil
	}
	a.emit(Event{Kind: EventDomainBlocked, At: time.Now(), AccountID: a.ID, Domain: domain})
	return nil
}

// UnblockDomain removes a domain block.
func (a *Account) UnblockDomain(domain string) error {
	if domain == "" {
		return nil
	}
	a.emit(Event{Kind: EventDomainUnblocked, At: time.Now(), AccountID: a.ID, Domain: domain})
	return nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}
