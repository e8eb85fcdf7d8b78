package domain

import (
	"fmt"
	"time"
)

// PostType distinguishes Articles (titled, long-form; published via the
// Ghost webhook) from Notes (untitled, created directly or received via
// federation).
type PostType string

const (
	PostTypeArticle PostType = "Article"
	PostTypeNote    PostType = "Note"
)

// Audience controls addressing of the activity that carries a Post.
type Audience string

const (
	AudiencePublic        Audience = "Public"
	AudienceFollowersOnly Audience = "FollowersOnly"
	AudienceDirect        Audience = "Direct"
)

// Attachment is a single media item on a Post.
type Attachment struct {
	URL       string
	MediaType string
	Name      string
}

// Post is an Article or Note authored by an Account. See spec.md §3.
type Post struct {
	eventSource

	ID       int64
	UUID     string
	Type     PostType
	Audience Audience
	AuthorID int64

	Title        string // empty for Notes
	Excerpt      string
	Summary      string
	Content      string
	URL          string
	ImageURL     string
	PublishedAt  time.Time

	InReplyTo  int64 // 0 if not a reply
	ThreadRoot int64 // set to Self.ID if not a reply, else to InReplyTo's root

	LikeCount   int
	RepostCount int
	ReplyCount  int

	ReadingTimeMinutes int
	Attachments        []Attachment
	ApID               string
	Metadata           map[string]interface{}

	DeletedAt time.Time // zero means not deleted

	dirty map[string]bool
}

// IsDeleted reports whether the post has been soft-deleted.
func (p *Post) IsDeleted() bool {
	return !p.DeletedAt.IsZero()
}

func (p *Post) markDirty(field string) {
	if p.dirty == nil {
		p.dirty = make(map[string]bool)
	}
	p.dirty[field] = true
}

// Dirty returns the set of changed field names for a partial UPDATE.
func (p *Post) Dirty() map[string]bool {
	return p.dirty
}

// ResolveThreadRoot applies spec.md §3's invariant: "Thread root is set
// to self if not a reply; otherwise to inReplyTo's root." parentRoot is
// the in-reply-to post's own ThreadRoot (0 if it has none, i.e. the
// parent is itself the root).
func (p *Post) ResolveThreadRoot(parentRoot int64) {
	if p.InReplyTo == 0 {
		p.ThreadRoot = p.ID
		return
	}
	if parentRoot != 0 {
		p.ThreadRoot = parentRoot
	} else {
		p.ThreadRoot = p.InReplyTo
	}
}

// DeterministicApID computes the canonical activity-object URL for an
// internally-authored post, per spec.md §3:
// "<site>/.ghost/activitypub/{article|note}/{uuid}".
func DeterministicApID(siteOrigin, pathPrefix string, t PostType, uuid string) string {
	kind := "note"
	if t == PostTypeArticle {
		kind = "article"
	}
	return fmt.Sprintf("%s%s/%s/%s", siteOrigin, pathPrefix, kind, uuid)
}

// MarkCreated records that this post is being created, so
// feed/notification projections can fan it out. Callers invoke it
// before PostRepository.Insert, which fills in the event's PostID once
// the row id is assigned.
func (p *Post) MarkCreated() {
	p.emit(Event{Kind: EventPostCreated, At: time.Now(), PostID: p.ID, ActorID: p.AuthorID})
}

// Delete soft-deletes the post. Once DeletedAt is set, Like and Repost
// return KindNotAPost; Unlike, Derepost and AddReply do not check it,
// and neither does the repository layer.
func (p *Post) Delete() error {
	if p.IsDeleted() {
		return nil
	}
	p.DeletedAt = time.Now()
	p.markDirty("deleted_at")
	p.emit(Event{Kind: EventPostDeleted, At: time.Now(), PostID: p.ID, ActorID: p.AuthorID})
	return nil
}

// Like records that the like counter has been incremented for actorID
// and emits PostLiked. The counter itself is persisted directly by
// PostRepository.RecordLike, atomically with the like edge insert
// (spec.md §4.3: "edge insert and counter increment happen in one
// transaction"); callers must only call Like after RecordLike reports
// the edge as newly created, so this only updates the in-memory count
// and emits the event for projections — it does not mark the field
// dirty, since Save must never re-persist an absolute counter value
// (that would race a concurrent like from another actor).
func (p *Post) Like(actorID int64) error {
	if p.IsDeleted() {
		return New(KindNotAPost, "post is deleted")
	}
	p.LikeCount++
	p.emit(Event{Kind: EventPostLiked, At: time.Now(), PostID: p.ID, ActorID: actorID})
	return nil
}

// Unlike is Like's counterpart: callers must only call it after
// PostRepository.RemoveLike reports the edge as actually removed.
func (p *Post) Unlike(actorID int64) error {
	if p.LikeCount > 0 {
		p.LikeCount--
	}
	p.emit(Event{Kind: EventPostDisliked, At: time.Now(), PostID: p.ID, ActorID: actorID})
	return nil
}

// Repost is Like's counterpart for reposts; see RecordRepost.
func (p *Post) Repost(actorID int64) error {
	if p.IsDeleted() {
		return New(KindNotAPost, "post is deleted")
	}
	p.RepostCount++
	p.emit(Event{Kind: EventPostReposted, At: time.Now(), PostID: p.ID, ActorID: actorID})
	return nil
}

// Derepost is Unlike's counterpart for reposts; see RemoveRepost.
func (p *Post) Derepost(actorID int64) error {
	if p.RepostCount > 0 {
		p.RepostCount--
	}
	p.emit(Event{Kind: EventPostDereposted, At: time.Now(), PostID: p.ID, ActorID: actorID})
	return nil
}

// AddReply increments the parent's reply counter; called on the thread
// root/parent when a reply Post is created.
func (p *Post) AddReply() {
	p.ReplyCount++
	p.markDirty("reply_count")
}
