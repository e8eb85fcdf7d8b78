// Package notification implements the Notification Projection (C11):
// it subscribes to Post/Account events and writes notification rows,
// respecting blocks and the reply/mention dedupe rule, per spec.md
// §4.7.
package notification

import (
	"context"

	"github.com/blogfed/apsrv/internal/applog"
	"github.com/blogfed/apsrv/internal/domain"
	"github.com/blogfed/apsrv/internal/eventbus"
	"github.com/blogfed/apsrv/internal/repo"
)

// Projection writes notification rows for likes, reposts, replies and
// follows.
type Projection struct {
	Notifications *repo.NotificationRepository
	Posts         *repo.PostRepository
	Accounts      *repo.AccountRepository
}

// Subscribe registers the projection's handler on bus.
func (p *Projection) Subscribe(bus *eventbus.Bus) {
	bus.Subscribe(p.handle)
}

func (p *Projection) handle(ev domain.Event) error {
	ctx := context.Background()
	switch ev.Kind {
	case domain.EventAccountFollowed:
		return p.notifyAccount(ctx, ev.OtherID, repo.NotificationFollow, ev.AccountID, 0)
	case domain.EventAccountBlocked:
		return p.Notifications.DeleteByActor(ctx, ev.AccountID, ev.OtherID)
	case domain.EventPostLiked:
		return p.notifyPostAuthor(ctx, ev.PostID, repo.NotificationLike, ev.ActorID)
	case domain.EventPostReposted:
		return p.notifyPostAuthor(ctx, ev.PostID, repo.NotificationRepost, ev.ActorID)
	case domain.EventPostCreated:
		return p.notifyReply(ctx, ev.PostID)
	default:
		return nil
	}
}

func (p *Projection) notifyPostAuthor(ctx context.Context, postID int64, kind repo.NotificationKind, actorID int64) error {
	post, err := p.Posts.GetByID(ctx, postID)
	if err != nil {
		return err
	}
	return p.notifyAccount(ctx, post.AuthorID, kind, actorID, postID)
}

// notifyReply creates a reply notification for a post's thread parent
// author, when the new post is in fact a reply. AS2 tag/mention
// parsing isn't implemented (internal/as has no Tag field), so a post
// that is both a reply and an @mention of the same recipient only ever
// produces the reply notification, never a separate mention one.
func (p *Projection) notifyReply(ctx context.Context, postID int64) error {
	post, err := p.Posts.GetByID(ctx, postID)
	if err != nil {
		return err
	}
	if post.InReplyTo == 0 {
		return nil
	}
	parent, err := p.Posts.GetByID(ctx, post.InReplyTo)
	if domain.Is(err, domain.KindNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return p.notifyAccount(ctx, parent.AuthorID, repo.NotificationReply, post.AuthorID, post.ID)
}

func (p *Projection) notifyAccount(ctx context.Context, recipientID int64, kind repo.NotificationKind, actorID, postID int64) error {
	actor, err := p.Accounts.GetByID(ctx, actorID)
	if err != nil {
		return err
	}
	blocked, err := p.Accounts.IsBlocked(ctx, recipientID, actor)
	if err != nil {
		return err
	}
	if blocked {
		return nil
	}
	if err := p.Notifications.Create(ctx, recipientID, kind, actorID, postID); err != nil {
		applog.Error.Errorf("notification: create recipient=%d kind=%s: %v", recipientID, kind, err)
	}
	return nil
}
