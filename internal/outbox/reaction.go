package outbox

import (
	"context"

	"github.com/blogfed/apsrv/internal/as"
	"github.com/blogfed/apsrv/internal/domain"
)

// Like implements spec.md §4.3 like(): locates the post by apId,
// records the like edge (ignore-on-conflict) and conditionally
// increments the counter in one transaction, then dispatches a Like
// activity to the post's author — only when the edge was newly
// created, so a retried request never double-delivers.
func (s *Service) Like(ctx context.Context, actor *domain.Account, postApID string) error {
	post, err := s.Posts.GetByApID(ctx, postApID)
	if err != nil {
		return err
	}
	if post.IsDeleted() {
		return domain.New(domain.KindNotAPost, "post is deleted")
	}
	newEdge, err := s.Posts.RecordLike(ctx, post.ID, actor.ID)
	if err != nil {
		return err
	}
	if !newEdge {
		return nil
	}
	if err := post.Like(actor.ID); err != nil {
		return err
	}
	s.Posts.Publish(post)

	author, err := s.Accounts.GetByID(ctx, post.AuthorID)
	if err != nil {
		return err
	}
	if !author.IsInternal() {
		activity := as.NewLike(as.ActivityID(actor.ApID, "like", newUUID()), actor.ApID, post.ApID)
		return s.deliver(ctx, actor, activity, author.ApInbox)
	}
	return nil
}

// Unlike implements unlike(): symmetric with Like, dispatching
// Undo(Like) only when the like edge actually existed.
func (s *Service) Unlike(ctx context.Context, actor *domain.Account, postApID string) error {
	post, err := s.Posts.GetByApID(ctx, postApID)
	if err != nil {
		return err
	}
	removed, err := s.Posts.RemoveLike(ctx, post.ID, actor.ID)
	if err != nil {
		return err
	}
	if !removed {
		return nil
	}
	if err := post.Unlike(actor.ID); err != nil {
		return err
	}
	s.Posts.Publish(post)

	author, err := s.Accounts.GetByID(ctx, post.AuthorID)
	if err != nil {
		return err
	}
	if !author.IsInternal() {
		likeActivity := as.NewLike(as.ActivityID(actor.ApID, "like", newUUID()), actor.ApID, post.ApID)
		undo := as.NewUndo(as.ActivityID(actor.ApID, "undo", newUUID()), actor.ApID, likeActivity)
		return s.deliver(ctx, actor, undo, author.ApInbox)
	}
	return nil
}

// Repost implements repost(): records the repost edge and conditionally
// increments the counter in one transaction, then dispatches an
// Announce activity only when the edge was newly created.
func (s *Service) Repost(ctx context.Context, actor *domain.Account, postApID string) error {
	post, err := s.Posts.GetByApID(ctx, postApID)
	if err != nil {
		return err
	}
	if post.IsDeleted() {
		return domain.New(domain.KindNotAPost, "post is deleted")
	}
	newEdge, err := s.Posts.RecordRepost(ctx, post.ID, actor.ID)
	if err != nil {
		return err
	}
	if !newEdge {
		return nil
	}
	if err := post.Repost(actor.ID); err != nil {
		return err
	}
	s.Posts.Publish(post)

	author, err := s.Accounts.GetByID(ctx, post.AuthorID)
	if err != nil {
		return err
	}
	if !author.IsInternal() {
		activity := as.NewAnnounce(as.ActivityID(actor.ApID, "announce", newUUID()), actor.ApID, post.ApID, actor.ApFollowers)
		return s.deliver(ctx, actor, activity, author.ApInbox)
	}
	return nil
}

// Derepost implements derepost(): symmetric with Repost, dispatching
// Undo(Announce) only when the repost edge actually existed.
func (s *Service) Derepost(ctx context.Context, actor *domain.Account, postApID string) error {
	post, err := s.Posts.GetByApID(ctx, postApID)
	if err != nil {
		return err
	}
	removed, err := s.Posts.RemoveRepost(ctx, post.ID, actor.ID)
	if err != nil {
		return err
	}
	if !removed {
		return nil
	}
	if err := post.Derepost(actor.ID); err != nil {
		return err
	}
	s.Posts.Publish(post)

	author, err := s.Accounts.GetByID(ctx, post.AuthorID)
	if err != nil {
		return err
	}
	if !author.IsInternal() {
		announce := as.NewAnnounce(as.ActivityID(actor.ApID, "announce", newUUID()), actor.ApID, post.ApID, actor.ApFollowers)
		undo := as.NewUndo(as.ActivityID(actor.ApID, "undo", newUUID()), actor.ApID, announce)
		return s.deliver(ctx, actor, undo, author.ApInbox)
	}
	return nil
}
