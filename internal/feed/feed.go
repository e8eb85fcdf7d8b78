// Package feed implements the Feed Projection (C10): it subscribes to
// Post/Account events and writes denormalized feed rows, per spec.md
// §4.7.
package feed

import (
	"context"

	"github.com/blogfed/apsrv/internal/applog"
	"github.com/blogfed/apsrv/internal/domain"
	"github.com/blogfed/apsrv/internal/eventbus"
	"github.com/blogfed/apsrv/internal/repo"
)

// Projection writes feed rows for newly created posts.
type Projection struct {
	Feeds    *repo.FeedRepository
	Posts    *repo.PostRepository
	Accounts *repo.AccountRepository
}

// Subscribe registers the projection's handler on bus.
func (p *Projection) Subscribe(bus *eventbus.Bus) {
	bus.Subscribe(p.handle)
}

func (p *Projection) handle(ev domain.Event) error {
	if ev.Kind != domain.EventPostCreated {
		return nil
	}
	ctx := context.Background()

	post, err := p.Posts.GetByID(ctx, ev.PostID)
	if err != nil {
		return err
	}
	if post.Audience != domain.AudiencePublic && post.Audience != domain.AudienceFollowersOnly {
		return nil // Direct posts never appear in a feed
	}

	// Public posts get an explicit author row so the author sees their
	// own post in their feed even before any follower fan-out runs.
	// FollowersOnly posts skip this (open question in spec.md §9).
	// Self-follow is a no-op, so the author is never among the
	// followers below either: a FollowersOnly post gets no row in its
	// author's own feed.
	if post.Audience == domain.AudiencePublic {
		if err := p.Feeds.Append(ctx, post.AuthorID, post.ID); err != nil {
			applog.Error.Errorf("feed: append author row post=%d: %v", post.ID, err)
		}
	}

	offset := 0
	const pageSize = 100
	for {
		followerIDs, err := p.Accounts.Followers(ctx, post.AuthorID, offset, pageSize)
		if err != nil {
			return err
		}
		for _, followerID := range followerIDs {
			if err := p.Feeds.Append(ctx, followerID, post.ID); err != nil {
				applog.Error.Errorf("feed: append follower row account=%d post=%d: %v", followerID, post.ID, err)
			}
		}
		if len(followerIDs) < pageSize {
			return nil
		}
		offset += pageSize
	}
}
