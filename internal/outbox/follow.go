package outbox

import (
	"context"

	"github.com/blogfed/apsrv/internal/as"
	"github.com/blogfed/apsrv/internal/domain"
)

// Follow implements spec.md §4.3 follow(): looks up target, rejects
// self-follow, short-circuits on an existing edge, dispatches a signed
// Follow activity when the target is external, and records the edge
// immediately in both cases. The actual HTTP signature is
// applied by the delivery worker at send time, not here; enqueueing
// only needs the acting account's identity.
func (s *Service) Follow(ctx context.Context, follower *domain.Account, targetHandleOrURL string) error {
	target, err := s.resolveTarget(ctx, targetHandleOrURL)
	if err != nil {
		return err
	}
	if follower.ID == target.ID {
		return domain.New(domain.KindSelfFollow, "cannot follow self")
	}
	already, err := s.Accounts.IsFollowing(ctx, follower.ID, target.ID)
	if err != nil {
		return err
	}
	if already {
		return domain.New(domain.KindAlreadyFollowing, "already following")
	}

	if !target.IsInternal() {
		activity := as.NewFollow(as.ActivityID(follower.ApID, "follow", newUUID()), follower.ApID, target.ApID)
		if err := s.deliver(ctx, follower, activity, target.ApInbox); err != nil {
			return err
		}
	}

	if err := follower.Follow(target); err != nil {
		return err
	}
	return s.Accounts.Save(ctx, follower)
}

// Unfollow implements spec.md §4.3 unfollow(): symmetric with
// Follow, sending Undo(Follow) for external targets and tombstoning
// the edge unconditionally.
func (s *Service) Unfollow(ctx context.Context, follower *domain.Account, targetHandleOrURL string) error {
	target, err := s.resolveTarget(ctx, targetHandleOrURL)
	if err != nil {
		return err
	}
	if follower.ID == target.ID {
		return nil
	}
	following, err := s.Accounts.IsFollowing(ctx, follower.ID, target.ID)
	if err != nil {
		return err
	}
	if !following {
		return domain.New(domain.KindNotFollowing, "not following")
	}

	if !target.IsInternal() {
		followActivity := as.NewFollow(as.ActivityID(follower.ApID, "follow", newUUID()), follower.ApID, target.ApID)
		undo := as.NewUndo(as.ActivityID(follower.ApID, "undo", newUUID()), follower.ApID, followActivity)
		if err := s.deliver(ctx, follower, undo, target.ApInbox); err != nil {
			return err
		}
	}

	if err := follower.Unfollow(target); err != nil {
		return err
	}
	return s.Accounts.Save(ctx, follower)
}
