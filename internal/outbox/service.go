// Package outbox implements the Outbox Service (C6): it builds
// activities for local actions, persists the resulting domain state,
// and queues activities for delivery, per spec.md §4.3. Activity
// building is deterministic: activity id is
// "<site>/.../{activity-kind}/{uuid}", and addressing follows
// spec.md's as:Public/followers/direct rules (internal/as/builder.go).
package outbox

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/blogfed/apsrv/internal/as"
	"github.com/blogfed/apsrv/internal/domain"
	"github.com/blogfed/apsrv/internal/fedctx"
	"github.com/blogfed/apsrv/internal/queue"
	"github.com/blogfed/apsrv/internal/repo"
	"github.com/blogfed/apsrv/internal/webfinger"
)

// Service is the C6 Outbox Service.
type Service struct {
	Accounts   *repo.AccountRepository
	Posts      *repo.PostRepository
	Mappings   *repo.GhostMappingStore
	Loader     *fedctx.Loader
	Control    *fedctx.Controller
	Queue      *queue.Queue
	HTTP       *http.Client
	PathPrefix string
}

// resolveTarget finds an Account by handle (user@host) or by a bare
// actor URL, discovering and persisting an external account on first
// reference if necessary.
func (s *Service) resolveTarget(ctx context.Context, handleOrURL string) (*domain.Account, error) {
	apID := handleOrURL
	if webfinger.IsHandle(handleOrURL) {
		resolved, err := webfinger.Resolve(ctx, s.HTTP, handleOrURL)
		if err != nil {
			return nil, domain.New(domain.KindLookupError, err.Error())
		}
		apID = resolved
	}

	account, err := s.Accounts.GetByApID(ctx, apID)
	if err == nil {
		return account, nil
	}
	if !domain.Is(err, domain.KindNotFound) {
		return nil, err
	}

	actor, err := s.Loader.FetchActor(ctx, apID)
	if err != nil {
		return nil, domain.New(domain.KindLookupError, err.Error())
	}
	account = actorToAccount(actor)
	if err := s.Accounts.Insert(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

func actorToAccount(a *as.Actor) *domain.Account {
	acc := &domain.Account{
		Username:      a.PreferredUsername,
		Name:          a.Name,
		Bio:           a.Summary,
		ApID:          a.ID,
		ApInbox:       a.Inbox,
		ApOutbox:      a.Outbox,
		ApFollowers:   a.Followers,
		ApFollowing:   a.Following,
		ApLiked:       a.Liked,
		URL:           a.URL,
	}
	if a.Icon != nil {
		acc.AvatarURL = a.Icon.URL
	}
	if a.Image != nil {
		acc.BannerImageURL = a.Image.URL
	}
	if a.Endpoints != nil {
		acc.ApSharedInbox = a.Endpoints.SharedInbox
	}
	if a.PublicKey != nil {
		acc.ApPublicKey = a.PublicKey.PublicKeyPem
	}
	return acc.WithDefaults()
}

// deliver mirrors activity's verbatim bytes into the KV store under
// its canonical id, then enqueues it to inbox for delivery; the
// actual HTTP-signature signing happens in the delivery worker, which
// resolves actingAccount's key by its apId carried on the message
// (C5 + C8 composition).
func (s *Service) deliver(ctx context.Context, actingAccount *domain.Account, activity as.Activity, inbox string) error {
	body, err := marshalActivity(activity)
	if err != nil {
		return err
	}
	if err := s.Loader.PutActivity(ctx, activity.ID, body); err != nil {
		return err
	}
	dropped, err := s.Queue.Enqueue(ctx, queue.Message{
		Type:    queue.TypeOutbox,
		Inbox:   inbox,
		Actor:   actingAccount.ApID,
		Payload: body,
	})
	_ = dropped // admission-control drops are not errors, per spec.md §4.5
	return err
}

// Deliver exposes deliver to other components (the Inbox Dispatcher
// needs it to send Accept(Follow) back to a remote follower).
func (s *Service) Deliver(ctx context.Context, actingAccount *domain.Account, activity as.Activity, inbox string) error {
	return s.deliver(ctx, actingAccount, activity, inbox)
}

// ResolveTarget exposes resolveTarget to other components (the Inbox
// Dispatcher needs it to find-or-create the external account behind an
// Announce/Like/Create actor).
func (s *Service) ResolveTarget(ctx context.Context, handleOrURL string) (*domain.Account, error) {
	return s.resolveTarget(ctx, handleOrURL)
}

func newUUID() string { return uuid.NewString() }
