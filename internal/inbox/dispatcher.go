// Package inbox implements the Inbox Dispatcher (C7): it verifies an
// inbound activity's HTTP Signature, applies the moderation and
// publicness filters, and dispatches by activity type, per spec.md
// §4.4.
package inbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/blogfed/apsrv/internal/applog"
	"github.com/blogfed/apsrv/internal/as"
	"github.com/blogfed/apsrv/internal/domain"
	"github.com/blogfed/apsrv/internal/fedctx"
	"github.com/blogfed/apsrv/internal/outbox"
	"github.com/blogfed/apsrv/internal/repo"
)

// SiteLookup resolves the tenant and its default (followee) account
// owning the inbox a request targets.
type SiteLookup interface {
	GetByHost(r *http.Request) (*repo.Site, *domain.Account, error)
}

// Dispatcher is the C7 Inbox Dispatcher.
type Dispatcher struct {
	Accounts *repo.AccountRepository
	Posts    *repo.PostRepository
	Outbox   *outbox.Service
	Loader   *fedctx.Loader
	Sites    SiteLookup
}

// Register mounts the shared and per-actor inbox routes under r.
func (d *Dispatcher) Register(r *mux.Router) {
	r.HandleFunc("/inbox", d.serveHTTP).Methods(http.MethodPost)
	r.HandleFunc("/inbox/{handle}", d.serveHTTP).Methods(http.MethodPost)
}

func (d *Dispatcher) serveHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	_, defaultAccount, err := d.Sites.GetByHost(r)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	r.Body.Close()

	// Signature verification is over the request line and headers, so
	// it must run against the original request before the body is
	// reused for parsing.
	if _, err := fedctx.VerifyRequest(r, d.Loader.KeyFetcher(ctx)); err != nil {
		applog.Error.Errorf("inbox: signature verification failed: %v", err)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var activity as.IncomingActivity
	if err := json.Unmarshal(body, &activity); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if err := d.dispatch(ctx, defaultAccount, activity, body); err != nil {
		applog.Error.Errorf("inbox: dispatch %s: %v", activity.Type, err)
	}
	// Best-effort throughout: every reachable outcome, including
	// dropped/moderated activities, acks with 202 (spec.md §4.4).
	w.WriteHeader(http.StatusAccepted)
}

func (d *Dispatcher) dispatch(ctx context.Context, defaultAccount *domain.Account, activity as.IncomingActivity, raw []byte) error {
	sender, err := d.Outbox.ResolveTarget(ctx, activity.Actor)
	if err != nil {
		// Best-effort: an unreachable actor stops processing without
		// error (spec.md §4.4 step 4).
		return nil
	}

	blocked, err := d.Accounts.IsBlocked(ctx, defaultAccount.ID, sender)
	if err != nil {
		return err
	}
	if blocked {
		return nil
	}

	switch activity.Type {
	case "Follow":
		return d.handleFollow(ctx, defaultAccount, sender, activity)
	case "Accept":
		return d.handleAccept(ctx, activity, raw)
	case "Undo":
		return d.handleUndo(ctx, defaultAccount, sender, activity)
	case "Create":
		if !activity.To.Has(as.PublicURI) && !activity.CC.Has(as.PublicURI) {
			return nil
		}
		return d.handleCreate(ctx, sender, activity)
	case "Announce":
		return d.handleAnnounce(ctx, sender, activity)
	case "Like":
		return d.handleLike(ctx, sender, activity)
	case "Delete":
		return d.handleDelete(ctx, sender, activity)
	default:
		return nil
	}
}

func (d *Dispatcher) handleFollow(ctx context.Context, followee, follower *domain.Account, activity as.IncomingActivity) error {
	if err := follower.Follow(followee); err != nil {
		return err
	}
	if err := d.Accounts.Save(ctx, follower); err != nil {
		return err
	}

	followActivity := as.Activity{ID: activity.ID, Type: activity.Type, Actor: activity.Actor}
	accept := as.NewAccept(as.ActivityID(followee.ApID, "accept", uuid.NewString()), followee.ApID, followActivity)
	return d.Outbox.Deliver(ctx, followee, accept, follower.ApInbox)
}

// handleAccept acknowledges a pending outbound Follow; spec.md §4.4
// step 6 calls for no state change beyond a KV record.
func (d *Dispatcher) handleAccept(ctx context.Context, activity as.IncomingActivity, raw []byte) error {
	return d.Loader.PutActivity(ctx, activity.ID, raw)
}

func (d *Dispatcher) handleUndo(ctx context.Context, defaultAccount, sender *domain.Account, activity as.IncomingActivity) error {
	var embedded as.IncomingActivity
	if err := json.Unmarshal(activity.Object, &embedded); err != nil {
		return fmt.Errorf("inbox: Undo object is not an activity: %w", err)
	}

	switch embedded.Type {
	case "Follow":
		if err := sender.Unfollow(defaultAccount); err != nil {
			return err
		}
		return d.Accounts.Save(ctx, sender)
	case "Like":
		objID, err := embedded.ObjectID()
		if err != nil {
			return err
		}
		post, err := d.Posts.GetByApID(ctx, objID)
		if domain.Is(err, domain.KindNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		removed, err := d.Posts.RemoveLike(ctx, post.ID, sender.ID)
		if err != nil {
			return err
		}
		if !removed {
			return nil // idempotent: no-op if edge absent
		}
		if err := post.Unlike(sender.ID); err != nil {
			return err
		}
		d.Posts.Publish(post)
		return nil
	case "Announce":
		objID, err := embedded.ObjectID()
		if err != nil {
			return err
		}
		post, err := d.Posts.GetByApID(ctx, objID)
		if domain.Is(err, domain.KindNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		removed, err := d.Posts.RemoveRepost(ctx, post.ID, sender.ID)
		if err != nil {
			return err
		}
		if !removed {
			return nil // idempotent: no-op if edge absent
		}
		if err := post.Derepost(sender.ID); err != nil {
			return err
		}
		d.Posts.Publish(post)
		return nil
	default:
		return nil
	}
}

func (d *Dispatcher) handleCreate(ctx context.Context, sender *domain.Account, activity as.IncomingActivity) error {
	obj, err := activity.ObjectAsObject()
	if err != nil {
		return err
	}
	if _, err := d.Posts.GetByApID(ctx, obj.ID); err == nil {
		return nil // already have it, idempotent replay
	} else if !domain.Is(err, domain.KindNotFound) {
		return err
	}

	postType := domain.PostTypeNote
	if obj.Type == string(domain.PostTypeArticle) {
		postType = domain.PostTypeArticle
	}

	post := &domain.Post{
		Type:        postType,
		Audience:    domain.AudiencePublic,
		AuthorID:    sender.ID,
		Title:       obj.Name,
		Summary:     obj.Summary,
		Content:     sanitizeContent(obj.Content),
		URL:         obj.URL,
		ApID:        obj.ID,
		PublishedAt: parseTimeOrNow(obj.Published),
	}
	if obj.InReplyTo != "" {
		parent, err := d.Posts.GetByApID(ctx, obj.InReplyTo)
		if err == nil {
			post.InReplyTo = parent.ID
			post.ResolveThreadRoot(parent.ThreadRoot)
			parent.AddReply()
			if err := d.Posts.Save(ctx, parent); err != nil {
				return err
			}
		}
	}
	post.MarkCreated()
	if err := d.Posts.Insert(ctx, post); err != nil {
		return err
	}
	if post.InReplyTo == 0 {
		post.ThreadRoot = post.ID
		if err := d.Posts.SetThreadRootSelf(ctx, post.ID); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) handleAnnounce(ctx context.Context, sender *domain.Account, activity as.IncomingActivity) error {
	objID, err := activity.ObjectID()
	if err != nil {
		return err
	}
	post, err := d.ensurePost(ctx, objID)
	if err != nil {
		return err
	}
	newEdge, err := d.Posts.RecordRepost(ctx, post.ID, sender.ID)
	if err != nil {
		return err
	}
	if !newEdge {
		return nil // at-least-once redelivery of an already-recorded Announce
	}
	if err := post.Repost(sender.ID); err != nil {
		return err
	}
	d.Posts.Publish(post)
	return nil
}

func (d *Dispatcher) handleLike(ctx context.Context, sender *domain.Account, activity as.IncomingActivity) error {
	objID, err := activity.ObjectID()
	if err != nil {
		return err
	}
	post, err := d.ensurePost(ctx, objID)
	if err != nil {
		return err
	}
	newEdge, err := d.Posts.RecordLike(ctx, post.ID, sender.ID)
	if err != nil {
		return err
	}
	if !newEdge {
		return nil // at-least-once redelivery of an already-recorded Like
	}
	if err := post.Like(sender.ID); err != nil {
		return err
	}
	d.Posts.Publish(post)
	return nil
}

func (d *Dispatcher) handleDelete(ctx context.Context, sender *domain.Account, activity as.IncomingActivity) error {
	objID, err := activity.ObjectID()
	if err != nil {
		return err
	}
	if objID == sender.ApID {
		if err := sender.Delete(); err != nil {
			return err
		}
		return d.Accounts.Save(ctx, sender)
	}
	post, err := d.Posts.GetByApID(ctx, objID)
	if domain.Is(err, domain.KindNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := post.Delete(); err != nil {
		return err
	}
	return d.Posts.Save(ctx, post)
}

func parseTimeOrNow(s string) time.Time {
	if s == "" {
		return time.Now()
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Now()
}

// ensurePost find-or-fetches the Post a remote Like/Announce targets,
// dereferencing it via the document loader on first reference.
func (d *Dispatcher) ensurePost(ctx context.Context, apID string) (*domain.Post, error) {
	post, err := d.Posts.GetByApID(ctx, apID)
	if err == nil {
		return post, nil
	}
	if !domain.Is(err, domain.KindNotFound) {
		return nil, err
	}

	obj, err := d.Loader.FetchObject(ctx, apID)
	if err != nil {
		return nil, domain.New(domain.KindUpstreamError, err.Error())
	}
	author, err := d.Outbox.ResolveTarget(ctx, obj.AttributedTo)
	if err != nil {
		return nil, err
	}
	postType := domain.PostTypeNote
	if obj.Type == string(domain.PostTypeArticle) {
		postType = domain.PostTypeArticle
	}
	post = &domain.Post{
		Type:        postType,
		Audience:    domain.AudiencePublic,
		AuthorID:    author.ID,
		Title:       obj.Name,
		Summary:     obj.Summary,
		Content:     sanitizeContent(obj.Content),
		URL:         obj.URL,
		ApID:        obj.ID,
		PublishedAt: parseTimeOrNow(obj.Published),
	}
	post.MarkCreated()
	if err := d.Posts.Insert(ctx, post); err != nil {
		return nil, err
	}
	post.ThreadRoot = post.ID
	if err := d.Posts.SetThreadRootSelf(ctx, post.ID); err != nil {
		return nil, err
	}
	return post, nil
}
