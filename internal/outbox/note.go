package outbox

import (
	"context"
	"net/url"
	"time"

	"github.com/blogfed/apsrv/internal/as"
	"github.com/blogfed/apsrv/internal/domain"
)

// CreateNote implements createNote(): persists a new Note authored by
// author and fans out a Create(Note) activity to every follower's
// inbox (spec.md §4.3).
func (s *Service) CreateNote(ctx context.Context, author *domain.Account, content string) (*domain.Post, error) {
	return s.createAndFanOut(ctx, author, content, 0)
}

// Reply implements reply(): as CreateNote, but the new Post is linked
// to its parent's thread and the parent's reply counter is
// incremented.
func (s *Service) Reply(ctx context.Context, author *domain.Account, parentApID, content string) (*domain.Post, error) {
	parent, err := s.Posts.GetByApID(ctx, parentApID)
	if err != nil {
		return nil, err
	}
	post, err := s.createAndFanOut(ctx, author, content, parent.ID)
	if err != nil {
		return nil, err
	}
	parent.AddReply()
	if err := s.Posts.Save(ctx, parent); err != nil {
		return nil, err
	}
	return post, nil
}

func (s *Service) createAndFanOut(ctx context.Context, author *domain.Account, content string, inReplyTo int64) (*domain.Post, error) {
	uid := newUUID()
	post := &domain.Post{
		UUID:        uid,
		Type:        domain.PostTypeNote,
		Audience:    domain.AudiencePublic,
		AuthorID:    author.ID,
		Content:     content,
		PublishedAt: time.Now(),
		InReplyTo:   inReplyTo,
	}
	var replyToApID string
	if inReplyTo != 0 {
		parent, err := s.Posts.GetByID(ctx, inReplyTo)
		if err != nil {
			return nil, err
		}
		post.ResolveThreadRoot(parent.ThreadRoot)
		replyToApID = parent.ApID
	}

	siteOrigin, _ := siteOriginAndHandle(author.ApID)
	post.ApID = domain.DeterministicApID(siteOrigin, s.PathPrefix, post.Type, uid)
	post.MarkCreated()

	if err := s.Posts.Insert(ctx, post); err != nil {
		return nil, err
	}
	if inReplyTo == 0 {
		// thread_root defaults to the post's own id, only known once
		// Insert has assigned it.
		post.ThreadRoot = post.ID
		if err := s.Posts.SetThreadRootSelf(ctx, post.ID); err != nil {
			return nil, err
		}
	}

	if err := s.fanOutCreate(ctx, author, post, replyToApID); err != nil {
		return nil, err
	}
	return post, nil
}

// fanOutCreate builds a Create activity wrapping post and delivers it
// to every one of author's followers, deduplicated by shared inbox.
func (s *Service) fanOutCreate(ctx context.Context, author *domain.Account, post *domain.Post, replyToApID string) error {
	inboxes, err := s.Posts.FollowersInboxes(ctx, author.ID)
	if err != nil {
		return err
	}
	obj := postToObject(author, post, replyToApID)
	activity := as.NewCreate(as.ActivityID(author.ApID, "create", newUUID()), author.ApID, obj,
		string(post.Audience), author.ApFollowers, "")

	for _, inbox := range inboxes {
		if err := s.deliver(ctx, author, activity, inbox); err != nil {
			return err
		}
	}
	return nil
}

func postToObject(author *domain.Account, post *domain.Post, replyToApID string) as.Object {
	o := as.Object{
		ID:           post.ApID,
		Type:         string(post.Type),
		AttributedTo: author.ApID,
		Name:         post.Title,
		Summary:      post.Summary,
		Content:      post.Content,
		URL:          post.URL,
		Published:    post.PublishedAt.UTC().Format(time.RFC3339),
		InReplyTo:    replyToApID,
	}
	for _, a := range post.Attachments {
		o.Attachment = append(o.Attachment, as.Attachment{Type: "Document", URL: a.URL, MediaType: a.MediaType, Name: a.Name})
	}
	return o
}

// siteOriginAndHandle splits an actor apId
// ("https://blog.example/.ghost/activitypub/users/index") into its site
// origin ("https://blog.example", scheme and host only, without the
// tenant path prefix) and handle.
func siteOriginAndHandle(apID string) (origin, handle string) {
	const usersSeg = "/users/"
	origin = apID
	if idx := lastIndexUsersSeg(apID, usersSeg); idx >= 0 {
		origin, handle = apID[:idx], apID[idx+len(usersSeg):]
	}
	if u, err := url.Parse(origin); err == nil && u.Scheme != "" && u.Host != "" {
		origin = u.Scheme + "://" + u.Host
	}
	return origin, handle
}

func lastIndexUsersSeg(s, sep string) int {
	for i := len(s) - len(sep); i >= 0; i-- {
		if s[i:i+len(sep)] == sep {
			return i
		}
	}
	return -1
}
