package outbox

import (
	"context"
	"strings"
	"time"

	"github.com/blogfed/apsrv/internal/as"
	"github.com/blogfed/apsrv/internal/domain"
)

const wordsPerMinute = 200

// PublishArticleFromWebhook implements publishArticleFromWebhook(): it
// turns a Ghost post.published event into a federated Article, keyed
// idempotently on (author, ghostPost.uuid) via the Ghost↔AP mapping
// table (spec.md §4.3). A replay of the same uuid returns the already
// mapped post together with a KindPostAlreadyExists error.
func (s *Service) PublishArticleFromWebhook(ctx context.Context, author *domain.Account, ghostPost GhostPost) (*domain.Post, error) {
	if !ghostPost.IsPublic() {
		return s.retractMapped(ctx, ghostPost.UUID)
	}

	if existingApID, err := s.Mappings.ApIDFor(ctx, ghostPost.UUID); err == nil {
		existing, err := s.Posts.GetByApID(ctx, existingApID)
		if err != nil {
			return nil, err
		}
		return existing, domain.New(domain.KindPostAlreadyExists, "ghost post already mapped")
	} else if !domain.Is(err, domain.KindNotFound) {
		return nil, err
	}

	uid := newUUID()
	siteOrigin, _ := siteOriginAndHandle(author.ApID)
	apID := domain.DeterministicApID(siteOrigin, s.PathPrefix, domain.PostTypeArticle, uid)

	publishedAt := time.Now()
	if t, err := time.Parse(time.RFC3339, ghostPost.PublishedAt); err == nil {
		publishedAt = t
	}

	post := &domain.Post{
		UUID:               uid,
		Type:               domain.PostTypeArticle,
		Audience:           domain.AudiencePublic,
		AuthorID:           author.ID,
		Title:              ghostPost.Title,
		Excerpt:            ghostPost.Excerpt,
		Summary:            ghostPost.summary(),
		Content:            ghostPost.HTML,
		URL:                ghostPost.URL,
		ImageURL:           ghostPost.FeatureImage,
		PublishedAt:        publishedAt,
		ReadingTimeMinutes: estimateReadingTime(ghostPost.HTML),
		ApID:               apID,
	}
	post.MarkCreated()

	if err := s.Posts.Insert(ctx, post); err != nil {
		return nil, err
	}
	post.ThreadRoot = post.ID
	if err := s.Posts.SetThreadRootSelf(ctx, post.ID); err != nil {
		return nil, err
	}

	if err := s.Mappings.Create(ctx, ghostPost.UUID, apID); err != nil {
		return nil, err
	}

	if err := s.fanOutCreate(ctx, author, post, ""); err != nil {
		return nil, err
	}
	return post, nil
}

// UpdateArticleFromWebhook handles a Ghost post.updated event: if the
// post is already mapped, its content is refreshed in place; otherwise
// it is treated as a first publish.
func (s *Service) UpdateArticleFromWebhook(ctx context.Context, author *domain.Account, ghostPost GhostPost) (*domain.Post, error) {
	apID, err := s.Mappings.ApIDFor(ctx, ghostPost.UUID)
	if domain.Is(err, domain.KindNotFound) {
		return s.PublishArticleFromWebhook(ctx, author, ghostPost)
	}
	if err != nil {
		return nil, err
	}
	if !ghostPost.IsPublic() {
		return s.retractMapped(ctx, ghostPost.UUID)
	}

	post, err := s.Posts.GetByApID(ctx, apID)
	if err != nil {
		return nil, err
	}
	post.Title = ghostPost.Title
	post.Excerpt = ghostPost.Excerpt
	post.Summary = ghostPost.summary()
	post.Content = ghostPost.HTML
	post.URL = ghostPost.URL
	post.ImageURL = ghostPost.FeatureImage
	post.ReadingTimeMinutes = estimateReadingTime(ghostPost.HTML)
	if err := s.Posts.Save(ctx, post); err != nil {
		return nil, err
	}
	return post, nil
}

// DeleteArticleFromWebhook handles a Ghost post.deleted event.
func (s *Service) DeleteArticleFromWebhook(ctx context.Context, ghostPost GhostPost) error {
	_, err := s.retractMapped(ctx, ghostPost.UUID)
	return err
}

// retractMapped soft-deletes the Post already mapped to ghostUUID, if
// any; spec.md §4.3 "Missing/private content ⇒ the mapped post, if
// any, is soft-deleted."
func (s *Service) retractMapped(ctx context.Context, ghostUUID string) (*domain.Post, error) {
	apID, err := s.Mappings.ApIDFor(ctx, ghostUUID)
	if domain.Is(err, domain.KindNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	post, err := s.Posts.GetByApID(ctx, apID)
	if err != nil {
		return nil, err
	}
	if post.IsDeleted() {
		return post, nil
	}
	if err := post.Delete(); err != nil {
		return nil, err
	}
	if err := s.Posts.Save(ctx, post); err != nil {
		return nil, err
	}

	author, err := s.Accounts.GetByID(ctx, post.AuthorID)
	if err != nil {
		return nil, err
	}
	deleteActivity := as.NewDelete(as.ActivityID(author.ApID, "delete", newUUID()), author.ApID, post.ApID, string(post.Audience), author.ApFollowers)
	inboxes, err := s.Posts.FollowersInboxes(ctx, author.ID)
	if err != nil {
		return nil, err
	}
	for _, inbox := range inboxes {
		if err := s.deliver(ctx, author, deleteActivity, inbox); err != nil {
			return nil, err
		}
	}
	return post, nil
}

// estimateReadingTime approximates Ghost's own reading-time heuristic:
// word count over a fixed reading speed, stripped of HTML tags.
func estimateReadingTime(html string) int {
	text := stripTags(html)
	words := len(strings.Fields(text))
	minutes := words / wordsPerMinute
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}

func stripTags(html string) string {
	var b strings.Builder
	inTag := false
	for _, r := range html {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return b.String()
}
