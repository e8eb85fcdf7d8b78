package domain

import "testing"

func TestResolveThreadRootNonReply(t *testing.T) {
	p := &Post{ID: 42}
	p.ResolveThreadRoot(0)
	if p.ThreadRoot != 42 {
		t.Fatalf("ThreadRoot = %d, want 42 (self)", p.ThreadRoot)
	}
}

func TestResolveThreadRootReplyToRoot(t *testing.T) {
	p := &Post{ID: 43, InReplyTo: 10}
	p.ResolveThreadRoot(0) // parent 10 is itself the root
	if p.ThreadRoot != 10 {
		t.Fatalf("ThreadRoot = %d, want 10", p.ThreadRoot)
	}
}

func TestResolveThreadRootReplyToReply(t *testing.T) {
	p := &Post{ID: 44, InReplyTo: 43}
	p.ResolveThreadRoot(10) // parent 43's root is 10
	if p.ThreadRoot != 10 {
		t.Fatalf("ThreadRoot = %d, want 10", p.ThreadRoot)
	}
}

func TestDeterministicApID(t *testing.T) {
	got := DeterministicApID("https://blog.example", "/.ghost/activitypub", PostTypeArticle, "uuid-1")
	want := "https://blog.example/.ghost/activitypub/article/uuid-1"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
	got = DeterministicApID("https://blog.example", "/.ghost/activitypub", PostTypeNote, "uuid-2")
	want = "https://blog.example/.ghost/activitypub/note/uuid-2"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestLikeRejectsDeletedPost(t *testing.T) {
	p := &Post{ID: 1}
	_ = p.Delete()
	if err := p.Like(5); !Is(err, KindNotAPost) {
		t.Fatalf("Like(deleted) = %v, want KindNotAPost", err)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	p := &Post{ID: 1}
	if err := p.Delete(); err != nil {
		t.Fatalf("first Delete: %v", err)
	}
	p.PullEvents()
	if err := p.Delete(); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	if ev := p.PullEvents(); len(ev) != 0 {
		t.Fatalf("second Delete emitted %d events, want 0", len(ev))
	}
}

func TestLikeUnlikeRoundTrip(t *testing.T) {
	p := &Post{ID: 1, LikeCount: 0}
	if err := p.Like(9); err != nil {
		t.Fatalf("Like: %v", err)
	}
	if p.LikeCount != 1 {
		t.Fatalf("LikeCount = %d, want 1", p.LikeCount)
	}
	if err := p.Unlike(9); err != nil {
		t.Fatalf("Unlike: %v", err)
	}
	if p.LikeCount != 0 {
		t.Fatalf("LikeCount = %d, want 0", p.LikeCount)
	}
}
