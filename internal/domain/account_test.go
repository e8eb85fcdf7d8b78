package domain

import "testing"

func TestFollowSelfIsNoOp(t *testing.T) {
	a := &Account{ID: 1, ApID: "https://example.com/users/a"}
	if err := a.Follow(a); err != nil {
		t.Fatalf("Follow(self) returned error: %v", err)
	}
	if ev := a.PullEvents(); len(ev) != 0 {
		t.Fatalf("Follow(self) emitted %d events, want 0", len(ev))
	}
}

func TestBlockSelfIsNoOp(t *testing.T) {
	a := &Account{ID: 1}
	if err := a.Block(a); err != nil {
		t.Fatalf("Block(self) returned error: %v", err)
	}
	if ev := a.PullEvents(); len(ev) != 0 {
		t.Fatalf("Block(self) emitted %d events, want 0", len(ev))
	}
}

func TestFollowEmitsAccountFollowed(t *testing.T) {
	a := &Account{ID: 1}
	b := &Account{ID: 2}
	if err := a.Follow(b); err != nil {
		t.Fatalf("Follow: %v", err)
	}
	ev := a.PullEvents()
	if len(ev) != 1 || ev[0].Kind != EventAccountFollowed {
		t.Fatalf("got events %+v, want one EventAccountFollowed", ev)
	}
	if ev[0].AccountID != 1 || ev[0].OtherID != 2 {
		t.Fatalf("got event %+v, want AccountID=1 OtherID=2", ev[0])
	}
}

func TestPullEventsDrains(t *testing.T) {
	a := &Account{ID: 1}
	b := &Account{ID: 2}
	_ = a.Follow(b)
	if len(a.PullEvents()) != 1 {
		t.Fatal("expected one event on first pull")
	}
	if len(a.PullEvents()) != 0 {
		t.Fatal("expected zero events on second pull")
	}
}

func TestBlockDomainIgnoresOwnDomain(t *testing.T) {
	a := &Account{ID: 1, ApID: "https://example.com/users/a"}
	if err := a.BlockDomain("example.com"); err != nil {
		t.Fatalf("BlockDomain(own domain): %v", err)
	}
	if ev := a.PullEvents(); len(ev) != 0 {
		t.Fatalf("BlockDomain(own domain) emitted %d events, want 0", len(ev))
	}
}

func TestAccountWithDefaultsURL(t *testing.T) {
	a := &Account{ApID: "https://example.com/users/a"}
	a.WithDefaults()
	if a.URL != a.ApID {
		t.Fatalf("URL = %q, want %q", a.URL, a.ApID)
	}
}
