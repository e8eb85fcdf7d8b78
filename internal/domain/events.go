package domain

import "time"

// EventKind enumerates the domain events emitted by Account and Post
// aggregates. The repository applies each event's side effect inside the
// same transaction as the aggregate's own row update (spec.md §9), then
// publishes the event to the in-process bus strictly after commit.
type EventKind string

const (
	EventAccountFollowed   EventKind = "AccountFollowed"
	EventAccountUnfollowed EventKind = "AccountUnfollowed"
	EventAccountBlocked    EventKind = "AccountBlocked"
	EventAccountUnblocked  EventKind = "AccountUnblocked"
	EventDomainBlocked     EventKind = "DomainBlocked"
	EventDomainUnblocked   EventKind = "DomainUnblocked"

	EventPostCreated    EventKind = "PostCreated"
	EventPostDeleted    EventKind = "PostDeleted"
	EventPostLiked      EventKind = "PostLiked"
	EventPostDisliked   EventKind = "PostDisliked"
	EventPostReposted   EventKind = "PostReposted"
	EventPostDereposted EventKind = "PostDereposted"
)

// Event is a single domain event pulled off an aggregate after a
// mutating method runs. Fields beyond Kind/At are interpreted by the
// repository applying the event and by projections subscribed to the
// bus; unused fields are left zero.
type Event struct {
	Kind EventKind
	At   time.Time

	// Account-relationship events.
	AccountID  int64 // the aggregate owning the relationship (subject)
	OtherID    int64 // the counterparty account id, when applicable
	Domain     string // for Domain{Blocked,Unblocked}

	// Post events.
	PostID   int64
	ActorID  int64 // who performed the like/repost/etc, when applicable
}

// eventSource is embedded by aggregates to accumulate and drain events.
type eventSource struct {
	events []Event
}

func (s *eventSource) emit(e Event) {
	s.events = append(s.events, e)
}

// PullEvents drains and returns the events accumulated since the last
// pull, in emission order. Repositories call this exactly once per save.
func (s *eventSource) PullEvents() []Event {
	ev := s.events
	s.events = nil
	return ev
}
