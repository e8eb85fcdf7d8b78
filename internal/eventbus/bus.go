// Package eventbus is the single-process publish/subscribe bus that
// carries domain events from a repository's post-commit publish step
// to the feed/notification projections. Subscribers are invoked in
// registration order; a failing subscriber is isolated from the
// others and does not fail the publish (spec.md §9 "async event bus").
package eventbus

import (
	"github.com/blogfed/apsrv/internal/applog"
	"github.com/blogfed/apsrv/internal/domain"
)

// Handler processes one domain event. An error is logged, not
// returned to the publisher: projections are best-effort and must be
// idempotent so a later reprocessing (or a retried request) converges
// to the same state.
type Handler func(domain.Event) error

// Bus is an in-process, synchronous publish/subscribe dispatcher.
type Bus struct {
	subscribers []Handler
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{}
}

// Subscribe registers h to receive every future Publish call. Order of
// registration is the order of invocation.
func (b *Bus) Subscribe(h Handler) {
	b.subscribers = append(b.subscribers, h)
}

// Publish invokes every subscriber with ev, in registration order.
// Must only be called after the transaction that produced ev has
// committed (spec.md §9: "publication happens strictly after
// commit").
func (b *Bus) Publish(ev domain.Event) {
	for _, sub := range b.subscribers {
		if err := sub(ev); err != nil {
			applog.Error.Errorf("eventbus: subscriber error for %s event (account=%d post=%d): %v",
				ev.Kind, ev.AccountID, ev.PostID, err)
		}
	}
}

// PublishAll publishes each event in order.
func (b *Bus) PublishAll(events []domain.Event) {
	for _, ev := range events {
		b.Publish(ev)
	}
}
