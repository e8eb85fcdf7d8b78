package queue

import "time"

// MessageType distinguishes inbound (inbox) retries from outbound
// (outbox) deliveries, per spec.md §4.5.
type MessageType string

const (
	TypeInbox  MessageType = "inbox"
	TypeOutbox MessageType = "outbox"
)

// TraceContext carries W3C and Sentry trace headers across the
// enqueue boundary so a delivery worker's logs can be correlated with
// the request that triggered it.
type TraceContext struct {
	TraceParent string `json:"traceparent,omitempty"`
	SentryTrace string `json:"sentryTrace,omitempty"`
}

// Message is one unit of work: deliver an activity to an inbox, or
// retry handling an inbound activity.
type Message struct {
	ID    string      `json:"id"`
	Type  MessageType `json:"type"`
	Inbox string      `json:"inbox,omitempty"`
	// Actor is the apId of the internal account the delivery worker
	// should sign the request as (outbox messages only).
	Actor        string       `json:"actor,omitempty"`
	Payload      []byte       `json:"payload"`
	TraceContext TraceContext `json:"traceContext"`

	// EnqueuedAt is not part of the wire payload; it is set locally for
	// observability and is not serialized into the push envelope.
	EnqueuedAt time.Time `json:"-"`
}
