package domain

// Kind tags a domain-level outcome so transport handlers (outside this
// module's scope) can map it to an HTTP status without inspecting error
// strings. See spec.md §7 for the canonical taxonomy.
type Kind string

const (
	KindOK                  Kind = ""
	KindNotFound            Kind = "not-found"
	KindInvalidType         Kind = "invalid-type"
	KindSelfFollow          Kind = "self-follow"
	KindAlreadyFollowing    Kind = "already-following"
	KindNotFollowing        Kind = "not-following"
	KindMissingContent      Kind = "missing-content"
	KindPrivateContent      Kind = "private-content"
	KindPostAlreadyExists   Kind = "post-already-exists"
	KindNotAuthor           Kind = "not-author"
	KindUpstreamError       Kind = "upstream-error"
	KindNotAPost            Kind = "not-a-post"
	KindMissingAuthor       Kind = "missing-author"
	KindLookupError         Kind = "lookup-error"
	KindSignatureInvalid    Kind = "signature-invalid"
	KindSiteDisabled        Kind = "site-disabled"
	KindQueueNotReady       Kind = "queue-not-ready"
	KindUnrecoverableDelivery Kind = "unrecoverable-delivery"
	KindRetryableDelivery   Kind = "retryable-delivery"
)

// Error is a tagged domain error. Its Kind is authoritative for
// transport mapping; Message is a short human-readable detail that is
// safe to log but is not necessarily safe to return to a remote caller
// verbatim (per spec.md §7, repository/ORM detail never leaks).
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Message
}

// New builds a tagged Error.
func New(k Kind, msg string) *Error {
	return &Error{Kind: k, Message: msg}
}

// Is reports whether err is a domain Error of the given Kind.
func Is(err error, k Kind) bool {
	de, ok := err.(*Error)
	return ok && de.Kind == k
}
