package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/blogfed/apsrv/internal/applog"
)

// Handler processes one dequeued Message. An idempotent implementation
// is required: the same id may be delivered more than once (spec.md
// §5 "at-least-once").
type Handler func(context.Context, Message) error

// ErrorListener is called exactly once per caught handler error, for
// telemetry (spec.md §4.5 step 5). The out-of-scope metrics exporter
// is expected to subscribe here; the default is a no-op.
type ErrorListener func(Message, error)

// Queue is the in-process implementation of the C8 "message queue"
// abstraction: channel-backed main and retry topics standing in for
// the canonical push-based Pub/Sub (spec.md §4.5: "an in-process
// variant is acceptable in tests"). HandlePush implements the exact
// push envelope contract so a real Pub/Sub push subscription could
// call it unchanged.
type Queue struct {
	backoff *BackoffStore

	mainCh  chan []byte
	retryCh chan []byte

	errorListener ErrorListener

	mu        sync.Mutex
	listening bool
}

// New constructs a Queue with the given channel buffer size.
func New(backoff *BackoffStore, buffer int) *Queue {
	return &Queue{
		backoff: backoff,
		mainCh:  make(chan []byte, buffer),
		retryCh: make(chan []byte, buffer),
	}
}

// OnError registers the telemetry hook invoked for every caught
// handler error.
func (q *Queue) OnError(l ErrorListener) {
	q.errorListener = l
}

// Enqueue publishes msg to the main topic, subject to the backoff
// admission check for outbox messages (spec.md §4.5 enqueue path).
// Returns (dropped=true, nil) when admission control suppresses the
// message rather than an error.
func (q *Queue) Enqueue(ctx context.Context, msg Message) (dropped bool, err error) {
	if msg.ID == "" {
		msg.ID = newMessageID()
	}

	if msg.Type == TypeOutbox && msg.Inbox != "" {
		active, err := q.backoff.Get(ctx, msg.Inbox)
		if err != nil {
			return false, err
		}
		if active.Active(time.Now()) {
			applog.Info.Infof("queue: dropping message %s to %s, under backoff until %s",
				msg.ID, msg.Inbox, active.BackoffUntil)
			return true, nil
		}
	}

	return false, q.publish(q.mainCh, msg)
}

func (q *Queue) publish(ch chan []byte, msg Message) error {
	env, err := encodeEnvelope(msg)
	if err != nil {
		return err
	}
	select {
	case ch <- env:
		return nil
	default:
		return fmt.Errorf("queue: topic full, dropping message %s", msg.ID)
	}
}

// Listen starts dispatching messages from both topics to handler
// until ctx is cancelled. In-flight handler invocations are allowed
// to finish after cancellation (spec.md §5 "Cancellation").
func (q *Queue) Listen(ctx context.Context, handler Handler) {
	q.mu.Lock()
	q.listening = true
	q.mu.Unlock()
	defer func() {
		q.mu.Lock()
		q.listening = false
		q.mu.Unlock()
	}()

	var wg sync.WaitGroup
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case raw := <-q.mainCh:
			wg.Add(1)
			go func(raw []byte) {
				defer wg.Done()
				if _, err := q.HandlePush(ctx, raw, handler); err != nil {
					applog.Error.Errorf("queue: handling main-topic push: %v", err)
				}
			}(raw)
		case raw := <-q.retryCh:
			wg.Add(1)
			go func(raw []byte) {
				defer wg.Done()
				if _, err := q.HandlePush(ctx, raw, handler); err != nil {
					applog.Error.Errorf("queue: handling retry-topic push: %v", err)
				}
			}(raw)
		}
	}
}

// PushStatus is the HTTP-equivalent status HandlePush decides on,
// mirroring how a real push subscription endpoint would respond.
type PushStatus int

const (
	StatusOK          PushStatus = 200
	StatusBadRequest   PushStatus = 400
	StatusTooManyReqs PushStatus = 429
	StatusServerError PushStatus = 500
)

// HandlePush implements the handler path of spec.md §4.5: parse the
// envelope, invoke handler, classify any error, and republish to the
// retry topic or record a permanent per-inbox failure as appropriate.
// The returned PushStatus is what a push-transport HTTP endpoint
// would reply with; this function itself never touches HTTP.
func (q *Queue) HandlePush(ctx context.Context, raw []byte, handler Handler) (PushStatus, error) {
	q.mu.Lock()
	listening := q.listening
	q.mu.Unlock()
	if !listening {
		return StatusTooManyReqs, fmt.Errorf("queue: not listening")
	}

	msg, err := decodeEnvelope(raw)
	if err != nil {
		return StatusBadRequest, err
	}

	err = handler(ctx, msg)
	if q.errorListener != nil && err != nil {
		q.errorListener(msg, err)
	}
	if err == nil {
		if msg.Type == TypeOutbox && msg.Inbox != "" {
			if cerr := q.backoff.Clear(ctx, msg.Inbox); cerr != nil {
				applog.Error.Errorf("queue: clear backoff for %s: %v", msg.Inbox, cerr)
			}
		}
		return StatusOK, nil
	}

	switch Classify(err) {
	case Retryable:
		if rerr := q.publish(q.retryCh, msg); rerr != nil {
			applog.Error.Errorf("queue: republish %s to retry topic: %v", msg.ID, rerr)
			return StatusServerError, err
		}
		return StatusOK, nil
	default: // Permanent
		if msg.Type == TypeOutbox && msg.Inbox != "" {
			if berr := q.backoff.RecordFailure(ctx, msg.Inbox, err.Error()); berr != nil {
				applog.Error.Errorf("queue: record failure for %s: %v", msg.Inbox, berr)
			}
		}
		return StatusOK, nil
	}
}
