package server

import (
	"context"
	"fmt"
	"net/url"

	"github.com/blogfed/apsrv/internal/applog"
	"github.com/blogfed/apsrv/internal/fedctx"
	"github.com/blogfed/apsrv/internal/queue"
	"github.com/blogfed/apsrv/internal/repo"
)

// Worker drains the delivery queue (C8), resolving each outbox
// message's signing actor and handing the activity body to the
// federation transport, per spec.md §4.5.
type Worker struct {
	Accounts *repo.AccountRepository
	Loader   *fedctx.Loader
	Control  *fedctx.Controller
}

// Listen blocks, dispatching messages from q until ctx is cancelled.
func (w *Worker) Listen(ctx context.Context, q *queue.Queue) {
	q.Listen(ctx, w.handle)
}

func (w *Worker) handle(ctx context.Context, msg queue.Message) error {
	switch msg.Type {
	case queue.TypeOutbox:
		return w.deliver(ctx, msg)
	case queue.TypeInbox:
		// Inbound retries re-enter the same best-effort inbox dispatch
		// path; since that dispatcher handles each activity inline and
		// then always acks with 202, nothing currently publishes
		// TypeInbox messages, but Listen
		// still needs a defined (non-erroring) case for it.
		return nil
	default:
		return fmt.Errorf("server: unknown message type %q", msg.Type)
	}
}

func (w *Worker) deliver(ctx context.Context, msg queue.Message) error {
	actor, err := w.Accounts.GetByApID(ctx, msg.Actor)
	if err != nil {
		return err
	}
	fc, err := w.Control.ForAccount(w.Loader, actor)
	if err != nil {
		return err
	}
	inbox, err := url.Parse(msg.Inbox)
	if err != nil {
		return err
	}
	if err := fc.Transport.Deliver(ctx, msg.Payload, inbox); err != nil {
		applog.Error.Errorf("server: deliver %s to %s: %v", msg.ID, msg.Inbox, err)
		return err
	}
	return nil
}
