// Package server assembles the HTTP router and delivery-queue worker
// from the component packages (inbox, outbox, webhook, collections,
// webfinger, nodeinfo), providing the one concrete SiteLookup they
// each depend on independently (spec.md §2, §6).
package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/blogfed/apsrv/internal/collections"
	"github.com/blogfed/apsrv/internal/inbox"
	"github.com/blogfed/apsrv/internal/outbox"
	"github.com/blogfed/apsrv/internal/paths"
	"github.com/blogfed/apsrv/internal/webhook"
)

// Deps bundles everything the router needs to wire up its handlers.
type Deps struct {
	Sites       *Sites
	Inbox       *inbox.Dispatcher
	Outbox      *outbox.Service
	Webhook     *webhook.Handler
	Collections *collections.Dispatcher
	NodeInfo    *NodeInfoHandler
}

// NewRouter builds the gorilla/mux router serving every tenant's AP
// surface under the configured path prefix, plus the well-known
// discovery endpoints at the root (WebFinger and NodeInfo are not
// prefixed, per their respective RFCs).
func NewRouter(d Deps) http.Handler {
	root := mux.NewRouter()

	wf := &WebFingerHandler{Sites: d.Sites}
	wf.Register(root)
	d.NodeInfo.Register(root)

	tenant := root.PathPrefix(paths.Prefix).Subrouter()
	(&ActorHandler{Sites: d.Sites}).Register(tenant)
	d.Inbox.Register(tenant)
	d.Webhook.Register(tenant)
	d.Collections.Register(tenant)
	registerActions(tenant, d.Sites, d.Outbox)

	return root
}
