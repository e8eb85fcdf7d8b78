package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/blogfed/apsrv/internal/as"
	"github.com/blogfed/apsrv/internal/nodeinfo"
	"github.com/blogfed/apsrv/internal/paths"
	"github.com/blogfed/apsrv/internal/repo"
	"github.com/blogfed/apsrv/internal/webfinger"
)

// stats adapts the account and post repositories to nodeinfo.Stats.
type stats struct {
	Accounts *repo.AccountRepository
	Posts    *repo.PostRepository
}

func (s stats) AccountCount(ctx context.Context) (int, error)   { return s.Accounts.AccountCount(ctx) }
func (s stats) LocalPostCount(ctx context.Context) (int, error) { return s.Posts.LocalPostCount(ctx) }

// NewStats builds the nodeinfo.Stats implementation backing NodeInfoHandler.
func NewStats(accounts *repo.AccountRepository, posts *repo.PostRepository) nodeinfo.Stats {
	return stats{Accounts: accounts, Posts: posts}
}

// ActorHandler serves each tenant's single Actor document at
// GET /users/{handle} (spec.md §6).
type ActorHandler struct {
	Sites *Sites
}

// Register mounts the actor route under r.
func (h *ActorHandler) Register(r *mux.Router) {
	r.HandleFunc("/users/{handle}", h.serveHTTP).Methods(http.MethodGet)
}

func (h *ActorHandler) serveHTTP(w http.ResponseWriter, r *http.Request) {
	_, account, err := h.Sites.GetByHost(r)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	handle := mux.Vars(r)["handle"]
	if account.Username != handle {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	actor := as.Actor{
		ID:                account.ApID,
		Type:              "Person",
		PreferredUsername: account.Username,
		Name:              account.Name,
		Summary:           account.Bio,
		URL:               account.URL,
		Inbox:             account.ApInbox,
		Outbox:            account.ApOutbox,
		Followers:         account.ApFollowers,
		Following:         account.ApFollowing,
		Liked:             account.ApLiked,
		Endpoints:         &as.Endpoints{SharedInbox: account.ApSharedInbox},
		PublicKey: &as.PublicKey{
			ID:           account.ApID + "#main-key",
			Owner:        account.ApID,
			PublicKeyPem: account.ApPublicKey,
		},
	}
	if account.AvatarURL != "" {
		actor.Icon = &as.Image{Type: "Image", URL: account.AvatarURL}
	}
	if account.BannerImageURL != "" {
		actor.Image = &as.Image{Type: "Image", URL: account.BannerImageURL}
	}
	if !account.CreatedAt.IsZero() {
		actor.Published = account.CreatedAt.UTC().Format(time.RFC3339)
	}

	w.Header().Set("Content-Type", as.ActivityJSONMime)
	_ = json.NewEncoder(w).Encode(as.WithContext(actor))
}

// WebFingerHandler serves GET /.well-known/webfinger (spec.md §6,
// SUPPLEMENTED FEATURES #2).
type WebFingerHandler struct {
	Sites *Sites
}

func (h *WebFingerHandler) Register(r *mux.Router) {
	r.HandleFunc("/.well-known/webfinger", h.serveHTTP).Methods(http.MethodGet)
}

func (h *WebFingerHandler) serveHTTP(w http.ResponseWriter, r *http.Request) {
	_, account, err := h.Sites.GetByHost(r)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	resource := r.URL.Query().Get("resource")
	host := stripPort(r.Host)
	if resource != "" && resource != "acct:"+account.Username+"@"+host {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	doc := webfinger.BuildDocument(account.Username, host, account.ApID)
	w.Header().Set("Content-Type", "application/jrd+json")
	_ = json.NewEncoder(w).Encode(doc)
}

// NodeInfoHandler serves /.well-known/nodeinfo and the versioned
// NodeInfo document it points at (spec.md §6).
type NodeInfoHandler struct {
	Sites    *Sites
	Stats    nodeinfo.Stats
	Software string
	Version  string
	Enabled  bool
}

func (h *NodeInfoHandler) Register(r *mux.Router) {
	r.HandleFunc("/.well-known/nodeinfo", h.serveWellKnown).Methods(http.MethodGet)
	r.HandleFunc("/nodeinfo/2.1", h.serveDocument).Methods(http.MethodGet)
}

func (h *NodeInfoHandler) serveWellKnown(w http.ResponseWriter, r *http.Request) {
	if !h.Enabled {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	// The versioned document is mounted at the root, not under the
	// tenant prefix that BaseURL carries.
	doc := nodeinfo.BuildWellKnown(strings.TrimSuffix(h.Sites.BaseURL(r), paths.Prefix))
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(doc)
}

func (h *NodeInfoHandler) serveDocument(w http.ResponseWriter, r *http.Request) {
	if !h.Enabled {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	doc, err := nodeinfo.Build(r.Context(), h.Software, h.Version, h.Stats)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(doc)
}
