package server

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/mux"

	"github.com/blogfed/apsrv/internal/domain"
	"github.com/blogfed/apsrv/internal/outbox"
)

// registerActions mounts the local action endpoints (spec.md §6):
// follow/unfollow/like/unlike/repost/derepost/note/reply, each
// performed as the tenant's own default Account. These are the one
// HTTP surface meant for the tenant's own operator/CMS rather than a
// federated peer, so they're authenticated with a bearer token rather
// than an HTTP Signature — the site's existing webhook_secret is
// reused for this, since nothing in spec.md's schema carries a
// separate admin-API credential and provisioning a second per-tenant
// secret for the same trust boundary the webhook already covers would
// be redundant.
func registerActions(r *mux.Router, sites *Sites, svc *outbox.Service) {
	h := &actionsHandler{sites: sites, svc: svc}
	r.HandleFunc("/actions/follow/{handle}", h.authenticated(h.follow)).Methods(http.MethodPost)
	r.HandleFunc("/actions/unfollow/{handle}", h.authenticated(h.unfollow)).Methods(http.MethodPost)
	r.HandleFunc("/actions/like/{target}", h.authenticated(h.like)).Methods(http.MethodPost)
	r.HandleFunc("/actions/unlike/{target}", h.authenticated(h.unlike)).Methods(http.MethodPost)
	r.HandleFunc("/actions/repost/{target}", h.authenticated(h.repost)).Methods(http.MethodPost)
	r.HandleFunc("/actions/derepost/{target}", h.authenticated(h.derepost)).Methods(http.MethodPost)
	r.HandleFunc("/actions/note", h.authenticated(h.note)).Methods(http.MethodPost)
	r.HandleFunc("/actions/reply/{target}", h.authenticated(h.reply)).Methods(http.MethodPost)
}

type actionsHandler struct {
	sites *Sites
	svc   *outbox.Service
}

// authenticated resolves the requesting tenant and checks the bearer
// token against its webhook_secret before calling next.
func (h *actionsHandler) authenticated(next func(w http.ResponseWriter, r *http.Request, actor *domain.Account)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		site, actor, err := h.sites.GetByHost(r)
		if err != nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(site.WebhookSecret)) != 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next(w, r, actor)
	}
}

func target(r *http.Request) (string, error) {
	encoded := mux.Vars(r)["target"]
	return url.QueryUnescape(encoded)
}

func (h *actionsHandler) follow(w http.ResponseWriter, r *http.Request, actor *domain.Account) {
	writeResult(w, h.svc.Follow(r.Context(), actor, mux.Vars(r)["handle"]))
}

func (h *actionsHandler) unfollow(w http.ResponseWriter, r *http.Request, actor *domain.Account) {
	writeResult(w, h.svc.Unfollow(r.Context(), actor, mux.Vars(r)["handle"]))
}

func (h *actionsHandler) like(w http.ResponseWriter, r *http.Request, actor *domain.Account) {
	apID, err := target(r)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	writeResult(w, h.svc.Like(r.Context(), actor, apID))
}

func (h *actionsHandler) unlike(w http.ResponseWriter, r *http.Request, actor *domain.Account) {
	apID, err := target(r)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	writeResult(w, h.svc.Unlike(r.Context(), actor, apID))
}

func (h *actionsHandler) repost(w http.ResponseWriter, r *http.Request, actor *domain.Account) {
	apID, err := target(r)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	writeResult(w, h.svc.Repost(r.Context(), actor, apID))
}

func (h *actionsHandler) derepost(w http.ResponseWriter, r *http.Request, actor *domain.Account) {
	apID, err := target(r)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	writeResult(w, h.svc.Derepost(r.Context(), actor, apID))
}

type noteBody struct {
	Content string `json:"content"`
}

func (h *actionsHandler) note(w http.ResponseWriter, r *http.Request, actor *domain.Account) {
	var body noteBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	_, err := h.svc.CreateNote(r.Context(), actor, body.Content)
	writeResult(w, err)
}

func (h *actionsHandler) reply(w http.ResponseWriter, r *http.Request, actor *domain.Account) {
	apID, err := target(r)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var body noteBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	_, err = h.svc.Reply(r.Context(), actor, apID, body.Content)
	writeResult(w, err)
}

// writeResult maps a C6 operation's tagged outcome to the status codes
// in spec.md §6.
func writeResult(w http.ResponseWriter, err error) {
	if err == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	switch {
	case domain.Is(err, domain.KindSelfFollow),
		domain.Is(err, domain.KindAlreadyFollowing),
		domain.Is(err, domain.KindNotFollowing):
		w.WriteHeader(http.StatusConflict)
	case domain.Is(err, domain.KindNotFound):
		w.WriteHeader(http.StatusNotFound)
	default:
		w.WriteHeader(http.StatusInternalServerError)
	}
}
