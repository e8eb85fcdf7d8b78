// Package webhook implements the Webhook Ingestor (C9): it verifies a
// Ghost post webhook's HMAC signature and dispatches the payload to
// the Outbox Service, per spec.md §4.6.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/tidwall/gjson"

	"github.com/blogfed/apsrv/internal/applog"
	"github.com/blogfed/apsrv/internal/domain"
	"github.com/blogfed/apsrv/internal/outbox"
	"github.com/blogfed/apsrv/internal/repo"
)

// DefaultTolerance is the maximum age of a webhook's timestamp before
// it is rejected, per spec.md §4.6.
const DefaultTolerance = 5 * time.Minute

// SiteLookup resolves the request's tenant and its default account,
// mirroring the lookup every tenant-scoped endpoint performs (C4).
type SiteLookup interface {
	GetByHost(r *http.Request) (*repo.Site, *domain.Account, error)
}

// Handler is the HTTP entry point for Ghost's post.published,
// post.updated and post.deleted webhooks.
type Handler struct {
	Outbox    *outbox.Service
	Sites     SiteLookup
	Tolerance time.Duration
}

type event string

const (
	eventPublished event = "published"
	eventUpdated   event = "updated"
	eventDeleted   event = "deleted"
)

// Register mounts the three webhook routes under r.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/webhooks/post/published", h.serve(eventPublished)).Methods(http.MethodPost)
	r.HandleFunc("/webhooks/post/updated", h.serve(eventUpdated)).Methods(http.MethodPost)
	r.HandleFunc("/webhooks/post/deleted", h.serve(eventDeleted)).Methods(http.MethodPost)
}

func (h *Handler) serve(ev event) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.handle(ev, w, r)
	}
}

func (h *Handler) handle(ev event, w http.ResponseWriter, r *http.Request) {
	site, author, err := h.Sites.GetByHost(r)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	sig := r.Header.Get("X-Ghost-Signature")
	mac, tMillis, err := parseSignatureHeader(sig)
	if err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	tolerance := h.Tolerance
	if tolerance == 0 {
		tolerance = DefaultTolerance
	}
	age := time.Since(time.UnixMilli(tMillis))
	if age < 0 {
		age = -age
	}
	if age > tolerance {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if !validSignature(site.WebhookSecret, body, tMillis, mac) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var payload outbox.GhostWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		// gjson tolerates the malformed/partial body a strict decode just
		// rejected, so the log line can still name which post misbehaved.
		applog.Error.Errorf("webhook: malformed payload for site %q (post uuid=%q): %v",
			site.Host, gjson.GetBytes(body, "post.current.uuid").String(), err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	switch ev {
	case eventPublished:
		_, err = h.Outbox.PublishArticleFromWebhook(ctx, author, payload.Post.Current)
	case eventUpdated:
		_, err = h.Outbox.UpdateArticleFromWebhook(ctx, author, payload.Post.Current)
	case eventDeleted:
		err = h.Outbox.DeleteArticleFromWebhook(ctx, payload.Post.Current)
	}
	if domain.Is(err, domain.KindPostAlreadyExists) {
		w.WriteHeader(http.StatusOK)
		return
	}
	if err != nil {
		applog.Error.Errorf("webhook: dispatch %s for site %q: %v", ev, site.Host, err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// parseSignatureHeader parses "sha256=<hex>, t=<unix-ms>".
func parseSignatureHeader(header string) (mac []byte, tMillis int64, err error) {
	parts := strings.Split(header, ",")
	if len(parts) != 2 {
		return nil, 0, fmt.Errorf("webhook: malformed signature header %q", header)
	}
	var hexMac, tStr string
	for _, p := range parts {
		kv := strings.SplitN(strings.TrimSpace(p), "=", 2)
		if len(kv) != 2 {
			return nil, 0, fmt.Errorf("webhook: malformed signature header %q", header)
		}
		switch kv[0] {
		case "sha256":
			hexMac = kv[1]
		case "t":
			tStr = kv[1]
		}
	}
	if hexMac == "" || tStr == "" {
		return nil, 0, fmt.Errorf("webhook: missing sha256/t in signature header %q", header)
	}
	mac, err = hex.DecodeString(hexMac)
	if err != nil {
		return nil, 0, fmt.Errorf("webhook: invalid hex mac: %w", err)
	}
	tMillis, err = strconv.ParseInt(tStr, 10, 64)
	if err != nil {
		return nil, 0, fmt.Errorf("webhook: invalid timestamp: %w", err)
	}
	return mac, tMillis, nil
}

func validSignature(secret string, body []byte, tMillis int64, provided []byte) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	mac.Write([]byte(strconv.FormatInt(tMillis, 10)))
	return hmac.Equal(mac.Sum(nil), provided)
}
