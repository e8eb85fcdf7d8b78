// Package fedctx is the Federation Context (C5): it builds the
// per-account signing/addressing context used to deliver activities
// and dereference remote objects, and the document loader that caches
// fetched actors/objects in the KV store (spec.md §4 Federation
// Context, §9 "HTTP signature verification").
package fedctx

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-fed/httpsig"
	"golang.org/x/time/rate"

	"github.com/blogfed/apsrv/internal/applog"
)

const activityJSONMime = `application/ld+json; profile="https://www.w3.org/ns/activitystreams"`

var signedHeadersGet = []string{httpsig.RequestTarget, "host", "date"}
var signedHeadersPost = []string{httpsig.RequestTarget, "host", "date", "digest"}

var signAlgorithms = []httpsig.Algorithm{httpsig.RSA_SHA256}

// Transport delivers signed activities and dereferences remote
// objects on behalf of one internal actor.
type Transport struct {
	client    *http.Client
	userAgent string
	privKey   crypto.PrivateKey
	pubKeyID  string
	hosts     *hostLimiter
}

// Controller builds per-actor Transports sharing one *http.Client,
// the outbound per-host rate limiter, and the configured User-Agent.
type Controller struct {
	client    *http.Client
	userAgent string
	hosts     *hostLimiter
}

// NewController constructs a Controller. limitQPS/burst tune the
// per-destination-host admission limiter (supplemented feature,
// distinct from the per-inbox delivery backoff in the queue package);
// prunePeriod/pruneAge bound its memory use for long-lived processes.
func NewController(timeout time.Duration, userAgent string, limitQPS float64, burst int, prunePeriod, pruneAge time.Duration) *Controller {
	hl := newHostLimiter(rate.Limit(limitQPS), burst, prunePeriod, pruneAge)
	hl.Start()
	return &Controller{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		hosts:     hl,
	}
}

// Stop halts the controller's background host-limiter pruning.
func (c *Controller) Stop() {
	c.hosts.Stop()
}

// For returns a Transport that signs requests as the actor identified
// by pubKeyID (typically "<apId>#main-key") using privKey.
func (c *Controller) For(privKey crypto.PrivateKey, pubKeyID string) *Transport {
	return &Transport{
		client:    c.client,
		userAgent: c.userAgent,
		privKey:   privKey,
		pubKeyID:  pubKeyID,
		hosts:     c.hosts,
	}
}

func (t *Transport) date() string {
	return time.Now().UTC().Format("Mon, 02 Jan 2006 15:04:05") + " GMT"
}

func digestHeader(b []byte) string {
	sum := sha256.Sum256(b)
	return "SHA-256=" + base64.StdEncoding.EncodeToString(sum[:])
}

func (t *Transport) wait(ctx context.Context, target *url.URL) error {
	return t.hosts.Get(target.Hostname()).Wait(ctx)
}

// Dereference GETs iri with a signed request, for fetching remote
// actors/objects (used by the document loader) and WebFinger targets.
func (t *Transport) Dereference(ctx context.Context, iri *url.URL) ([]byte, error) {
	if err := t.wait(ctx, iri); err != nil {
		return nil, fmt.Errorf("fedctx: rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, iri.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("fedctx: build GET request: %w", err)
	}
	req.Header.Set("Accept", activityJSONMime)
	req.Header.Set("Accept-Charset", "utf-8")
	req.Header.Set("Date", t.date())
	req.Header.Set("User-Agent", t.userAgent)

	signer, _, err := httpsig.NewSigner(signAlgorithms, signedHeadersGet, httpsig.Signature)
	if err != nil {
		return nil, fmt.Errorf("fedctx: build GET signer: %w", err)
	}
	if err := signer.SignRequest(t.privKey, t.pubKeyID, req, nil); err != nil {
		return nil, fmt.Errorf("fedctx: sign GET request: %w", err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fedctx: dereference %s: %w", iri, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fedctx: read dereference body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fedctx: dereference %s: status %d", iri, resp.StatusCode)
	}
	return body, nil
}

// Deliver POSTs the signed, digested activity body to inbox. Error
// messages are left unwrapped of the transport's status-code text so
// the queue package's retry classifier (spec.md §4.5) can pattern
// match on it.
func (t *Transport) Deliver(ctx context.Context, body []byte, inbox *url.URL) error {
	if err := t.wait(ctx, inbox); err != nil {
		return fmt.Errorf("fedctx: rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, inbox.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("fedctx: build POST request: %w", err)
	}
	req.Header.Set("Content-Type", activityJSONMime)
	req.Header.Set("Accept-Charset", "utf-8")
	req.Header.Set("Date", t.date())
	req.Header.Set("User-Agent", t.userAgent)
	req.Header.Set("Digest", digestHeader(body))

	signer, _, err := httpsig.NewSigner(signAlgorithms, signedHeadersPost, httpsig.Signature)
	if err != nil {
		return fmt.Errorf("fedctx: build POST signer: %w", err)
	}
	if err := signer.SignRequest(t.privKey, t.pubKeyID, req, body); err != nil {
		return fmt.Errorf("fedctx: sign POST request: %w", err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		applog.Error.Errorf("fedctx: deliver to %s: %v", inbox, err)
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("deliver to %s: (%d %s)", inbox, resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return nil
}

// VerifyRequest verifies the HTTP Signature on an inbound request
// using keyFetcher to resolve the signer's public key by key id
// (spec.md §9: "fetch actor public keys via the document loader with
// a KV cache keyed by the actor's key id"). Returns the verified key
// id on success.
func VerifyRequest(r *http.Request, keyFetcher func(keyID string) (*rsa.PublicKey, error)) (string, error) {
	verifier, err := httpsig.NewVerifier(r)
	if err != nil {
		return "", fmt.Errorf("fedctx: no signature present: %w", err)
	}
	keyID := verifier.KeyId()
	pub, err := keyFetcher(keyID)
	if err != nil {
		return "", fmt.Errorf("fedctx: resolve key %q: %w", keyID, err)
	}
	if err := verifier.Verify(pub, httpsig.RSA_SHA256); err != nil {
		return "", fmt.Errorf("fedctx: signature verification failed: %w", err)
	}
	return keyID, nil
}
