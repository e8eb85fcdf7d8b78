package fedctx

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/blogfed/apsrv/internal/as"
	"github.com/blogfed/apsrv/internal/cryptoutil"
	"github.com/blogfed/apsrv/internal/kv"
)

// Loader fetches remote actors/objects, caching the verbatim bytes in
// the KV store keyed by canonical id (spec.md glossary "Document
// loader").
type Loader struct {
	store     *kv.Store
	transport *Transport
}

// NewLoader builds a Loader backed by store and transport.
func NewLoader(store *kv.Store, transport *Transport) *Loader {
	return &Loader{store: store, transport: transport}
}

// FetchRaw returns the verbatim JSON-LD bytes for iri, preferring the
// KV cache and falling back to a signed dereference, which is then
// cached.
func (l *Loader) FetchRaw(ctx context.Context, iri string) ([]byte, error) {
	if cached, err := l.store.Get(ctx, iri); err == nil {
		return cached, nil
	} else if !errors.Is(err, kv.ErrNotFound) {
		return nil, err
	}

	u, err := url.Parse(iri)
	if err != nil {
		return nil, fmt.Errorf("fedctx: parse iri %q: %w", iri, err)
	}
	body, err := l.transport.Dereference(ctx, u)
	if err != nil {
		return nil, err
	}
	if err := l.store.Put(ctx, iri, body); err != nil {
		return nil, err
	}
	return body, nil
}

// FetchActor dereferences and decodes an actor document.
func (l *Loader) FetchActor(ctx context.Context, actorID string) (*as.Actor, error) {
	body, err := l.FetchRaw(ctx, actorID)
	if err != nil {
		return nil, err
	}
	var a as.Actor
	if err := json.Unmarshal(body, &a); err != nil {
		return nil, fmt.Errorf("fedctx: decode actor %q: %w", actorID, err)
	}
	return &a, nil
}

// FetchObject dereferences and decodes a Note/Article object.
func (l *Loader) FetchObject(ctx context.Context, objectID string) (*as.Object, error) {
	body, err := l.FetchRaw(ctx, objectID)
	if err != nil {
		return nil, err
	}
	var o as.Object
	if err := json.Unmarshal(body, &o); err != nil {
		return nil, fmt.Errorf("fedctx: decode object %q: %w", objectID, err)
	}
	return &o, nil
}

// PutActivity stores the verbatim bytes of a locally-produced or
// locally-received activity/object under its canonical id (the C7
// "KV mirror" step, spec.md §4.4 step 7).
func (l *Loader) PutActivity(ctx context.Context, canonicalID string, raw []byte) error {
	return l.store.Put(ctx, canonicalID, raw)
}

// KeyFetcher resolves an actor's publicKeyPem by key id (the
// "#main-key" fragment is stripped to get the owning actor's id),
// caching the actor document via the Loader. It satisfies the
// keyFetcher parameter of VerifyRequest.
func (l *Loader) KeyFetcher(ctx context.Context) func(keyID string) (*rsa.PublicKey, error) {
	return func(keyID string) (*rsa.PublicKey, error) {
		u, err := url.Parse(keyID)
		if err != nil {
			return nil, fmt.Errorf("fedctx: parse key id %q: %w", keyID, err)
		}
		u.Fragment = ""
		actor, err := l.FetchActor(ctx, u.String())
		if err != nil {
			return nil, err
		}
		if actor.PublicKey == nil || actor.PublicKey.PublicKeyPem == "" {
			return nil, fmt.Errorf("fedctx: actor %q has no public key", actor.ID)
		}
		return cryptoutil.DecodePublicPEM(actor.PublicKey.PublicKeyPem)
	}
}
