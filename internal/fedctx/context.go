package fedctx

import (
	"fmt"

	"github.com/blogfed/apsrv/internal/cryptoutil"
	"github.com/blogfed/apsrv/internal/domain"
)

// Context bundles the signing transport and document loader bound to
// one internal actor, handed to the outbox/inbox/webhook components
// that need to sign, deliver, or dereference on that actor's behalf.
type Context struct {
	Loader    *Loader
	Transport *Transport
}

// ForAccount builds a Context signing as account (which must be
// internal: non-empty ApPrivateKey).
func (c *Controller) ForAccount(loader *Loader, account *domain.Account) (*Context, error) {
	if !account.IsInternal() {
		return nil, fmt.Errorf("fedctx: account %q is not internal, has no signing key", account.ApID)
	}
	priv, err := cryptoutil.DecodePrivatePEM(account.ApPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("fedctx: decode private key for %q: %w", account.ApID, err)
	}
	t := c.For(priv, account.ApID+"#main-key")
	return &Context{Loader: loader, Transport: t}, nil
}
