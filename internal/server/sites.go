package server

import (
	"net/http"
	"strings"

	"github.com/blogfed/apsrv/internal/domain"
	"github.com/blogfed/apsrv/internal/paths"
	"github.com/blogfed/apsrv/internal/repo"
)

// Sites is the one concrete SiteLookup backing the webhook, inbox and
// collections packages' independently declared SiteLookup interfaces
// (spec.md §2: "one HTTP host maps to exactly one tenant"). It maps
// the incoming request's Host header to the tenant row and that
// tenant's single default Account.
type Sites struct {
	Registry *repo.SiteRegistry
	Accounts *repo.AccountRepository
	Scheme   string
}

// GetByHost resolves r's Host header to its Site and default Account.
func (s *Sites) GetByHost(r *http.Request) (*repo.Site, *domain.Account, error) {
	host := strings.ToLower(stripPort(r.Host))
	site, err := s.Registry.GetByHost(r.Context(), host)
	if err != nil {
		return nil, nil, err
	}
	account, err := s.Accounts.GetByID(r.Context(), site.DefaultAccountID)
	if err != nil {
		return nil, nil, err
	}
	return site, account, nil
}

// BaseURL returns the tenant's own origin plus the fixed tenant path
// prefix, the root every actor/collection IRI this server mints is
// built from.
func (s *Sites) BaseURL(r *http.Request) string {
	scheme := s.Scheme
	if scheme == "" {
		scheme = "https"
	}
	return scheme + "://" + stripPort(r.Host) + paths.Prefix
}

func stripPort(host string) string {
	if i := strings.IndexByte(host, ':'); i >= 0 {
		return host[:i]
	}
	return host
}
