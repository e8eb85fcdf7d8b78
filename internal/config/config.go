// Package config describes the server's on-disk INI configuration,
// mirroring the section/tag layout the teacher framework used for its
// own Config type (gopkg.in/ini.v1 struct tags with human-readable
// comments baked in as documentation of each key).
package config

import (
	"errors"
	"fmt"

	"gopkg.in/ini.v1"
)

// Config is the top-level configuration file structure.
type Config struct {
	ServerConfig      ServerConfig      `ini:"server" comment:"HTTP server configuration"`
	DatabaseConfig    DatabaseConfig    `ini:"database" comment:"Database configuration"`
	FederationConfig  FederationConfig  `ini:"federation" comment:"ActivityPub federation configuration"`
	WebhookConfig     WebhookConfig     `ini:"webhook" comment:"Ghost webhook ingestion configuration"`
	NodeInfoConfig    NodeInfoConfig    `ini:"nodeinfo" comment:"NodeInfo configuration"`
}

// ServerConfig configures the HTTP surface this module's handlers are
// mounted behind. Actual routing/TLS termination is an external
// collaborator per spec.md §1; this only carries the values the core
// needs to build absolute actor/activity URLs.
type ServerConfig struct {
	Scheme                   string `ini:"sr_scheme" comment:"(default: https) URL scheme used when building actor/activity IRIs"`
	PathPrefix               string `ini:"sr_path_prefix" comment:"(default: /.ghost/activitypub) Path prefix under which the tenant's AP surface is mounted"`
	HttpClientTimeoutSeconds int    `ini:"sr_http_client_timeout_seconds" comment:"(default: 30) Timeout for outgoing delivery/dereference HTTP requests"`
}

// DatabaseConfig configures the MySQL connection pool. The driver
// itself (github.com/go-sql-driver/mysql) is an external collaborator;
// this struct only carries pool tuning and DSN pieces.
type DatabaseConfig struct {
	DatabaseKind              string `ini:"db_database_kind" comment:"(required) Only \"mysql\" is supported"`
	DSN                       string `ini:"db_dsn" comment:"(required) go-sql-driver/mysql data source name"`
	ConnMaxLifetimeSeconds    int    `ini:"db_conn_max_lifetime_seconds" comment:"(default: indefinite) Maximum lifetime of a connection in seconds"`
	MaxOpenConns              int    `ini:"db_max_open_conns" comment:"(default: infinite) Maximum number of open connections"`
	MaxIdleConns              int    `ini:"db_max_idle_conns" comment:"(default: 2) Maximum number of idle connections"`
	DefaultCollectionPageSize int    `ini:"db_default_collection_page_size" comment:"(default: 20) Not read by the server; collection pages use the fixed collections.PageSize"`
}

// FederationConfig tunes the outbound delivery and signature machinery.
type FederationConfig struct {
	OutboundRateLimitQPS                float64  `ini:"fed_outbound_rate_limit_qps" comment:"(default: 2) Per-destination-host outbound rate limit"`
	OutboundRateLimitBurst              int      `ini:"fed_outbound_rate_limit_burst" comment:"(default: 5) Per-destination-host burst tolerance"`
	OutboundRateLimitPrunePeriodSeconds int      `ini:"fed_outbound_rate_limit_prune_period_seconds" comment:"(default: 60) How often unused per-host limiters are pruned"`
	OutboundRateLimitPruneAgeSeconds    int      `ini:"fed_outbound_rate_limit_prune_age_seconds" comment:"(default: 300) Age at which an unused per-host limiter is pruned"`
	HttpSignatureAlgorithms             []string `ini:"fed_http_signature_algorithms" comment:"(default: rsa-sha256) Comma-separated list of go-fed/httpsig algorithms; not read by the server"`
	BackoffBaseSeconds                  int      `ini:"fed_backoff_base_seconds" comment:"(default: 60) Validated at load only; the delivery queue's per-inbox backoff ladder is fixed"`
	BackoffMaxSeconds                   int      `ini:"fed_backoff_max_seconds" comment:"(default: 86400) Validated at load only; the delivery queue's per-inbox backoff ladder is fixed"`
}

// WebhookConfig tunes the Ghost webhook verification tolerance.
type WebhookConfig struct {
	ToleranceSeconds int `ini:"wh_tolerance_seconds" comment:"(default: 300) Maximum allowed clock skew between the webhook timestamp and now"`
}

// NodeInfoConfig controls what's shared at /.well-known/nodeinfo.
type NodeInfoConfig struct {
	EnableNodeInfo bool `ini:"ni_enable_nodeinfo" comment:"(default: true) Whether to serve NodeInfo 2.1 documents"`
}

// Default returns a Config populated with the documented defaults.
func Default() Config {
	return Config{
		ServerConfig: ServerConfig{
			Scheme:                   "https",
			PathPrefix:               "/.ghost/activitypub",
			HttpClientTimeoutSeconds: 30,
		},
		DatabaseConfig: DatabaseConfig{
			DatabaseKind:              "mysql",
			MaxIdleConns:              2,
			DefaultCollectionPageSize: 20,
		},
		FederationConfig: FederationConfig{
			OutboundRateLimitQPS:                2,
			OutboundRateLimitBurst:              5,
			OutboundRateLimitPrunePeriodSeconds: 60,
			OutboundRateLimitPruneAgeSeconds:    300,
			HttpSignatureAlgorithms:             []string{"rsa-sha256"},
			BackoffBaseSeconds:                  60,
			BackoffMaxSeconds:                   86400,
		},
		WebhookConfig: WebhookConfig{
			ToleranceSeconds: 300,
		},
		NodeInfoConfig: NodeInfoConfig{
			EnableNodeInfo: true,
		},
	}
}

// Load reads and parses the INI file at path, filling in any zero-valued
// fields from Default().
func Load(path string) (c Config, err error) {
	c = Default()
	f, err := ini.Load(path)
	if err != nil {
		return c, fmt.Errorf("loading config %q: %w", path, err)
	}
	if err = f.MapTo(&c); err != nil {
		return c, fmt.Errorf("parsing config %q: %w", path, err)
	}
	return c, c.Verify()
}

// Verify validates that the required fields are present and sane.
func (c *Config) Verify() error {
	if len(c.DatabaseConfig.DSN) == 0 {
		return errors.New("db_dsn is empty, but it is required")
	}
	if c.DatabaseConfig.DatabaseKind != "mysql" {
		return fmt.Errorf("unsupported db_database_kind: %q", c.DatabaseConfig.DatabaseKind)
	}
	if c.FederationConfig.OutboundRateLimitQPS <= 0 {
		return errors.New("fed_outbound_rate_limit_qps must be positive")
	}
	if c.FederationConfig.BackoffBaseSeconds <= 0 {
		return errors.New("fed_backoff_base_seconds must be positive")
	}
	if c.FederationConfig.BackoffMaxSeconds < c.FederationConfig.BackoffBaseSeconds {
		return errors.New("fed_backoff_max_seconds must be >= fed_backoff_base_seconds")
	}
	return nil
}
