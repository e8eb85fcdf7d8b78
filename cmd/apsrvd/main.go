// Command apsrvd runs the federation server: it wires the repositories,
// the Federation Context, the Outbox/Inbox/Webhook/Collections
// surfaces, the feed/notification projections, and the delivery queue
// worker behind one HTTP listener, mirroring the teacher's run.go
// flag-based entrypoint idiom.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/blogfed/apsrv/internal/applog"
	"github.com/blogfed/apsrv/internal/collections"
	"github.com/blogfed/apsrv/internal/config"
	"github.com/blogfed/apsrv/internal/cryptoutil"
	"github.com/blogfed/apsrv/internal/eventbus"
	"github.com/blogfed/apsrv/internal/fedctx"
	"github.com/blogfed/apsrv/internal/feed"
	"github.com/blogfed/apsrv/internal/inbox"
	"github.com/blogfed/apsrv/internal/kv"
	"github.com/blogfed/apsrv/internal/notification"
	"github.com/blogfed/apsrv/internal/outbox"
	"github.com/blogfed/apsrv/internal/queue"
	"github.com/blogfed/apsrv/internal/repo"
	"github.com/blogfed/apsrv/internal/server"
	"github.com/blogfed/apsrv/internal/webhook"
)

var (
	configFlag       = flag.String("config", "config.ini", "Path to the server's INI configuration file")
	addrFlag         = flag.String("addr", ":8080", "Address the HTTP server listens on")
	infoLogFileFlag  = flag.String("info_log_file", "", "If set, redirect info logging to this file instead of stdout")
	errorLogFileFlag = flag.String("error_log_file", "", "If set, redirect error logging to this file instead of stderr")
)

func main() {
	flag.Parse()

	if *infoLogFileFlag != "" || *errorLogFileFlag != "" {
		f, err := openLogFile(*infoLogFileFlag, *errorLogFileFlag)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		applog.ToFile(f, true)
	}

	cfg, err := config.Load(*configFlag)
	if err != nil {
		applog.Error.Errorf("loading config: %v", err)
		os.Exit(1)
	}

	if err := run(cfg, *addrFlag); err != nil {
		applog.Error.Errorf("%v", err)
		os.Exit(1)
	}
}

// openLogFile opens infoPath, or errorPath when infoPath is empty; when
// both are set, errorPath is not used. Mirrors the
// teacher's run.go handling of independent info/error log file flags,
// simplified to a single shared file since applog redirects both
// loggers together.
func openLogFile(infoPath, errorPath string) (*os.File, error) {
	path := infoPath
	if path == "" {
		path = errorPath
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0660)
	if err != nil {
		return nil, fmt.Errorf("open log file %q: %w", path, err)
	}
	return f, nil
}

func run(cfg config.Config, addr string) error {
	db, err := sql.Open("mysql", cfg.DatabaseConfig.DSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if cfg.DatabaseConfig.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.DatabaseConfig.MaxOpenConns)
	}
	db.SetMaxIdleConns(cfg.DatabaseConfig.MaxIdleConns)
	if cfg.DatabaseConfig.ConnMaxLifetimeSeconds > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.DatabaseConfig.ConnMaxLifetimeSeconds) * time.Second)
	}
	if err := db.Ping(); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	bus := eventbus.New()

	accounts, err := repo.NewAccountRepository(db, bus)
	if err != nil {
		return fmt.Errorf("account repository: %w", err)
	}
	posts, err := repo.NewPostRepository(db, bus)
	if err != nil {
		return fmt.Errorf("post repository: %w", err)
	}
	sites, err := repo.NewSiteRegistry(db)
	if err != nil {
		return fmt.Errorf("site registry: %w", err)
	}
	mappings, err := repo.NewGhostMappingStore(db)
	if err != nil {
		return fmt.Errorf("ghost mapping store: %w", err)
	}
	feeds, err := repo.NewFeedRepository(db)
	if err != nil {
		return fmt.Errorf("feed repository: %w", err)
	}
	notifications, err := repo.NewNotificationRepository(db)
	if err != nil {
		return fmt.Errorf("notification repository: %w", err)
	}
	store, err := kv.New(db)
	if err != nil {
		return fmt.Errorf("kv store: %w", err)
	}
	backoffStore, err := queue.NewBackoffStore(db)
	if err != nil {
		return fmt.Errorf("backoff store: %w", err)
	}

	httpTimeout := time.Duration(cfg.ServerConfig.HttpClientTimeoutSeconds) * time.Second
	control := fedctx.NewController(
		httpTimeout,
		"apsrv/1.0",
		cfg.FederationConfig.OutboundRateLimitQPS,
		cfg.FederationConfig.OutboundRateLimitBurst,
		time.Duration(cfg.FederationConfig.OutboundRateLimitPrunePeriodSeconds)*time.Second,
		time.Duration(cfg.FederationConfig.OutboundRateLimitPruneAgeSeconds)*time.Second,
	)
	defer control.Stop()

	// The document loader's transport dereferences remote actors/objects
	// on behalf of the whole process rather than any one tenant (every
	// component shares one Loader), so it signs with a process-local key
	// that has no corresponding served actor document. Peers that
	// optionally verify GET signatures fall back to serving the resource
	// unsigned-equivalent rather than rejecting it, matching common AP
	// server behavior; this is a known simplification over per-tenant
	// signed dereference.
	systemKey, err := cryptoutil.Generate()
	if err != nil {
		return fmt.Errorf("generate system dereference key: %w", err)
	}
	transport := control.For(systemKey.Private, "apsrv:system#main-key")
	loader := fedctx.NewLoader(store, transport)

	q := queue.New(backoffStore, 256)
	q.OnError(func(msg queue.Message, err error) {
		applog.Error.Errorf("queue: handler failed for %s (inbox=%s): %v", msg.ID, msg.Inbox, err)
	})

	svc := &outbox.Service{
		Accounts:   accounts,
		Posts:      posts,
		Mappings:   mappings,
		Loader:     loader,
		Control:    control,
		Queue:      q,
		HTTP:       &http.Client{Timeout: httpTimeout},
		PathPrefix: cfg.ServerConfig.PathPrefix,
	}

	inboxDispatcher := &inbox.Dispatcher{
		Accounts: accounts,
		Posts:    posts,
		Outbox:   svc,
		Loader:   loader,
	}
	webhookHandler := &webhook.Handler{
		Outbox:    svc,
		Tolerance: time.Duration(cfg.WebhookConfig.ToleranceSeconds) * time.Second,
	}
	collectionsDispatcher := &collections.Dispatcher{
		Accounts: accounts,
		Posts:    posts,
		Feeds:    feeds,
	}

	siteLookup := &server.Sites{Registry: sites, Accounts: accounts, Scheme: cfg.ServerConfig.Scheme}
	inboxDispatcher.Sites = siteLookup
	webhookHandler.Sites = siteLookup
	collectionsDispatcher.Sites = siteLookup

	feedProjection := &feed.Projection{Feeds: feeds, Posts: posts, Accounts: accounts}
	feedProjection.Subscribe(bus)
	notificationProjection := &notification.Projection{Notifications: notifications, Posts: posts, Accounts: accounts}
	notificationProjection.Subscribe(bus)

	nodeInfo := &server.NodeInfoHandler{
		Sites:    siteLookup,
		Stats:    server.NewStats(accounts, posts),
		Software: "apsrv",
		Version:  "1.0.0",
		Enabled:  cfg.NodeInfoConfig.EnableNodeInfo,
	}

	router := server.NewRouter(server.Deps{
		Sites:       siteLookup,
		Inbox:       inboxDispatcher,
		Outbox:      svc,
		Webhook:     webhookHandler,
		Collections: collectionsDispatcher,
		NodeInfo:    nodeInfo,
	})

	worker := &server.Worker{Accounts: accounts, Loader: loader, Control: control}
	workerCtx, cancelWorker := context.WithCancel(context.Background())
	defer cancelWorker()
	go worker.Listen(workerCtx, q)

	httpServer := &http.Server{Addr: addr, Handler: router}

	errCh := make(chan error, 1)
	go func() {
		applog.Info.Infof("apsrvd: listening on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-sigCh:
		applog.Info.Infof("apsrvd: received %s, shutting down", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
