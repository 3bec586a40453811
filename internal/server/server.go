// Package server routes development requests: internal dev-asset
// endpoints first, then custom redirect/rewrite/header rules, then the
// public-asset and page catch-all. Requests arriving before the watcher
// and bundler are ready suspend on the readiness barrier.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/pagekit-dev/pagekit/internal/build"
	"github.com/pagekit-dev/pagekit/internal/bundler"
	"github.com/pagekit-dev/pagekit/internal/config"
	"github.com/pagekit-dev/pagekit/internal/diagnostics"
	"github.com/pagekit-dev/pagekit/internal/logging"
	"github.com/pagekit-dev/pagekit/internal/preview"
	"github.com/pagekit-dev/pagekit/internal/routes"
	"github.com/pagekit-dev/pagekit/internal/staticpaths"
	"github.com/pagekit-dev/pagekit/internal/watcher"
)

// buildID is fixed in development; production builds stamp a hash here.
const buildID = "development"

// devAssetPrefix is the internal namespace for build-output files.
const devAssetPrefix = "/_next/development/"

// eventsPath is the websocket endpoint inside the dev namespace.
const eventsPath = "/_next/development/_events"

// manifestPath serves the pathname list the client router polls.
const manifestPath = "/_next/static/" + buildID + "/_devPagesManifest.json"

// RequestHandler is the capability surface a server implementation
// offers. The development implementation below composes the watcher,
// build, and static-paths coordinators; a production implementation
// would compose a disjoint, simpler set.
type RequestHandler interface {
	GenerateRoutes() []Route
	HasPage(pathname string) bool
	FindPageComponents(ctx context.Context, pathname string) (*build.PageComponents, error)
	Run(w http.ResponseWriter, r *http.Request) (bool, error)
}

// Route is one prioritized router entry. Fn reports whether it finished
// the response; an unfinished match falls through to later entries.
type Route struct {
	Name  string
	Match func(r *http.Request) (map[string]string, bool)
	Fn    func(w http.ResponseWriter, r *http.Request, params map[string]string) (bool, error)
}

// DevServer is the development request router.
type DevServer struct {
	cfg      *config.Config
	log      logging.Logger
	watcher  *watcher.RouteWatcher
	bundler  bundler.Bundler
	builder  *build.Coordinator
	static   *staticpaths.Coordinator
	remapper *diagnostics.Remapper
	preview  *preview.Cache
	rules    *routes.Rules
	hub      *Hub
	sandbox  *sandbox

	ready     chan struct{}
	readyOnce sync.Once

	overlayInit sync.Once
	overlay     overlayRenderer

	entries []Route
	httpSrv *http.Server
}

// Options wires the coordinators into a DevServer.
type Options struct {
	Config      *config.Config
	Logger      logging.Logger
	Watcher     *watcher.RouteWatcher
	Bundler     bundler.Bundler
	Builder     *build.Coordinator
	StaticPaths *staticpaths.Coordinator
	Remapper    *diagnostics.Remapper
	Rules       *routes.Rules
}

// New creates a development server. The readiness barrier resolves once
// the watcher has completed its bootstrap scan and the bundler reports
// ready.
func New(opts Options) *DevServer {
	cfg := opts.Config
	s := &DevServer{
		cfg:      cfg,
		log:      opts.Logger.WithComponent("server"),
		watcher:  opts.Watcher,
		bundler:  opts.Bundler,
		builder:  opts.Builder,
		static:   opts.StaticPaths,
		remapper: opts.Remapper,
		preview:  &preview.Cache{},
		rules:    opts.Rules,
		hub:      NewHub(opts.Logger, cfg.Server.AllowedOrigins),
		ready:    make(chan struct{}),
		sandbox: newSandbox(
			buildSubdir(cfg.Paths.BuildDir, "static"),
			buildSubdir(cfg.Paths.BuildDir, "server"),
			cfg.Paths.StaticDir,
			cfg.Paths.PublicDir,
		),
	}
	s.entries = s.GenerateRoutes()
	return s
}

// Start brings up the bundler, the watcher, and the HTTP listener, and
// arms the readiness barrier.
func (s *DevServer) Start(ctx context.Context) error {
	if err := s.bundler.Start(ctx); err != nil {
		return fmt.Errorf("start bundler: %w", err)
	}
	if err := s.watcher.Start(ctx); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}

	s.armReadiness()

	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	handler := http.Handler(s)
	if s.cfg.Development.AccessLog {
		handler = s.accessLog(handler)
	}
	handler = s.recoverPanics(handler)
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Info(ctx, "development server listening", "addr", addr)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.ReportBackgroundError(err)
		}
	}()
	return nil
}

// armReadiness subscribes the hub to route-table changes, feeds page
// edits to bundler invalidation, and resolves the barrier once both the
// watcher and the bundler report ready.
func (s *DevServer) armReadiness() {
	s.watcher.OnChange(func(pathnames []string) {
		s.hub.Broadcast(context.Background(), ManifestEvent{Event: "devPagesManifest"})
	})
	s.watcher.OnPageChange(s.bundler.Invalidate)
	go func() {
		<-s.watcher.Ready()
		<-s.bundler.Ready()
		s.readyOnce.Do(func() { close(s.ready) })
	}()
}

// ReportBackgroundError logs a failure from outside any request, the
// way an unhandled rejection would log. The process keeps running.
func (s *DevServer) ReportBackgroundError(err error) {
	s.remapper.LogError(context.Background(), diagnostics.EventUnhandledRejection, err)
}

// Shutdown stops the watcher, then the bundler, then the listener, each
// awaited in order.
func (s *DevServer) Shutdown(ctx context.Context) error {
	s.watcher.Stop()
	if err := s.bundler.Stop(ctx); err != nil {
		return fmt.Errorf("stop bundler: %w", err)
	}
	s.hub.Close()
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
	}
	return nil
}

// Ready resolves once all subsequent requests may proceed.
func (s *DevServer) Ready() <-chan struct{} { return s.ready }

// HasPage reports whether a source file backs the pathname. It never
// fails.
func (s *DevServer) HasPage(pathname string) bool {
	return s.builder.HasPage(pathname)
}

// FindPageComponents resolves compiled artifacts for a page.
func (s *DevServer) FindPageComponents(ctx context.Context, pathname string) (*build.PageComponents, error) {
	return s.builder.FindPageComponents(ctx, pathname)
}

// Run gives the bundler first claim on a request, for dev-middleware
// endpoints it owns outright.
func (s *DevServer) Run(w http.ResponseWriter, r *http.Request) (bool, error) {
	return s.bundler.Run(w, r)
}

// AwaitReady suspends until the readiness barrier fires or the context
// is abandoned. Collaborators constructed before the server share the
// same barrier through it.
func (s *DevServer) AwaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
