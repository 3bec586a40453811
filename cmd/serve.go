package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pagekit-dev/pagekit/internal/build"
	"github.com/pagekit-dev/pagekit/internal/bundler"
	"github.com/pagekit-dev/pagekit/internal/config"
	"github.com/pagekit-dev/pagekit/internal/diagnostics"
	"github.com/pagekit-dev/pagekit/internal/logging"
	"github.com/pagekit-dev/pagekit/internal/routes"
	"github.com/pagekit-dev/pagekit/internal/server"
	"github.com/pagekit-dev/pagekit/internal/staticpaths"
	"github.com/pagekit-dev/pagekit/internal/watcher"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the development server",
	Long: `Start the development server. Routes are discovered from the pages
directory and updated live; pages compile on first request.

Examples:
  pagekit serve                    # Serve on the configured port
  pagekit serve --port 8080        # Override the port
  pagekit serve --pages src/pages  # Serve a different pages root`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 3000, "Port to serve on")
	serveCmd.Flags().String("host", "localhost", "Host to bind to")
	serveCmd.Flags().String("pages", "pages", "Pages root directory")
	serveCmd.Flags().String("build-dir", ".pagekit", "Build output directory")
	serveCmd.Flags().String("base-path", "", "Path prefix the app is served under")

	bindFlags(serveCmd.Flags(), map[string]string{
		"port":      "server.port",
		"host":      "server.host",
		"pages":     "paths.pages_root",
		"build-dir": "paths.build_dir",
		"base-path": "server.base_path",
	})
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	log := logging.NewLogger(&logging.LoggerConfig{
		Level:  logging.ParseLevel(cfg.Logging.Level),
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})

	srv, err := buildServer(cfg, log)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Info(ctx, "shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

func buildServer(cfg *config.Config, log logging.Logger) (*server.DevServer, error) {
	rules, err := routes.LoadRules(cfg.Routes.File)
	if err != nil {
		return nil, fmt.Errorf("loading custom routes: %w", err)
	}

	b := bundler.NewCommandBundler(bundler.CommandBundlerOptions{
		PagesRoot:  cfg.Paths.PagesRoot,
		BuildDir:   cfg.Paths.BuildDir,
		Command:    cfg.Build.Command,
		Extensions: cfg.Build.PageExtensions,
		Logger:     log,
	})

	var worker staticpaths.Worker = &noPathsWorker{}
	if cfg.StaticPaths.Command != "" {
		worker = &staticpaths.ExecWorker{Command: cfg.StaticPaths.Command}
	}

	// The coordinator shares the server's readiness barrier; srv is
	// assigned before any request can reach the closure.
	var srv *server.DevServer
	srv = server.New(server.Options{
		Config:  cfg,
		Logger:  log,
		Watcher: watcher.NewRouteWatcher(cfg.Paths.PagesRoot, cfg.Build.PageExtensions, cfg.Development.WatchDebounceDuration(), log),
		Bundler: b,
		Builder: build.NewCoordinator(build.Options{
			PagesRoot:  cfg.Paths.PagesRoot,
			Extensions: cfg.Build.PageExtensions,
			Bundler:    b,
			Loader:     &build.ArtifactLoader{BuildDir: cfg.Paths.BuildDir},
			AwaitReady: func(ctx context.Context) error {
				return srv.AwaitReady(ctx)
			},
			Logger: log,
		}),
		StaticPaths: staticpaths.NewCoordinator(staticpaths.Options{
			Worker:        worker,
			Retries:       cfg.StaticPaths.Retries,
			MaxConcurrent: cfg.StaticPaths.Workers,
			BuildDir:      cfg.Paths.BuildDir,
			Locales:       cfg.Development.Locales,
			DefaultLocale: cfg.Development.DefaultLocale,
			Logger:        log,
		}),
		Remapper: diagnostics.NewRemapper(cfg.Paths.BuildDir, log),
		Rules:    rules,
	})
	return srv, nil
}

// noPathsWorker serves projects without an enumeration command: every
// dynamic route renders on demand.
type noPathsWorker struct{}

func (*noPathsWorker) LoadStaticPaths(context.Context, staticpaths.Request) (*staticpaths.RawResult, error) {
	return &staticpaths.RawResult{Paths: []string{}, Fallback: []byte(`"blocking"`)}, nil
}
