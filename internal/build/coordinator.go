// Package build ensures a page's compiled artifacts exist before render.
// The coordinator fronts the bundler collaborator: it checks the
// compilation error registry before every load, triggers on-demand
// compilation, and folds loader misses into the not-found class so
// callers can answer 404.
package build

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pagekit-dev/pagekit/internal/bundler"
	fwerr "github.com/pagekit-dev/pagekit/internal/errors"
	"github.com/pagekit-dev/pagekit/internal/logging"
	"github.com/pagekit-dev/pagekit/internal/routes"
)

// PageComponents describes the compiled artifacts backing one page.
type PageComponents struct {
	Pathname     string
	ArtifactPath string
}

// ComponentLoader resolves the compiled artifacts for a normalized page
// pathname.
type ComponentLoader interface {
	LoadPage(ctx context.Context, normalized string) (*PageComponents, error)
}

// ArtifactLoader loads compiled pages from the build-output server
// directory.
type ArtifactLoader struct {
	BuildDir string
}

// LoadPage returns the artifact for a page, or fs.ErrNotExist when the
// page was never compiled.
func (l *ArtifactLoader) LoadPage(_ context.Context, normalized string) (*PageComponents, error) {
	artifact := filepath.Join(l.BuildDir, "server", "pages", strings.TrimPrefix(normalized, "/")+".js")
	if info, err := os.Stat(artifact); err != nil || info.IsDir() {
		if err == nil {
			return nil, fs.ErrNotExist
		}
		return nil, err
	}
	return &PageComponents{Pathname: normalized, ArtifactPath: artifact}, nil
}

// Coordinator is the build coordinator.
type Coordinator struct {
	pagesRoot  string
	extensions []string
	bundler    bundler.Bundler
	loader     ComponentLoader
	awaitReady func(ctx context.Context) error
	log        logging.Logger
}

// Options configures a Coordinator.
type Options struct {
	PagesRoot  string
	Extensions []string
	Bundler    bundler.Bundler
	Loader     ComponentLoader
	// AwaitReady blocks until the overall readiness barrier resolves.
	// Nil means no barrier.
	AwaitReady func(ctx context.Context) error
	Logger     logging.Logger
}

// NewCoordinator creates a build coordinator.
func NewCoordinator(opts Options) *Coordinator {
	return &Coordinator{
		pagesRoot:  opts.PagesRoot,
		extensions: opts.Extensions,
		bundler:    opts.Bundler,
		loader:     opts.Loader,
		awaitReady: opts.AwaitReady,
		log:        opts.Logger.WithComponent("build"),
	}
}

// HasPage reports whether a source file exists for the pathname. It
// never fails: an unnormalizable pathname simply yields false.
func (c *Coordinator) HasPage(pathname string) bool {
	normalized, err := routes.NormalizePagePath(pathname)
	if err != nil {
		return false
	}
	_, ok := routes.ResolvePageFile(c.pagesRoot, normalized, c.extensions)
	return ok
}

// EnsurePage delegates to the bundler to guarantee the page's module
// graph is compiled. It may block for the duration of compilation.
func (c *Coordinator) EnsurePage(ctx context.Context, pathname string) error {
	return c.bundler.EnsurePage(ctx, pathname)
}

// FindPageComponents resolves the compiled artifacts for a page. The
// compilation error registry wins over everything else: recorded errors
// surface as an already-reported build error instead of a render
// attempt. A missing artifact is folded into the not-found class so
// callers can produce a 404.
func (c *Coordinator) FindPageComponents(ctx context.Context, pathname string) (*PageComponents, error) {
	if c.awaitReady != nil {
		if err := c.awaitReady(ctx); err != nil {
			return nil, err
		}
	}

	normalized, err := routes.NormalizePagePath(pathname)
	if err != nil {
		return nil, &fwerr.PageNotFoundError{Pathname: pathname}
	}

	if errs := c.bundler.GetCompilationErrors(normalized); len(errs) > 0 {
		return nil, fwerr.WrapBuildError(normalized, errs)
	}

	if err := c.EnsurePage(ctx, pathname); err != nil {
		if fwerr.IsNotFound(err) || errors.Is(err, fs.ErrNotExist) {
			return nil, &fwerr.PageNotFoundError{Pathname: pathname}
		}
		if errs := c.bundler.GetCompilationErrors(normalized); len(errs) > 0 {
			return nil, fwerr.WrapBuildError(normalized, errs)
		}
		return nil, err
	}

	page, err := c.loader.LoadPage(ctx, normalized)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &fwerr.PageNotFoundError{Pathname: pathname}
		}
		return nil, err
	}
	return page, nil
}

// BuildFallbackError proactively builds the distinct fallback-error
// bundle and the standard error page before a generic error page is
// served.
func (c *Coordinator) BuildFallbackError(ctx context.Context) error {
	return c.bundler.BuildFallbackError(ctx)
}
