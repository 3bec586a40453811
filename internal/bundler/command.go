package bundler

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	fwerr "github.com/pagekit-dev/pagekit/internal/errors"
	"github.com/pagekit-dev/pagekit/internal/logging"
	"github.com/pagekit-dev/pagekit/internal/routes"
)

// FallbackErrorPage is the pathname of the always-available error bundle.
const FallbackErrorPage = "/_error-fallback"

// ErrorPage is the pathname of the standard error page.
const ErrorPage = "/_error"

// fallbackErrorSource is compiled into the build output unconditionally
// so an error UI exists even when nothing else builds.
const fallbackErrorSource = `export default function FallbackError({ error }) {
  return { tag: "pre", text: String(error) };
}
`

// CommandBundler compiles pages by invoking an external build command
// once per page, recording failures in its error registry. It is the
// development implementation of the Bundler contract.
type CommandBundler struct {
	pagesRoot  string
	buildDir   string
	command    string
	extensions []string
	log        logging.Logger
	registry   *ErrorRegistry

	ready     chan struct{}
	readyOnce sync.Once

	mu      sync.Mutex
	built   map[string]bool
	pending sync.WaitGroup
}

// CommandBundlerOptions configures a CommandBundler.
type CommandBundlerOptions struct {
	PagesRoot  string
	BuildDir   string
	Command    string
	Extensions []string
	Logger     logging.Logger
}

// NewCommandBundler creates a bundler that shells out per page. The
// command receives the page source, pathname and build directory via
// the PAGE_SOURCE, PAGE_PATH and BUILD_DIR environment variables.
func NewCommandBundler(opts CommandBundlerOptions) *CommandBundler {
	return &CommandBundler{
		pagesRoot:  opts.PagesRoot,
		buildDir:   opts.BuildDir,
		command:    opts.Command,
		extensions: opts.Extensions,
		log:        opts.Logger.WithComponent("bundler"),
		registry:   NewErrorRegistry(),
		ready:      make(chan struct{}),
		built:      make(map[string]bool),
	}
}

// Registry exposes the compilation error registry for tests.
func (b *CommandBundler) Registry() *ErrorRegistry { return b.registry }

// Start prepares the build output layout and resolves readiness.
func (b *CommandBundler) Start(ctx context.Context) error {
	for _, dir := range []string{
		filepath.Join(b.buildDir, "static"),
		filepath.Join(b.buildDir, "server", "pages"),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("preparing build dir: %w", err)
		}
	}
	b.readyOnce.Do(func() { close(b.ready) })
	return nil
}

// Stop waits for in-flight compilations.
func (b *CommandBundler) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ready is closed after Start.
func (b *CommandBundler) Ready() <-chan struct{} { return b.ready }

// EnsurePage compiles the page backing pathname if it has not been
// compiled yet. Compilation failures are recorded in the registry and
// returned.
func (b *CommandBundler) EnsurePage(ctx context.Context, pathname string) error {
	normalized, err := routes.NormalizePagePath(pathname)
	if err != nil {
		return &fwerr.PageNotFoundError{Pathname: pathname}
	}

	b.mu.Lock()
	if b.built[normalized] {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	source, ok := routes.ResolvePageFile(b.pagesRoot, normalized, b.extensions)
	if !ok {
		return &fwerr.PageNotFoundError{Pathname: pathname}
	}

	if err := b.compile(ctx, normalized, source); err != nil {
		b.registry.Record(normalized, []error{err})
		return err
	}

	b.registry.Clear(normalized)
	b.mu.Lock()
	b.built[normalized] = true
	b.mu.Unlock()
	return nil
}

func (b *CommandBundler) compile(ctx context.Context, normalized, source string) error {
	artifact := filepath.Join(b.buildDir, "server", "pages", strings.TrimPrefix(normalized, "/")+".js")
	if err := os.MkdirAll(filepath.Dir(artifact), 0755); err != nil {
		return err
	}

	b.pending.Add(1)
	defer b.pending.Done()

	if b.command == "" {
		// No build command configured: pages are plain modules, copy
		// them into the server output.
		data, err := os.ReadFile(source)
		if err != nil {
			return err
		}
		return os.WriteFile(artifact, data, 0644)
	}

	parts := strings.Fields(b.command)
	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	cmd.Env = append(os.Environ(),
		"PAGE_SOURCE="+source,
		"PAGE_PATH="+normalized,
		"BUILD_DIR="+b.buildDir,
		"PAGE_ARTIFACT="+artifact,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		b.log.Warn(ctx, err, "page compilation failed", "page", normalized)
		return fmt.Errorf("%s: %s", normalized, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// GetCompilationErrors returns the recorded errors for a page.
func (b *CommandBundler) GetCompilationErrors(pathname string) []error {
	normalized, err := routes.NormalizePagePath(pathname)
	if err != nil {
		return nil
	}
	return b.registry.Get(normalized)
}

// Run lets the bundler answer requests it owns. The command bundler
// serves nothing directly; compiled assets go through the dev-asset
// route.
func (b *CommandBundler) Run(w http.ResponseWriter, r *http.Request) (bool, error) {
	return false, nil
}

// BuildFallbackError writes the fallback-error bundle and compiles the
// standard error page when one exists in the project.
func (b *CommandBundler) BuildFallbackError(ctx context.Context) error {
	artifact := filepath.Join(b.buildDir, "server", "pages", "_error-fallback.js")
	if err := os.MkdirAll(filepath.Dir(artifact), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(artifact, []byte(fallbackErrorSource), 0644); err != nil {
		return fmt.Errorf("writing fallback error bundle: %w", err)
	}

	if _, ok := routes.ResolvePageFile(b.pagesRoot, "/_error", b.extensions); ok {
		return b.EnsurePage(ctx, ErrorPage)
	}
	return nil
}

// Invalidate drops the built marker for a page so the next EnsurePage
// recompiles it. The server feeds route-watcher file events here.
func (b *CommandBundler) Invalidate(pathname string) {
	normalized, err := routes.NormalizePagePath(pathname)
	if err != nil {
		return
	}
	b.mu.Lock()
	delete(b.built, normalized)
	b.mu.Unlock()
}
