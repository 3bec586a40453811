// Package bundler defines the contract the dev server consumes from the
// module bundler, and a registry for the compilation errors the bundler
// records per page. The registry is owned and mutated by the bundler;
// the rest of the server only reads it.
package bundler

import (
	"context"
	"net/http"
	"sync"
)

// Bundler is the external compilation collaborator.
type Bundler interface {
	// Start boots the bundler. Ready() resolves when bootstrap
	// compilation is done.
	Start(ctx context.Context) error

	// Stop tears the bundler down, awaited during shutdown.
	Stop(ctx context.Context) error

	// Ready is closed once bootstrap compilation completes.
	Ready() <-chan struct{}

	// EnsurePage guarantees the page's module graph is compiled. It may
	// block for the duration of compilation.
	EnsurePage(ctx context.Context, pathname string) error

	// GetCompilationErrors returns the build errors currently recorded
	// for a page, or nil.
	GetCompilationErrors(pathname string) []error

	// Invalidate drops the compiled state for a page so the next
	// EnsurePage recompiles it.
	Invalidate(pathname string)

	// Run gives the bundler first crack at a request (hot-update
	// payloads, compiled assets it serves itself). A finished result
	// stops the router pipeline.
	Run(w http.ResponseWriter, r *http.Request) (finished bool, err error)

	// BuildFallbackError compiles the distinct fallback-error bundle so
	// an error UI exists even when the requested page cannot build.
	BuildFallbackError(ctx context.Context) error
}

// ErrorRegistry maps page pathnames to recorded compilation errors.
// Bundler implementations own one; readers get copies.
type ErrorRegistry struct {
	mu   sync.RWMutex
	errs map[string][]error
}

// NewErrorRegistry creates an empty registry.
func NewErrorRegistry() *ErrorRegistry {
	return &ErrorRegistry{errs: make(map[string][]error)}
}

// Record replaces the error list for a page.
func (r *ErrorRegistry) Record(pathname string, errs []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(errs) == 0 {
		delete(r.errs, pathname)
		return
	}
	recorded := make([]error, len(errs))
	copy(recorded, errs)
	r.errs[pathname] = recorded
}

// Clear removes the recorded errors for a page.
func (r *ErrorRegistry) Clear(pathname string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.errs, pathname)
}

// Get returns the errors recorded for a page, or nil.
func (r *ErrorRegistry) Get(pathname string) []error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	errs, ok := r.errs[pathname]
	if !ok {
		return nil
	}
	out := make([]error, len(errs))
	copy(out, errs)
	return out
}
