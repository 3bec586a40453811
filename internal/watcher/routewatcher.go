package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pagekit-dev/pagekit/internal/logging"
	"github.com/pagekit-dev/pagekit/internal/routes"
)

// RouteWatcher owns the route table. It watches the pages root, folds
// aggregated batches of filesystem events into a sorted table, and fires
// a change notification exactly once per actual table change.
type RouteWatcher struct {
	pagesRoot  string
	extensions []string
	debounce   time.Duration
	log        logging.Logger

	fw     *FileWatcher
	cancel context.CancelFunc

	// scanMu serializes recomputation so table diffs are always taken
	// against the table the previous recomputation committed.
	scanMu sync.Mutex

	mu      sync.RWMutex
	files   map[string]struct{}
	table   []string
	dynamic []routes.PageRoute

	notifyMu  sync.RWMutex
	onChange  []func(pages []string)
	onPage    []func(pathname string)
	ready     chan struct{}
	readyOnce sync.Once
	stopOnce  sync.Once
}

// NewRouteWatcher creates a watcher for the given pages root. Extensions
// are the page source extensions without the leading dot. A zero
// debounce takes the 100ms default.
func NewRouteWatcher(pagesRoot string, extensions []string, debounce time.Duration, log logging.Logger) *RouteWatcher {
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}
	return &RouteWatcher{
		pagesRoot:  filepath.Clean(pagesRoot),
		extensions: extensions,
		debounce:   debounce,
		log:        log.WithComponent("route-watcher"),
		files:      make(map[string]struct{}),
		ready:      make(chan struct{}),
	}
}

// OnChange registers a callback invoked with the new sorted pathname list
// whenever the table actually changes. Must be called before Start.
func (w *RouteWatcher) OnChange(fn func(pages []string)) {
	w.notifyMu.Lock()
	defer w.notifyMu.Unlock()
	w.onChange = append(w.onChange, fn)
}

// OnPageChange registers a callback invoked with the pathname of every
// page file an aggregated batch touches, whether or not the table
// changed. An edit to an existing page fires here even though the table
// stays identical. Must be called before Start.
func (w *RouteWatcher) OnPageChange(fn func(pathname string)) {
	w.notifyMu.Lock()
	defer w.notifyMu.Unlock()
	w.onPage = append(w.onPage, fn)
}

// Ready is closed once the first aggregated scan completes. An empty
// pages directory still resolves readiness, so startup never hangs on an
// empty project.
func (w *RouteWatcher) Ready() <-chan struct{} {
	return w.ready
}

// Start begins watching. The bootstrap scan runs synchronously; its
// failure is the only recomputation failure that propagates.
func (w *RouteWatcher) Start(ctx context.Context) error {
	if err := validateRoot(w.pagesRoot); err != nil {
		return err
	}

	fw, err := NewFileWatcher(w.debounce)
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	w.fw = fw

	fw.AddFilter(NoHiddenFilter)
	fw.AddFilter(NoTestFilter)
	fw.AddFilter(ExtensionFilter(w.extensions))
	fw.AddHandler(w.handleBatch)

	if err := fw.AddRecursive(w.pagesRoot); err != nil {
		return fmt.Errorf("watching pages root: %w", err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	if err := fw.Start(watchCtx); err != nil {
		cancel()
		return err
	}

	if err := w.bootstrapScan(); err != nil {
		w.Stop()
		return err
	}

	w.readyOnce.Do(func() { close(w.ready) })
	return nil
}

// Stop tears down the watch handle. Idempotent.
func (w *RouteWatcher) Stop() {
	w.stopOnce.Do(func() {
		if w.cancel != nil {
			w.cancel()
		}
		if w.fw != nil {
			_ = w.fw.Stop()
		}
	})
}

// Table returns the current sorted route table.
func (w *RouteWatcher) Table() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, len(w.table))
	copy(out, w.table)
	return out
}

// DynamicRoutes returns the compiled dynamic-route subset in table order.
func (w *RouteWatcher) DynamicRoutes() []routes.PageRoute {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]routes.PageRoute, len(w.dynamic))
	copy(out, w.dynamic)
	return out
}

// Match resolves a request path to a page route: exact pathnames first,
// then dynamic matchers in table order.
func (w *RouteWatcher) Match(p string) (routes.PageRoute, map[string]string, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	for _, pathname := range w.table {
		if pathname == p {
			return routes.PageRoute{Pathname: pathname}, nil, true
		}
	}
	for _, route := range w.dynamic {
		if params, ok := route.Matcher.Match(p); ok {
			return route, params, true
		}
	}
	return routes.PageRoute{}, nil, false
}

// HasRoute reports whether any page resolves to the request path.
func (w *RouteWatcher) HasRoute(p string) bool {
	_, _, ok := w.Match(p)
	return ok
}

func (w *RouteWatcher) bootstrapScan() error {
	files := make(map[string]struct{})
	err := filepath.Walk(w.pagesRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if w.isPageFile(path) {
			files[path] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scanning pages root: %w", err)
	}

	w.mu.Lock()
	w.files = files
	w.mu.Unlock()

	return w.recompute(true)
}

func (w *RouteWatcher) isPageFile(path string) bool {
	return NoHiddenFilter(path) && NoTestFilter(path) && ExtensionFilter(w.extensions)(path)
}

// handleBatch applies one aggregated batch of events to the known-file
// set, reports the touched pages, and recomputes the table. Non-bootstrap
// failures keep the previous table.
func (w *RouteWatcher) handleBatch(events []ChangeEvent) error {
	w.notifyPages(events)

	w.mu.Lock()
	for _, ev := range events {
		switch ev.Type {
		case EventTypeDeleted:
			delete(w.files, ev.Path)
		case EventTypeCreated, EventTypeModified, EventTypeRenamed:
			// Rename delivers the old name; existence decides.
			if _, err := os.Stat(ev.Path); err == nil {
				w.files[ev.Path] = struct{}{}
			} else {
				delete(w.files, ev.Path)
			}
		}
	}
	// Removing a directory only reports the directory itself; prune
	// known files that vanished with it.
	for f := range w.files {
		if _, err := os.Stat(f); err != nil {
			delete(w.files, f)
		}
	}
	w.mu.Unlock()

	if err := w.recompute(false); err != nil {
		w.log.Warn(context.Background(), err, "route recomputation failed, keeping previous table")
	}
	return nil
}

// recompute derives the sorted table from the known files, compiles
// dynamic matchers, diffs against the pre-swap table and commits. Any
// failure leaves the previous table intact; only the bootstrap failure
// propagates to the caller.
func (w *RouteWatcher) recompute(bootstrap bool) error {
	w.scanMu.Lock()
	defer w.scanMu.Unlock()

	w.mu.RLock()
	paths := make([]string, 0, len(w.files))
	for f := range w.files {
		paths = append(paths, f)
	}
	w.mu.RUnlock()

	seen := make(map[string]struct{}, len(paths))
	pathnames := make([]string, 0, len(paths))
	for _, f := range paths {
		rel, err := filepath.Rel(w.pagesRoot, f)
		if err != nil {
			return fmt.Errorf("deriving pathname for %s: %w", f, err)
		}
		pathname := routes.PathnameFromFile(rel)
		if _, dup := seen[pathname]; dup {
			continue
		}
		seen[pathname] = struct{}{}
		pathnames = append(pathnames, pathname)
	}

	sorted := routes.Sort(pathnames)

	dynamic := make([]routes.PageRoute, 0)
	for _, pathname := range sorted {
		if !routes.IsDynamicPathname(pathname) {
			continue
		}
		route, err := routes.NewPageRoute(pathname)
		if err != nil {
			return fmt.Errorf("compiling matcher for %s: %w", pathname, err)
		}
		dynamic = append(dynamic, route)
	}

	// The diff must use the pre-swap table so a no-op recomputation
	// never re-notifies and every actual change fires exactly once.
	w.mu.RLock()
	changed := !routes.Equal(w.table, sorted)
	w.mu.RUnlock()

	w.mu.Lock()
	w.table = sorted
	w.dynamic = dynamic
	w.mu.Unlock()

	if changed && !bootstrap {
		w.notify(sorted)
	}
	return nil
}

// notifyPages reports each distinct pathname a batch touched, so stale
// compiled artifacts can be invalidated before the next request.
func (w *RouteWatcher) notifyPages(events []ChangeEvent) {
	w.notifyMu.RLock()
	callbacks := w.onPage
	w.notifyMu.RUnlock()
	if len(callbacks) == 0 {
		return
	}

	seen := make(map[string]struct{}, len(events))
	for _, ev := range events {
		rel, err := filepath.Rel(w.pagesRoot, ev.Path)
		if err != nil {
			continue
		}
		pathname := routes.PathnameFromFile(rel)
		if _, dup := seen[pathname]; dup {
			continue
		}
		seen[pathname] = struct{}{}
		for _, fn := range callbacks {
			fn(pathname)
		}
	}
}

func (w *RouteWatcher) notify(pages []string) {
	w.notifyMu.RLock()
	callbacks := w.onChange
	w.notifyMu.RUnlock()

	for _, fn := range callbacks {
		fn(pages)
	}
}
