package server

import (
	"encoding/json"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	fwerr "github.com/pagekit-dev/pagekit/internal/errors"
	"github.com/pagekit-dev/pagekit/internal/staticpaths"
)

// ServeHTTP dispatches a request through the prioritized entries. The
// bundler gets first claim; the first entry reporting finished ends the
// walk.
func (s *DevServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := s.AwaitReady(r.Context()); err != nil {
		// The client went away while suspended on the barrier.
		return
	}

	finished, err := s.Run(w, r)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	if finished {
		return
	}

	for _, entry := range s.entries {
		params, ok := entry.Match(r)
		if !ok {
			continue
		}
		finished, err := entry.Fn(w, r, params)
		if err != nil {
			s.handleError(w, r, err)
			return
		}
		if finished {
			return
		}
	}
	s.renderNotFound(w, r)
}

// GenerateRoutes builds the prioritized entry list: internal dev-asset
// routes, then custom routes, then the catch-all and the terminal page
// render.
func (s *DevServer) GenerateRoutes() []Route {
	entries := []Route{
		{Name: "dev events", Match: s.matchExact(eventsPath), Fn: s.handleEvents},
		{Name: "dev assets", Match: s.matchDevAsset, Fn: s.handleDevAsset},
		{Name: "dev pages manifest", Match: s.matchExact(manifestPath), Fn: s.handleManifest},
	}
	if s.rules != nil && !s.rules.Empty() {
		entries = append(entries, Route{Name: "custom routes", Match: matchAny, Fn: s.handleCustomRoutes})
	}
	return append(entries,
		Route{Name: "catch-all", Match: matchAny, Fn: s.handleCatchAll},
		Route{Name: "page render", Match: matchAny, Fn: s.handlePage},
	)
}

func matchAny(*http.Request) (map[string]string, bool) { return nil, true }

func (s *DevServer) matchExact(p string) func(*http.Request) (map[string]string, bool) {
	full := s.cfg.Server.BasePath + p
	return func(r *http.Request) (map[string]string, bool) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			return nil, false
		}
		return nil, r.URL.Path == full
	}
}

func (s *DevServer) matchDevAsset(r *http.Request) (map[string]string, bool) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return nil, false
	}
	prefix := s.cfg.Server.BasePath + devAssetPrefix
	if !strings.HasPrefix(r.URL.EscapedPath(), prefix) {
		return nil, false
	}
	return map[string]string{"path": strings.TrimPrefix(r.URL.EscapedPath(), prefix)}, true
}

func (s *DevServer) handleEvents(w http.ResponseWriter, r *http.Request, _ map[string]string) (bool, error) {
	s.hub.Handle(w, r)
	return true, nil
}

// handleDevAsset streams a build-output file by relative path. A dev
// namespace collision with a public asset is a configuration error, not
// a 404.
func (s *DevServer) handleDevAsset(w http.ResponseWriter, r *http.Request, params map[string]string) (bool, error) {
	rest, err := url.PathUnescape(params["path"])
	if err != nil {
		return true, &fwerr.DecodeError{Path: params["path"], Err: err}
	}

	shadow := filepath.Join(s.cfg.Paths.PublicDir, "_next", "development", filepath.FromSlash(rest))
	if isRegularFile(shadow) {
		return true, &fwerr.ConflictError{Path: devAssetPrefix + rest, Kind: fwerr.ConflictDevNamespace}
	}

	target := filepath.Join(s.cfg.Paths.BuildDir, filepath.FromSlash(rest))
	return true, s.serveFile(w, r, target)
}

func (s *DevServer) handleManifest(w http.ResponseWriter, _ *http.Request, _ map[string]string) (bool, error) {
	pages := s.watcher.Table()
	if pages == nil {
		pages = []string{}
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	return true, json.NewEncoder(w).Encode(map[string][]string{"pages": pages})
}

// handleCustomRoutes applies redirect, header, and rewrite rules. Rules
// match the original request path with the base path intact, so rule
// sources and destinations are both authored against it. Only redirects
// finish the request; headers and rewrites adjust it and fall through to
// the catch-all.
func (s *DevServer) handleCustomRoutes(w http.ResponseWriter, r *http.Request, _ map[string]string) (bool, error) {
	p, err := decodeRequestPath(r)
	if err != nil {
		return true, err
	}

	if dest, permanent, ok := s.rules.MatchRedirect(p); ok {
		status := http.StatusTemporaryRedirect
		if permanent {
			status = http.StatusPermanentRedirect
		}
		http.Redirect(w, r, dest, status)
		return true, nil
	}

	for k, v := range s.rules.MatchHeaders(p) {
		w.Header().Set(k, v)
	}

	if dest, ok := s.rules.MatchRewrite(p); ok {
		// The catch-all strips the base path from the destination again.
		r.URL.Path = dest
		r.URL.RawPath = ""
	}
	return false, nil
}

// handleCatchAll resolves public assets and detects asset/page
// conflicts. Anything that is not an asset falls through to the page
// render.
func (s *DevServer) handleCatchAll(w http.ResponseWriter, r *http.Request, _ map[string]string) (bool, error) {
	p, err := s.requestPath(r)
	if err != nil {
		return true, err
	}

	assetPath, isAsset := s.lookupAsset(p)
	isPage := s.isServablePage(p)

	if isAsset && isPage {
		return true, &fwerr.ConflictError{Path: p, Kind: fwerr.ConflictAssetPage}
	}
	if isAsset {
		return true, s.serveFile(w, r, assetPath)
	}
	return false, nil
}

// handlePage is the terminal entry: match the route table, consult the
// static-paths coordinator for dynamic routes, ensure the build, and
// render.
func (s *DevServer) handlePage(w http.ResponseWriter, r *http.Request, _ map[string]string) (bool, error) {
	ctx := r.Context()
	p, err := s.requestPath(r)
	if err != nil {
		return true, err
	}

	route, params, ok := s.watcher.Match(p)
	pathname := p
	isDynamic := false
	if ok {
		pathname = route.Pathname
		isDynamic = route.IsDynamic
	} else if !s.HasPage(p) {
		return true, &fwerr.PageNotFoundError{Pathname: p}
	}

	if isDynamic && pathname != p {
		result, err := s.static.GetStaticPaths(ctx, pathname)
		if err != nil {
			return true, err
		}
		if !containsPath(result.Paths, p) && result.Fallback == staticpaths.FallbackNone {
			return true, &fwerr.PageNotFoundError{Pathname: p}
		}
		// static and blocking both render on demand in development.
	}

	page, err := s.FindPageComponents(ctx, pathname)
	if err != nil {
		return true, err
	}
	s.renderPage(w, page, params, s.inPreviewMode(r))
	return true, nil
}

// inPreviewMode reports whether the request carries the bypass cookie
// holding this process's preview mode id.
func (s *DevServer) inPreviewMode(r *http.Request) bool {
	cookie, err := r.Cookie(previewBypassCookie)
	if err != nil {
		return false
	}
	props, err := s.preview.Get()
	if err != nil {
		return false
	}
	return cookie.Value == props.PreviewModeID
}

// decodeRequestPath decodes the request path without touching the base
// path. A malformed percent-encoding is the client's error.
func decodeRequestPath(r *http.Request) (string, error) {
	decoded, err := url.PathUnescape(r.URL.EscapedPath())
	if err != nil {
		return "", &fwerr.DecodeError{Path: r.URL.EscapedPath(), Err: err}
	}
	if !strings.HasPrefix(decoded, "/") {
		decoded = "/" + decoded
	}
	return decoded, nil
}

// requestPath decodes the request path and strips the base path.
func (s *DevServer) requestPath(r *http.Request) (string, error) {
	decoded, err := decodeRequestPath(r)
	if err != nil {
		return "", err
	}
	if base := s.cfg.Server.BasePath; base != "" {
		if decoded == base {
			decoded = "/"
		} else if strings.HasPrefix(decoded, base+"/") {
			decoded = strings.TrimPrefix(decoded, base)
		}
	}
	return decoded, nil
}

// lookupAsset resolves a request path against the public directory,
// plus the legacy static directory for /static/ requests.
func (s *DevServer) lookupAsset(p string) (string, bool) {
	clean := path.Clean(p)
	candidate := filepath.Join(s.cfg.Paths.PublicDir, filepath.FromSlash(strings.TrimPrefix(clean, "/")))
	if isRegularFile(candidate) {
		return candidate, true
	}
	if rest, ok := strings.CutPrefix(clean, "/static/"); ok {
		candidate = filepath.Join(s.cfg.Paths.StaticDir, filepath.FromSlash(rest))
		if isRegularFile(candidate) {
			return candidate, true
		}
	}
	return "", false
}

// isServablePage reports whether the pathname reaches a page, either an
// exact source file or a dynamic-route match.
func (s *DevServer) isServablePage(p string) bool {
	if s.HasPage(p) {
		return true
	}
	_, _, ok := s.watcher.Match(p)
	return ok
}

func containsPath(paths []string, p string) bool {
	for _, candidate := range paths {
		if candidate == p {
			return true
		}
	}
	return false
}
