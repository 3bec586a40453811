package server

import (
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"path"
	"strings"

	"github.com/pagekit-dev/pagekit/internal/build"
	"github.com/pagekit-dev/pagekit/internal/diagnostics"
	fwerr "github.com/pagekit-dev/pagekit/internal/errors"
)

// handleError maps the error taxonomy onto responses. Not-found is
// never logged; conflicts always are; build errors were already
// recorded by the bundler and are not logged again. An error occurring
// while already handling an error falls back to a plain-text 500.
func (s *DevServer) handleError(w http.ResponseWriter, r *http.Request, err error) {
	defer func() {
		if recover() != nil {
			plainServerError(w)
		}
	}()

	ctx := r.Context()
	switch {
	case fwerr.IsNotFound(err):
		s.renderNotFound(w, r)

	case fwerr.IsDecodeError(err):
		http.Error(w, "Bad Request", http.StatusBadRequest)

	case fwerr.IsConflict(err):
		s.log.Error(ctx, err, "path conflict")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)

	case fwerr.IsBuildError(err):
		s.renderErrorView(w, err)

	default:
		s.remapper.LogError(ctx, diagnostics.EventRequest, err)
		if buildErr := s.builder.BuildFallbackError(ctx); buildErr != nil {
			plainServerError(w)
			return
		}
		s.renderErrorView(w, err)
	}
}

func (s *DevServer) renderNotFound(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	fmt.Fprintln(w, "404 - This page could not be found")
}

// renderErrorView serves the diagnostic overlay, or a bare 500 when the
// overlay is disabled.
func (s *DevServer) renderErrorView(w http.ResponseWriter, err error) {
	if !s.cfg.Development.Overlay {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusInternalServerError)
	fmt.Fprint(w, s.overlayHTML(err))
}

// previewBypassCookie carries the preview mode id; a matching value
// renders draft content instead of static output.
const previewBypassCookie = "__prerender_bypass"

// renderPage serves the HTML shell loading a page's compiled bundle,
// with the matched route parameters and the reload client inlined.
func (s *DevServer) renderPage(w http.ResponseWriter, page *build.PageComponents, params map[string]string, previewMode bool) {
	if params == nil {
		params = map[string]string{}
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		paramsJSON = []byte("{}")
	}

	bundleSrc := s.cfg.Server.BasePath + path.Join(devAssetPrefix, "server", "pages",
		strings.TrimPrefix(page.Pathname, "/")+".js")
	eventsURL := s.cfg.Server.BasePath + eventsPath

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>%s</title>
</head>
<body>
  <div id="__pagekit"></div>
  <script>
    window.__PAGEKIT_DATA__ = {page: %q, params: %s, preview: %t};
    (function connect() {
      var proto = location.protocol === "https:" ? "wss://" : "ws://";
      var ws = new WebSocket(proto + location.host + %q);
      ws.onmessage = function(msg) {
        var data = JSON.parse(msg.data);
        if (data.event === "devPagesManifest") location.reload();
      };
      ws.onclose = function() { setTimeout(connect, 1000); };
    })();
  </script>
  <script src="%s"></script>
</body>
</html>
`, html.EscapeString(page.Pathname), page.Pathname, paramsJSON, previewMode, eventsURL, html.EscapeString(bundleSrc))
}
