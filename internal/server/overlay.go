package server

import (
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/pagekit-dev/pagekit/internal/diagnostics"
	fwerr "github.com/pagekit-dev/pagekit/internal/errors"
)

// overlayRenderer turns an error into the diagnostic overlay HTML. It
// is resolved lazily once and memoized on the server.
type overlayRenderer func(err error) string

func (s *DevServer) overlayHTML(err error) string {
	s.overlayInit.Do(func() {
		s.overlay = s.newOverlayRenderer()
	})
	return s.overlay(err)
}

func (s *DevServer) newOverlayRenderer() overlayRenderer {
	return func(err error) string {
		title := "Server Error"
		var details strings.Builder

		var be *fwerr.BuildError
		if errors.As(err, &be) {
			title = "Build Error"
			fmt.Fprintf(&details, `<h2>%s failed to compile</h2>`, html.EscapeString(be.Pathname))
			for _, compileErr := range be.Errs {
				fmt.Fprintf(&details, `<pre class="frame">%s</pre>`, html.EscapeString(compileErr.Error()))
			}
		} else {
			fmt.Fprintf(&details, `<pre class="frame">%s</pre>`, html.EscapeString(err.Error()))
			if frame, ok := topFrameOf(err); ok {
				if original := s.remapper.OriginalFrame(frame); original != nil {
					fmt.Fprintf(&details, `<p class="loc">%s (%d:%d)</p>`,
						html.EscapeString(original.File), original.Line, original.Column)
					if original.Snippet != "" {
						fmt.Fprintf(&details, `<pre class="snippet">%s</pre>`, html.EscapeString(original.Snippet))
					}
				}
			}
		}

		return fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>%s</title>
  <style>
    body { margin: 0; font-family: Menlo, Consolas, monospace; background: #111; color: #e8e8e8; }
    .overlay { padding: 2rem; }
    h1 { color: #ff5555; font-size: 1.4rem; }
    .frame { background: #1d1d1d; padding: 1rem; overflow-x: auto; white-space: pre-wrap; }
    .snippet { background: #1d1d1d; padding: 1rem; border-left: 3px solid #ff5555; overflow-x: auto; }
    .loc { color: #8be9fd; }
  </style>
</head>
<body>
  <div class="overlay">
    <h1>%s</h1>
    %s
  </div>
</body>
</html>
`, title, title, details.String())
	}
}

// stackCarrier matches errors wrapping a captured bundle stack.
type stackCarrier interface {
	StackTrace() string
}

// topFrameOf extracts the top compiled frame when the error carries a
// captured stack.
func topFrameOf(err error) (diagnostics.StackFrame, bool) {
	var c stackCarrier
	if !errors.As(err, &c) {
		return diagnostics.StackFrame{}, false
	}
	return diagnostics.TopFrame(c.StackTrace())
}
