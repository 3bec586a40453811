// Package diagnostics turns compiled-bundle stack traces back into
// original-source locations before logging. Remapping is strictly best
// effort: any failure falls back to the raw stack, and the routine
// never propagates an error to its caller.
package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-sourcemap/sourcemap"

	"github.com/pagekit-dev/pagekit/internal/logging"
)

// EventKind distinguishes ordinary request errors from process-level
// events, which log with a marker prefix.
type EventKind int

const (
	EventRequest EventKind = iota
	EventUnhandledRejection
	EventUncaughtException
)

func (k EventKind) prefix() string {
	switch k {
	case EventUnhandledRejection:
		return "unhandledRejection: "
	case EventUncaughtException:
		return "uncaughtException: "
	default:
		return ""
	}
}

// OriginalStackFrame is a remapped location in original source.
type OriginalStackFrame struct {
	File     string
	Function string
	Line     int
	Column   int
	Snippet  string
}

// stackCarrier is implemented by errors wrapping a captured bundle
// stack trace.
type stackCarrier interface {
	StackTrace() string
}

type stackError struct {
	err   error
	stack string
}

func (e *stackError) Error() string      { return e.err.Error() }
func (e *stackError) Unwrap() error      { return e.err }
func (e *stackError) StackTrace() string { return e.stack }

// WithStack attaches a captured stack trace to an error so the
// remapper can resolve its original location.
func WithStack(err error, stack string) error {
	if err == nil {
		return nil
	}
	return &stackError{err: err, stack: stack}
}

type consumerEntry struct {
	consumer *sourcemap.Consumer
	err      error
}

// Remapper resolves compiled frames to original source and logs
// errors. Parsed source-map consumers are memoized per map file.
type Remapper struct {
	buildDir string
	log      logging.Logger

	mu        sync.Mutex
	consumers map[string]*consumerEntry
}

// NewRemapper creates a remapper reading source maps relative to the
// build-output directory.
func NewRemapper(buildDir string, log logging.Logger) *Remapper {
	return &Remapper{
		buildDir:  buildDir,
		log:       log.WithComponent("diagnostics"),
		consumers: make(map[string]*consumerEntry),
	}
}

// LogError remaps and logs one error. Process-level kinds carry their
// marker prefix. The call never fails and never panics; when the error
// carries no usable stack, or remapping fails anywhere along the way,
// the raw form is logged instead.
func (r *Remapper) LogError(ctx context.Context, kind EventKind, err error) {
	if err == nil {
		return
	}

	var carrier stackCarrier
	var stack string
	if errors.As(err, &carrier) {
		stack = carrier.StackTrace()
	}

	msg := kind.prefix() + err.Error()
	if frame, ok := TopFrame(stack); ok {
		if original := r.remap(frame); original != nil {
			fields := []any{
				"file", original.File,
				"line", original.Line,
				"column", original.Column,
			}
			if original.Function != "" {
				fields = append(fields, "function", original.Function)
			}
			if original.Snippet != "" {
				fields = append(fields, "snippet", original.Snippet)
			}
			r.log.Error(ctx, err, msg, fields...)
			return
		}
	}

	if stack != "" {
		r.log.Error(ctx, err, msg, "stack", stack)
		return
	}
	r.log.Error(ctx, err, msg)
}

// OriginalFrame exposes remapping for the diagnostic overlay. It
// returns nil when the frame cannot be resolved.
func (r *Remapper) OriginalFrame(frame StackFrame) *OriginalStackFrame {
	return r.remap(frame)
}

func (r *Remapper) remap(frame StackFrame) (original *OriginalStackFrame) {
	// Remapping must never take the process down with it.
	defer func() {
		if recover() != nil {
			original = nil
		}
	}()

	mapPath, ok := r.mapPathFor(frame.File)
	if !ok {
		return nil
	}
	consumer, err := r.consumerFor(mapPath)
	if err != nil {
		return nil
	}

	source, name, line, col, ok := consumer.Source(frame.Line, frame.Column)
	if !ok {
		return nil
	}
	if name == "" {
		name = frame.Function
	}
	return &OriginalStackFrame{
		File:     source,
		Function: name,
		Line:     line,
		Column:   col,
		Snippet:  snippet(consumer.SourceContent(source), line),
	}
}

// mapPathFor resolves the source map location for a frame. Absolute
// on-disk paths look for a sibling ".map"; anything else is treated as
// a bundle module identifier under the build-output server directory.
func (r *Remapper) mapPathFor(file string) (string, bool) {
	if file == "" {
		return "", false
	}
	if filepath.IsAbs(file) {
		if _, err := os.Stat(file); err == nil {
			return file + ".map", true
		}
		return "", false
	}
	id := strings.TrimPrefix(file, "webpack://")
	id = strings.TrimLeft(id, "./")
	if id == "" {
		return "", false
	}
	if !strings.HasSuffix(id, ".js") {
		id += ".js"
	}
	return filepath.Join(r.buildDir, "server", filepath.FromSlash(id)+".map"), true
}

func (r *Remapper) consumerFor(mapPath string) (*sourcemap.Consumer, error) {
	r.mu.Lock()
	entry, ok := r.consumers[mapPath]
	r.mu.Unlock()
	if ok {
		return entry.consumer, entry.err
	}

	entry = &consumerEntry{}
	data, err := os.ReadFile(mapPath)
	if err != nil {
		entry.err = err
	} else {
		entry.consumer, entry.err = sourcemap.Parse(mapPath, data)
	}
	if entry.err != nil {
		entry.err = fmt.Errorf("load source map %s: %w", mapPath, entry.err)
	}

	r.mu.Lock()
	r.consumers[mapPath] = entry
	r.mu.Unlock()
	return entry.consumer, entry.err
}

// snippet renders a few lines of original source around the failing
// line, with a marker on the line itself.
func snippet(content string, line int) string {
	if content == "" || line < 1 {
		return ""
	}
	lines := strings.Split(content, "\n")
	if line > len(lines) {
		return ""
	}
	start := line - 3
	if start < 1 {
		start = 1
	}
	end := line + 2
	if end > len(lines) {
		end = len(lines)
	}
	var b strings.Builder
	for i := start; i <= end; i++ {
		marker := "  "
		if i == line {
			marker = "> "
		}
		fmt.Fprintf(&b, "%s%d | %s\n", marker, i, lines[i-1])
	}
	return strings.TrimRight(b.String(), "\n")
}
