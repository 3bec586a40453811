// Package errors defines the error taxonomy of the dev server: not-found,
// decode, conflict, compilation and worker failures. Handlers branch on
// these types to pick a status code and decide whether the failure is
// logged.
package errors

import (
	"errors"
	"fmt"
)

// ErrNoSuchPage indicates that no page source resolves to the requested
// pathname. It is an ordinary 404 and is never logged as a failure.
var ErrNoSuchPage = errors.New("no such page")

// PageNotFoundError carries the pathname that failed to resolve.
type PageNotFoundError struct {
	Pathname string
}

func (e *PageNotFoundError) Error() string {
	return fmt.Sprintf("cannot find page %s", e.Pathname)
}

func (e *PageNotFoundError) Unwrap() error { return ErrNoSuchPage }

// DecodeError indicates malformed percent-encoding in a request path.
// Surfaces as a client-side error (400).
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode path %q: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ConflictKind distinguishes the two misconfiguration conflicts.
type ConflictKind int

const (
	// ConflictAssetPage: a public asset and a page resolve to the same
	// pathname.
	ConflictAssetPage ConflictKind = iota
	// ConflictDevNamespace: the internal dev-asset namespace collides
	// with a real public asset.
	ConflictDevNamespace
)

func (k ConflictKind) String() string {
	switch k {
	case ConflictAssetPage:
		return "asset/page"
	case ConflictDevNamespace:
		return "dev-namespace"
	default:
		return "unknown"
	}
}

// ConflictError signals misconfiguration: two resources claim one path.
// Always logged, served as 500.
type ConflictError struct {
	Path string
	Kind ConflictKind
}

func (e *ConflictError) Error() string {
	if e.Kind == ConflictDevNamespace {
		return fmt.Sprintf("a public file maps to the internal asset namespace: %s", e.Path)
	}
	return fmt.Sprintf("a conflicting public file and page file resolve to %s", e.Path)
}

// BuildError wraps compilation errors recorded by the bundler for a page.
// The wrapping marks the errors as already reported so higher layers do
// not log them a second time.
type BuildError struct {
	Pathname string
	Errs     []error
}

func (e *BuildError) Error() string {
	if len(e.Errs) == 0 {
		return fmt.Sprintf("build failed for %s", e.Pathname)
	}
	return fmt.Sprintf("build failed for %s: %v", e.Pathname, e.Errs[0])
}

func (e *BuildError) Unwrap() error {
	if len(e.Errs) == 0 {
		return nil
	}
	return e.Errs[0]
}

// WrapBuildError packages the registry entries for a page.
func WrapBuildError(pathname string, errs []error) *BuildError {
	return &BuildError{Pathname: pathname, Errs: errs}
}

// WorkerError reports a static-paths worker that kept failing after the
// configured retry budget. It surfaces only to the waiters of the
// specific pending call.
type WorkerError struct {
	Pathname string
	Attempts int
	Err      error
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("static paths worker for %s failed after %d attempts: %v", e.Pathname, e.Attempts, e.Err)
}

func (e *WorkerError) Unwrap() error { return e.Err }

// IsNotFound reports whether err belongs to the not-found class.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNoSuchPage)
}

// IsBuildError reports whether err wraps recorded compilation errors.
func IsBuildError(err error) bool {
	var be *BuildError
	return errors.As(err, &be)
}

// IsConflict reports whether err is a path conflict.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsDecodeError reports whether err stems from malformed percent-encoding.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}
