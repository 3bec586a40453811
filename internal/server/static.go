package server

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	fwerr "github.com/pagekit-dev/pagekit/internal/errors"
)

// sandbox confines file serving to a fixed allow-list of roots. A path
// escaping every root is treated as not-found and the resolved location
// is never revealed.
type sandbox struct {
	roots []string
}

func newSandbox(roots ...string) *sandbox {
	s := &sandbox{}
	for _, root := range roots {
		if root == "" {
			continue
		}
		if abs, err := filepath.Abs(root); err == nil {
			s.roots = append(s.roots, abs)
		}
	}
	return s
}

// resolve absolutizes the candidate and checks containment. Null bytes
// and escapes are rejected identically, as not-found.
func (s *sandbox) resolve(candidate string) (string, error) {
	if strings.ContainsRune(candidate, 0) {
		return "", fwerr.ErrNoSuchPage
	}
	abs, err := filepath.Abs(filepath.Clean(candidate))
	if err != nil {
		return "", fwerr.ErrNoSuchPage
	}
	for _, root := range s.roots {
		if abs == root || strings.HasPrefix(abs, root+string(filepath.Separator)) {
			return abs, nil
		}
	}
	return "", fwerr.ErrNoSuchPage
}

func buildSubdir(buildDir, sub string) string {
	return filepath.Join(buildDir, sub)
}

func isRegularFile(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

// serveFile streams one file from inside the sandbox. Every rejection
// is a plain not-found.
func (s *DevServer) serveFile(w http.ResponseWriter, r *http.Request, candidate string) error {
	abs, err := s.sandbox.resolve(candidate)
	if err != nil {
		return &fwerr.PageNotFoundError{Pathname: r.URL.Path}
	}

	f, err := os.Open(abs)
	if err != nil {
		return &fwerr.PageNotFoundError{Pathname: r.URL.Path}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		return &fwerr.PageNotFoundError{Pathname: r.URL.Path}
	}

	http.ServeContent(w, r, filepath.Base(abs), info.ModTime(), f)
	return nil
}
