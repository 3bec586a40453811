package routes

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// NormalizePagePath brings a requested pathname into page-lookup form:
// a leading slash is enforced, "." and ".." elements are resolved, and
// the root collapses to "/index". Pathnames that escape the pages root
// are rejected.
func NormalizePagePath(pathname string) (string, error) {
	if pathname == "" {
		return "", fmt.Errorf("empty pathname")
	}
	if strings.ContainsRune(pathname, 0) {
		return "", fmt.Errorf("pathname contains NUL byte")
	}
	if !strings.HasPrefix(pathname, "/") {
		pathname = "/" + pathname
	}

	cleaned := path.Clean(pathname)
	if cleaned == "/.." || strings.HasPrefix(cleaned, "/../") || !strings.HasPrefix(cleaned, "/") {
		return "", fmt.Errorf("requested pathname escapes the pages root: %q", pathname)
	}
	if cleaned == "/" {
		return "/index", nil
	}
	return cleaned, nil
}

// ResolvePageFile searches the pages root for the source file backing a
// normalized pathname, trying each configured extension and the
// directory-index form. Returns the absolute path and whether a file
// was found.
func ResolvePageFile(pagesRoot, normalized string, extensions []string) (string, bool) {
	rel := strings.TrimPrefix(normalized, "/")
	for _, ext := range extensions {
		ext = strings.TrimPrefix(ext, ".")
		candidates := []string{
			filepath.Join(pagesRoot, rel+"."+ext),
			filepath.Join(pagesRoot, rel, "index."+ext),
		}
		for _, candidate := range candidates {
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate, true
			}
		}
	}
	return "", false
}
