package routes

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePagePath(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
		wantErr  bool
	}{
		{"root", "/", "/index", false},
		{"plain", "/about", "/about", false},
		{"missing slash", "about", "/about", false},
		{"nested", "/blog/post", "/blog/post", false},
		{"dot segments resolve", "/a/./b", "/a/b", false},
		{"inner traversal resolves", "/a/../b", "/b", false},
		{"escapes root", "/../etc/passwd", "", true},
		{"bare traversal", "..", "", true},
		{"empty", "", "", true},
		{"nul byte", "/a\x00b", "", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizePagePath(tc.input)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestResolvePageFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "blog"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "about.tsx"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "blog", "index.js"), []byte("x"), 0644))

	exts := []string{"js", "jsx", "ts", "tsx"}

	path, ok := ResolvePageFile(root, "/about", exts)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(root, "about.tsx"), path)

	// Directory-index form resolves too.
	path, ok = ResolvePageFile(root, "/blog", exts)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(root, "blog", "index.js"), path)

	_, ok = ResolvePageFile(root, "/missing", exts)
	assert.False(t, ok)

	// A directory alone is not a page.
	_, ok = ResolvePageFile(root, "/blog/index/extra", exts)
	assert.False(t, ok)
}
