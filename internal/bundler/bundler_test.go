package bundler

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fwerr "github.com/pagekit-dev/pagekit/internal/errors"
	"github.com/pagekit-dev/pagekit/internal/logging"
)

func testLogger() logging.Logger {
	return logging.NewLogger(&logging.LoggerConfig{
		Level:  logging.LevelError,
		Format: "text",
		Output: os.Stderr,
	})
}

func newTestBundler(t *testing.T) (*CommandBundler, string, string) {
	t.Helper()
	pagesRoot := t.TempDir()
	buildDir := t.TempDir()

	b := NewCommandBundler(CommandBundlerOptions{
		PagesRoot:  pagesRoot,
		BuildDir:   buildDir,
		Extensions: []string{"js"},
		Logger:     testLogger(),
	})
	require.NoError(t, b.Start(context.Background()))
	return b, pagesRoot, buildDir
}

func TestErrorRegistry(t *testing.T) {
	r := NewErrorRegistry()

	assert.Nil(t, r.Get("/a"))

	err := errors.New("boom")
	r.Record("/a", []error{err})
	got := r.Get("/a")
	require.Len(t, got, 1)
	assert.Equal(t, err, got[0])

	r.Clear("/a")
	assert.Nil(t, r.Get("/a"))
}

func TestErrorRegistryRecordEmptyClears(t *testing.T) {
	r := NewErrorRegistry()
	r.Record("/a", []error{errors.New("x")})
	r.Record("/a", nil)
	assert.Nil(t, r.Get("/a"))
}

func TestEnsurePageCopiesArtifact(t *testing.T) {
	b, pagesRoot, buildDir := newTestBundler(t)

	src := filepath.Join(pagesRoot, "about.js")
	require.NoError(t, os.WriteFile(src, []byte("export default 1"), 0644))

	require.NoError(t, b.EnsurePage(context.Background(), "/about"))

	artifact := filepath.Join(buildDir, "server", "pages", "about.js")
	data, err := os.ReadFile(artifact)
	require.NoError(t, err)
	assert.Equal(t, "export default 1", string(data))
}

func TestEnsurePageRoot(t *testing.T) {
	b, pagesRoot, buildDir := newTestBundler(t)

	require.NoError(t, os.WriteFile(filepath.Join(pagesRoot, "index.js"), []byte("x"), 0644))
	require.NoError(t, b.EnsurePage(context.Background(), "/"))

	_, err := os.Stat(filepath.Join(buildDir, "server", "pages", "index.js"))
	assert.NoError(t, err)
}

func TestEnsurePageMissing(t *testing.T) {
	b, _, _ := newTestBundler(t)

	err := b.EnsurePage(context.Background(), "/missing")
	assert.True(t, fwerr.IsNotFound(err))
}

func TestEnsurePageUnnormalizable(t *testing.T) {
	b, _, _ := newTestBundler(t)

	err := b.EnsurePage(context.Background(), "/../../etc/passwd")
	assert.True(t, fwerr.IsNotFound(err))
}

func TestEnsurePageRecordsFailure(t *testing.T) {
	pagesRoot := t.TempDir()
	buildDir := t.TempDir()

	b := NewCommandBundler(CommandBundlerOptions{
		PagesRoot:  pagesRoot,
		BuildDir:   buildDir,
		Command:    "false",
		Extensions: []string{"js"},
		Logger:     testLogger(),
	})
	require.NoError(t, b.Start(context.Background()))

	require.NoError(t, os.WriteFile(filepath.Join(pagesRoot, "broken.js"), []byte("x"), 0644))

	err := b.EnsurePage(context.Background(), "/broken")
	require.Error(t, err)

	recorded := b.GetCompilationErrors("/broken")
	require.Len(t, recorded, 1)
}

func TestEnsurePageCachesSuccess(t *testing.T) {
	b, pagesRoot, buildDir := newTestBundler(t)

	src := filepath.Join(pagesRoot, "a.js")
	require.NoError(t, os.WriteFile(src, []byte("v1"), 0644))
	require.NoError(t, b.EnsurePage(context.Background(), "/a"))

	// A second ensure without invalidation does not recompile.
	require.NoError(t, os.WriteFile(src, []byte("v2"), 0644))
	require.NoError(t, b.EnsurePage(context.Background(), "/a"))

	data, err := os.ReadFile(filepath.Join(buildDir, "server", "pages", "a.js"))
	require.NoError(t, err)
	assert.Equal(t, "v1", string(data))

	// After invalidation the new source is picked up.
	b.Invalidate("/a")
	require.NoError(t, b.EnsurePage(context.Background(), "/a"))
	data, err = os.ReadFile(filepath.Join(buildDir, "server", "pages", "a.js"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
}

func TestBuildFallbackError(t *testing.T) {
	b, _, buildDir := newTestBundler(t)

	require.NoError(t, b.BuildFallbackError(context.Background()))

	_, err := os.Stat(filepath.Join(buildDir, "server", "pages", "_error-fallback.js"))
	assert.NoError(t, err)
}

func TestRunIsPassthrough(t *testing.T) {
	b, _, _ := newTestBundler(t)

	finished, err := b.Run(httptest.NewRecorder(), httptest.NewRequest("GET", "/x", nil))
	assert.NoError(t, err)
	assert.False(t, finished)
}

func TestStopWaitsForPending(t *testing.T) {
	b, _, _ := newTestBundler(t)
	assert.NoError(t, b.Stop(context.Background()))
}
