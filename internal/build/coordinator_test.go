package build

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fwerr "github.com/pagekit-dev/pagekit/internal/errors"
	"github.com/pagekit-dev/pagekit/internal/logging"
)

// fakeBundler implements bundler.Bundler for coordinator tests.
type fakeBundler struct {
	ensured        []string
	ensureErr      error
	recordOnEnsure bool
	compile        map[string][]error
	ready          chan struct{}
	fallback       bool
}

func newFakeBundler() *fakeBundler {
	ready := make(chan struct{})
	close(ready)
	return &fakeBundler{compile: make(map[string][]error), ready: ready}
}

func (f *fakeBundler) Start(context.Context) error { return nil }
func (f *fakeBundler) Stop(context.Context) error  { return nil }
func (f *fakeBundler) Ready() <-chan struct{}      { return f.ready }

func (f *fakeBundler) EnsurePage(_ context.Context, pathname string) error {
	f.ensured = append(f.ensured, pathname)
	if f.ensureErr != nil && f.recordOnEnsure {
		f.compile[pathname] = []error{f.ensureErr}
	}
	return f.ensureErr
}

func (f *fakeBundler) GetCompilationErrors(pathname string) []error {
	return f.compile[pathname]
}

func (f *fakeBundler) Invalidate(string) {}

func (f *fakeBundler) Run(http.ResponseWriter, *http.Request) (bool, error) {
	return false, nil
}

func (f *fakeBundler) BuildFallbackError(context.Context) error {
	f.fallback = true
	return nil
}

// fakeLoader returns canned pages per normalized pathname.
type fakeLoader struct {
	pages map[string]*PageComponents
	err   error
}

func (f *fakeLoader) LoadPage(_ context.Context, normalized string) (*PageComponents, error) {
	if f.err != nil {
		return nil, f.err
	}
	if page, ok := f.pages[normalized]; ok {
		return page, nil
	}
	return nil, fs.ErrNotExist
}

func testLogger() logging.Logger {
	return logging.NewLogger(&logging.LoggerConfig{
		Level:  logging.LevelError,
		Format: "text",
		Output: os.Stderr,
	})
}

func newTestCoordinator(t *testing.T, b *fakeBundler, l ComponentLoader) (*Coordinator, string) {
	t.Helper()
	pagesRoot := t.TempDir()
	c := NewCoordinator(Options{
		PagesRoot:  pagesRoot,
		Extensions: []string{"js", "tsx"},
		Bundler:    b,
		Loader:     l,
		Logger:     testLogger(),
	})
	return c, pagesRoot
}

func TestHasPage(t *testing.T) {
	c, pagesRoot := newTestCoordinator(t, newFakeBundler(), &fakeLoader{})

	require.NoError(t, os.WriteFile(filepath.Join(pagesRoot, "about.js"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(pagesRoot, "index.tsx"), []byte("x"), 0644))

	assert.True(t, c.HasPage("/about"))
	assert.True(t, c.HasPage("/"))
	assert.False(t, c.HasPage("/missing"))
}

func TestHasPageUnnormalizableReturnsFalse(t *testing.T) {
	c, _ := newTestCoordinator(t, newFakeBundler(), &fakeLoader{})

	// Must return false, never raise.
	assert.False(t, c.HasPage("/../../etc/passwd"))
	assert.False(t, c.HasPage(""))
	assert.False(t, c.HasPage("/a\x00b"))
}

func TestFindPageComponents(t *testing.T) {
	b := newFakeBundler()
	loader := &fakeLoader{pages: map[string]*PageComponents{
		"/about": {Pathname: "/about", ArtifactPath: "/build/server/pages/about.js"},
	}}
	c, _ := newTestCoordinator(t, b, loader)

	page, err := c.FindPageComponents(context.Background(), "/about")
	require.NoError(t, err)
	assert.Equal(t, "/about", page.Pathname)
	assert.Equal(t, []string{"/about"}, b.ensured)
}

func TestFindPageComponentsCompilationErrorsWin(t *testing.T) {
	b := newFakeBundler()
	b.compile["/about"] = []error{errors.New("syntax error")}
	c, _ := newTestCoordinator(t, b, &fakeLoader{})

	_, err := c.FindPageComponents(context.Background(), "/about")
	require.Error(t, err)
	assert.True(t, fwerr.IsBuildError(err))
	// The registry check happens before any compilation attempt.
	assert.Empty(t, b.ensured)
}

func TestFindPageComponentsNotFoundSwallowed(t *testing.T) {
	b := newFakeBundler()
	c, _ := newTestCoordinator(t, b, &fakeLoader{})

	_, err := c.FindPageComponents(context.Background(), "/missing")
	require.Error(t, err)
	assert.True(t, fwerr.IsNotFound(err), "loader miss must fold into not-found")
}

func TestFindPageComponentsEnsureNotFound(t *testing.T) {
	b := newFakeBundler()
	b.ensureErr = &fwerr.PageNotFoundError{Pathname: "/gone"}
	c, _ := newTestCoordinator(t, b, &fakeLoader{})

	_, err := c.FindPageComponents(context.Background(), "/gone")
	assert.True(t, fwerr.IsNotFound(err))
}

func TestFindPageComponentsEnsureFailureChecksRegistry(t *testing.T) {
	b := newFakeBundler()
	b.ensureErr = errors.New("compile blew up")
	b.recordOnEnsure = true
	c, _ := newTestCoordinator(t, b, &fakeLoader{})

	_, err := c.FindPageComponents(context.Background(), "/broken")
	require.Error(t, err)
	assert.True(t, fwerr.IsBuildError(err), "errors recorded during compilation surface as build errors")
}

func TestFindPageComponentsUnnormalizable(t *testing.T) {
	c, _ := newTestCoordinator(t, newFakeBundler(), &fakeLoader{})

	_, err := c.FindPageComponents(context.Background(), "/../outside")
	assert.True(t, fwerr.IsNotFound(err))
}

func TestFindPageComponentsAwaitsReadiness(t *testing.T) {
	b := newFakeBundler()
	released := make(chan struct{})
	awaited := false

	pagesRoot := t.TempDir()
	c := NewCoordinator(Options{
		PagesRoot:  pagesRoot,
		Extensions: []string{"js"},
		Bundler:    b,
		Loader: &fakeLoader{pages: map[string]*PageComponents{
			"/a": {Pathname: "/a"},
		}},
		AwaitReady: func(ctx context.Context) error {
			awaited = true
			select {
			case <-released:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
		Logger: testLogger(),
	})

	close(released)
	_, err := c.FindPageComponents(context.Background(), "/a")
	require.NoError(t, err)
	assert.True(t, awaited)
}

func TestBuildFallbackError(t *testing.T) {
	b := newFakeBundler()
	c, _ := newTestCoordinator(t, b, &fakeLoader{})

	require.NoError(t, c.BuildFallbackError(context.Background()))
	assert.True(t, b.fallback)
}

func TestArtifactLoader(t *testing.T) {
	buildDir := t.TempDir()
	pagesDir := filepath.Join(buildDir, "server", "pages")
	require.NoError(t, os.MkdirAll(pagesDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(pagesDir, "about.js"), []byte("x"), 0644))

	loader := &ArtifactLoader{BuildDir: buildDir}

	page, err := loader.LoadPage(context.Background(), "/about")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(pagesDir, "about.js"), page.ArtifactPath)

	_, err = loader.LoadPage(context.Background(), "/missing")
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}
