package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func TestLoadDefaults(t *testing.T) {
	resetViper(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, "", cfg.Server.BasePath)
	assert.Equal(t, "pages", cfg.Paths.PagesRoot)
	assert.Equal(t, "public", cfg.Paths.PublicDir)
	assert.Equal(t, ".pagekit", cfg.Paths.BuildDir)
	assert.Equal(t, "static", cfg.Paths.StaticDir)
	assert.Equal(t, []string{"js", "jsx", "ts", "tsx"}, cfg.Build.PageExtensions)
	assert.Equal(t, 4, cfg.StaticPaths.Workers)
	assert.Equal(t, 1, cfg.StaticPaths.Retries)
	assert.Equal(t, "routes.yml", cfg.Routes.File)
	assert.True(t, cfg.Development.Overlay)
	assert.True(t, cfg.Development.AccessLog)
	assert.Equal(t, "100ms", cfg.Development.WatchDebounce)
	assert.Equal(t, 100*time.Millisecond, cfg.Development.WatchDebounceDuration())
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoadOverrides(t *testing.T) {
	resetViper(t)
	viper.Set("server.port", 8080)
	viper.Set("server.base_path", "/docs")
	viper.Set("paths.pages_root", "src/pages")
	viper.Set("build.command", "npx pagekit-bundle")
	viper.Set("static_paths.retries", 0)
	viper.Set("development.overlay", false)
	viper.Set("development.watch_debounce", "250ms")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "/docs", cfg.Server.BasePath)
	assert.Equal(t, "src/pages", cfg.Paths.PagesRoot)
	assert.Equal(t, "npx pagekit-bundle", cfg.Build.Command)
	assert.Equal(t, 0, cfg.StaticPaths.Retries, "explicit zero retries survives defaulting")
	assert.False(t, cfg.Development.Overlay)
	assert.Equal(t, 250*time.Millisecond, cfg.Development.WatchDebounceDuration())
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value any
	}{
		{"port out of range", "server.port", 70000},
		{"negative port", "server.port", -1},
		{"base path without slash", "server.base_path", "docs"},
		{"base path trailing slash", "server.base_path", "/docs/"},
		{"pages root escapes project", "paths.pages_root", "../outside"},
		{"dotted extension", "build.page_extensions", []string{".tsx"}},
		{"zero workers", "static_paths.workers", -2},
		{"negative retries", "static_paths.retries", -1},
		{"unparseable watch debounce", "development.watch_debounce", "fast"},
		{"negative watch debounce", "development.watch_debounce", "-50ms"},
		{"unknown log format", "logging.format", "xml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetViper(t)
			viper.Set(tt.key, tt.value)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}
