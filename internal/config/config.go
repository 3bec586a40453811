// Package config provides configuration management for pagekit using
// Viper for flexible loading from files, environment variables, and
// command-line flags.
//
// Configuration is read from .pagekit.yml with PAGEKIT_ environment
// variable overrides. It covers the HTTP server, the filesystem roots
// the dev server reads from, the bundler command, the static-paths
// worker pool, custom routing rules, and logging.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Paths       PathsConfig       `yaml:"paths"`
	Build       BuildConfig       `yaml:"build"`
	StaticPaths StaticPathsConfig `yaml:"static_paths"`
	Routes      RoutesConfig      `yaml:"routes"`
	Development DevelopmentConfig `yaml:"development"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	BasePath       string   `yaml:"base_path"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type PathsConfig struct {
	PagesRoot string `yaml:"pages_root"`
	PublicDir string `yaml:"public_dir"`
	BuildDir  string `yaml:"build_dir"`
	// StaticDir is the legacy top-level static directory, still served
	// for projects that predate public_dir.
	StaticDir string `yaml:"static_dir"`
}

type BuildConfig struct {
	// Command compiles one page module graph; empty means the built-in
	// copy bundler, which is only useful for plain-JS projects.
	Command        string   `yaml:"command"`
	PageExtensions []string `yaml:"page_extensions"`
}

type StaticPathsConfig struct {
	// Command is the worker executable honoring the enumeration
	// contract: request JSON on stdin, result JSON on stdout.
	Command string `yaml:"command"`
	Workers int    `yaml:"workers"`
	Retries int    `yaml:"retries"`
}

type RoutesConfig struct {
	File string `yaml:"file"`
}

type DevelopmentConfig struct {
	Overlay       bool     `yaml:"overlay"`
	AccessLog     bool     `yaml:"access_log"`
	WatchDebounce string   `yaml:"watch_debounce"`
	Locales       []string `yaml:"locales"`
	DefaultLocale string   `yaml:"default_locale"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// WatchDebounceDuration returns the parsed watch debounce. Validation
// already rejected unparseable values, so a parse failure here falls
// back to the default.
func (c *DevelopmentConfig) WatchDebounceDuration() time.Duration {
	d, err := time.ParseDuration(c.WatchDebounce)
	if err != nil || d < 0 {
		return 100 * time.Millisecond
	}
	return d
}

func Load() (*Config, error) {
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Handle slice values set via viper (workaround for viper slice handling)
	if viper.IsSet("server.allowed_origins") && len(config.Server.AllowedOrigins) == 0 {
		config.Server.AllowedOrigins = viper.GetStringSlice("server.allowed_origins")
	}
	if viper.IsSet("build.page_extensions") && len(config.Build.PageExtensions) == 0 {
		config.Build.PageExtensions = viper.GetStringSlice("build.page_extensions")
	}
	if viper.IsSet("development.locales") && len(config.Development.Locales) == 0 {
		config.Development.Locales = viper.GetStringSlice("development.locales")
	}

	// Handle development settings set via viper (workaround for viper bool handling)
	if viper.IsSet("development.overlay") {
		config.Development.Overlay = viper.GetBool("development.overlay")
	}
	if viper.IsSet("development.access_log") {
		config.Development.AccessLog = viper.GetBool("development.access_log")
	}

	applyDefaults(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &config, nil
}

func applyDefaults(config *Config) {
	if config.Server.Port == 0 {
		config.Server.Port = 3000
	}
	if config.Server.Host == "" {
		config.Server.Host = "localhost"
	}

	if config.Paths.PagesRoot == "" {
		config.Paths.PagesRoot = "pages"
	}
	if config.Paths.PublicDir == "" {
		config.Paths.PublicDir = "public"
	}
	if config.Paths.BuildDir == "" {
		config.Paths.BuildDir = ".pagekit"
	}
	if config.Paths.StaticDir == "" {
		config.Paths.StaticDir = "static"
	}

	if len(config.Build.PageExtensions) == 0 {
		config.Build.PageExtensions = []string{"js", "jsx", "ts", "tsx"}
	}

	if config.StaticPaths.Workers == 0 {
		config.StaticPaths.Workers = 4
	}
	if !viper.IsSet("static_paths.retries") {
		config.StaticPaths.Retries = 1
	}

	if config.Routes.File == "" {
		config.Routes.File = "routes.yml"
	}

	if !viper.IsSet("development.overlay") {
		config.Development.Overlay = true
	}
	if !viper.IsSet("development.access_log") {
		config.Development.AccessLog = true
	}
	if config.Development.WatchDebounce == "" {
		config.Development.WatchDebounce = "100ms"
	}

	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.Format == "" {
		config.Logging.Format = "text"
	}
}

// validateConfig validates configuration values for security and correctness
func validateConfig(config *Config) error {
	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("server port %d outside valid range 1-65535", config.Server.Port)
	}
	if strings.ContainsAny(config.Server.Host, " \t") {
		return fmt.Errorf("server host %q contains whitespace", config.Server.Host)
	}
	if config.Server.BasePath != "" && !strings.HasPrefix(config.Server.BasePath, "/") {
		return fmt.Errorf("base path %q must start with /", config.Server.BasePath)
	}
	if strings.HasSuffix(config.Server.BasePath, "/") {
		return fmt.Errorf("base path %q must not end with /", config.Server.BasePath)
	}

	for _, p := range []struct{ name, value string }{
		{"pages_root", config.Paths.PagesRoot},
		{"public_dir", config.Paths.PublicDir},
		{"build_dir", config.Paths.BuildDir},
		{"static_dir", config.Paths.StaticDir},
	} {
		if err := validatePath(p.name, p.value); err != nil {
			return err
		}
	}

	for _, ext := range config.Build.PageExtensions {
		if ext == "" || strings.HasPrefix(ext, ".") || strings.Contains(ext, "/") {
			return fmt.Errorf("page extension %q must be a bare extension like \"tsx\"", ext)
		}
	}

	if config.StaticPaths.Workers < 1 {
		return fmt.Errorf("static paths workers must be at least 1, got %d", config.StaticPaths.Workers)
	}
	if config.StaticPaths.Retries < 0 {
		return fmt.Errorf("static paths retries must not be negative, got %d", config.StaticPaths.Retries)
	}

	if d, err := time.ParseDuration(config.Development.WatchDebounce); err != nil {
		return fmt.Errorf("watch debounce %q is not a duration: %w", config.Development.WatchDebounce, err)
	} else if d < 0 {
		return fmt.Errorf("watch debounce %q must not be negative", config.Development.WatchDebounce)
	}

	switch config.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging format %q must be text or json", config.Logging.Format)
	}

	return nil
}

func validatePath(name, value string) error {
	if value == "" {
		return fmt.Errorf("%s must not be empty", name)
	}
	if strings.ContainsRune(value, 0) {
		return fmt.Errorf("%s contains a null byte", name)
	}
	clean := filepath.Clean(value)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%s %q escapes the project directory", name, value)
	}
	return nil
}
