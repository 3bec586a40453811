// Package cmd provides the pagekit command-line interface.
//
// Configuration System:
//
//	The CLI supports flexible configuration through multiple sources with clear precedence:
//	1. Command-line flags (--config, --port, etc.) - highest priority
//	2. PAGEKIT_CONFIG_FILE environment variable - custom config file path
//	3. Individual environment variables (PAGEKIT_SERVER_PORT, etc.)
//	4. Configuration files (.pagekit.yml) - lowest priority
//
// Environment Variables:
//
//	PAGEKIT_CONFIG_FILE: Path to custom configuration file
//	PAGEKIT_SERVER_PORT: Override server port
//	PAGEKIT_SERVER_HOST: Override server host
//	PAGEKIT_PATHS_PAGES_ROOT: Override the pages directory
//	And more following the PAGEKIT_<SECTION>_<OPTION> pattern
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pagekit",
	Short: "A development server for page-based web applications",
	Long: `Pagekit is a development-mode request router and on-demand build
coordinator for page-based web applications. It discovers routes from the
pages directory, compiles pages the first time they are requested, and
pushes route-table changes to connected browsers.

Key Features:
  • Filesystem route discovery with live updates
  • On-demand per-page compilation
  • Dynamic routes with static-path enumeration
  • Source-mapped error diagnostics
  • WebSocket-based manifest change events

Quick Start:
  pagekit serve                   Start the development server
  pagekit routes                  Print the discovered route table
  pagekit version                 Show version information`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .pagekit.yml, can also use PAGEKIT_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	bindFlags(rootCmd.PersistentFlags(), map[string]string{
		"log-level": "logging.level",
	})
}

// bindFlags binds a set of command flags to their viper configuration keys.
func bindFlags(fs *pflag.FlagSet, keys map[string]string) {
	for flag, key := range keys {
		if f := fs.Lookup(flag); f != nil {
			viper.BindPFlag(key, f)
		}
	}
}

// initConfig initializes the configuration system.
//
// Configuration Loading Priority (highest to lowest):
//  1. --config flag: Explicitly specified config file path
//  2. PAGEKIT_CONFIG_FILE environment variable: Custom config file path
//  3. Default: .pagekit.yml in current directory
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("PAGEKIT_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".pagekit")
	}

	viper.SetEnvPrefix("PAGEKIT")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// A missing or malformed config file degrades to defaults.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
