package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pagekit-dev/pagekit/internal/config"
	"github.com/pagekit-dev/pagekit/internal/logging"
	"github.com/pagekit-dev/pagekit/internal/watcher"
)

var routesFormat string

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Print the discovered route table",
	Long: `Scan the pages directory once and print the route table in
specificity order, without starting the server.

Examples:
  pagekit routes                # Human-readable table
  pagekit routes --format json  # JSON, same shape as the dev manifest`,
	RunE: runRoutes,
}

func init() {
	rootCmd.AddCommand(routesCmd)
	routesCmd.Flags().StringVarP(&routesFormat, "format", "f", "text", "Output format (text, json)")
}

func runRoutes(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	log := logging.NewLogger(&logging.LoggerConfig{
		Level:  logging.LevelError,
		Format: "text",
		Output: os.Stderr,
	})

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	rw := watcher.NewRouteWatcher(cfg.Paths.PagesRoot, cfg.Build.PageExtensions, cfg.Development.WatchDebounceDuration(), log)
	if err := rw.Start(ctx); err != nil {
		return fmt.Errorf("scanning pages: %w", err)
	}
	defer rw.Stop()

	select {
	case <-rw.Ready():
	case <-ctx.Done():
		return ctx.Err()
	}

	pages := rw.Table()
	switch routesFormat {
	case "json":
		return json.NewEncoder(os.Stdout).Encode(map[string][]string{"pages": pages})
	default:
		if len(pages) == 0 {
			fmt.Println("No pages found under", cfg.Paths.PagesRoot)
			return nil
		}
		dynamic := make(map[string]bool, len(pages))
		for _, route := range rw.DynamicRoutes() {
			dynamic[route.Pathname] = true
		}
		for _, p := range pages {
			kind := "static"
			if dynamic[p] {
				kind = "dynamic"
			}
			fmt.Printf("%-8s %s\n", kind, p)
		}
		return nil
	}
}
