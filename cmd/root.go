package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"clipmind/internal/config"
	"clipmind/internal/db"
)

var (
	dbPath     string
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "clipmind",
	Short:         "Clipboard history with classification, OCR and hybrid search",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Path to the clipboard database (default <data dir>/clipmind.db)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a JSON config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: trace, debug, info, warn, error")
}

// LoadConfig resolves configuration with priority: flags > env > file > defaults.
func LoadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.Storage.Path = dbPath
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, cfg.Validate()
}

// ResolveItem finds an item by numeric ID or, failing that, by a full-text
// query that matches exactly one item.
func ResolveItem(ctx context.Context, a *App, reference string) (*db.Item, error) {
	if id, err := strconv.ParseInt(reference, 10, 64); err == nil {
		item, err := a.Service.GetItem(ctx, id)
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("item not found: %d", id)
		}
		return item, err
	}

	matches, err := a.Store.SearchFTS(ctx, reference, 10, db.Filter{})
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("item not found: %s", reference)
	case 1:
		return a.Service.GetItem(ctx, matches[0].Item.ID)
	}
	lines := make([]string, len(matches))
	for i, m := range matches {
		lines[i] = fmt.Sprintf("  %d %s", m.Item.ID, preview(&m.Item, 50))
	}
	return nil, fmt.Errorf("ambiguous reference '%s'. %d matches:\n%s\nUse an item ID instead.",
		reference, len(matches), strings.Join(lines, "\n"))
}
