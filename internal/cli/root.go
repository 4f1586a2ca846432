// Package cli implements the aria command-line interface.
package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/seliel/aria/internal/config"
	"github.com/seliel/aria/internal/embedding"
	"github.com/seliel/aria/internal/memory"
)

// Version is set at build time via ldflags.
var Version = "0.1.0"

var (
	cfg     config.Config
	verbose bool
	dataDir string
)

var rootCmd = &cobra.Command{
	Use:   "aria",
	Short: "aria - a personal AI companion harness",
	Long: `Aria runs a personal AI companion: an LLM persona with long-term
memory, a lorebook, topic tags, alarms and optional avatar, web and
gaming surfaces.

Interactive session:
  aria run

Offline inspection works against the same data directory:
  aria memory search "that game we played"
  aria memory stats
  aria alarm list
  aria lore search dragons
  aria log export > backup.json`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip setup for help and version
		if cmd.Name() == "help" || cmd.Name() == "version" {
			return nil
		}

		cfg = config.Load()
		if dataDir != "" {
			cfg.DataDir = dataDir
		}
		if verbose {
			cfg.LogLevel = slog.LevelDebug
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		return nil
	},
}

// openStore opens the memory store for offline subcommands, fitting the
// vocabulary of corpus-dependent schemes from the stored log. The caller
// closes it.
func openStore(ctx context.Context) (*memory.Store, error) {
	var embedder embedding.Embedder
	switch cfg.EmbedScheme {
	case config.SchemeFeature:
		embedder = embedding.NewFeature()
	case config.SchemeTFIDF:
		embedder = embedding.NewTFIDF(cfg.EmbedDimension)
	default:
		return nil, fmt.Errorf("unsupported embedding scheme: %s", cfg.EmbedScheme)
	}

	store := memory.New(cfg.Path("aria.db"), embedder, memory.Options{
		Threshold:       cfg.SimilarityThreshold,
		SearchWindow:    cfg.SearchWindow,
		RecentCacheSize: cfg.RecentCacheSize,
		ContextBudget:   cfg.ContextBudget,
	}, nil, nil)
	if store.MemoryOnly() {
		_ = store.Close()
		return nil, fmt.Errorf("no store at %s", cfg.Path("aria.db"))
	}

	if tfidf, ok := embedder.(*embedding.TFIDF); ok {
		tfidf.Fit(store.AllTexts(ctx, 2000))
	}
	return store, nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (default from ARIA_DATA_DIR)")

	// Add subcommands
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(memoryCmd)
	rootCmd.AddCommand(alarmCmd)
	rootCmd.AddCommand(loreCmd)
	rootCmd.AddCommand(logCmd)
}
