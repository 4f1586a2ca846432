package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/seliel/aria/internal/app"
)

var (
	memorySearchLimit int
	memoryFactsUser   string
	memoryFactsLimit  int
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect the long-term memory store",
}

var memorySearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Find past conversations similar to a query",
	Long: `Search stored conversation turns by embedding similarity.

Examples:
  aria memory search "that boss fight"
  aria memory search "dinner plans" --limit 10`,
	Args: cobra.ExactArgs(1),
	RunE: runMemorySearch,
}

var memoryStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show store counts",
	Args:  cobra.NoArgs,
	RunE:  runMemoryStats,
}

var memoryFactsCmd = &cobra.Command{
	Use:   "facts",
	Short: "List extracted facts about a user",
	Args:  cobra.NoArgs,
	RunE:  runMemoryFacts,
}

func init() {
	memorySearchCmd.Flags().IntVarP(&memorySearchLimit, "limit", "n", 5, "max results")
	memoryFactsCmd.Flags().StringVarP(&memoryFactsUser, "user", "u", app.LocalUser, "user ID")
	memoryFactsCmd.Flags().IntVarP(&memoryFactsLimit, "limit", "n", 20, "max results")

	memoryCmd.AddCommand(memorySearchCmd)
	memoryCmd.AddCommand(memoryStatsCmd)
	memoryCmd.AddCommand(memoryFactsCmd)
}

func runMemorySearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	matches := store.SearchSimilarTurns(ctx, args[0], memorySearchLimit)
	if len(matches) == 0 {
		fmt.Println("No similar conversations found.")
		return nil
	}
	for _, m := range matches {
		fmt.Printf("[%.2f] %s\n", m.Similarity, m.CreatedAt.Format("2006-01-02 15:04"))
		fmt.Printf("  User: %s\n", m.UserText)
		fmt.Printf("  AI:   %s\n\n", m.AIText)
	}
	return nil
}

func runMemoryStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	stats := store.CountStats(ctx)
	out, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(append(out, '\n'))
	return err
}

func runMemoryFacts(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	facts := store.FactsForUser(ctx, memoryFactsUser, memoryFactsLimit)
	if len(facts) == 0 {
		fmt.Printf("No facts stored for %q.\n", memoryFactsUser)
		return nil
	}
	for _, f := range facts {
		fmt.Printf("%-12s %.1f  %s\n", f.Kind, f.Importance, f.Content)
	}
	return nil
}
