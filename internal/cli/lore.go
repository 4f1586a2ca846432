package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/seliel/aria/internal/lorebook"
)

var loreCmd = &cobra.Command{
	Use:   "lore",
	Short: "Inspect the lorebook",
}

var loreListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all lorebook entries",
	Args:  cobra.NoArgs,
	RunE:  runLoreList,
}

var loreSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search lorebook entries by name, keyword or content",
	Args:  cobra.ExactArgs(1),
	RunE:  runLoreSearch,
}

func init() {
	loreCmd.AddCommand(loreListCmd)
	loreCmd.AddCommand(loreSearchCmd)
}

func openLore() (*lorebook.Book, error) {
	book, err := lorebook.Load(cfg.Path("lorebook.json"), nil)
	if err != nil {
		return nil, fmt.Errorf("load lorebook: %w", err)
	}
	return book, nil
}

func runLoreList(cmd *cobra.Command, args []string) error {
	book, err := openLore()
	if err != nil {
		return err
	}
	printEntries(book.Entries())
	return nil
}

func runLoreSearch(cmd *cobra.Command, args []string) error {
	book, err := openLore()
	if err != nil {
		return err
	}
	printEntries(book.Search(args[0]))
	return nil
}

func printEntries(entries []lorebook.Entry) {
	if len(entries) == 0 {
		fmt.Println("No entries.")
		return
	}
	for _, e := range entries {
		fmt.Printf("%s (priority %d, keywords: %s)\n", e.Name, e.Priority, strings.Join(e.Keywords, ", "))
		fmt.Printf("  %s\n", e.Content)
	}
}
