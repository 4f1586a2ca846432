package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/seliel/aria/internal/app"
)

var logImportUser string

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Export and import the conversation log",
	Long: `The log format is a flat JSON array of [user, ai] string pairs, so
exports from other chat frontends can be imported directly.`,
}

var logExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the conversation log to stdout as JSON",
	Args:  cobra.NoArgs,
	RunE:  runLogExport,
}

var logImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import [user, ai] pairs from a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogImport,
}

func init() {
	logImportCmd.Flags().StringVarP(&logImportUser, "user", "u", app.LocalUser, "user ID to attribute imported turns to")

	logCmd.AddCommand(logExportCmd)
	logCmd.AddCommand(logImportCmd)
}

func runLogExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	pairs, err := store.ExportPairs(ctx)
	if err != nil {
		return fmt.Errorf("export log: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(pairs)
}

func runLogImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}
	var pairs [][2]string
	if err := json.Unmarshal(data, &pairs); err != nil {
		return fmt.Errorf("parse %s: %w", args[0], err)
	}

	ctx := cmd.Context()
	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	n := store.ImportPairs(ctx, logImportUser, pairs)
	fmt.Printf("Imported %d of %d pairs.\n", n, len(pairs))
	return nil
}
