package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/untoldecay/space/internal/ui"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Full-text search across the ledger",
	Long: `Search decisions, insights, tasks, and replies with SQLite FTS5.
Multi-word queries match all words; quote a phrase to match it exactly.

Examples:
  space search "migration"
  space search "sqlite wal" --limit 5
  space search cache --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

var searchLimit int

func init() {
	searchCmd.Flags().IntVar(&searchLimit, "limit", 20, "Max results")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")
	results, err := store.Search(rootCtx, query, searchLimit)
	if err != nil {
		return err
	}
	if jsonOutput {
		outputJSON(results)
		return nil
	}

	hits := make([]ui.SearchHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, ui.SearchHit{
			Kind:    string(r.Type),
			Ref:     refFor(r.Type, r.ID),
			Agent:   dash(r.Agent),
			Snippet: r.Snippet,
		})
	}
	fmt.Println(ui.RenderSearchResults(query, hits, ui.GetWidth()))
	return nil
}
