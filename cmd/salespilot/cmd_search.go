package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"salespilot/internal/config"
)

var searchCategories []string

// searchCmd runs the hybrid retriever directly, without the LLM dispatcher
// or negotiation. Useful for tuning the library and inspecting rankings.
var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Run hybrid retrieval against the prompt library",
	Long: `Ranks the prompt library against a query using dense cosine
similarity and sparse BM25, fused with Reciprocal Rank Fusion. Skips the
category dispatcher; use --categories to restrict the candidate set, or
omit it to search every category.

Without an embedding backend the dense pass is skipped and results come
from the sparse signal alone.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().StringSliceVar(&searchCategories, "categories", nil, "restrict search to these categories (default: all)")
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	query := strings.Join(args, " ")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	engine, err := newEmbeddingEngine(cfg)
	if err != nil {
		return err
	}

	ci, retriever, _, cleanup, err := buildCore(ctx, cfg, engine)
	if err != nil {
		return err
	}
	defer cleanup()

	categories := searchCategories
	if len(categories) == 0 {
		categories = ci.Snapshot().Library().Categories()
	}

	results, err := retriever.Search(ctx, query, categories)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println("No results.")
		return nil
	}

	lib := ci.Snapshot().Library()
	for i, r := range results {
		rec := lib.Get(r.RecordID)
		fmt.Printf("%d. %s  score=%.4f  dense=%s sparse=%s\n", i+1, r.RecordID, r.FusedScore, rankLabel(r.DenseRank), rankLabel(r.SparseRank))
		if rec != nil {
			fmt.Printf("   [%s] %s\n", rec.Category, rec.UseCase)
		}
	}
	return nil
}

// rankLabel renders a 1-based rank, with "-" for a record absent from that list.
func rankLabel(rank int) string {
	if rank == 0 {
		return "-"
	}
	return fmt.Sprintf("#%d", rank)
}
