package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/fyerfyer/elis-rag/internal/models"
	"github.com/fyerfyer/elis-rag/internal/pipeline"
	"github.com/spf13/cobra"
)

var (
	searchTopK    int
	searchWindow  int
	searchFilters string
	contextChars  int
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Semantic search over the indexed chunks",
	Long: `Embed the query and return the most similar chunks.

Examples:
  elis-rag search "painéis fotovoltaicos" --top-k 3
  elis-rag search "baterias" --filters '{"source_type":"local_file","quality_score":0.6}'
  elis-rag search "baterias" --window 1 -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

var contextCmd = &cobra.Command{
	Use:   "context <query>",
	Short: "Build a bounded context string from the best matching chunks",
	Args:  cobra.ExactArgs(1),
	RunE:  runContext,
}

func init() {
	searchCmd.Flags().IntVarP(&searchTopK, "top-k", "k", 0, "Number of results (0 uses the configured default)")
	searchCmd.Flags().IntVar(&searchWindow, "window", 0, "Neighbouring chunks to attach to each result")
	searchCmd.Flags().StringVar(&searchFilters, "filters", "", "Metadata filters as a JSON object")
	contextCmd.Flags().IntVar(&contextChars, "max-chars", 0, "Character budget (0 uses the configured default)")
	rootCmd.AddCommand(searchCmd, contextCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	filters, err := parseFilterFlag(searchFilters)
	if err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	var hits []pipeline.Hit
	if searchWindow > 0 {
		hits, err = a.pipeline.SearchWithContext(cmd.Context(), args[0], searchTopK, filters, searchWindow)
	} else {
		hits, err = a.pipeline.Search(cmd.Context(), args[0], searchTopK, filters)
	}
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		return printJSON(cmd.OutOrStdout(), hits)
	}
	if len(hits) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No results.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tSIMILARITY\tSOURCE\tDOCUMENT\tTEXT")
	for _, h := range hits {
		fmt.Fprintf(w, "%d\t%.3f\t%s\t%s\t%s\n", h.Rank, h.Similarity, h.Source, h.Document, models.Snippet(h.Text, 80))
	}
	return w.Flush()
}

func runContext(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	text, err := a.pipeline.ContextForQuery(cmd.Context(), args[0], contextChars)
	if err != nil {
		return err
	}
	if outputFormat == "json" {
		return printJSON(cmd.OutOrStdout(), map[string]string{"query": args[0], "context": text})
	}
	fmt.Fprintln(cmd.OutOrStdout(), text)
	return nil
}

func parseFilterFlag(raw string) (*models.SearchFilters, error) {
	if raw == "" {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidFilter, err)
	}
	return models.ParseFilters(m)
}
