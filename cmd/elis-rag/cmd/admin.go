package cmd

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

var removeCmd = &cobra.Command{
	Use:   "remove <document-id>",
	Short: "Remove a document and its chunks from the index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		removed, err := a.pipeline.RemoveDocument(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if outputFormat == "json" {
			return printJSON(cmd.OutOrStdout(), map[string]interface{}{"document_id": args[0], "removed": removed})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d chunks of document %s\n", removed, args[0])
		return nil
	},
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the vector index from the live chunks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		total, generation, err := a.pipeline.RebuildIndex(cmd.Context())
		if err != nil {
			return err
		}
		if outputFormat == "json" {
			return printJSON(cmd.OutOrStdout(), map[string]interface{}{"total_chunks": total, "generation": generation})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Index rebuilt: %d chunks, generation %d\n", total, generation)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show vector store and corpus statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.pipeline.Statistics(cmd.Context())
		if err != nil {
			return err
		}
		if outputFormat == "json" {
			return printJSON(cmd.OutOrStdout(), stats)
		}

		w := cmd.OutOrStdout()
		s := stats.Store
		fmt.Fprintf(w, "State:      %s\n", s.State)
		fmt.Fprintf(w, "Chunks:     %d\n", s.Basic.TotalChunks)
		fmt.Fprintf(w, "Documents:  %d\n", s.Basic.TotalDocuments)
		fmt.Fprintf(w, "Index:      %s (%d vectors)\n", s.Index.Type, s.Basic.IndexSize)
		fmt.Fprintf(w, "Quality:    avg %.3f\n", s.Quality.AvgQualityScore)

		sources := make([]string, 0, len(s.SourceDistribution))
		for name := range s.SourceDistribution {
			sources = append(sources, name)
		}
		sort.Strings(sources)
		for _, name := range sources {
			fmt.Fprintf(w, "Source:     %s (%d chunks)\n", name, s.SourceDistribution[name])
		}
		if stats.Corpus != nil {
			fmt.Fprintf(w, "Searches:   %d\n", stats.Corpus.TotalSearches)
		}
		for _, topic := range stats.Topics {
			fmt.Fprintf(w, "Topic:      %s\n", topic)
		}
		return nil
	},
}

var cleanupOlderThan time.Duration

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Purge old search history, vacuum the database and compact the index",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.pipeline.Cleanup(cmd.Context(), cleanupOlderThan)
		if err != nil {
			return err
		}
		if outputFormat == "json" {
			return printJSON(cmd.OutOrStdout(), result)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d searches, index compacted: %t (generation %d)\n",
			result.SearchesDeleted, result.Compacted, result.Generation)
		return nil
	},
}

func init() {
	cleanupCmd.Flags().DurationVar(&cleanupOlderThan, "older-than", 30*24*time.Hour, "Delete searches older than this")
	rootCmd.AddCommand(removeCmd, rebuildCmd, statsCmd, cleanupCmd)
}
