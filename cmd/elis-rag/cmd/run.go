package cmd

import (
	"fmt"
	"io"
	"sort"

	"github.com/fyerfyer/elis-rag/internal/pipeline"
	"github.com/spf13/cobra"
)

var runMaxDocs int

var runCmd = &cobra.Command{
	Use:   "run [topic]",
	Short: "Collect, filter, chunk, embed and index documents for a topic",
	Long: `Run the full ingestion pipeline for a topic.

An empty topic collects every document the collectors can see.

Examples:
  elis-rag run "energia solar" --max-docs 10
  elis-rag run -o json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().IntVar(&runMaxDocs, "max-docs", 0, "Maximum documents per collector (0 uses the configured default)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	topic := ""
	if len(args) > 0 {
		topic = args[0]
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	report, runErr := a.pipeline.Run(cmd.Context(), topic, runMaxDocs)
	if report != nil {
		if outputFormat == "json" {
			if err := printJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
		} else {
			printReport(cmd.OutOrStdout(), report)
		}
	}
	return runErr
}

func printReport(w io.Writer, r *pipeline.Report) {
	fmt.Fprintf(w, "Run:        %s\n", r.RunID)
	fmt.Fprintf(w, "Topic:      %s\n", r.Topic)
	fmt.Fprintf(w, "Status:     %s (%.2fs)\n", r.Status, r.DurationSeconds)

	sources := make([]string, 0, len(r.Sources))
	for name := range r.Sources {
		sources = append(sources, name)
	}
	sort.Strings(sources)
	for _, name := range sources {
		fmt.Fprintf(w, "Source:     %s (%d documents)\n", name, r.Sources[name])
	}

	fmt.Fprintf(w, "Documents:  %d collected, %d accepted\n", r.DocumentsCollected, r.DocumentsAccepted)
	fmt.Fprintf(w, "Chunks:     %d generated, %d accepted, %d new\n", r.ChunksGenerated, r.ChunksAccepted, r.ChunksNew)
	fmt.Fprintf(w, "Index size: %d chunks\n", r.TotalChunks)
	if r.FailedStage != "" {
		fmt.Fprintf(w, "Failed at:  %s\n", r.FailedStage)
	}
	for _, warning := range r.Warnings {
		fmt.Fprintf(w, "Warning:    %s\n", warning)
	}
}
