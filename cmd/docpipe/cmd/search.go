package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/docpipe/docpipe/internal/embed"
	"github.com/docpipe/docpipe/internal/retrieval"
)

func newSearchCmd() *cobra.Command {
	var limit int
	var format string

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Query the chunk index",
		Long: `Embeds the query, retrieves the nearest chunks from the vector store,
and prints them with scores and source metadata.

Examples:
  docpipe search "withholding tax rates"
  docpipe search "import duties" --limit 3 --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfigAndLogger()
			if err != nil {
				return err
			}
			if limit > 0 {
				cfg.Retrieval.TopK = limit
			}

			embedder, err := embed.NewFromConfig(cfg.Embedding)
			if err != nil {
				return err
			}
			defer embedder.Close()

			pub := newPublisher(cfg, logger)
			defer pub.Close()

			retriever := retrieval.NewRetriever(embedder, storeFactory(cfg, embedder.Dimensions()), pub, cfg.Retrieval.TopK, logger)

			ctx, cancel := signalContext()
			defer cancel()

			results, err := retriever.Search(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if format == "json" {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(results)
			}

			if len(results) == 0 {
				fmt.Fprintln(out, "no results")
				return nil
			}
			for i, res := range results {
				fmt.Fprintf(out, "%d. [%.3f] %s (%s)\n", i+1, res.Score, res.Payload.Title, res.ChunkID)
				fmt.Fprintf(out, "   %s\n", snippet(res.Payload.Text, 200))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of results (default from config)")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json")
	return cmd
}

func snippet(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) <= n {
		return text
	}
	return text[:n] + "..."
}
