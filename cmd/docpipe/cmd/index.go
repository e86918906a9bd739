package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/docpipe/docpipe/internal/async"
	"github.com/docpipe/docpipe/internal/chunk"
	"github.com/docpipe/docpipe/internal/embed"
	"github.com/docpipe/docpipe/internal/event"
	"github.com/docpipe/docpipe/internal/index"
	"github.com/docpipe/docpipe/internal/vectorstore"
)

func newIndexCmd() *cobra.Command {
	var skipExisting bool

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Run the chunking and indexing service",
		Long: `Consumes extraction events, splits the text into token-bounded chunks,
embeds them, upserts the vectors under deterministic chunk IDs, and
publishes one indexed event per chunk.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfigAndLogger()
			if err != nil {
				return err
			}

			embedder, err := embed.NewFromConfig(cfg.Embedding)
			if err != nil {
				return err
			}
			defer embedder.Close()

			store, err := vectorstore.NewFromConfig(cfg.VectorStore, embedder.Dimensions())
			if err != nil {
				return err
			}
			defer store.Close()

			pub := newPublisher(cfg, logger)
			defer pub.Close()

			gateway := index.NewGateway(
				chunk.New(cfg.Chunking.MaxTokens, logger),
				embedder,
				store,
				pub,
				index.Config{BatchSize: cfg.Embedding.BatchSize, SkipExisting: skipExisting},
				logger,
			)

			consumer := newConsumer(cfg, "indexing-service", logger)
			consumer.Subscribe(event.TypeDocumentExtracted, gateway.Handler())

			ctx, cancel := signalContext()
			defer cancel()

			runner := async.NewRunner(cfg.Broker.MaxAttempts, time.Duration(cfg.Broker.InitialDelay), logger)
			return runner.Run(ctx, async.Task{
				Name: "indexing-consumer",
				Run: func(ctx2 context.Context) error {
					return consumer.Start(ctx2)
				},
			})
		},
	}

	cmd.Flags().BoolVar(&skipExisting, "skip-existing", false,
		"Skip re-embedding chunks whose IDs are already stored")
	return cmd
}
