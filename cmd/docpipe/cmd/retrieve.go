package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/docpipe/docpipe/internal/async"
	"github.com/docpipe/docpipe/internal/config"
	"github.com/docpipe/docpipe/internal/embed"
	"github.com/docpipe/docpipe/internal/event"
	"github.com/docpipe/docpipe/internal/retrieval"
	"github.com/docpipe/docpipe/internal/vectorstore"
)

func newRetrieveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retrieve",
		Short: "Run the retrieval service",
		Long: `Serves chunk retrieval and watches the indexed-chunk stream: when a
document's final chunk lands, the cached vector store handle is
invalidated so the next search sees current state.`,
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

			pub := newPublisher(cfg, logger)
			defer pub.Close()

			retriever := retrieval.NewRetriever(embedder, storeFactory(cfg, embedder.Dimensions()), pub, cfg.Retrieval.TopK, logger)

			consumer := newConsumer(cfg, "retrieval-service", logger)
			consumer.Subscribe(event.TypeChunksIndexed, retriever.InvalidationHandler())
			consumer.Subscribe(event.TypeQueryReceived, retriever.TrackingHandler())

			ctx, cancel := signalContext()
			defer cancel()

			runner := async.NewRunner(cfg.Broker.MaxAttempts, time.Duration(cfg.Broker.InitialDelay), logger)
			return runner.Run(ctx, async.Task{
				Name: "invalidation-consumer",
				Run: func(ctx2 context.Context) error {
					return consumer.Start(ctx2)
				},
			})
		},
	}
}

func storeFactory(cfg *config.Config, dims int) retrieval.StoreFactory {
	return func() (vectorstore.Store, error) {
		return vectorstore.NewFromConfig(cfg.VectorStore, dims)
	}
}
