package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/docpipe/docpipe/internal/async"
	"github.com/docpipe/docpipe/internal/docstore"
	"github.com/docpipe/docpipe/internal/event"
	"github.com/docpipe/docpipe/internal/extract"
)

func newExtractCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "extract",
		Short: "Run the text extraction service",
		Long: `Consumes discovery events, extracts document text page by page, and
publishes extraction events for the indexing stage.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfigAndLogger()
			if err != nil {
				return err
			}

			store, err := docstore.Open(cfg.Storage.DataDir)
			if err != nil {
				return err
			}

			pub := newPublisher(cfg, logger)
			defer pub.Close()

			svc := extract.NewService(store, extract.NewTextExtractor(), pub, logger)

			consumer := newConsumer(cfg, "extraction-service", logger)
			consumer.Subscribe(event.TypeDocumentDiscovered, svc.Handler())

			ctx, cancel := signalContext()
			defer cancel()

			runner := async.NewRunner(cfg.Broker.MaxAttempts, time.Duration(cfg.Broker.InitialDelay), logger)
			return runner.Run(ctx, async.Task{
				Name: "extraction-consumer",
				Run: func(ctx2 context.Context) error {
					return consumer.Start(ctx2)
				},
			})
		},
	}
}
