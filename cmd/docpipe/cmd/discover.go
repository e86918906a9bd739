package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/docpipe/docpipe/internal/async"
	"github.com/docpipe/docpipe/internal/discovery"
	"github.com/docpipe/docpipe/internal/docstore"
)

func newDiscoverCmd() *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Run the document discovery service",
		Long: `Watches the configured listing page for PDF documents and publishes a
discovery event for every document that is new, changed upstream, or
missing locally. Unchanged documents are skipped by fingerprint.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfigAndLogger()
			if err != nil {
				return err
			}
			if cfg.Discovery.ListingURL == "" {
				return fmt.Errorf("discovery.listing_url is not configured")
			}

			store, err := docstore.Open(cfg.Storage.DataDir)
			if err != nil {
				return err
			}

			pub := newPublisher(cfg, logger)
			defer pub.Close()

			client := discovery.NewClient(
				time.Duration(cfg.Discovery.HeadTimeout),
				time.Duration(cfg.Discovery.DownloadTimeout),
			)
			detector := discovery.NewDetector(cfg.Discovery.ListingURL, client, store, pub, logger)

			ctx, cancel := signalContext()
			defer cancel()

			if once {
				stats, err := detector.Sweep(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "checked %d documents: %d published, %d unchanged, %d failed\n",
					stats.Checked, stats.Published, stats.Unchanged, stats.Failed)
				return nil
			}

			runner := async.NewRunner(cfg.Broker.MaxAttempts, time.Duration(cfg.Broker.InitialDelay), logger)
			return runner.Run(ctx, async.Task{
				Name: "discovery-sweep",
				Run: func(ctx2 context.Context) error {
					return detector.Run(ctx2, time.Duration(cfg.Discovery.Interval))
				},
			})
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "Run a single sweep and exit")
	return cmd
}
