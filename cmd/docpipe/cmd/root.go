// Package cmd provides the CLI commands for docpipe. Each pipeline stage
// runs as its own subcommand so the stages deploy independently while
// sharing one binary.
package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/docpipe/docpipe/internal/bus"
	"github.com/docpipe/docpipe/internal/config"
	"github.com/docpipe/docpipe/internal/logging"
	"github.com/docpipe/docpipe/pkg/version"
)

var (
	configPath     string
	loggingCleanup func()
)

// NewRootCmd creates the root command for the docpipe CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docpipe",
		Short: "Event-driven document ingestion and retrieval pipeline",
		Long: `docpipe ingests PDF documents from a listing page, extracts and chunks
their text, embeds chunks into a vector store, and answers queries by
retrieving relevant chunks.

The stages communicate over a durable topic exchange and are started
individually: discover, extract, index, and retrieve each run one stage.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.SetVersionTemplate("docpipe version {{.Version}}\n")
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (YAML)")

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newDiscoverCmd())
	cmd.AddCommand(newExtractCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newRetrieveCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the CLI.
func Execute() error {
	defer func() {
		if loggingCleanup != nil {
			loggingCleanup()
		}
	}()
	return NewRootCmd().Execute()
}

// loadConfigAndLogger loads configuration and initializes the process
// logger. Every service subcommand starts here.
func loadConfigAndLogger() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, cleanup, err := logging.Setup(loggingConfig(cfg.Logging))
	if err != nil {
		return nil, nil, err
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// loggingConfig translates the service config into the logging package's
// config. Services always mirror log records to stderr; the file is extra.
func loggingConfig(cfg config.LoggingConfig) logging.Config {
	return logging.Config{
		Level:         cfg.Level,
		FilePath:      cfg.FilePath,
		MaxSizeMB:     cfg.MaxSizeMB,
		MaxFiles:      cfg.MaxFiles,
		WriteToStderr: true,
	}
}

// signalContext returns a context cancelled by SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func brokerBackoff(cfg config.BrokerConfig) bus.Backoff {
	return bus.Backoff{
		InitialDelay: time.Duration(cfg.InitialDelay),
		MaxDelay:     time.Duration(cfg.MaxDelay),
		Multiplier:   2.0,
		Jitter:       0.1,
	}
}

func newPublisher(cfg *config.Config, logger *slog.Logger) *bus.Publisher {
	return bus.NewPublisher(bus.PublisherConfig{
		URL:         cfg.Broker.URL,
		Exchange:    cfg.Broker.Exchange,
		MaxAttempts: cfg.Broker.MaxAttempts,
		Backoff:     brokerBackoff(cfg.Broker),
	}, logger)
}

func newConsumer(cfg *config.Config, service string, logger *slog.Logger) *bus.Consumer {
	return bus.NewConsumer(bus.ConsumerConfig{
		URL:         cfg.Broker.URL,
		Exchange:    cfg.Broker.Exchange,
		Service:     service,
		MaxAttempts: cfg.Broker.MaxAttempts,
		Backoff:     brokerBackoff(cfg.Broker),
	}, logger)
}
