// Package discovery watches a listing page for PDF documents and emits a
// discovery event whenever a document is new, changed upstream, or missing
// from local storage. Change detection is fingerprint-based and idempotent:
// an unchanged document produces no event and no download.
package discovery

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/docpipe/docpipe/internal/docstore"
	pipeerr "github.com/docpipe/docpipe/internal/errors"
	"github.com/docpipe/docpipe/internal/event"
	"github.com/docpipe/docpipe/internal/logging"
)

// Publisher is the slice of the event bus the detector needs.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, env *event.Envelope) bool
}

// Detector runs discovery sweeps against a listing URL.
type Detector struct {
	listingURL string
	client     *Client
	store      *docstore.Store
	pub        Publisher
	logger     *slog.Logger
	source     string
}

// SweepStats summarizes one discovery sweep.
type SweepStats struct {
	Checked   int
	Unchanged int
	Published int
	Failed    int
}

// NewDetector creates a Detector.
func NewDetector(listingURL string, client *Client, store *docstore.Store, pub Publisher, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		listingURL: listingURL,
		client:     client,
		store:      store,
		pub:        pub,
		logger:     logger,
		source:     "ingestion-service",
	}
}

// Sweep fetches the listing once and processes every link. A failure on one
// document never aborts the sweep; it is logged and counted.
func (d *Detector) Sweep(ctx context.Context) (SweepStats, error) {
	var stats SweepStats

	links, err := d.client.FetchListing(ctx, d.listingURL)
	if err != nil {
		return stats, err
	}
	d.logger.Info("discovery sweep started",
		slog.String("listing_url", d.listingURL),
		slog.Int("links", len(links)))

	for _, link := range links {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		stats.Checked++
		published, err := d.processLink(ctx, link)
		switch {
		case err != nil:
			stats.Failed++
			d.logger.Error("document check failed",
				slog.String("url", link.URL),
				slog.String("error", err.Error()))
		case published:
			stats.Published++
		default:
			stats.Unchanged++
		}
	}

	d.logger.Info("discovery sweep finished",
		slog.Int("checked", stats.Checked),
		slog.Int("unchanged", stats.Unchanged),
		slog.Int("published", stats.Published),
		slog.Int("failed", stats.Failed))
	return stats, nil
}

// Run sweeps immediately, then on every interval tick until the context is
// cancelled. Sweep-level errors are logged, not fatal: the next tick retries.
func (d *Detector) Run(ctx context.Context, interval time.Duration) error {
	if _, err := d.Sweep(ctx); err != nil && ctx.Err() == nil {
		d.logger.Error("discovery sweep failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := d.Sweep(ctx); err != nil && ctx.Err() == nil {
				d.logger.Error("discovery sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// processLink decides whether one document needs (re)ingestion. Returns true
// when a discovery event was published.
func (d *Detector) processLink(ctx context.Context, link Link) (bool, error) {
	docID := DocumentID(link.URL)

	marker, err := d.client.Probe(ctx, link.URL)
	if err != nil {
		return false, err
	}
	fp := Fingerprint(link.Title, marker)

	prev, known := d.store.Get(docID)
	if known && prev.Fingerprint == fp && blobExists(prev.BlobPath) {
		return false, nil
	}

	data, err := d.client.Download(ctx, link.URL)
	if err != nil {
		return false, err
	}
	blobPath, err := d.store.SaveBlob(docID, data)
	if err != nil {
		return false, err
	}
	env, err := event.New(event.TypeDocumentDiscovered, d.source, "", event.DocumentDiscovered{
		DocumentID:   docID,
		SourceURL:    link.URL,
		FilePath:     blobPath,
		DiscoveredAt: time.Now().UTC(),
	})
	if err != nil {
		return false, err
	}

	// The fingerprint is committed only after a successful publish, so a
	// broker outage leaves the record untouched and the next sweep retries
	// the whole document instead of silently losing it.
	if !d.pub.Publish(ctx, event.TypeDocumentDiscovered, env) {
		return false, pipeerr.New(pipeerr.ErrCodePublishFailed,
			"discovery event publish exhausted retries", nil)
	}

	if err := d.store.Put(docstore.DocumentRecord{
		DocumentID:  docID,
		SourceURL:   link.URL,
		Title:       link.Title,
		Fingerprint: fp,
		BlobPath:    blobPath,
	}); err != nil {
		return false, err
	}

	d.logger.Info("document discovered",
		slog.String("document_id", docID),
		slog.String("url", link.URL),
		slog.Bool("known", known),
		slog.String(logging.CorrelationKey, env.CorrelationID))
	return true, nil
}

func blobExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
