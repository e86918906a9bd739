package extract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/docpipe/docpipe/internal/bus"
	"github.com/docpipe/docpipe/internal/docstore"
	pipeerr "github.com/docpipe/docpipe/internal/errors"
	"github.com/docpipe/docpipe/internal/event"
	"github.com/docpipe/docpipe/internal/logging"
)

// Publisher is the slice of the event bus the extraction service needs.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, env *event.Envelope) bool
}

// Service consumes discovery events, extracts document text, and publishes
// extraction events carrying the full text plus per-page texts.
type Service struct {
	store     *docstore.Store
	extractor Extractor
	pub       Publisher
	logger    *slog.Logger
	source    string
}

// NewService creates the extraction service.
func NewService(store *docstore.Store, extractor Extractor, pub Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		extractor: extractor,
		pub:       pub,
		logger:    logger,
		source:    "extraction-service",
	}
}

// Handler returns the bus handler for discovery events.
func (s *Service) Handler() bus.Handler {
	return s.handle
}

func (s *Service) handle(ctx context.Context, env *event.Envelope) error {
	payload, err := event.DecodePayload(env)
	if err != nil {
		return bus.Drop(pipeerr.Wrap(pipeerr.ErrCodeMalformedMessage, err))
	}
	disc, ok := payload.(*event.DocumentDiscovered)
	if !ok {
		return bus.Drop(pipeerr.New(pipeerr.ErrCodeMalformedMessage,
			fmt.Sprintf("unexpected payload for %s", env.EventType), nil))
	}
	if disc.DocumentID == "" {
		return bus.Drop(pipeerr.New(pipeerr.ErrCodeMissingField, "discovery event missing documentId", nil))
	}

	logger := logging.WithCorrelation(s.logger, env.CorrelationID)

	data, err := s.readDocument(disc)
	if err != nil {
		// The blob may be gone for good; requeueing cannot bring it back,
		// and the next discovery sweep re-ingests missing files anyway.
		return bus.Drop(err)
	}

	result, err := s.extractor.Extract(ctx, data)
	if err != nil {
		if pipeerr.CodeOf(err) == pipeerr.ErrCodeEmptyDocument {
			logger.Warn("document has no extractable text, skipping",
				slog.String("document_id", disc.DocumentID))
			return bus.Drop(err)
		}
		return err
	}

	meta := event.DocumentMetadata{
		SourceURL: disc.SourceURL,
		PageCount: result.PageCount(),
	}
	if rec, ok := s.store.Get(disc.DocumentID); ok {
		meta.Title = rec.Title
	}

	out, err := env.Derive(event.TypeDocumentExtracted, s.source, event.DocumentExtracted{
		DocumentID:  disc.DocumentID,
		TextContent: result.Text(),
		PageTexts:   result.Pages,
		Metadata:    meta,
		ExtractedAt: time.Now().UTC(),
	})
	if err != nil {
		return pipeerr.Wrap(pipeerr.ErrCodeInternal, err)
	}

	if !s.pub.Publish(ctx, event.TypeDocumentExtracted, out) {
		return pipeerr.New(pipeerr.ErrCodePublishFailed, "extraction event publish exhausted retries", nil)
	}

	logger.Info("document extracted",
		slog.String("document_id", disc.DocumentID),
		slog.Int("pages", result.PageCount()),
		slog.Int("chars", len(result.Text())))
	return nil
}

// readDocument loads the document bytes, preferring the path carried on the
// event and falling back to the blob store.
func (s *Service) readDocument(disc *event.DocumentDiscovered) ([]byte, error) {
	if disc.FilePath != "" {
		data, err := os.ReadFile(disc.FilePath)
		if err == nil {
			return data, nil
		}
	}
	return s.store.ReadBlob(disc.DocumentID)
}
