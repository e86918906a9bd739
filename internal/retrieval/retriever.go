// Package retrieval answers queries against the vector index and keeps its
// handle fresh. The store handle is cached between searches and invalidated
// when a document's final chunk lands, so staleness is bounded by the gap
// between the last-chunk event and the next search, not by any poll
// interval.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/docpipe/docpipe/internal/bus"
	"github.com/docpipe/docpipe/internal/embed"
	pipeerr "github.com/docpipe/docpipe/internal/errors"
	"github.com/docpipe/docpipe/internal/event"
	"github.com/docpipe/docpipe/internal/logging"
	"github.com/docpipe/docpipe/internal/vectorstore"
)

// Publisher is the slice of the event bus retrieval needs.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, env *event.Envelope) bool
}

// StoreFactory resolves a fresh vector store handle. Called lazily on first
// search and again after every invalidation.
type StoreFactory func() (vectorstore.Store, error)

// Retriever serves top-k chunk retrieval with a cached store handle.
type Retriever struct {
	embedder embed.Embedder
	factory  StoreFactory
	pub      Publisher
	topK     int
	logger   *slog.Logger
	source   string

	mu    sync.Mutex
	store vectorstore.Store
}

// NewRetriever creates a Retriever.
func NewRetriever(embedder embed.Embedder, factory StoreFactory, pub Publisher, topK int, logger *slog.Logger) *Retriever {
	if topK <= 0 {
		topK = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		embedder: embedder,
		factory:  factory,
		pub:      pub,
		topK:     topK,
		logger:   logger,
		source:   "retrieval-service",
	}
}

// Search embeds the query and returns the top-k chunks. Tracking events
// (query received, chunks retrieved, retrieval completed) are published
// fire-and-forget: a broker outage degrades observability, never search.
func (r *Retriever) Search(ctx context.Context, query string) ([]vectorstore.Result, error) {
	if query == "" {
		return nil, pipeerr.New(pipeerr.ErrCodeMissingField, "empty query", nil)
	}

	started := time.Now()
	queryID := uuid.NewString()
	root := r.track(ctx, nil, event.TypeQueryReceived, event.QueryReceived{
		QueryID:    queryID,
		QueryText:  query,
		ReceivedAt: started.UTC(),
	})

	logger := r.logger
	if root != nil {
		logger = logging.WithCorrelation(r.logger, root.CorrelationID)
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, pipeerr.Wrap(pipeerr.ErrCodeSearchFailed, err)
	}

	store, err := r.handle()
	if err != nil {
		return nil, pipeerr.Wrap(pipeerr.ErrCodeSearchFailed, err)
	}
	results, err := store.Search(ctx, vec, r.topK)
	if err != nil {
		return nil, pipeerr.Wrap(pipeerr.ErrCodeSearchFailed, err)
	}

	chunkIDs := make([]string, len(results))
	for i, res := range results {
		chunkIDs[i] = res.ChunkID
	}
	r.track(ctx, root, event.TypeChunksRetrieved, event.ChunksRetrieved{
		QueryID:     queryID,
		ChunkIDs:    chunkIDs,
		ResultCount: len(results),
	})
	r.track(ctx, root, event.TypeRetrievalCompleted, event.RetrievalCompleted{
		QueryID:     queryID,
		ResultCount: len(results),
		Elapsed:     time.Since(started),
	})

	logger.Info("query served",
		slog.String("query_id", queryID),
		slog.Int("results", len(results)),
		slog.Duration("elapsed", time.Since(started)))
	return results, nil
}

// Invalidate drops the cached store handle; the next search re-resolves it.
func (r *Retriever) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.store != nil {
		_ = r.store.Close()
		r.store = nil
	}
}

// InvalidationHandler returns the bus handler watching the chunk-indexed
// stream. Only the terminal chunk of a document (chunkIndex ==
// totalChunks-1) invalidates; intermediate chunks are acknowledged untouched.
func (r *Retriever) InvalidationHandler() bus.Handler {
	return func(ctx context.Context, env *event.Envelope) error {
		payload, err := event.DecodePayload(env)
		if err != nil {
			return bus.Drop(pipeerr.Wrap(pipeerr.ErrCodeMalformedMessage, err))
		}
		ci, ok := payload.(*event.ChunkIndexed)
		if !ok {
			return bus.Drop(pipeerr.New(pipeerr.ErrCodeMalformedMessage,
				fmt.Sprintf("unexpected payload for %s", env.EventType), nil))
		}

		if ci.TotalChunks <= 0 || ci.ChunkIndex != ci.TotalChunks-1 {
			return nil
		}

		r.Invalidate()
		logging.WithCorrelation(r.logger, env.CorrelationID).Info("retrieval cache invalidated",
			slog.String("document_id", ci.DocumentID),
			slog.Int("total_chunks", ci.TotalChunks))
		return nil
	}
}

// TrackingHandler returns the bus handler for incoming query events. The
// events are advisory: every message is acknowledged, malformed ones are
// dropped with a log line rather than requeued.
func (r *Retriever) TrackingHandler() bus.Handler {
	return func(ctx context.Context, env *event.Envelope) error {
		payload, err := event.DecodePayload(env)
		if err != nil {
			return bus.Drop(pipeerr.Wrap(pipeerr.ErrCodeMalformedMessage, err))
		}
		qr, ok := payload.(*event.QueryReceived)
		if !ok {
			return bus.Drop(pipeerr.New(pipeerr.ErrCodeMalformedMessage,
				fmt.Sprintf("unexpected payload for %s", env.EventType), nil))
		}

		logging.WithCorrelation(r.logger, env.CorrelationID).Info("query received",
			slog.String("query_id", qr.QueryID),
			slog.String("source", env.Source),
			slog.Int("query_chars", len(qr.QueryText)))
		return nil
	}
}

// handle returns the cached store, resolving it if absent.
func (r *Retriever) handle() (vectorstore.Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.store != nil {
		return r.store, nil
	}
	store, err := r.factory()
	if err != nil {
		return nil, err
	}
	r.store = store
	return store, nil
}

// track publishes one tracking event, deriving from parent when present.
// Failures are logged by the bus and otherwise ignored.
func (r *Retriever) track(ctx context.Context, parent *event.Envelope, eventType string, payload any) *event.Envelope {
	var env *event.Envelope
	var err error
	if parent != nil {
		env, err = parent.Derive(eventType, r.source, payload)
	} else {
		env, err = event.New(eventType, r.source, "", payload)
	}
	if err != nil {
		r.logger.Error("tracking event build failed",
			slog.String("event_type", eventType),
			slog.String("error", err.Error()))
		return nil
	}
	r.pub.Publish(ctx, eventType, env)
	return env
}
