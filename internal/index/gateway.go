// Package index turns extracted documents into stored vectors. The gateway
// chunks the text, embeds chunks in parallel batches, upserts them under
// their deterministic IDs, and emits one indexed event per chunk. Because
// chunk IDs, embeddings, and upserts are all deterministic, the whole
// handler is safely re-runnable: redelivery of the same extraction event
// converges to the same stored state.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/docpipe/docpipe/internal/bus"
	"github.com/docpipe/docpipe/internal/chunk"
	"github.com/docpipe/docpipe/internal/embed"
	pipeerr "github.com/docpipe/docpipe/internal/errors"
	"github.com/docpipe/docpipe/internal/event"
	"github.com/docpipe/docpipe/internal/logging"
	"github.com/docpipe/docpipe/internal/vectorstore"
)

const (
	// maxEventChunkText bounds the chunk text carried on indexed events;
	// consumers needing full text read it from the vector store payload.
	maxEventChunkText = 2000

	defaultBatchSize = 32
	embedConcurrency = 4
)

// Publisher is the slice of the event bus the gateway needs.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, env *event.Envelope) bool
}

// Config tunes the gateway.
type Config struct {
	BatchSize int
	// SkipExisting enables the pre-write existence check: chunks already
	// stored are not re-embedded. Off by default so upstream text changes
	// that keep chunk counts stable still refresh vectors.
	SkipExisting bool
}

// Gateway is the indexing stage.
type Gateway struct {
	chunker  *chunk.Chunker
	embedder embed.Embedder
	store    vectorstore.Store
	pub      Publisher
	cfg      Config
	logger   *slog.Logger
	source   string
}

// NewGateway creates the indexing gateway.
func NewGateway(chunker *chunk.Chunker, embedder embed.Embedder, store vectorstore.Store, pub Publisher, cfg Config, logger *slog.Logger) *Gateway {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		chunker:  chunker,
		embedder: embedder,
		store:    store,
		pub:      pub,
		cfg:      cfg,
		logger:   logger,
		source:   "indexing-service",
	}
}

// Handler returns the bus handler for extraction events.
func (g *Gateway) Handler() bus.Handler {
	return func(ctx context.Context, env *event.Envelope) error {
		payload, err := event.DecodePayload(env)
		if err != nil {
			return bus.Drop(pipeerr.Wrap(pipeerr.ErrCodeMalformedMessage, err))
		}
		ext, ok := payload.(*event.DocumentExtracted)
		if !ok {
			return bus.Drop(pipeerr.New(pipeerr.ErrCodeMalformedMessage,
				fmt.Sprintf("unexpected payload for %s", env.EventType), nil))
		}
		if ext.DocumentID == "" {
			return bus.Drop(pipeerr.New(pipeerr.ErrCodeMissingField, "extraction event missing documentId", nil))
		}
		if ext.TextContent == "" {
			return bus.Drop(pipeerr.New(pipeerr.ErrCodeEmptyDocument,
				fmt.Sprintf("document %s has no text content", ext.DocumentID), nil))
		}

		_, err = g.IndexDocument(ctx, env, ext.DocumentID, ext.TextContent, ext.Metadata)
		return err
	}
}

// IndexDocument chunks, embeds, stores, and announces one document. Returns
// the number of chunks indexed. A zero-chunk result is rejected with a
// non-requeueing error: redelivery cannot make empty text chunkable.
func (g *Gateway) IndexDocument(ctx context.Context, env *event.Envelope, documentID, text string, meta event.DocumentMetadata) (int, error) {
	logger := logging.WithCorrelation(g.logger, env.CorrelationID)

	chunks := g.chunker.Split(documentID, text, meta)
	if len(chunks) == 0 {
		return 0, bus.Drop(pipeerr.New(pipeerr.ErrCodeEmptyDocument,
			fmt.Sprintf("document %s produced zero chunks", documentID), nil))
	}

	if err := g.store.EnsureCollection(ctx, g.embedder.Dimensions()); err != nil {
		return 0, pipeerr.Wrap(pipeerr.ErrCodeIndexFailed, err)
	}

	toEmbed, err := g.selectForEmbedding(ctx, chunks)
	if err != nil {
		return 0, err
	}

	if len(toEmbed) > 0 {
		points, err := g.embedChunks(ctx, toEmbed)
		if err != nil {
			return 0, err
		}
		if err := g.store.Upsert(ctx, points); err != nil {
			return 0, pipeerr.Wrap(pipeerr.ErrCodeIndexFailed, err)
		}
	}

	if err := g.publishIndexed(ctx, env, chunks); err != nil {
		return 0, err
	}

	logger.Info("document indexed",
		slog.String("document_id", documentID),
		slog.Int("chunks", len(chunks)),
		slog.Int("embedded", len(toEmbed)),
		slog.String("model", g.embedder.ModelName()))
	return len(chunks), nil
}

// selectForEmbedding applies the optional existence check.
func (g *Gateway) selectForEmbedding(ctx context.Context, chunks []chunk.Chunk) ([]chunk.Chunk, error) {
	if !g.cfg.SkipExisting {
		return chunks, nil
	}
	ids := make([]string, len(chunks))
	for i, ch := range chunks {
		ids[i] = ch.ChunkID
	}
	existing, err := g.store.Exists(ctx, ids)
	if err != nil {
		return nil, pipeerr.Wrap(pipeerr.ErrCodeIndexFailed, err)
	}
	var out []chunk.Chunk
	for _, ch := range chunks {
		if !existing[ch.ChunkID] {
			out = append(out, ch)
		}
	}
	return out, nil
}

// embedChunks embeds chunks in parallel batches, preserving input order.
func (g *Gateway) embedChunks(ctx context.Context, chunks []chunk.Chunk) ([]vectorstore.Point, error) {
	points := make([]vectorstore.Point, len(chunks))

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(embedConcurrency)

	for start := 0; start < len(chunks); start += g.cfg.BatchSize {
		end := start + g.cfg.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]
		offset := start

		eg.Go(func() error {
			texts := make([]string, len(batch))
			for i, ch := range batch {
				texts[i] = ch.Text
			}
			vecs, err := g.embedder.EmbedBatch(ctx, texts)
			if err != nil {
				return err
			}
			for i, ch := range batch {
				points[offset+i] = vectorstore.Point{
					ChunkID: ch.ChunkID,
					Vector:  vecs[i],
					Payload: vectorstore.Payload{
						DocumentID:     ch.DocumentID,
						ChunkID:        ch.ChunkID,
						ChunkIndex:     ch.Index,
						TotalChunks:    ch.TotalChunks,
						Text:           ch.Text,
						Title:          ch.Metadata.Title,
						SourceURL:      ch.Metadata.SourceURL,
						PageCount:      ch.Metadata.PageCount,
						EmbeddingModel: g.embedder.ModelName(),
					},
				}
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, pipeerr.Wrap(pipeerr.ErrCodeEmbeddingFailed, err)
	}
	return points, nil
}

// publishIndexed announces every chunk in order. The final chunk's event
// (chunkIndex == totalChunks-1) is what triggers cache invalidation
// downstream, so a publish failure must requeue the whole document.
func (g *Gateway) publishIndexed(ctx context.Context, env *event.Envelope, chunks []chunk.Chunk) error {
	now := time.Now().UTC()
	for _, ch := range chunks {
		out, err := env.Derive(event.TypeChunksIndexed, g.source, event.ChunkIndexed{
			DocumentID:     ch.DocumentID,
			ChunkID:        ch.ChunkID,
			ChunkIndex:     ch.Index,
			TotalChunks:    ch.TotalChunks,
			ChunkText:      truncate(ch.Text, maxEventChunkText),
			EmbeddingModel: g.embedder.ModelName(),
			Metadata:       ch.Metadata,
			IndexedAt:      now,
		})
		if err != nil {
			return pipeerr.Wrap(pipeerr.ErrCodeInternal, err)
		}
		if !g.pub.Publish(ctx, event.TypeChunksIndexed, out) {
			return pipeerr.New(pipeerr.ErrCodePublishFailed,
				fmt.Sprintf("indexed event publish exhausted retries for %s", ch.ChunkID), nil)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
