package index

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docpipe/docpipe/internal/bus"
	"github.com/docpipe/docpipe/internal/chunk"
	"github.com/docpipe/docpipe/internal/embed"
	pipeerr "github.com/docpipe/docpipe/internal/errors"
	"github.com/docpipe/docpipe/internal/event"
	"github.com/docpipe/docpipe/internal/vectorstore"
)

type fakePub struct {
	mu        sync.Mutex
	envelopes []*event.Envelope
	fail      bool
}

func (p *fakePub) Publish(_ context.Context, _ string, env *event.Envelope) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return false
	}
	p.envelopes = append(p.envelopes, env)
	return true
}

func (p *fakePub) indexed(t *testing.T) []event.ChunkIndexed {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]event.ChunkIndexed, len(p.envelopes))
	for i, env := range p.envelopes {
		require.Equal(t, event.TypeChunksIndexed, env.EventType)
		require.NoError(t, json.Unmarshal(env.Payload, &out[i]))
	}
	return out
}

func newTestGateway(t *testing.T, cfg Config, pub Publisher) (*Gateway, *vectorstore.LocalStore) {
	t.Helper()
	store := vectorstore.NewLocalStore(32)
	g := NewGateway(
		chunk.New(50, nil),
		embed.NewStaticEmbedder(32),
		store,
		pub,
		cfg,
		nil,
	)
	return g, store
}

func extractedEnvelope(t *testing.T, docID, text string) *event.Envelope {
	t.Helper()
	env, err := event.New(event.TypeDocumentExtracted, "extraction-service", "corr-index",
		event.DocumentExtracted{
			DocumentID:  docID,
			TextContent: text,
			Metadata:    event.DocumentMetadata{Title: "t.pdf", SourceURL: "https://x/t.pdf", PageCount: 1},
		})
	require.NoError(t, err)
	return env
}

func TestHandler_IndexesAndAnnouncesEveryChunk(t *testing.T) {
	pub := &fakePub{}
	g, store := newTestGateway(t, Config{}, pub)

	text := strings.TrimSpace(strings.Repeat("alpha beta gamma delta epsilon ", 30))
	err := g.Handler()(context.Background(), extractedEnvelope(t, "doc-1", text))
	require.NoError(t, err)

	events := pub.indexed(t)
	require.NotEmpty(t, events)

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(events), count, "one stored vector per announced chunk")

	total := events[0].TotalChunks
	for i, ev := range events {
		assert.Equal(t, i, ev.ChunkIndex)
		assert.Equal(t, total, ev.TotalChunks)
		assert.Equal(t, chunk.ID("doc-1", i), ev.ChunkID)
		assert.Equal(t, "static-hash", ev.EmbeddingModel)
		assert.Equal(t, "t.pdf", ev.Metadata.Title)
	}
	// Every event stays in the originating correlation chain.
	for _, env := range pub.envelopes {
		assert.Equal(t, "corr-index", env.CorrelationID)
		assert.Equal(t, "indexing-service", env.Source)
	}
}

func TestHandler_ReindexingIsIdempotent(t *testing.T) {
	pub := &fakePub{}
	g, store := newTestGateway(t, Config{}, pub)
	ctx := context.Background()

	text := strings.TrimSpace(strings.Repeat("one two three four five ", 40))
	require.NoError(t, g.Handler()(ctx, extractedEnvelope(t, "doc-1", text)))
	first, err := store.Count(ctx)
	require.NoError(t, err)

	// Redelivery of the same extraction event.
	require.NoError(t, g.Handler()(ctx, extractedEnvelope(t, "doc-1", text)))
	second, err := store.Count(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second, "re-indexing must not grow the stored vector count")
}

func TestHandler_ZeroChunksRejectedWithoutRequeue(t *testing.T) {
	pub := &fakePub{}
	g, _ := newTestGateway(t, Config{}, pub)

	err := g.Handler()(context.Background(), extractedEnvelope(t, "doc-1", "   "))
	require.Error(t, err)
	assert.True(t, bus.IsDrop(err), "unchunkable documents must not loop in the queue")
	assert.Empty(t, pub.envelopes)
}

func TestHandler_MissingDocumentIDDropped(t *testing.T) {
	pub := &fakePub{}
	g, _ := newTestGateway(t, Config{}, pub)

	err := g.Handler()(context.Background(), extractedEnvelope(t, "", "text"))
	require.Error(t, err)
	assert.True(t, bus.IsDrop(err))
}

func TestHandler_PublishFailureRequeues(t *testing.T) {
	pub := &fakePub{fail: true}
	g, _ := newTestGateway(t, Config{}, pub)

	err := g.Handler()(context.Background(), extractedEnvelope(t, "doc-1", "some text to index"))
	require.Error(t, err)
	assert.False(t, bus.IsDrop(err))
	assert.Equal(t, pipeerr.ErrCodePublishFailed, pipeerr.CodeOf(err))
}

func TestIndexDocument_SkipExistingAvoidsReembedding(t *testing.T) {
	pub := &fakePub{}
	store := vectorstore.NewLocalStore(32)
	counting := &countingEmbedder{Embedder: embed.NewStaticEmbedder(32)}
	g := NewGateway(chunk.New(50, nil), counting, store, pub, Config{SkipExisting: true}, nil)
	ctx := context.Background()

	env := extractedEnvelope(t, "doc-1", strings.TrimSpace(strings.Repeat("word ", 120)))
	_, err := g.IndexDocument(ctx, env, "doc-1", strings.TrimSpace(strings.Repeat("word ", 120)),
		event.DocumentMetadata{Title: "t.pdf"})
	require.NoError(t, err)
	firstCalls := counting.calls

	_, err = g.IndexDocument(ctx, env, "doc-1", strings.TrimSpace(strings.Repeat("word ", 120)),
		event.DocumentMetadata{Title: "t.pdf"})
	require.NoError(t, err)

	assert.Equal(t, firstCalls, counting.calls, "existing chunks must not be re-embedded")
	// Indexed events still fire for every chunk so the invalidator sees the
	// terminal chunk even on a replay.
	assert.Greater(t, len(pub.envelopes), 0)
}

func TestHandler_LongChunkTextTruncatedOnEvent(t *testing.T) {
	pub := &fakePub{}
	store := vectorstore.NewLocalStore(32)
	// A generous budget keeps one huge chunk intact.
	g := NewGateway(chunk.New(10000, nil), embed.NewStaticEmbedder(32), store, pub, Config{}, nil)

	text := strings.TrimSpace(strings.Repeat("verylongword ", 600))
	require.Greater(t, len(text), 2000)

	err := g.Handler()(context.Background(), extractedEnvelope(t, "doc-1", text))
	require.NoError(t, err)

	events := pub.indexed(t)
	require.Len(t, events, 1)
	assert.Len(t, events[0].ChunkText, 2003)
	assert.True(t, strings.HasSuffix(events[0].ChunkText, "..."))
}

type countingEmbedder struct {
	embed.Embedder
	mu    sync.Mutex
	calls int
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.mu.Lock()
	c.calls += len(texts)
	c.mu.Unlock()
	return c.Embedder.EmbedBatch(ctx, texts)
}
