package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docpipe/docpipe/internal/config"
)

// fakeQdrant implements just enough of the Qdrant REST surface.
type fakeQdrant struct {
	*httptest.Server
	mu          sync.Mutex
	collections map[string]bool
	points      map[string]qdrantPoint // point UUID -> point
}

func newFakeQdrant(t *testing.T) *fakeQdrant {
	t.Helper()
	f := &fakeQdrant{
		collections: make(map[string]bool),
		points:      make(map[string]qdrantPoint),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /collections/{name}/exists", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		fmt.Fprintf(w, `{"result":{"exists":%v}}`, f.collections[r.PathValue("name")])
	})
	mux.HandleFunc("PUT /collections/{name}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.collections[r.PathValue("name")] = true
		fmt.Fprint(w, `{"result":true}`)
	})
	mux.HandleFunc("PUT /collections/{name}/points", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Points []qdrantPoint `json:"points"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.mu.Lock()
		defer f.mu.Unlock()
		for _, p := range body.Points {
			f.points[p.ID] = p
		}
		fmt.Fprint(w, `{"result":{"status":"acknowledged"}}`)
	})
	mux.HandleFunc("POST /collections/{name}/points", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			IDs []string `json:"ids"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.mu.Lock()
		defer f.mu.Unlock()
		var result []map[string]any
		for _, id := range body.IDs {
			if _, ok := f.points[id]; ok {
				result = append(result, map[string]any{"id": id})
			}
		}
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{"result": result}))
	})
	mux.HandleFunc("POST /collections/{name}/points/search", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var result []map[string]any
		for _, p := range f.points {
			result = append(result, map[string]any{"score": 0.9, "payload": p.Payload})
		}
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{"result": result}))
	})
	mux.HandleFunc("POST /collections/{name}/points/count", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		fmt.Fprintf(w, `{"result":{"count":%d}}`, len(f.points))
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func newQdrantUnderTest(t *testing.T, f *fakeQdrant) *QdrantStore {
	t.Helper()
	return NewQdrantStore(config.VectorStoreConfig{
		Backend:    "qdrant",
		URL:        f.URL,
		Collection: "chunks",
		Timeout:    config.Duration(2 * time.Second),
	})
}

func TestPointID_DeterministicUUID(t *testing.T) {
	a := PointID("doc-1_chunk_0")
	b := PointID("doc-1_chunk_0")
	c := PointID("doc-1_chunk_1")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 36)
}

func TestQdrant_EnsureCollectionCreatesOnce(t *testing.T) {
	f := newFakeQdrant(t)
	s := newQdrantUnderTest(t, f)

	require.NoError(t, s.EnsureCollection(context.Background(), 384))
	assert.True(t, f.collections["chunks"])
	require.NoError(t, s.EnsureCollection(context.Background(), 384))
}

func TestQdrant_UpsertIdempotentPerChunkID(t *testing.T) {
	f := newFakeQdrant(t)
	s := newQdrantUnderTest(t, f)
	ctx := context.Background()

	p := Point{ChunkID: "doc-1_chunk_0", Vector: []float32{1, 0}, Payload: Payload{DocumentID: "doc-1"}}
	require.NoError(t, s.Upsert(ctx, []Point{p}))
	require.NoError(t, s.Upsert(ctx, []Point{p}))

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "same chunk id maps to the same point uuid")

	// The payload carries the plain chunk id for consumers.
	stored := f.points[PointID("doc-1_chunk_0")]
	assert.Equal(t, "doc-1_chunk_0", stored.Payload.ChunkID)
}

func TestQdrant_Exists(t *testing.T) {
	f := newFakeQdrant(t)
	s := newQdrantUnderTest(t, f)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, []Point{
		{ChunkID: "a", Vector: []float32{1}, Payload: Payload{}},
	}))

	got, err := s.Exists(ctx, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"a": true, "b": false}, got)
}

func TestQdrant_SearchReturnsPayloads(t *testing.T) {
	f := newFakeQdrant(t)
	s := newQdrantUnderTest(t, f)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, []Point{
		{ChunkID: "doc-1_chunk_0", Vector: []float32{1}, Payload: Payload{DocumentID: "doc-1", Text: "hello"}},
	}))

	results, err := s.Search(ctx, []float32{1}, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc-1_chunk_0", results[0].ChunkID)
	assert.Equal(t, "hello", results[0].Payload.Text)
	assert.InDelta(t, 0.9, results[0].Score, 1e-6)
}

func TestQdrant_ServerErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewQdrantStore(config.VectorStoreConfig{URL: srv.URL, Collection: "chunks"})
	err := s.Upsert(context.Background(), []Point{{ChunkID: "a", Vector: []float32{1}}})
	require.Error(t, err)
}

func TestNewFromConfig_BackendSelection(t *testing.T) {
	local, err := NewFromConfig(config.VectorStoreConfig{Backend: "local"}, 8)
	require.NoError(t, err)
	assert.IsType(t, &LocalStore{}, local)

	qd, err := NewFromConfig(config.VectorStoreConfig{Backend: "qdrant", URL: "http://localhost:6333", Collection: "chunks"}, 8)
	require.NoError(t, err)
	assert.IsType(t, &QdrantStore{}, qd)

	_, err = NewFromConfig(config.VectorStoreConfig{Backend: "bogus"}, 8)
	require.Error(t, err)
}
