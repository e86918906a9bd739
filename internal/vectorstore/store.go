// Package vectorstore stores chunk embeddings keyed by deterministic chunk
// ID. Upserts overwrite in place, so re-indexing the same document never
// grows the stored vector count. Two backends: a Qdrant REST client for
// deployments and a pure-Go HNSW index for local and test runs.
package vectorstore

import (
	"context"
	"fmt"

	"github.com/docpipe/docpipe/internal/config"
	pipeerr "github.com/docpipe/docpipe/internal/errors"
)

// Payload is the chunk metadata stored alongside each vector. It is what
// retrieval returns to callers, so it must be self-contained.
type Payload struct {
	DocumentID     string `json:"documentId"`
	ChunkID        string `json:"chunkId"`
	ChunkIndex     int    `json:"chunkIndex"`
	TotalChunks    int    `json:"totalChunks"`
	Text           string `json:"text"`
	Title          string `json:"title"`
	SourceURL      string `json:"sourceUrl"`
	PageCount      int    `json:"pageCount"`
	EmbeddingModel string `json:"embeddingModel"`
}

// Point is one vector plus payload, keyed by chunk ID.
type Point struct {
	ChunkID string
	Vector  []float32
	Payload Payload
}

// Result is one search hit, best first.
type Result struct {
	ChunkID string
	Score   float32
	Payload Payload
}

// Store is the vector index contract. Upsert is idempotent per chunk ID.
type Store interface {
	// EnsureCollection creates the collection if absent; existing
	// collections are left untouched.
	EnsureCollection(ctx context.Context, dims int) error
	// Upsert writes points, overwriting any existing point with the same
	// chunk ID.
	Upsert(ctx context.Context, points []Point) error
	// Exists reports which of the given chunk IDs are already stored.
	Exists(ctx context.Context, chunkIDs []string) (map[string]bool, error)
	// Search returns the limit nearest neighbors of the query vector.
	Search(ctx context.Context, vector []float32, limit int) ([]Result, error)
	// Count returns the number of stored vectors.
	Count(ctx context.Context) (int, error)
	Close() error
}

// NewFromConfig builds the configured backend.
func NewFromConfig(cfg config.VectorStoreConfig, dims int) (Store, error) {
	switch cfg.Backend {
	case "qdrant":
		return NewQdrantStore(cfg), nil
	case "local":
		return NewLocalStore(dims), nil
	default:
		return nil, pipeerr.New(pipeerr.ErrCodeConfigInvalid,
			fmt.Sprintf("unknown vector store backend %q", cfg.Backend), nil)
	}
}
