// Package embed computes vector embeddings for chunk text. The pipeline
// talks to an OpenAI-compatible HTTP endpoint in production and to a
// deterministic hash-based embedder in tests and offline runs; both sit
// behind the same interface, usually wrapped by the LRU cache.
package embed

import "context"

// Embedder computes fixed-dimension embeddings for text.
type Embedder interface {
	// Embed returns the embedding for one text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns embeddings for multiple texts, index-aligned with
	// the input.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the embedding vector size.
	Dimensions() int
	// ModelName identifies the model; it is recorded on every indexed chunk.
	ModelName() string
	// Close releases resources.
	Close() error
}
