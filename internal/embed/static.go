package embed

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
	"sync"

	pipeerr "github.com/docpipe/docpipe/internal/errors"
)

// DefaultStaticDimensions matches the default embedding size of the
// production model so local and remote indexes stay interchangeable.
const DefaultStaticDimensions = 384

// Feature weights for hash-based vector generation. Word features dominate;
// character trigrams add robustness against OCR noise in extracted PDF text.
const (
	wordWeight    = 0.7
	trigramWeight = 0.3
	trigramSize   = 3
)

// englishStopWords are filtered before hashing so vectors discriminate on
// content words rather than function words.
var englishStopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"of": true, "to": true, "in": true, "on": true, "for": true,
	"is": true, "are": true, "was": true, "were": true, "be": true,
	"with": true, "as": true, "at": true, "by": true, "that": true,
	"this": true, "it": true, "from": true, "not": true,
}

var wordPattern = regexp.MustCompile(`[a-zA-Z0-9]+`)

// StaticEmbedder generates deterministic hash-based embeddings without any
// network or model dependency. Semantic quality is reduced, but identical
// text always yields an identical unit-length vector, which is exactly what
// idempotent re-indexing needs in tests and offline runs.
type StaticEmbedder struct {
	dims int

	mu     sync.RWMutex
	closed bool
}

// NewStaticEmbedder creates a static embedder with the given dimensions.
func NewStaticEmbedder(dims int) *StaticEmbedder {
	if dims <= 0 {
		dims = DefaultStaticDimensions
	}
	return &StaticEmbedder{dims: dims}
}

// Embed generates the embedding for one text. Empty input yields the zero
// vector.
func (e *StaticEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, pipeerr.New(pipeerr.ErrCodeEmbeddingFailed, "embedder is closed", nil)
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return make([]float32, e.dims), nil
	}
	return normalize(e.featureVector(trimmed)), nil
}

// EmbedBatch embeds each text independently.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions returns the embedding vector size.
func (e *StaticEmbedder) Dimensions() int { return e.dims }

// ModelName identifies this embedder in chunk metadata.
func (e *StaticEmbedder) ModelName() string { return "static-hash" }

// Close marks the embedder closed.
func (e *StaticEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// featureVector accumulates hashed word and trigram features.
func (e *StaticEmbedder) featureVector(text string) []float32 {
	vec := make([]float32, e.dims)

	words := wordPattern.FindAllString(strings.ToLower(text), -1)
	for _, w := range words {
		if englishStopWords[w] {
			continue
		}
		vec[hashIndex(w, e.dims)] += wordWeight

		for i := 0; i+trigramSize <= len(w); i++ {
			vec[hashIndex(w[i:i+trigramSize], e.dims)] += trigramWeight
		}
	}
	return vec
}

func hashIndex(s string, dims int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum32() % uint32(dims))
}

// normalize scales a vector to unit length so cosine similarity reduces to a
// dot product. The zero vector stays zero.
func normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}
