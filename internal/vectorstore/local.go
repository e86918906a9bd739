package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/coder/hnsw"

	pipeerr "github.com/docpipe/docpipe/internal/errors"
)

// LocalStore is an in-process HNSW index. The graph keys on uint64, so chunk
// IDs map through an id table; upserting an existing chunk ID orphans the old
// graph node instead of deleting it, which sidesteps graph corruption when
// the last node is removed.
type LocalStore struct {
	mu   sync.RWMutex
	dims int

	graph    *hnsw.Graph[uint64]
	idMap    map[string]uint64
	keyMap   map[uint64]string
	payloads map[string]Payload
	nextKey  uint64
	closed   bool
}

// NewLocalStore creates an empty local index for vectors of the given size.
func NewLocalStore(dims int) *LocalStore {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 20
	graph.Ml = 0.25

	return &LocalStore{
		dims:     dims,
		graph:    graph,
		idMap:    make(map[string]uint64),
		keyMap:   make(map[uint64]string),
		payloads: make(map[string]Payload),
	}
}

// EnsureCollection is a no-op for the in-process index; the dimension check
// still applies.
func (s *LocalStore) EnsureCollection(_ context.Context, dims int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dims == 0 {
		s.dims = dims
	}
	if dims != s.dims {
		return pipeerr.New(pipeerr.ErrCodeDimensionMismatch,
			fmt.Sprintf("index holds %d-dimension vectors, requested %d", s.dims, dims), nil)
	}
	return nil
}

// Upsert writes points, overwriting existing chunk IDs in place.
func (s *LocalStore) Upsert(_ context.Context, points []Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return pipeerr.New(pipeerr.ErrCodeIndexFailed, "vector store is closed", nil)
	}

	for _, p := range points {
		if len(p.Vector) != s.dims {
			return pipeerr.New(pipeerr.ErrCodeDimensionMismatch,
				fmt.Sprintf("chunk %s has %d dimensions, index expects %d", p.ChunkID, len(p.Vector), s.dims), nil)
		}
	}

	for _, p := range points {
		if oldKey, exists := s.idMap[p.ChunkID]; exists {
			// Lazy deletion: orphan the old node rather than removing it.
			delete(s.keyMap, oldKey)
			delete(s.idMap, p.ChunkID)
		}

		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(p.Vector))
		copy(vec, p.Vector)
		normalizeInPlace(vec)

		s.graph.Add(hnsw.MakeNode(key, vec))
		s.idMap[p.ChunkID] = key
		s.keyMap[key] = p.ChunkID
		s.payloads[p.ChunkID] = p.Payload
	}
	return nil
}

// Exists reports which chunk IDs are present.
func (s *LocalStore) Exists(_ context.Context, chunkIDs []string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]bool, len(chunkIDs))
	for _, id := range chunkIDs {
		_, ok := s.idMap[id]
		out[id] = ok
	}
	return out, nil
}

// Search returns the nearest stored chunks, best first. Orphaned graph nodes
// are filtered out.
func (s *LocalStore) Search(_ context.Context, vector []float32, limit int) ([]Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, pipeerr.New(pipeerr.ErrCodeSearchFailed, "vector store is closed", nil)
	}
	if len(vector) != s.dims {
		return nil, pipeerr.New(pipeerr.ErrCodeDimensionMismatch,
			fmt.Sprintf("query has %d dimensions, index expects %d", len(vector), s.dims), nil)
	}
	if s.graph.Len() == 0 {
		return []Result{}, nil
	}

	query := make([]float32, len(vector))
	copy(query, vector)
	normalizeInPlace(query)

	// Over-fetch to compensate for orphans filtered below.
	nodes := s.graph.Search(query, limit*2)

	results := make([]Result, 0, limit)
	for _, node := range nodes {
		id, ok := s.keyMap[node.Key]
		if !ok {
			continue
		}
		dist := s.graph.Distance(query, node.Value)
		results = append(results, Result{
			ChunkID: id,
			Score:   1.0 - dist/2.0,
			Payload: s.payloads[id],
		})
		if len(results) == limit {
			break
		}
	}
	return results, nil
}

// Count returns the number of live vectors (orphans excluded).
func (s *LocalStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.idMap), nil
}

// Close releases the graph.
func (s *LocalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.graph = nil
	return nil
}

func normalizeInPlace(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}

var _ Store = (*LocalStore)(nil)
