package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/docpipe/docpipe/internal/config"
	pipeerr "github.com/docpipe/docpipe/internal/errors"
)

// QdrantStore talks to Qdrant's REST API. Qdrant point IDs must be UUIDs or
// integers, so the deterministic chunk ID maps to a name-based UUID; the
// plain chunk ID travels in the payload. Same chunk ID, same UUID, so
// upserts stay idempotent.
type QdrantStore struct {
	baseURL    string
	collection string
	client     *http.Client
}

// NewQdrantStore creates a Qdrant REST client.
func NewQdrantStore(cfg config.VectorStoreConfig) *QdrantStore {
	timeout := time.Duration(cfg.Timeout)
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &QdrantStore{
		baseURL:    cfg.URL,
		collection: cfg.Collection,
		client:     &http.Client{Timeout: timeout},
	}
}

// PointID maps a chunk ID to its deterministic Qdrant point UUID.
func PointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(chunkID)).String()
}

// EnsureCollection creates the collection with cosine distance if it does
// not exist yet.
func (s *QdrantStore) EnsureCollection(ctx context.Context, dims int) error {
	var exists struct {
		Result struct {
			Exists bool `json:"exists"`
		} `json:"result"`
	}
	if err := s.call(ctx, http.MethodGet, fmt.Sprintf("/collections/%s/exists", s.collection), nil, &exists); err != nil {
		return err
	}
	if exists.Result.Exists {
		return nil
	}

	body := map[string]any{
		"vectors": map[string]any{"size": dims, "distance": "Cosine"},
	}
	return s.call(ctx, http.MethodPut, fmt.Sprintf("/collections/%s", s.collection), body, nil)
}

type qdrantPoint struct {
	ID      string    `json:"id"`
	Vector  []float32 `json:"vector"`
	Payload Payload   `json:"payload"`
}

// Upsert writes points; Qdrant overwrites on matching point ID.
func (s *QdrantStore) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	qps := make([]qdrantPoint, len(points))
	for i, p := range points {
		payload := p.Payload
		payload.ChunkID = p.ChunkID
		qps[i] = qdrantPoint{ID: PointID(p.ChunkID), Vector: p.Vector, Payload: payload}
	}

	path := fmt.Sprintf("/collections/%s/points?wait=true", s.collection)
	if err := s.call(ctx, http.MethodPut, path, map[string]any{"points": qps}, nil); err != nil {
		return pipeerr.Wrap(pipeerr.ErrCodeIndexFailed, err)
	}
	return nil
}

// Exists retrieves the given chunk IDs and reports which are present.
func (s *QdrantStore) Exists(ctx context.Context, chunkIDs []string) (map[string]bool, error) {
	if len(chunkIDs) == 0 {
		return map[string]bool{}, nil
	}
	ids := make([]string, len(chunkIDs))
	idByPoint := make(map[string]string, len(chunkIDs))
	for i, cid := range chunkIDs {
		pid := PointID(cid)
		ids[i] = pid
		idByPoint[pid] = cid
	}

	var resp struct {
		Result []struct {
			ID string `json:"id"`
		} `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points", s.collection)
	if err := s.call(ctx, http.MethodPost, path, map[string]any{"ids": ids, "with_payload": false}, &resp); err != nil {
		return nil, err
	}

	out := make(map[string]bool, len(chunkIDs))
	for _, cid := range chunkIDs {
		out[cid] = false
	}
	for _, p := range resp.Result {
		if cid, ok := idByPoint[p.ID]; ok {
			out[cid] = true
		}
	}
	return out, nil
}

// Search runs a nearest-neighbor query with payloads.
func (s *QdrantStore) Search(ctx context.Context, vector []float32, limit int) ([]Result, error) {
	body := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}
	var resp struct {
		Result []struct {
			Score   float32 `json:"score"`
			Payload Payload `json:"payload"`
		} `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/search", s.collection)
	if err := s.call(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, pipeerr.Wrap(pipeerr.ErrCodeSearchFailed, err)
	}

	results := make([]Result, len(resp.Result))
	for i, r := range resp.Result {
		results[i] = Result{ChunkID: r.Payload.ChunkID, Score: r.Score, Payload: r.Payload}
	}
	return results, nil
}

// Count returns the exact stored point count.
func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/count", s.collection)
	if err := s.call(ctx, http.MethodPost, path, map[string]any{"exact": true}, &resp); err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

// Close is a no-op for the REST client.
func (s *QdrantStore) Close() error { return nil }

// call issues one JSON request and decodes the response into out when given.
func (s *QdrantStore) call(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return pipeerr.Wrap(pipeerr.ErrCodeNetworkTimeout, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("qdrant %s %s returned %d: %s", method, path, resp.StatusCode, snippet)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

var _ Store = (*QdrantStore)(nil)
