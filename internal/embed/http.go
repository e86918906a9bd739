package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"time"

	pipeerr "github.com/docpipe/docpipe/internal/errors"
)

// HTTPConfig configures the OpenAI-compatible embedding client.
type HTTPConfig struct {
	// BaseURL is the API root; the client posts to BaseURL + "/embeddings".
	BaseURL string
	// APIKeyEnv names the environment variable holding the bearer token.
	// Empty means unauthenticated (local inference servers).
	APIKeyEnv  string
	Model      string
	Dimensions int
	Timeout    time.Duration
	Retry      pipeerr.RetryConfig
}

// HTTPEmbedder calls an OpenAI-compatible /embeddings endpoint. Transient
// failures are retried with backoff; a response vector of the wrong size is
// a hard error, because a silently mis-sized vector would corrupt the index.
type HTTPEmbedder struct {
	cfg    HTTPConfig
	client *http.Client
	apiKey string
}

// NewHTTPEmbedder creates an HTTP embedding client.
func NewHTTPEmbedder(cfg HTTPConfig) *HTTPEmbedder {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry == (pipeerr.RetryConfig{}) {
		cfg.Retry = pipeerr.DefaultRetryConfig()
	}
	apiKey := ""
	if cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
	}
	return &HTTPEmbedder{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		apiKey: apiKey,
	}
}

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns the embedding for one text.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in one API call, retrying transient failures.
func (e *HTTPEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	vecs, err := pipeerr.RetryWithResult(ctx, e.cfg.Retry, func() ([][]float32, error) {
		return e.request(ctx, texts)
	})
	if err != nil {
		return nil, pipeerr.Wrap(pipeerr.ErrCodeEmbeddingFailed, err)
	}
	return vecs, nil
}

func (e *HTTPEmbedder) request(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embeddingRequest{Input: texts, Model: e.cfg.Model})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		msg := fmt.Sprintf("embedding endpoint returned %d: %s", resp.StatusCode, snippet)
		// Only rate limits and server errors are worth retrying; any other
		// rejection (bad request, bad credentials) will fail identically on
		// every attempt.
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, pipeerr.New(pipeerr.ErrCodeUpstreamFetch, msg, nil)
		}
		return nil, pipeerr.New(pipeerr.ErrCodeUpstreamRejected, msg, nil)
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("embedding endpoint returned %d vectors for %d inputs", len(parsed.Data), len(texts))
	}

	// The API may return data out of order; index is authoritative.
	sort.Slice(parsed.Data, func(i, j int) bool { return parsed.Data[i].Index < parsed.Data[j].Index })

	out := make([][]float32, len(texts))
	for i, d := range parsed.Data {
		if e.cfg.Dimensions > 0 && len(d.Embedding) != e.cfg.Dimensions {
			return nil, pipeerr.New(pipeerr.ErrCodeDimensionMismatch,
				fmt.Sprintf("expected %d dimensions, got %d", e.cfg.Dimensions, len(d.Embedding)), nil)
		}
		out[i] = d.Embedding
	}
	return out, nil
}

// Dimensions returns the configured embedding size.
func (e *HTTPEmbedder) Dimensions() int { return e.cfg.Dimensions }

// ModelName returns the configured model identifier.
func (e *HTTPEmbedder) ModelName() string { return e.cfg.Model }

// Close is a no-op; the HTTP client holds no persistent resources.
func (e *HTTPEmbedder) Close() error { return nil }
