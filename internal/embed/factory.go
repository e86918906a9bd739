package embed

import (
	"fmt"
	"time"

	"github.com/docpipe/docpipe/internal/config"
	pipeerr "github.com/docpipe/docpipe/internal/errors"
)

// NewFromConfig builds the configured embedder, wrapped in the LRU cache.
func NewFromConfig(cfg config.EmbeddingConfig) (Embedder, error) {
	var inner Embedder
	switch cfg.Provider {
	case "http":
		inner = NewHTTPEmbedder(HTTPConfig{
			BaseURL:    cfg.BaseURL,
			APIKeyEnv:  cfg.APIKeyEnv,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Timeout:    time.Duration(cfg.Timeout),
		})
	case "static":
		inner = NewStaticEmbedder(cfg.Dimensions)
	default:
		return nil, pipeerr.New(pipeerr.ErrCodeConfigInvalid,
			fmt.Sprintf("unknown embedding provider %q", cfg.Provider), nil)
	}
	return NewCachedEmbedder(inner, cfg.CacheSize), nil
}
