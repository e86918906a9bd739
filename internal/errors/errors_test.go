package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DerivesCategoryAndRetryable(t *testing.T) {
	tests := []struct {
		name      string
		code      string
		category  Category
		retryable bool
	}{
		{"config", ErrCodeConfigInvalid, CategoryConfig, false},
		{"storage", ErrCodeFileNotFound, CategoryStorage, false},
		{"broker", ErrCodeBrokerUnavailable, CategoryTransport, true},
		{"fetch", ErrCodeUpstreamFetch, CategoryTransport, true},
		{"rejected", ErrCodeUpstreamRejected, CategoryTransport, false},
		{"malformed", ErrCodeMalformedMessage, CategoryValidation, false},
		{"internal", ErrCodeInternal, CategoryInternal, false},
		{"embedding", ErrCodeEmbeddingFailed, CategoryInternal, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, "boom", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.retryable, err.Retryable)
			assert.Contains(t, err.Error(), tt.code)
		})
	}
}

func TestWrap_PreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(ErrCodeBrokerUnavailable, cause)

	require.NotNil(t, err)
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "connection refused", err.Message)
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestIs_MatchesByCode(t *testing.T) {
	a := New(ErrCodePublishFailed, "first", nil)
	b := New(ErrCodePublishFailed, "second", nil)
	c := New(ErrCodeInternal, "other", nil)

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, c))
}

func TestIsRetryable_UnwrapsChain(t *testing.T) {
	inner := New(ErrCodeNetworkTimeout, "timeout", nil)
	wrapped := fmt.Errorf("fetching listing: %w", inner)

	assert.True(t, IsRetryable(wrapped))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestCodeOf(t *testing.T) {
	err := New(ErrCodeChunkingFailed, "bad split", nil)
	assert.Equal(t, ErrCodeChunkingFailed, CodeOf(err))
	assert.Equal(t, "", CodeOf(errors.New("plain")))
}

func TestWithDetail(t *testing.T) {
	err := New(ErrCodeUpstreamFetch, "HEAD failed", nil).
		WithDetail("url", "https://example.com/a.pdf")

	assert.Equal(t, "https://example.com/a.pdf", err.Details["url"])
}
