// Package extract turns stored document blobs into page-level text.
package extract

import (
	"context"
	"strings"

	pipeerr "github.com/docpipe/docpipe/internal/errors"
)

// Result is the extracted text of one document.
type Result struct {
	Pages []string
}

// Text joins all pages into the full document text.
func (r *Result) Text() string {
	return strings.Join(r.Pages, "\n")
}

// PageCount returns the number of pages.
func (r *Result) PageCount() int {
	return len(r.Pages)
}

// Extractor converts raw document bytes into page texts. Implementations are
// format-specific; the pipeline treats them uniformly.
type Extractor interface {
	Extract(ctx context.Context, data []byte) (*Result, error)
}

// TextExtractor reads plain-text documents, treating form feed (\f) as the
// page separator. It doubles as the deterministic extractor used in tests.
type TextExtractor struct{}

// NewTextExtractor creates a TextExtractor.
func NewTextExtractor() *TextExtractor { return &TextExtractor{} }

// Extract splits the input on form feeds and trims page whitespace. A
// document with no extractable text is an error: emitting an empty
// extraction event would only poison the chunking stage downstream.
func (e *TextExtractor) Extract(_ context.Context, data []byte) (*Result, error) {
	raw := strings.Split(string(data), "\f")
	pages := make([]string, 0, len(raw))
	for _, p := range raw {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			pages = append(pages, trimmed)
		}
	}
	if len(pages) == 0 {
		return nil, pipeerr.New(pipeerr.ErrCodeEmptyDocument, "document contains no extractable text", nil)
	}
	return &Result{Pages: pages}, nil
}
