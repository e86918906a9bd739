// Package chunk splits extracted document text into bounded, offset-tracked
// chunks with deterministic identities. Splitting is a pure function of the
// text and budget: the same input always yields the same chunk sequence, the
// same offsets, and the same chunk IDs, which is what makes vector upserts
// idempotent downstream.
package chunk

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/docpipe/docpipe/internal/event"
)

// DefaultMaxTokens is the default per-chunk token budget.
const DefaultMaxTokens = 400

// Chunk is one bounded span of document text. Offsets are byte positions in
// the chunked source text: EndOffset = StartOffset + len(Text), and
// consecutive chunks never overlap.
type Chunk struct {
	DocumentID  string
	ChunkID     string
	Index       int
	TotalChunks int
	Text        string
	StartOffset int
	EndOffset   int
	TokenCount  int
	Metadata    event.DocumentMetadata
}

// ID derives the deterministic chunk identity from document ID and ordinal.
// Reproducible from inputs alone; the vector store keys on it for upserts.
func ID(documentID string, index int) string {
	return fmt.Sprintf("%s_chunk_%d", documentID, index)
}

// Chunker splits text under a token budget, preferring paragraph boundaries,
// then sentence boundaries, then hard token slices.
type Chunker struct {
	maxTokens int
	tok       Tokenizer
	logger    *slog.Logger
}

// New creates a Chunker. A non-positive budget falls back to the default.
func New(maxTokens int, logger *slog.Logger) *Chunker {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chunker{maxTokens: maxTokens, tok: WordTokenizer{}, logger: logger}
}

// Split chunks the document text. Empty or whitespace-only input yields zero
// chunks; callers must treat that as an unindexable document.
//
// Pieces are paragraphs when they fit the budget, otherwise sentence groups,
// otherwise raw token slices. Consecutive pieces accumulate into a buffer
// joined by the paragraph separator; the buffer is closed as a chunk the
// moment the next piece would push it over budget. Offsets advance by the
// trimmed chunk length plus the two-byte separator.
func (c *Chunker) Split(documentID, text string, meta event.DocumentMetadata) []Chunk {
	var chunks []Chunk
	current := ""
	start := 0

	closeCurrent := func() {
		trimmed := strings.TrimSpace(current)
		end := start + len(trimmed)
		chunks = append(chunks, Chunk{
			DocumentID:  documentID,
			Index:       len(chunks),
			Text:        trimmed,
			StartOffset: start,
			EndOffset:   end,
			TokenCount:  c.tok.Count(trimmed),
			Metadata:    meta,
		})
		start = end + 2
	}

	for _, para := range strings.Split(text, "\n\n") {
		pieces := []string{para}
		if c.tok.Count(para) > c.maxTokens {
			pieces = c.splitParagraph(para)
		}
		for _, piece := range pieces {
			if current == "" {
				current = piece
				continue
			}
			combined := current + "\n\n" + piece
			if c.tok.Count(combined) > c.maxTokens {
				closeCurrent()
				current = piece
			} else {
				current = combined
			}
		}
	}
	if strings.TrimSpace(current) != "" {
		closeCurrent()
	}

	for i := range chunks {
		chunks[i].TotalChunks = len(chunks)
		chunks[i].ChunkID = ID(documentID, chunks[i].Index)
	}

	for _, v := range CheckOffsets(chunks) {
		c.logger.Warn("chunk offset invariant violated",
			slog.String("document_id", documentID),
			slog.String("violation", v))
	}
	return chunks
}

// splitParagraph breaks an over-budget paragraph at sentence boundaries,
// accumulating sentences up to the budget. A single sentence that exceeds
// the budget on its own is hard-split by tokens, which bounds recursion at
// one level and guarantees termination.
func (c *Chunker) splitParagraph(para string) []string {
	var pieces []string
	current := ""

	for _, sent := range splitSentences(para) {
		sent = strings.TrimSpace(sent)
		if sent == "" {
			continue
		}
		candidate := sent
		if current != "" {
			candidate = current + " " + sent
		}
		if c.tok.Count(candidate) <= c.maxTokens {
			current = candidate
			continue
		}
		if current != "" {
			pieces = append(pieces, current)
		}
		if c.tok.Count(sent) > c.maxTokens {
			pieces = append(pieces, c.tok.Slices(sent, c.maxTokens)...)
			current = ""
		} else {
			current = sent
		}
	}
	if current != "" {
		pieces = append(pieces, current)
	}
	return pieces
}

// splitSentences splits text after runs of terminal punctuation followed by
// whitespace. The trailing whitespace is consumed, the punctuation kept.
func splitSentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text); i++ {
		if !isTerminal(text[i]) {
			continue
		}
		j := i + 1
		for j < len(text) && isTerminal(text[j]) {
			j++
		}
		if j < len(text) && !isSpace(text[j]) {
			i = j - 1
			continue
		}
		out = append(out, text[start:j])
		for j < len(text) && isSpace(text[j]) {
			j++
		}
		start = j
		i = j - 1
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}

func isTerminal(b byte) bool { return b == '.' || b == '!' || b == '?' }

func isSpace(b byte) bool { return b == ' ' || b == '\t' || b == '\n' || b == '\r' }

// CheckOffsets returns a description of every ordering or overlap violation
// in a chunk sequence. An empty result means the sequence satisfies
// endOffset[i] <= startOffset[i+1] with dense, ordered indexes.
func CheckOffsets(chunks []Chunk) []string {
	var violations []string
	for i, ch := range chunks {
		if ch.Index != i {
			violations = append(violations,
				fmt.Sprintf("chunk at position %d has index %d", i, ch.Index))
		}
		if ch.EndOffset != ch.StartOffset+len(ch.Text) {
			violations = append(violations,
				fmt.Sprintf("chunk %d span [%d,%d) does not match text length %d",
					i, ch.StartOffset, ch.EndOffset, len(ch.Text)))
		}
		if i == 0 {
			continue
		}
		if ch.StartOffset < chunks[i-1].EndOffset {
			violations = append(violations,
				fmt.Sprintf("chunk %d starts at %d before chunk %d ends at %d",
					i, ch.StartOffset, i-1, chunks[i-1].EndOffset))
		}
	}
	return violations
}
