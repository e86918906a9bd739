package chunk

import "strings"

// Tokenizer measures and slices text in token units. The chunk budget is
// expressed in these units, so the same tokenizer must be used for counting
// and for hard-splitting.
type Tokenizer interface {
	Count(text string) int
	// Slices splits text into pieces of at most maxTokens tokens each.
	Slices(text string, maxTokens int) []string
}

// WordTokenizer counts whitespace-delimited words. It approximates subword
// tokenizers closely enough for budget enforcement while staying fully
// deterministic and dependency-free.
type WordTokenizer struct{}

// Count returns the number of whitespace-delimited words.
func (WordTokenizer) Count(text string) int {
	return len(strings.Fields(text))
}

// Slices hard-splits text into windows of at most maxTokens words, rejoined
// with single spaces. Used only for sentences that exceed the budget on
// their own; guarantees termination regardless of input.
func (WordTokenizer) Slices(text string, maxTokens int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	var out []string
	for i := 0; i < len(words); i += maxTokens {
		end := i + maxTokens
		if end > len(words) {
			end = len(words)
		}
		out = append(out, strings.Join(words[i:end], " "))
	}
	return out
}
