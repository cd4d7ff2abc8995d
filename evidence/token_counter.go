package evidence

import (
	"fmt"

	"github.com/clipperhouse/uax29/iterators/filter"
	"github.com/clipperhouse/uax29/words"
	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter defines the interface for counting tokens in a string.
// This abstraction allows for different tokenization strategies (e.g., words, subwords).
type TokenCounter interface {
	// Count returns the number of tokens in the given text according to the
	// implementation's tokenization strategy.
	Count(text string) int
}

// WordsTokenCounter approximates token counts by unicode word segmentation.
type WordsTokenCounter struct{}

// Count skips whitespace and punctuation segments so the result matches
// whitespace-word counts.
func (c WordsTokenCounter) Count(text string) int {
	seg := words.NewSegmenter([]byte(text))
	seg.Filter(filter.Wordlike)
	var n int
	for seg.Next() {
		n++
	}
	return n
}

// TikTokenCounter provides accurate token counting using the tiktoken library,
// which implements the tokenization schemes used by OpenAI models.
type TikTokenCounter struct {
	tke *tiktoken.Tiktoken
}

// NewTikTokenCounter creates a new TikTokenCounter using the specified encoding.
// Common encodings include:
// - "cl100k_base" (GPT-4, ChatGPT)
// - "p50k_base" (GPT-3)
func NewTikTokenCounter(encoding string) (*TikTokenCounter, error) {
	tke, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to get encoding: %w", err)
	}
	return &TikTokenCounter{tke: tke}, nil
}

// Count returns the exact number of tokens in the text according to the
// specified tiktoken encoding.
func (c *TikTokenCounter) Count(text string) int {
	return len(c.tke.Encode(text, nil, nil))
}

// DefaultTokenCounter returns a cl100k_base tiktoken counter, falling back
// to word segmentation when the encoding data is unavailable.
func DefaultTokenCounter() TokenCounter {
	if c, err := NewTikTokenCounter("cl100k_base"); err == nil {
		return c
	}
	return WordsTokenCounter{}
}
