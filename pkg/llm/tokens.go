package llm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encoderOnce sync.Once
	encoder     *tiktoken.Tiktoken
)

// getEncoder lazily creates the shared tokenizer. cl100k_base covers the
// chat models we target; counting does not need per-model precision.
func getEncoder() *tiktoken.Tiktoken {
	encoderOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			// Leave encoder nil; callers fall back to a byte estimate.
			return
		}
		encoder = enc
	})
	return encoder
}

// CountTokens estimates the token count of text for prompt budgeting.
// Falls back to a bytes/4 estimate when the tokenizer is unavailable.
func CountTokens(text string) int {
	if enc := getEncoder(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return len(text) / 4
}

// TruncateToTokens cuts text so that it fits within maxTokens. Returns
// the input unchanged when it already fits.
func TruncateToTokens(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	enc := getEncoder()
	if enc == nil {
		limit := maxTokens * 4
		if len(text) <= limit {
			return text
		}
		return text[:limit]
	}
	tokens := enc.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	return enc.Decode(tokens[:maxTokens])
}
