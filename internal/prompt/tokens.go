package prompt

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter counts prompt tokens with the cl100k_base encoding, falling
// back to a 4 chars/token estimate when the encoding cannot be loaded.
type TokenCounter struct {
	mu      sync.Mutex
	encoder *tiktoken.Tiktoken
}

// NewTokenCounter loads the encoding. It never fails.
func NewTokenCounter() *TokenCounter {
	tkm, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return &TokenCounter{}
	}
	return &TokenCounter{encoder: tkm}
}

// Count returns the token count of text.
func (tc *TokenCounter) Count(text string) int {
	if tc == nil || tc.encoder == nil {
		return EstimateTokens(text)
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return len(tc.encoder.Encode(text, nil, nil))
}

// EstimateTokens is the ceil(chars/4) estimate.
func EstimateTokens(text string) int {
	return (len([]rune(text)) + 3) / 4
}
