// Package utils holds small helpers shared across figflow packages.
package utils

import (
	"fmt"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter counts tokens with a tiktoken codec. Every backend is
// approximated with the cl100k encoding.
type TokenCounter struct {
	codec tokenizer.Codec
}

// NewTokenCounter creates a counter for model.
func NewTokenCounter(model string) (*TokenCounter, error) {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, fmt.Errorf("tokenizer for %s: %w", model, err)
	}
	return &TokenCounter{codec: codec}, nil
}

// CountTokens returns the token count of text, or a 4-chars-per-token estimate on failure.
func (tc *TokenCounter) CountTokens(text string) int {
	if tc == nil || tc.codec == nil {
		return len(text) / 4
	}
	count, err := tc.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return count
}

// TruncateToTokenLimit keeps the tail of text so that it fits roughly within limit tokens.
// The tail is kept because the most recent turns matter most to the next speaker.
func (tc *TokenCounter) TruncateToTokenLimit(text string, limit int) string {
	current := tc.CountTokens(text)
	if limit <= 0 || current <= limit {
		return text
	}
	ratio := float64(limit) / float64(current)
	keep := int(float64(len(text)) * ratio * 0.9)
	if keep >= len(text) {
		return text
	}
	return "..." + text[len(text)-keep:]
}

var (
	defaultCounter     *TokenCounter
	defaultCounterOnce sync.Once
)

func sharedCounter() *TokenCounter {
	defaultCounterOnce.Do(func() {
		defaultCounter, _ = NewTokenCounter("gpt-4")
	})
	return defaultCounter
}

// CountTokensSimple counts tokens with a shared GPT-4 counter.
func CountTokensSimple(text string) int {
	return sharedCounter().CountTokens(text)
}

// TruncateTokensSimple keeps the tail of text within about limit tokens.
func TruncateTokensSimple(text string, limit int) string {
	return sharedCounter().TruncateToTokenLimit(text, limit)
}
