package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountTokens(t *testing.T) {
	counter, err := NewTokenCounter("gpt-4")
	require.NoError(t, err)

	assert.Equal(t, 0, counter.CountTokens(""))
	assert.InDelta(t, 2, counter.CountTokens("Hello world"), 1)
	assert.InDelta(t, 100, counter.CountTokens(strings.Repeat("word ", 100)), 10)
}

func TestCountTokensSimpleMatchesCounter(t *testing.T) {
	counter, err := NewTokenCounter("qwen3-coder")
	require.NoError(t, err)
	text := "const Header = () => <div className=\"header\" />"
	assert.Equal(t, counter.CountTokens(text), CountTokensSimple(text))
}

func TestTruncateToTokenLimitKeepsTail(t *testing.T) {
	counter, err := NewTokenCounter("gpt-4")
	require.NoError(t, err)

	text := strings.Repeat("alpha ", 200) + "FINAL"
	out := counter.TruncateToTokenLimit(text, 50)
	assert.Less(t, counter.CountTokens(out), 60)
	assert.True(t, strings.HasSuffix(out, "FINAL"))
	assert.True(t, strings.HasPrefix(out, "..."))

	assert.Equal(t, "short", counter.TruncateToTokenLimit("short", 50))
}
