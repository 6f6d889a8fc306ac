package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenUsage_Add(t *testing.T) {
	var total TokenUsage
	assert.True(t, total.IsZero())

	total.Add(TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15, Cost: 0.01})
	total.Add(TokenUsage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3})

	assert.Equal(t, 11, total.PromptTokens)
	assert.Equal(t, 7, total.CompletionTokens)
	assert.Equal(t, 18, total.TotalTokens)
	assert.InDelta(t, 0.01, total.Cost, 1e-9)
	assert.False(t, total.IsZero())
}
