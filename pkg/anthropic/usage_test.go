package anthropic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateCost(t *testing.T) {
	u := TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}
	assert.InDelta(t, 18.0, u.EstimateCost("claude-sonnet-4-5"), 1e-9)
	assert.InDelta(t, 6.0, u.EstimateCost("claude-haiku-4-5"), 1e-9)
}

func TestEstimateCost_WithCache(t *testing.T) {
	u := TokenUsage{CacheCreationInputTokens: 1_000_000, CacheReadInputTokens: 1_000_000}
	assert.InDelta(t, 3.0*1.25+3.0*0.1, u.EstimateCost("claude-sonnet-4-5"), 1e-9)
}

func TestEstimateCost_UnknownModel(t *testing.T) {
	assert.Zero(t, TokenUsage{InputTokens: 100}.EstimateCost("gpt-x"))
}

func TestLogCost_DoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() { TokenUsage{InputTokens: 1}.LogCost("claude-sonnet-4-5", "ask") })
}

func TestEstimateCost_DatedModel(t *testing.T) {
	u := TokenUsage{InputTokens: 1_000_000}
	assert.InDelta(t, 3.0, u.EstimateCost("claude-sonnet-4-5-20250929"), 1e-9)
}
