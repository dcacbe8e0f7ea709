package anthropic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCachedSystemBlocks(t *testing.T) {
	blocks := BuildCachedSystemBlocks("You are an intake assistant.")
	require.Len(t, blocks, 1)
	assert.Equal(t, "You are an intake assistant.", blocks[0].Text)
	require.NotNil(t, blocks[0].CacheControl)
	assert.Equal(t, "1h", blocks[0].CacheControl.TTL)
}

func TestMarkCacheBoundary(t *testing.T) {
	msgs := []Message{
		{Role: "user", Content: "a"},
		{Role: "assistant", Content: "b"},
		{Role: "user", Content: "c"},
	}
	MarkCacheBoundary(msgs, 1)

	assert.Nil(t, msgs[0].CacheControl)
	require.NotNil(t, msgs[1].CacheControl)
	assert.Equal(t, "5m", msgs[1].CacheControl.TTL)
	assert.Nil(t, msgs[2].CacheControl)
}

func TestMarkCacheBoundaryOutOfRange(t *testing.T) {
	msgs := []Message{{Role: "user", Content: "a"}}
	MarkCacheBoundary(msgs, -1)
	MarkCacheBoundary(msgs, 1)
	assert.Nil(t, msgs[0].CacheControl)

	// Does not panic on empty slices either
	MarkCacheBoundary(nil, 0)
}

func TestEstimateCost(t *testing.T) {
	usage := TokenUsage{
		InputTokens:              1_000_000,
		OutputTokens:             1_000_000,
		CacheCreationInputTokens: 1_000_000,
		CacheReadInputTokens:     1_000_000,
	}

	// haiku: 0.80 in + 4.00 out + 0.80*1.25 write + 0.80*0.1 read
	assert.InDelta(t, 0.80+4.00+1.00+0.08, usage.EstimateCost("claude-haiku-4-5-20251001"), 1e-9)

	assert.Zero(t, usage.EstimateCost("some-unknown-model"))
	assert.Zero(t, TokenUsage{}.EstimateCost("claude-sonnet-4-5-20250929"))
}
