package anthropic

// BuildCachedSystemBlocks constructs system content blocks with a cache
// breakpoint set to a 1-hour TTL. Intake prompts keep the system text and the
// head of the transcript byte-stable between turns so consecutive requests hit
// the warm cache.
func BuildCachedSystemBlocks(text string) []SystemBlock {
	return []SystemBlock{
		{
			Text: text,
			CacheControl: &CacheControl{
				TTL: "1h",
			},
		},
	}
}

// MarkCacheBoundary sets a 5-minute cache breakpoint on the message at index
// idx. Messages before and including the boundary form the cached prefix.
// Out-of-range indexes are ignored.
func MarkCacheBoundary(msgs []Message, idx int) {
	if idx < 0 || idx >= len(msgs) {
		return
	}
	msgs[idx].CacheControl = &CacheControl{TTL: "5m"}
}
