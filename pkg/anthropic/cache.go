package anthropic

// BuildCachedSystemBlocks constructs system content blocks with a cache
// breakpoint set to a 1-hour TTL. The grading fan-out sends the same answer
// key and rubric with every request; caching them keeps the per-submission
// input cost to the student's text alone.
func BuildCachedSystemBlocks(texts ...string) []SystemBlock {
	blocks := make([]SystemBlock, 0, len(texts))
	for i, text := range texts {
		b := SystemBlock{Text: text}
		if i == len(texts)-1 {
			b.CacheControl = &CacheControl{TTL: "1h"}
		}
		blocks = append(blocks, b)
	}
	return blocks
}
