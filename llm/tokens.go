package llm

// EstimateTokens returns a character-count heuristic used when a provider's
// tokenizer is unreachable. Roughly four characters per token holds well
// enough for budgeting across the supported models.
func EstimateTokens(texts ...string) int {
	var chars int
	for _, t := range texts {
		chars += len(t)
	}
	return (chars + 3) / 4
}

// EstimateMessageTokens applies the heuristic to a message list.
func EstimateMessageTokens(messages []*Message) int {
	var chars int
	for _, m := range messages {
		for _, p := range m.Parts {
			chars += len(p.Text)
		}
	}
	return (chars + 3) / 4
}
