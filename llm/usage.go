package llm

// Usage contains token counts for one generation call. PromptTokens is the
// full prompt size including any cached prefix; CachedTokens is the portion
// served from the server-side prompt cache.
type Usage struct {
	PromptTokens int `json:"prompt_tokens"`
	CachedTokens int `json:"cached_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

// Copy returns a copy of the usage data.
func (u *Usage) Copy() *Usage {
	cp := *u
	return &cp
}

// Add accumulates other into u.
func (u *Usage) Add(other *Usage) {
	u.PromptTokens += other.PromptTokens
	u.CachedTokens += other.CachedTokens
	u.OutputTokens += other.OutputTokens
}

// MergeSticky folds a streaming usage report into u. Providers omit usage
// fields on intermediate chunks, so a zero never overwrites a previously
// observed non-zero value.
func (u *Usage) MergeSticky(other *Usage) {
	if other == nil {
		return
	}
	if other.PromptTokens != 0 {
		u.PromptTokens = other.PromptTokens
	}
	if other.CachedTokens != 0 {
		u.CachedTokens = other.CachedTokens
	}
	if other.OutputTokens != 0 {
		u.OutputTokens = other.OutputTokens
	}
}

// TotalTokens returns the prompt plus output token count.
func (u *Usage) TotalTokens() int {
	return u.PromptTokens + u.OutputTokens
}
