package openaicompat

import (
	"context"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/storyloom/loom/llm"
)

// stream adapts the SDK's SSE stream to the llm.Stream contract.
type stream struct {
	sse *ssestream.Stream[openai.ChatCompletionChunk]
}

func (s *stream) Next(ctx context.Context) (*llm.Chunk, bool) {
	for {
		if ctx.Err() != nil {
			return nil, false
		}
		if !s.sse.Next() {
			return nil, false
		}
		if chunk := convertChunk(s.sse.Current()); chunk != nil {
			return chunk, true
		}
	}
}

func convertChunk(c openai.ChatCompletionChunk) *llm.Chunk {
	chunk := &llm.Chunk{}
	empty := true
	if len(c.Choices) > 0 {
		choice := c.Choices[0]
		if choice.Delta.Content != "" {
			chunk.Text = choice.Delta.Content
			empty = false
		}
		if choice.FinishReason != "" {
			chunk.FinishReason = string(choice.FinishReason)
			empty = false
		}
	}
	// The terminal chunk carries usage when stream_options.include_usage
	// is set.
	if c.Usage.TotalTokens > 0 {
		chunk.Usage = &llm.Usage{
			PromptTokens: int(c.Usage.PromptTokens),
			CachedTokens: int(c.Usage.PromptTokensDetails.CachedTokens),
			OutputTokens: int(c.Usage.CompletionTokens),
		}
		empty = false
	}
	if empty {
		return nil
	}
	return chunk
}

func (s *stream) Err() error {
	return s.sse.Err()
}

func (s *stream) Close() error {
	return s.sse.Close()
}
