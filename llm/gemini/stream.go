package gemini

import (
	"context"
	"iter"
	"sync"

	"google.golang.org/genai"

	"github.com/storyloom/loom/llm"
)

// stream adapts the genai response sequence to the llm.Stream contract. A
// pump goroutine walks the sequence and converts each response into one or
// more chunks; Next drains them in order.
type stream struct {
	ch     chan *llm.Chunk
	cancel context.CancelFunc

	mu  sync.Mutex
	err error
}

func newStream(ctx context.Context, seq iter.Seq2[*genai.GenerateContentResponse, error]) *stream {
	streamCtx, cancel := context.WithCancel(ctx)
	s := &stream{
		ch:     make(chan *llm.Chunk, 16),
		cancel: cancel,
	}
	go s.pump(streamCtx, seq)
	return s
}

func (s *stream) pump(ctx context.Context, seq iter.Seq2[*genai.GenerateContentResponse, error]) {
	defer close(s.ch)
	for resp, err := range seq {
		if err != nil {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
			return
		}
		for _, chunk := range chunksFromResponse(resp) {
			select {
			case <-ctx.Done():
				return
			case s.ch <- chunk:
			}
		}
	}
}

// chunksFromResponse flattens one streamed response: one chunk per content
// part, plus a trailing metadata chunk when the response carries usage
// counters or a finish reason.
func chunksFromResponse(resp *genai.GenerateContentResponse) []*llm.Chunk {
	var chunks []*llm.Chunk
	var finish string
	if len(resp.Candidates) > 0 {
		c := resp.Candidates[0]
		finish = string(c.FinishReason)
		if c.Content != nil {
			for _, part := range c.Content.Parts {
				chunk := &llm.Chunk{
					Text:             part.Text,
					Thought:          part.Thought,
					ThoughtSignature: part.ThoughtSignature,
				}
				if part.FunctionCall != nil {
					chunk.FunctionCall = &llm.FunctionCall{
						Name: part.FunctionCall.Name,
						Args: part.FunctionCall.Args,
					}
				}
				chunks = append(chunks, chunk)
			}
		}
	}
	usage := usageFromGenai(resp.UsageMetadata)
	if usage != nil || finish != "" {
		chunks = append(chunks, &llm.Chunk{FinishReason: finish, Usage: usage})
	}
	return chunks
}

func (s *stream) Next(ctx context.Context) (*llm.Chunk, bool) {
	select {
	case <-ctx.Done():
		return nil, false
	case chunk, ok := <-s.ch:
		if !ok {
			return nil, false
		}
		return chunk, true
	}
}

func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *stream) Close() error {
	s.cancel()
	return nil
}
