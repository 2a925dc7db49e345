package llm

import "context"

// Chunk is one unit of a streaming generation response. Fields are
// heterogeneous: any combination may be set on a single chunk.
type Chunk struct {
	// Text fragment. Thought marks it as model reasoning rather than
	// narrative output.
	Text    string
	Thought bool

	// ThoughtSignature is an opaque replay token attached to a reasoning
	// part. It must be round-tripped unmodified on the next turn.
	ThoughtSignature []byte

	// FunctionCall is set when the model invokes a tool.
	FunctionCall *FunctionCall

	// FinishReason is non-empty on the terminal chunk.
	FinishReason string

	// Usage carries incremental token counters. Providers may report
	// partial or zero values on intermediate chunks.
	Usage *Usage
}

// Stream is an asynchronous sequence of chunks from a generation call.
type Stream interface {
	// Next returns the next chunk, or false when the stream is exhausted
	// or failed. A context cancellation stops the stream without rolling
	// back chunks already delivered.
	Next(ctx context.Context) (*Chunk, bool)

	// Err returns the error that terminated the stream, if any.
	Err() error

	// Close releases stream resources. Safe to call more than once.
	Close() error
}
