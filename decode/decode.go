// Package decode reconstructs structured narrative fields from a streaming
// generation response. The stream may arrive truncated, wrapped in markdown
// fences, or interleaved with reasoning tokens; decoding degrades to
// best-effort text instead of dropping the turn.
package decode

import (
	"context"
	"strings"

	"github.com/storyloom/loom/llm"
	"github.com/storyloom/loom/slogger"
)

// FormatErrorPlaceholder is the story text used when nothing at all could
// be recovered from the response body. Callers localize it as needed.
const FormatErrorPlaceholder = "(the response could not be decoded)"

// Result is the decoded outcome of one generation stream.
type Result struct {
	Analysis string
	Fields   Fields

	// Thought is the accumulated reasoning text, kept out of the
	// structured buffer.
	Thought string

	// ThoughtSignature is the provider's replay token, round-tripped
	// unmodified on the next turn.
	ThoughtSignature []byte

	FunctionCalls []*llm.FunctionCall
	FinishReason  string

	// Usage holds the sticky-merged token counters observed on the stream.
	Usage llm.Usage

	// Degraded is true when the structured parse failed and Fields holds
	// best-effort text. Non-fatal: the turn still completes.
	Degraded bool

	// RawText is the full non-thought text received.
	RawText string
}

// Preview is an incremental view surfaced while the stream is running.
type Preview struct {
	Analysis string
	Story    string
	Thought  string
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithThoughtHandler surfaces reasoning fragments as they arrive.
func WithThoughtHandler(fn func(string)) Option {
	return func(d *Decoder) { d.onThought = fn }
}

// WithPreviewHandler surfaces partial analysis/story text after each chunk.
func WithPreviewHandler(fn func(Preview)) Option {
	return func(d *Decoder) { d.onPreview = fn }
}

// WithFallbackText overrides the placeholder used when decoding recovers
// nothing.
func WithFallbackText(text string) Option {
	return func(d *Decoder) { d.fallback = text }
}

// WithLogger sets the decoder's logger.
func WithLogger(logger slogger.Logger) Option {
	return func(d *Decoder) { d.logger = logger }
}

// Decoder consumes one generation stream. Not reusable across streams.
type Decoder struct {
	onThought func(string)
	onPreview func(Preview)
	fallback  string
	logger    slogger.Logger

	jsonBuf    strings.Builder
	thoughtBuf strings.Builder

	lastAnalysis string
	lastStory    string
}

// NewDecoder creates a decoder.
func NewDecoder(opts ...Option) *Decoder {
	d := &Decoder{fallback: FormatErrorPlaceholder, logger: slogger.DefaultLogger}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Consume reads the stream to completion and returns the decoded result.
// A transport error returns both the partial result and the error: chunks
// already applied are not rolled back, and the caller decides how to mark
// the turn. A failed structured parse is not an error; see Result.Degraded.
func (d *Decoder) Consume(ctx context.Context, stream llm.Stream) (*Result, error) {
	result := &Result{}
	for {
		chunk, ok := stream.Next(ctx)
		if !ok {
			break
		}
		d.apply(chunk, result)
	}
	d.finish(result)
	if err := stream.Err(); err != nil {
		return result, err
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

// apply folds one chunk into the decoder state.
func (d *Decoder) apply(chunk *llm.Chunk, result *Result) {
	if len(chunk.ThoughtSignature) > 0 {
		result.ThoughtSignature = append([]byte(nil), chunk.ThoughtSignature...)
	}
	if chunk.FunctionCall != nil {
		result.FunctionCalls = append(result.FunctionCalls, chunk.FunctionCall)
	}
	if chunk.FinishReason != "" {
		result.FinishReason = chunk.FinishReason
	}
	result.Usage.MergeSticky(chunk.Usage)

	if chunk.Text == "" {
		return
	}
	if chunk.Thought {
		d.thoughtBuf.WriteString(chunk.Text)
		if d.onThought != nil {
			d.onThought(chunk.Text)
		}
		return
	}

	d.jsonBuf.WriteString(chunk.Text)
	partial, _ := TolerantParse([]byte(d.jsonBuf.String()))
	if partial.Analysis != "" {
		d.lastAnalysis = partial.Analysis
	}
	if partial.Fields.Story != "" {
		d.lastStory = partial.Fields.Story
	}
	if d.onPreview != nil {
		d.onPreview(Preview{
			Analysis: d.lastAnalysis,
			Story:    d.lastStory,
			Thought:  d.thoughtBuf.String(),
		})
	}
}

// finish runs the final tolerant parse and applies the degradation policy:
// empty analysis, story falling back to the last previewed partial text or
// the placeholder. The turn is never dropped.
func (d *Decoder) finish(result *Result) {
	result.Thought = d.thoughtBuf.String()
	result.RawText = d.jsonBuf.String()

	parsed, complete := TolerantParse([]byte(result.RawText))
	if complete || parsed.Fields.Story != "" {
		result.Analysis = parsed.Analysis
		result.Fields = parsed.Fields
		if !complete {
			d.logger.Debug("response body repaired during parse")
		}
		return
	}

	result.Degraded = true
	result.Analysis = ""
	result.Fields = Fields{Story: d.lastStory}
	if result.Fields.Story == "" {
		if raw := strings.TrimSpace(result.RawText); raw != "" {
			result.Fields.Story = raw
		} else {
			result.Fields.Story = d.fallback
		}
	}
	d.logger.Warn("structured decode degraded to best-effort text",
		"raw_len", len(result.RawText))
}
