// Package postprocess runs user-configurable transforms over the decoded
// narrative fields before they are committed to a turn. Transforms are pure
// functions over the field set: no ambient access, no host-language eval.
// Each transform runs under a hard timeout; a failing or overrunning
// transform is skipped, never fatal to the turn.
package postprocess

import (
	"context"
	"fmt"
	"time"

	"github.com/storyloom/loom/decode"
	"github.com/storyloom/loom/slogger"
)

// DefaultTimeout bounds a single transform.
const DefaultTimeout = 2 * time.Second

// Transform rewrites the decoded fields. It must treat its input as
// read-only and return a new value; it must honor ctx cancellation if it
// loops.
type Transform func(ctx context.Context, fields decode.Fields) (decode.Fields, error)

// Step is a named transform in a chain.
type Step struct {
	Name      string
	Transform Transform
}

// Chain applies transforms in order.
type Chain struct {
	steps   []Step
	timeout time.Duration
	logger  slogger.Logger
}

// Option configures a Chain.
type Option func(*Chain)

// WithTimeout overrides the per-transform timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Chain) { c.timeout = d }
}

// WithLogger sets the chain's logger.
func WithLogger(logger slogger.Logger) Option {
	return func(c *Chain) { c.logger = logger }
}

// NewChain creates a transform chain.
func NewChain(steps []Step, opts ...Option) *Chain {
	c := &Chain{steps: steps, timeout: DefaultTimeout, logger: slogger.DefaultLogger}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Apply runs every step over fields. A step that errors or exceeds its
// timeout is skipped and the previous value carries forward.
func (c *Chain) Apply(ctx context.Context, fields decode.Fields) decode.Fields {
	for _, step := range c.steps {
		out, err := c.runStep(ctx, step, fields)
		if err != nil {
			c.logger.Warn("post-process step skipped", "step", step.Name, "error", err)
			continue
		}
		fields = out
	}
	return fields
}

func (c *Chain) runStep(ctx context.Context, step Step, fields decode.Fields) (decode.Fields, error) {
	stepCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type outcome struct {
		fields decode.Fields
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		out, err := step.Transform(stepCtx, fields)
		done <- outcome{out, err}
	}()

	select {
	case <-stepCtx.Done():
		return fields, fmt.Errorf("transform %q: %w", step.Name, stepCtx.Err())
	case o := <-done:
		if o.err != nil {
			return fields, fmt.Errorf("transform %q: %w", step.Name, o.err)
		}
		return o.fields, nil
	}
}
