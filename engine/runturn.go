package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/storyloom/loom"
	"github.com/storyloom/loom/assemble"
	"github.com/storyloom/loom/cost"
	"github.com/storyloom/loom/decode"
	"github.com/storyloom/loom/history"
	"github.com/storyloom/loom/llm"
	"github.com/storyloom/loom/promptcache"
	"github.com/storyloom/loom/summary"
)

// RunTurn executes one full narrative exchange: the input becomes a user
// turn, the context is assembled from the windowed history, the cache is
// validated, the response stream is decoded, and the resulting model turn is
// committed with its cost. On a transport error both turns are kept, marked
// failed and reference-only, so the next exchange rebuilds the same context.
func (e *Engine) RunTurn(ctx context.Context, input string) (*loom.Turn, error) {
	userTurn := loom.NewUserTurn(input)
	e.appendTurn(userTurn)

	rec, err := e.cache.EnsureValid(ctx, e.kb, e.settings.SystemInstruction, e.settings.Model)
	if err != nil {
		e.failTurn(ctx, userTurn, nil)
		return nil, err
	}
	e.syncAccrual(rec)

	messages := e.buildMessages(rec)

	promptTokens, err := e.provider.CountTokens(ctx, e.settings.Model, messages)
	if err != nil {
		if !errors.Is(err, llm.ErrTokenCountUnavailable) {
			e.logger.Warn("token count failed", "error", err)
		}
		promptTokens = llm.EstimateMessageTokens(messages)
	}
	e.logger.Debug("context assembled",
		"messages", len(messages), "prompt_tokens", promptTokens,
		"cache_state", e.cache.State().String())

	opts := []llm.GenerateOption{
		llm.WithModel(e.settings.Model),
		llm.WithJSONResponse(),
		llm.WithThoughts(),
	}
	if rec != nil && rec.Mode == promptcache.ModeCache {
		// The cache already binds the system instruction; sending it again
		// is rejected by the provider.
		opts = append(opts, llm.WithCachedContent(rec.ResourceName))
	} else if e.settings.SystemInstruction != "" {
		opts = append(opts, llm.WithSystemInstruction(e.settings.SystemInstruction))
	}

	stream, err := e.provider.GenerateStream(ctx, messages, opts...)
	if err != nil {
		e.failTurn(ctx, userTurn, nil)
		return nil, fmt.Errorf("%w: %v", ErrProviderTransport, err)
	}
	defer stream.Close()

	decoder := decode.NewDecoder(
		decode.WithThoughtHandler(e.onThought),
		decode.WithPreviewHandler(e.onPreview),
		decode.WithLogger(e.logger),
	)
	result, err := decoder.Consume(ctx, stream)
	if err != nil {
		failed := e.failTurn(ctx, userTurn, result)
		return failed, fmt.Errorf("%w: %v", ErrProviderTransport, err)
	}

	fields := result.Fields
	if e.postProcess != nil && !result.Degraded {
		fields = e.postProcess.Apply(ctx, fields)
	}

	modelTurn := e.commitModelTurn(result, fields)
	e.saver.Request(ctx)
	return modelTurn, nil
}

// buildMessages runs the history window, the summary compressor, and the
// assembler over the current turn list.
func (e *Engine) buildMessages(rec *promptcache.Record) []*llm.Message {
	archived, recent := history.Select(e.turns.Get(), e.settings.HistoryMode)
	blocks, leftover, headerPlaced := e.compressor.Compress(archived)

	in := assemble.Input{
		Recent:       recent,
		Blocks:       blocks,
		Leftover:     leftover,
		ActHeader:    e.settings.ActHeader,
		HeaderPlaced: headerPlaced,
		Knowledge:    e.kb.CombinedText(),
	}
	if rec != nil {
		switch rec.Mode {
		case promptcache.ModeCache:
			in.CacheActive = true
		case promptcache.ModeFile:
			in.KnowledgeFileURI = rec.ResourceURI
		}
	}
	return assemble.BuildContext(in)
}

// commitModelTurn appends the decoded model turn, applying correction
// compensation and recording the turn's cost.
func (e *Engine) commitModelTurn(result *decode.Result, fields decode.Fields) *loom.Turn {
	t := loom.NewModelTurn(fields.Story)
	t.Summary = fields.Summary
	t.Logs = loom.DerivedLogs{
		Character: fields.CharacterLog,
		Inventory: fields.InventoryLog,
		Quest:     fields.QuestLog,
		World:     fields.WorldLog,
	}
	if len(result.ThoughtSignature) > 0 {
		t.Parts = []llm.Part{
			{Thought: true, ThoughtSignature: result.ThoughtSignature},
			{Text: fields.Story},
		}
	}
	usage := result.Usage
	t.Usage = &usage

	c := e.accountant.RecordTurn(usage, e.pricing())
	e.logger.Info("turn complete",
		"prompt_tokens", usage.PromptTokens, "cached_tokens", usage.CachedTokens,
		"output_tokens", usage.OutputTokens, "cost_usd", c,
		"degraded", result.Degraded, "finish", result.FinishReason)

	e.turns.Update(func(turns []*loom.Turn) []*loom.Turn {
		if fields.IsCorrection {
			t.Intent = loom.IntentCorrection
			t.Flags.Correction = true
			if corrected := loom.MarkCorrected(turns); corrected != nil {
				e.logger.Info("correction applied", "corrected_turn", corrected.ID)
			}
		}
		return append(turns, t)
	})
	return t
}

// failTurn marks the user turn (and the partial model turn, when decoding
// got far enough to produce one) failed and reference-only, then persists.
func (e *Engine) failTurn(ctx context.Context, userTurn *loom.Turn, partial *decode.Result) *loom.Turn {
	userTurn.Flags.Failed = true
	userTurn.Flags.ReferenceOnly = true

	var failed *loom.Turn
	if partial != nil && partial.RawText != "" {
		failed = loom.NewModelTurn(partial.Fields.Story)
		failed.Flags.Failed = true
		failed.Flags.ReferenceOnly = true
		if u := partial.Usage; u.TotalTokens() > 0 {
			cp := u
			failed.Usage = &cp
			// Partial output was still billed.
			e.accountant.RecordTurn(u, e.pricing())
		}
		e.appendTurn(failed)
	}
	e.saver.Request(ctx)
	return failed
}

// Rewind removes the last n turns. Their usage moves to the sunk list: the
// spend already happened and totals never decrease.
func (e *Engine) Rewind(ctx context.Context, n int) []*loom.Turn {
	var removed []*loom.Turn
	e.turns.Update(func(turns []*loom.Turn) []*loom.Turn {
		if n < 0 {
			n = 0
		}
		if n > len(turns) {
			n = len(turns)
		}
		cut := len(turns) - n
		removed = append([]*loom.Turn(nil), turns[cut:]...)
		return turns[:cut]
	})
	for _, t := range removed {
		if t.Usage != nil {
			e.accountant.Sink(*t.Usage)
		}
	}
	// Sealed blocks may reference removed turns; rebuilding re-seals the
	// surviving prefix into byte-identical blocks.
	e.compressor = summary.NewCompressor(e.settings.ActHeader)
	e.saver.Request(ctx)
	return removed
}

func (e *Engine) appendTurn(t *loom.Turn) {
	e.turns.Update(func(turns []*loom.Turn) []*loom.Turn {
		return append(turns, t)
	})
}

// syncAccrual keeps exactly one storage ticker alive, keyed on the active
// cache resource. File mode and inline mode carry no storage rate.
func (e *Engine) syncAccrual(rec *promptcache.Record) {
	if rec == nil || rec.Mode != promptcache.ModeCache {
		if e.lastCacheResource != "" {
			e.accrual.Stop()
			e.lastCacheResource = ""
		}
		return
	}
	if rec.ResourceName == e.lastCacheResource {
		return
	}
	tier := e.pricing().TierFor(rec.TokenCount)
	e.accrual.Start(context.Background(), rec.TokenCount, tier)
	e.lastCacheResource = rec.ResourceName
}

// pricing resolves the active model's tier table, honoring overrides.
func (e *Engine) pricing() cost.Pricing {
	if p, ok := e.settings.PricingOverrides[e.settings.Model]; ok {
		return p
	}
	return e.pricingFor(e.settings.Model)
}
