// Package engine orchestrates one narrative session: it windows and
// summarizes history, assembles the context, keeps the prompt cache alive,
// runs the generation stream through the decoder, and feeds usage into the
// cost accountant. The engine owns all state mutation; callers interact
// through RunTurn, Rewind, and the read-only accessors.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/storyloom/loom"
	"github.com/storyloom/loom/assemble"
	"github.com/storyloom/loom/config"
	"github.com/storyloom/loom/cost"
	"github.com/storyloom/loom/decode"
	"github.com/storyloom/loom/llm"
	"github.com/storyloom/loom/postprocess"
	"github.com/storyloom/loom/promptcache"
	"github.com/storyloom/loom/session"
	"github.com/storyloom/loom/slogger"
	"github.com/storyloom/loom/state"
	"github.com/storyloom/loom/summary"
)

// ErrProviderTransport wraps network and HTTP failures during generation.
// The turn is recorded as failed and reference-only; the engine never
// silently retries beyond the single self-heal built into cache validation.
var ErrProviderTransport = errors.New("engine: provider transport error")

// Provider is the full surface the engine needs from a model vendor.
type Provider interface {
	llm.Provider
	llm.CacheService
	llm.FileService
}

// Options configure an Engine.
type Options struct {
	Provider    Provider
	Store       session.KV
	Settings    *config.Settings
	Logger      slogger.Logger
	PostProcess *postprocess.Chain

	// PricingFor maps a model ID to its tier table. Required.
	PricingFor func(model string) cost.Pricing

	// OnThought and OnPreview surface live decoding progress.
	OnThought func(string)
	OnPreview func(decode.Preview)
}

// Engine drives one narrative session.
type Engine struct {
	provider    Provider
	store       session.KV
	settings    *config.Settings
	logger      slogger.Logger
	postProcess *postprocess.Chain
	pricingFor  func(string) cost.Pricing
	onThought   func(string)
	onPreview   func(decode.Preview)

	turns      *state.Store[[]*loom.Turn]
	compressor *summary.Compressor
	cache      *promptcache.Manager
	accountant *cost.Accountant
	accrual    *cost.Accrual
	saver      *session.AutoSaver
	kb         *assemble.KnowledgeBase

	lastCacheResource string
}

// New creates an engine. Call Start before the first RunTurn.
func New(opts Options) (*Engine, error) {
	if opts.Provider == nil {
		return nil, errors.New("engine: provider is required")
	}
	if opts.Store == nil {
		return nil, errors.New("engine: store is required")
	}
	if opts.Settings == nil {
		return nil, errors.New("engine: settings are required")
	}
	if opts.PricingFor == nil {
		return nil, errors.New("engine: pricing lookup is required")
	}
	if opts.Logger == nil {
		opts.Logger = slogger.DefaultLogger
	}
	e := &Engine{
		provider:    opts.Provider,
		store:       opts.Store,
		settings:    opts.Settings,
		logger:      opts.Logger,
		postProcess: opts.PostProcess,
		pricingFor:  opts.PricingFor,
		onThought:   opts.OnThought,
		onPreview:   opts.OnPreview,
		turns:       state.NewStore[[]*loom.Turn](nil),
		compressor:  summary.NewCompressor(opts.Settings.ActHeader),
		accountant:  cost.NewAccountant(),
	}
	e.cache = promptcache.NewManager(promptcache.Options{
		Caches:         opts.Provider,
		Files:          opts.Provider,
		Store:          opts.Store,
		Logger:         opts.Logger,
		TTL:            opts.Settings.CacheTTL(),
		CachingEnabled: opts.Settings.CachingEnabled,
	})
	e.accrual = cost.NewAccrual(func(accrued float64) {
		e.cache.MaybeRefresh(context.Background())
	})
	e.saver = session.NewAutoSaver(e.persist, opts.Logger)
	return e, nil
}

// Start restores persisted state and loads the knowledge base.
func (e *Engine) Start(ctx context.Context) error {
	turns, err := session.LoadTurns(ctx, e.store)
	if err != nil {
		return fmt.Errorf("restore turns: %w", err)
	}
	e.turns.Update(func([]*loom.Turn) []*loom.Turn { return turns })

	var snap cost.Snapshot
	if err := session.LoadJSON(ctx, e.store, session.KeyUsageTotals, &snap); err == nil {
		e.accountant.Restore(snap)
	} else if !errors.Is(err, session.ErrNotFound) {
		return fmt.Errorf("restore usage: %w", err)
	}
	accrued, err := session.LoadFloat(ctx, e.store, session.KeyStorageAccrued)
	if err != nil {
		return fmt.Errorf("restore storage accrual: %w", err)
	}
	e.accrual.Restore(accrued)

	if e.kb, err = assemble.LoadKnowledge(e.settings.KnowledgeDir, ""); err != nil {
		return fmt.Errorf("load knowledge base: %w", err)
	}
	if err := e.cache.Start(ctx); err != nil {
		return err
	}
	if e.settings.KnowledgeDir != "" && !e.kb.Empty() {
		if err := e.cache.WatchKnowledge(ctx, e.settings.KnowledgeDir); err != nil {
			e.logger.Warn("knowledge watch unavailable", "error", err)
		}
	}
	e.logger.Info("session restored",
		"turns", len(turns), "knowledge_files", len(e.kb.Files),
		"cache_state", e.cache.State().String())
	return nil
}

// ReloadKnowledge re-reads the knowledge directory. Used after the user
// restores reference material following a session-expired condition.
func (e *Engine) ReloadKnowledge() error {
	kb, err := assemble.LoadKnowledge(e.settings.KnowledgeDir, "")
	if err != nil {
		return err
	}
	e.kb = kb
	e.cache.MarkDirty()
	return nil
}

// Turns returns the current turn list snapshot.
func (e *Engine) Turns() []*loom.Turn {
	return e.turns.Get()
}

// Subscribe registers fn to observe every turn-list update.
func (e *Engine) Subscribe(fn func([]*loom.Turn)) (cancel func()) {
	return e.turns.Subscribe(fn)
}

// Totals returns the cumulative token usage.
func (e *Engine) Totals() llm.Usage {
	return e.accountant.Totals()
}

// TotalCost returns generation spend plus storage accrual, in USD.
func (e *Engine) TotalCost() float64 {
	return e.accountant.TotalCost() + e.accrual.Accrued()
}

// ReplayCost recomputes the session's historical generation cost against an
// alternate pricing table.
func (e *Engine) ReplayCost(p cost.Pricing) float64 {
	return cost.Replay(e.accountant.Records(), p)
}

// CacheState exposes the cache lifecycle state for display.
func (e *Engine) CacheState() promptcache.State {
	return e.cache.State()
}

// Close stops background work and flushes state.
func (e *Engine) Close(ctx context.Context) error {
	e.accrual.Stop()
	return e.saver.Flush(ctx)
}

// persist writes the current state through the KV port. Invoked only by the
// auto-saver, which guarantees saves never interleave.
func (e *Engine) persist(ctx context.Context) error {
	if err := session.SaveTurns(ctx, e.store, e.turns.Get()); err != nil {
		return err
	}
	if err := session.SaveJSON(ctx, e.store, session.KeyUsageTotals, e.accountant.Snapshot()); err != nil {
		return err
	}
	if err := session.SaveJSON(ctx, e.store, session.KeySunkUsage, e.accountant.SunkHistory()); err != nil {
		return err
	}
	if err := session.SaveFloat(ctx, e.store, session.KeyTotalCost, e.accountant.TotalCost()); err != nil {
		return err
	}
	return session.SaveFloat(ctx, e.store, session.KeyStorageAccrued, e.accrual.Accrued())
}
