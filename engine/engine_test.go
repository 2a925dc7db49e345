package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/storyloom/loom"
	"github.com/storyloom/loom/config"
	"github.com/storyloom/loom/cost"
	"github.com/storyloom/loom/llm"
	"github.com/storyloom/loom/promptcache"
	"github.com/storyloom/loom/session"
)

// scriptedStream replays canned chunks.
type scriptedStream struct {
	chunks []*llm.Chunk
	pos    int
	err    error
}

func (s *scriptedStream) Next(ctx context.Context) (*llm.Chunk, bool) {
	if s.pos >= len(s.chunks) {
		return nil, false
	}
	c := s.chunks[s.pos]
	s.pos++
	return c, true
}

func (s *scriptedStream) Err() error { return s.err }

func (s *scriptedStream) Close() error { return nil }

// fakeProvider serves scripted responses and an in-memory cache service.
type fakeProvider struct {
	responses []*scriptedStream
	calls     [][]*llm.Message
	configs   []llm.GenerateConfig
	genErr    error

	caches   map[string]*llm.CacheInfo
	cacheSeq int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{caches: map[string]*llm.CacheInfo{}}
}

func (p *fakeProvider) respond(body string, usage *llm.Usage) {
	p.responses = append(p.responses, &scriptedStream{chunks: []*llm.Chunk{
		{Text: body},
		{FinishReason: "STOP", Usage: usage},
	}})
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) GenerateStream(ctx context.Context, messages []*llm.Message, opts ...llm.GenerateOption) (llm.Stream, error) {
	var cfg llm.GenerateConfig
	cfg.Apply(opts...)
	p.calls = append(p.calls, messages)
	p.configs = append(p.configs, cfg)
	if p.genErr != nil {
		return nil, p.genErr
	}
	if len(p.responses) == 0 {
		return nil, errors.New("no scripted response")
	}
	s := p.responses[0]
	p.responses = p.responses[1:]
	return s, nil
}

func (p *fakeProvider) CountTokens(ctx context.Context, model string, messages []*llm.Message) (int, error) {
	return llm.EstimateMessageTokens(messages), nil
}

func (p *fakeProvider) Models(ctx context.Context) ([]llm.ModelInfo, error) {
	return []llm.ModelInfo{{ID: "fake-model"}}, nil
}

func (p *fakeProvider) CreateCache(ctx context.Context, params llm.CreateCacheParams) (*llm.CacheInfo, error) {
	p.cacheSeq++
	info := &llm.CacheInfo{
		Name:       fmt.Sprintf("caches/%d", p.cacheSeq),
		Model:      params.Model,
		TokenCount: 4000,
		CreateTime: time.Now(),
		ExpireTime: time.Now().Add(params.TTL),
	}
	p.caches[info.Name] = info
	return info, nil
}

func (p *fakeProvider) GetCache(ctx context.Context, name string) (*llm.CacheInfo, error) {
	info, ok := p.caches[name]
	if !ok {
		return nil, llm.ErrCacheNotFound
	}
	return info, nil
}

func (p *fakeProvider) UpdateCacheTTL(ctx context.Context, name string, ttl time.Duration) (*llm.CacheInfo, error) {
	info, ok := p.caches[name]
	if !ok {
		return nil, llm.ErrCacheNotFound
	}
	info.ExpireTime = time.Now().Add(ttl)
	return info, nil
}

func (p *fakeProvider) DeleteCache(ctx context.Context, name string) error {
	delete(p.caches, name)
	return nil
}

func (p *fakeProvider) UploadFile(ctx context.Context, displayName string, r io.Reader, mimeType string) (*llm.FileInfo, error) {
	return nil, llm.ErrFilesUnsupported
}

func (p *fakeProvider) IsFileAvailable(ctx context.Context, name string) (bool, error) {
	return false, nil
}

func (p *fakeProvider) DeleteAllFiles(ctx context.Context) error { return nil }

var fakePricing = cost.Pricing{
	Model: "fake-model",
	Tiers: []cost.Tier{{InputRate: 0.5, OutputRate: 3.0, CachedRate: 0.05, StorageRate: 1.0}},
}

func storyBody(story, summary string) string {
	return fmt.Sprintf(`{"analysis":"a","response":{"story":%q,"summary":%q}}`, story, summary)
}

func newTestEngine(t *testing.T, provider *fakeProvider, settings *config.Settings) (*Engine, session.KV) {
	t.Helper()
	if settings == nil {
		settings = &config.Settings{
			Provider:          "fake",
			Model:             "fake-model",
			HistoryMode:       loom.HistoryModeSmart,
			SystemInstruction: "narrate",
		}
	}
	store := session.NewMemoryStore()
	eng, err := New(Options{
		Provider:   provider,
		Store:      store,
		Settings:   settings,
		PricingFor: func(string) cost.Pricing { return fakePricing },
	})
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background()))
	return eng, store
}

func TestRunTurnHappyPath(t *testing.T) {
	provider := newFakeProvider()
	provider.respond(storyBody("The gates open.", "arrived"),
		&llm.Usage{PromptTokens: 1000, CachedTokens: 400, OutputTokens: 200})
	eng, _ := newTestEngine(t, provider, nil)
	ctx := context.Background()

	turn, err := eng.RunTurn(ctx, "I approach the city")
	require.NoError(t, err)
	require.Equal(t, "The gates open.", turn.Text)
	require.Equal(t, "arrived", turn.Summary)

	turns := eng.Turns()
	require.Len(t, turns, 2)
	require.Equal(t, llm.User, turns[0].Role)
	require.Equal(t, llm.Model, turns[1].Role)

	require.Equal(t, llm.Usage{PromptTokens: 1000, CachedTokens: 400, OutputTokens: 200}, eng.Totals())
	require.InDelta(t, 0.00092, eng.TotalCost(), 1e-9)

	// No knowledge base: the system instruction rides in the config.
	require.Equal(t, "narrate", provider.configs[0].SystemInstruction)
	require.Empty(t, provider.configs[0].CachedContent)
	require.True(t, provider.configs[0].JSONResponse)
}

func TestRunTurnUsesCache(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, writeFile(dir+"/lore.md", "the delta city"))

	settings := &config.Settings{
		Provider:          "fake",
		Model:             "fake-model",
		HistoryMode:       loom.HistoryModeSmart,
		SystemInstruction: "narrate",
		KnowledgeDir:      dir,
		CachingEnabled:    true,
	}
	provider := newFakeProvider()
	provider.respond(storyBody("s", "su"), &llm.Usage{PromptTokens: 10, OutputTokens: 5})
	eng, _ := newTestEngine(t, provider, settings)

	_, err := eng.RunTurn(context.Background(), "hello")
	require.NoError(t, err)
	require.Equal(t, promptcache.StateValid, eng.CacheState())
	require.Equal(t, "caches/1", provider.configs[0].CachedContent)
	// The cache binds the system instruction; it is not sent again.
	require.Empty(t, provider.configs[0].SystemInstruction)
	// Nor is the knowledge text inlined.
	require.NotContains(t, provider.calls[0][0].Text(), "the delta city")
}

func TestRunTurnInlinesKnowledgeWithoutCache(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, writeFile(dir+"/lore.md", "the delta city"))

	settings := &config.Settings{
		Provider:     "fake",
		Model:        "fake-model",
		HistoryMode:  loom.HistoryModeSmart,
		KnowledgeDir: dir,
		// Caching disabled and files unsupported: inline.
	}
	provider := newFakeProvider()
	provider.respond(storyBody("s", "su"), nil)
	eng, _ := newTestEngine(t, provider, settings)

	_, err := eng.RunTurn(context.Background(), "hello")
	require.NoError(t, err)
	require.Contains(t, provider.calls[0][0].Text(), "the delta city")
}

func TestRunTurnCorrection(t *testing.T) {
	provider := newFakeProvider()
	provider.respond(storyBody("A dragon lands.", "dragon"), nil)
	provider.respond(`{"analysis":"a","response":{"story":"Scratch that, it was a crow.","summary":"crow","isCorrection":true}}`, nil)
	eng, _ := newTestEngine(t, provider, nil)
	ctx := context.Background()

	first, err := eng.RunTurn(ctx, "look up")
	require.NoError(t, err)

	correction, err := eng.RunTurn(ctx, "that can't be right")
	require.NoError(t, err)
	require.True(t, correction.Flags.Correction)
	require.Equal(t, loom.IntentCorrection, correction.Intent)

	// The corrected turn and its paired user turn left the context but not
	// the history.
	turns := eng.Turns()
	require.Len(t, turns, 4)
	require.True(t, first.Flags.ReferenceOnly)
	require.True(t, turns[0].Flags.ReferenceOnly)
	require.False(t, correction.Flags.ReferenceOnly)
}

func TestRunTurnTransportError(t *testing.T) {
	provider := newFakeProvider()
	provider.genErr = errors.New("connection refused")
	eng, _ := newTestEngine(t, provider, nil)

	_, err := eng.RunTurn(context.Background(), "hello?")
	require.ErrorIs(t, err, ErrProviderTransport)

	turns := eng.Turns()
	require.Len(t, turns, 1)
	require.True(t, turns[0].Flags.Failed)
	require.True(t, turns[0].Flags.ReferenceOnly)

	// The next exchange does not see the failed turn.
	provider.genErr = nil
	provider.respond(storyBody("s", "su"), nil)
	_, err = eng.RunTurn(context.Background(), "retry")
	require.NoError(t, err)
	for _, m := range provider.calls[1] {
		require.NotContains(t, m.Text(), "hello?")
	}
}

func TestRunTurnMidStreamErrorKeepsPartial(t *testing.T) {
	provider := newFakeProvider()
	provider.responses = append(provider.responses, &scriptedStream{
		chunks: []*llm.Chunk{{Text: `{"response":{"story":"half a`}},
		err:    errors.New("reset by peer"),
	})
	eng, _ := newTestEngine(t, provider, nil)

	failed, err := eng.RunTurn(context.Background(), "go on")
	require.ErrorIs(t, err, ErrProviderTransport)
	require.NotNil(t, failed)
	require.True(t, failed.Flags.Failed)
	require.Equal(t, "half a", failed.Text)
	require.Len(t, eng.Turns(), 2)
}

func TestRewindSinksUsage(t *testing.T) {
	provider := newFakeProvider()
	provider.respond(storyBody("one", "1"), &llm.Usage{PromptTokens: 100, OutputTokens: 10})
	provider.respond(storyBody("two", "2"), &llm.Usage{PromptTokens: 200, OutputTokens: 20})
	eng, _ := newTestEngine(t, provider, nil)
	ctx := context.Background()

	_, err := eng.RunTurn(ctx, "first")
	require.NoError(t, err)
	_, err = eng.RunTurn(ctx, "second")
	require.NoError(t, err)

	totalBefore := eng.Totals()
	costBefore := eng.TotalCost()

	removed := eng.Rewind(ctx, 2)
	require.Len(t, removed, 2)
	require.Len(t, eng.Turns(), 2)

	// Spend is sunk, never refunded.
	require.Equal(t, totalBefore, eng.Totals())
	require.Equal(t, costBefore, eng.TotalCost())
}

func TestRewindClampsOutOfRange(t *testing.T) {
	provider := newFakeProvider()
	provider.respond(storyBody("one", "1"), &llm.Usage{PromptTokens: 100, OutputTokens: 10})
	eng, _ := newTestEngine(t, provider, nil)
	ctx := context.Background()

	_, err := eng.RunTurn(ctx, "first")
	require.NoError(t, err)

	require.Empty(t, eng.Rewind(ctx, -3))
	require.Len(t, eng.Turns(), 2)

	removed := eng.Rewind(ctx, 10)
	require.Len(t, removed, 2)
	require.Empty(t, eng.Turns())
}

func TestSessionRoundTrip(t *testing.T) {
	provider := newFakeProvider()
	provider.respond(storyBody("persisted scene", "ps"),
		&llm.Usage{PromptTokens: 100, OutputTokens: 10})
	eng, store := newTestEngine(t, provider, nil)
	ctx := context.Background()

	_, err := eng.RunTurn(ctx, "hello")
	require.NoError(t, err)
	require.NoError(t, eng.Close(ctx))

	// A fresh engine over the same store resumes where we left off.
	settings := &config.Settings{Provider: "fake", Model: "fake-model", HistoryMode: loom.HistoryModeSmart}
	eng2, err := New(Options{
		Provider:   provider,
		Store:      store,
		Settings:   settings,
		PricingFor: func(string) cost.Pricing { return fakePricing },
	})
	require.NoError(t, err)
	require.NoError(t, eng2.Start(ctx))

	turns := eng2.Turns()
	require.Len(t, turns, 2)
	require.Equal(t, "persisted scene", turns[1].Text)
	require.Equal(t, eng.Totals(), eng2.Totals())
	require.InDelta(t, eng.TotalCost(), eng2.TotalCost(), 1e-9)
}

func TestReplayCost(t *testing.T) {
	provider := newFakeProvider()
	provider.respond(storyBody("s", "su"), &llm.Usage{PromptTokens: 1000, OutputTokens: 100})
	eng, _ := newTestEngine(t, provider, nil)

	_, err := eng.RunTurn(context.Background(), "hi")
	require.NoError(t, err)

	double := cost.Pricing{Tiers: []cost.Tier{{InputRate: 1.0, OutputRate: 6.0, CachedRate: 0.1}}}
	require.InDelta(t, 2*eng.accountant.TotalCost(), eng.ReplayCost(double), 1e-9)
}

func writeFile(path, text string) error {
	return os.WriteFile(path, []byte(text), 0o644)
}
