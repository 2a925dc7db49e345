// Package openaicompat implements the provider contract over the OpenAI
// chat-completions API. It has no server-side prompt cache and no usable
// context files, so the engine inlines the knowledge base when running
// against it; any provider-side prefix caching is reflected back through
// the cached-token usage counters.
package openaicompat

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/storyloom/loom/llm"
)

const ProviderName = "openai"

var (
	DefaultModel     = "gpt-4o"
	DefaultMaxTokens = 8192
)

var (
	_ llm.Provider     = &Provider{}
	_ llm.CacheService = &Provider{}
	_ llm.FileService  = &Provider{}
)

// Provider talks to an OpenAI-compatible chat-completions endpoint.
type Provider struct {
	client    openai.Client
	model     string
	maxTokens int
}

// Option configures a Provider.
type Option func(*providerConfig)

type providerConfig struct {
	apiKey    string
	baseURL   string
	model     string
	maxTokens int
}

// WithAPIKey overrides the key read from OPENAI_API_KEY.
func WithAPIKey(key string) Option {
	return func(c *providerConfig) { c.apiKey = key }
}

// WithBaseURL points the provider at a compatible endpoint.
func WithBaseURL(url string) Option {
	return func(c *providerConfig) { c.baseURL = url }
}

// WithModel sets the default model.
func WithModel(model string) Option {
	return func(c *providerConfig) { c.model = model }
}

// WithMaxTokens sets the default response cap.
func WithMaxTokens(n int) Option {
	return func(c *providerConfig) { c.maxTokens = n }
}

// New creates a Provider.
func New(opts ...Option) *Provider {
	cfg := providerConfig{
		apiKey:    os.Getenv("OPENAI_API_KEY"),
		model:     DefaultModel,
		maxTokens: DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	return &Provider{
		client:    openai.NewClient(reqOpts...),
		model:     cfg.model,
		maxTokens: cfg.maxTokens,
	}
}

func (p *Provider) Name() string {
	return ProviderName
}

// GenerateStream starts a streaming chat-completions call.
func (p *Provider) GenerateStream(ctx context.Context, messages []*llm.Message, opts ...llm.GenerateOption) (llm.Stream, error) {
	config := &llm.GenerateConfig{Model: p.model}
	config.Apply(opts...)

	params := openai.ChatCompletionNewParams{
		Model:    config.Model,
		Messages: encodeMessages(config.SystemInstruction, messages),
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	if config.Temperature != nil {
		params.Temperature = openai.Float(*config.Temperature)
	}
	maxTokens := p.maxTokens
	if config.MaxOutputTokens != nil {
		maxTokens = *config.MaxOutputTokens
	}
	params.MaxCompletionTokens = openai.Int(int64(maxTokens))

	sse := p.client.Chat.Completions.NewStreaming(ctx, params)
	return &stream{sse: sse}, nil
}

func encodeMessages(systemInstruction string, messages []*llm.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)+1)
	if systemInstruction != "" {
		out = append(out, openai.SystemMessage(systemInstruction))
	}
	for _, m := range messages {
		text := m.Text()
		if text == "" {
			continue
		}
		if m.Role == llm.Model {
			out = append(out, openai.AssistantMessage(text))
		} else {
			out = append(out, openai.UserMessage(text))
		}
	}
	return out
}

// CountTokens returns a heuristic estimate: the chat-completions API has no
// tokenizer endpoint.
func (p *Provider) CountTokens(ctx context.Context, model string, messages []*llm.Message) (int, error) {
	return llm.EstimateMessageTokens(messages), nil
}

// Models lists models visible to the account.
func (p *Provider) Models(ctx context.Context) ([]llm.ModelInfo, error) {
	var models []llm.ModelInfo
	iter := p.client.Models.ListAutoPaging(ctx)
	for iter.Next() {
		m := iter.Current()
		models = append(models, llm.ModelInfo{ID: m.ID})
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return models, nil
}

// CreateCache always fails: there is no prompt-cache API here.
func (p *Provider) CreateCache(ctx context.Context, params llm.CreateCacheParams) (*llm.CacheInfo, error) {
	return nil, llm.ErrCachingUnsupported
}

func (p *Provider) GetCache(ctx context.Context, name string) (*llm.CacheInfo, error) {
	return nil, llm.ErrCacheNotFound
}

func (p *Provider) UpdateCacheTTL(ctx context.Context, name string, ttl time.Duration) (*llm.CacheInfo, error) {
	return nil, llm.ErrCacheNotFound
}

func (p *Provider) DeleteCache(ctx context.Context, name string) error {
	return nil
}

// UploadFile always fails: uploaded files are not usable as chat context.
func (p *Provider) UploadFile(ctx context.Context, displayName string, r io.Reader, mimeType string) (*llm.FileInfo, error) {
	return nil, llm.ErrFilesUnsupported
}

func (p *Provider) IsFileAvailable(ctx context.Context, name string) (bool, error) {
	return false, nil
}

func (p *Provider) DeleteAllFiles(ctx context.Context) error {
	return nil
}
