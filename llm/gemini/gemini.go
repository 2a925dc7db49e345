// Package gemini implements the provider contract on google.golang.org/genai.
// It is the cache-capable provider: knowledge bases live in server-side
// cached content referenced by resource name, with explicit TTL control.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"google.golang.org/genai"

	"github.com/storyloom/loom/internal/retry"
	"github.com/storyloom/loom/llm"
)

const ProviderName = "gemini"

var (
	DefaultModel         = ModelGemini25Flash
	DefaultMaxTokens     = 8192
	DefaultMaxRetries    = 3
	DefaultRetryBaseWait = 1 * time.Second
)

var (
	_ llm.Provider     = &Provider{}
	_ llm.CacheService = &Provider{}
	_ llm.FileService  = &Provider{}
)

// Provider talks to the Gemini API.
type Provider struct {
	client        *genai.Client
	apiKey        string
	model         string
	maxTokens     int
	maxRetries    int
	retryBaseWait time.Duration
	mutex         sync.Mutex
}

// Option configures a Provider.
type Option func(*Provider)

// WithAPIKey overrides the key read from the environment.
func WithAPIKey(key string) Option {
	return func(p *Provider) { p.apiKey = key }
}

// WithModel sets the default model.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithMaxTokens sets the default response cap.
func WithMaxTokens(n int) Option {
	return func(p *Provider) { p.maxTokens = n }
}

// New creates a Provider. The API key comes from GEMINI_API_KEY or
// GOOGLE_API_KEY unless overridden.
func New(opts ...Option) *Provider {
	var apiKey string
	if value := os.Getenv("GEMINI_API_KEY"); value != "" {
		apiKey = value
	} else if value := os.Getenv("GOOGLE_API_KEY"); value != "" {
		apiKey = value
	}
	p := &Provider{
		apiKey:        apiKey,
		model:         DefaultModel,
		maxTokens:     DefaultMaxTokens,
		maxRetries:    DefaultMaxRetries,
		retryBaseWait: DefaultRetryBaseWait,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) initClient(ctx context.Context) (*genai.Client, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.client != nil {
		return p.client, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: p.apiKey})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	p.client = client
	return p.client, nil
}

func (p *Provider) Name() string {
	return ProviderName
}

// GenerateStream starts a streaming generation call.
func (p *Provider) GenerateStream(ctx context.Context, messages []*llm.Message, opts ...llm.GenerateOption) (llm.Stream, error) {
	client, err := p.initClient(ctx)
	if err != nil {
		return nil, err
	}
	config := &llm.GenerateConfig{Model: p.model}
	config.Apply(opts...)

	contents := messagesToContents(messages)
	genConfig := p.buildGenerateConfig(config)

	seq := client.Models.GenerateContentStream(ctx, config.Model, contents, genConfig)
	return newStream(ctx, seq), nil
}

func (p *Provider) buildGenerateConfig(config *llm.GenerateConfig) *genai.GenerateContentConfig {
	genConfig := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(p.maxTokens),
	}
	if config.MaxOutputTokens != nil {
		genConfig.MaxOutputTokens = int32(*config.MaxOutputTokens)
	}
	if config.Temperature != nil {
		t := float32(*config.Temperature)
		genConfig.Temperature = &t
	}
	// A cached-content reference already carries the system instruction;
	// sending both is rejected by the API.
	if config.CachedContent != "" {
		genConfig.CachedContent = config.CachedContent
	} else if config.SystemInstruction != "" {
		genConfig.SystemInstruction = genai.NewContentFromText(config.SystemInstruction, genai.RoleUser)
	}
	if config.JSONResponse {
		genConfig.ResponseMIMEType = "application/json"
	}
	if config.IncludeThoughts {
		genConfig.ThinkingConfig = &genai.ThinkingConfig{IncludeThoughts: true}
	}
	return genConfig
}

// CountTokens returns the prompt token count for the given messages.
func (p *Provider) CountTokens(ctx context.Context, model string, messages []*llm.Message) (int, error) {
	client, err := p.initClient(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", llm.ErrTokenCountUnavailable, err)
	}
	if model == "" {
		model = p.model
	}
	var count int
	err = retry.Do(ctx, func() error {
		resp, err := client.Models.CountTokens(ctx, model, messagesToContents(messages), nil)
		if err != nil {
			return err
		}
		count = int(resp.TotalTokens)
		return nil
	}, retry.WithMaxRetries(p.maxRetries), retry.WithBaseWait(p.retryBaseWait))
	if err != nil {
		return 0, fmt.Errorf("%w: %w", llm.ErrTokenCountUnavailable, err)
	}
	return count, nil
}

// Models lists the generative models available to the account.
func (p *Provider) Models(ctx context.Context) ([]llm.ModelInfo, error) {
	client, err := p.initClient(ctx)
	if err != nil {
		return nil, err
	}
	var models []llm.ModelInfo
	for model, err := range client.Models.All(ctx) {
		if err != nil {
			return nil, err
		}
		models = append(models, llm.ModelInfo{
			ID:          model.Name,
			DisplayName: model.DisplayName,
		})
	}
	return models, nil
}

// CreateCache creates a server-side cached-content resource.
func (p *Provider) CreateCache(ctx context.Context, params llm.CreateCacheParams) (*llm.CacheInfo, error) {
	client, err := p.initClient(ctx)
	if err != nil {
		return nil, err
	}
	cacheConfig := &genai.CreateCachedContentConfig{
		Contents:    messagesToContents(params.Messages),
		DisplayName: params.DisplayName,
		TTL:         params.TTL,
	}
	if params.SystemInstruction != "" {
		cacheConfig.SystemInstruction = genai.NewContentFromText(params.SystemInstruction, genai.RoleUser)
	}
	cached, err := client.Caches.Create(ctx, params.Model, cacheConfig)
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	return cacheInfo(cached), nil
}

// GetCache fetches a cached-content resource by name.
func (p *Provider) GetCache(ctx context.Context, name string) (*llm.CacheInfo, error) {
	client, err := p.initClient(ctx)
	if err != nil {
		return nil, err
	}
	cached, err := client.Caches.Get(ctx, name, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, llm.ErrCacheNotFound
		}
		return nil, err
	}
	return cacheInfo(cached), nil
}

// UpdateCacheTTL extends the cache lifetime.
func (p *Provider) UpdateCacheTTL(ctx context.Context, name string, ttl time.Duration) (*llm.CacheInfo, error) {
	client, err := p.initClient(ctx)
	if err != nil {
		return nil, err
	}
	cached, err := client.Caches.Update(ctx, name, &genai.UpdateCachedContentConfig{TTL: ttl})
	if err != nil {
		if isNotFound(err) {
			return nil, llm.ErrCacheNotFound
		}
		return nil, err
	}
	return cacheInfo(cached), nil
}

// DeleteCache destroys a cached-content resource.
func (p *Provider) DeleteCache(ctx context.Context, name string) error {
	client, err := p.initClient(ctx)
	if err != nil {
		return err
	}
	if _, err := client.Caches.Delete(ctx, name, nil); err != nil {
		if isNotFound(err) {
			return llm.ErrCacheNotFound
		}
		return err
	}
	return nil
}

// UploadFile stores the knowledge base as a plain file, the fallback used
// when caching is disabled.
func (p *Provider) UploadFile(ctx context.Context, displayName string, r io.Reader, mimeType string) (*llm.FileInfo, error) {
	client, err := p.initClient(ctx)
	if err != nil {
		return nil, err
	}
	file, err := client.Files.Upload(ctx, r, &genai.UploadFileConfig{
		DisplayName: displayName,
		MIMEType:    mimeType,
	})
	if err != nil {
		return nil, fmt.Errorf("upload file: %w", err)
	}
	return &llm.FileInfo{Name: file.Name, URI: file.URI}, nil
}

// IsFileAvailable reports whether an uploaded file is still live and usable.
func (p *Provider) IsFileAvailable(ctx context.Context, name string) (bool, error) {
	client, err := p.initClient(ctx)
	if err != nil {
		return false, err
	}
	file, err := client.Files.Get(ctx, name, nil)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return file.State == genai.FileStateActive, nil
}

// DeleteAllFiles removes every file owned by this API key.
func (p *Provider) DeleteAllFiles(ctx context.Context) error {
	client, err := p.initClient(ctx)
	if err != nil {
		return err
	}
	for file, err := range client.Files.All(ctx) {
		if err != nil {
			return err
		}
		if _, err := client.Files.Delete(ctx, file.Name, nil); err != nil && !isNotFound(err) {
			return err
		}
	}
	return nil
}

func cacheInfo(cached *genai.CachedContent) *llm.CacheInfo {
	info := &llm.CacheInfo{
		Name:       cached.Name,
		Model:      cached.Model,
		CreateTime: cached.CreateTime,
		ExpireTime: cached.ExpireTime,
	}
	if cached.UsageMetadata != nil {
		info.TokenCount = int(cached.UsageMetadata.TotalTokenCount)
	}
	return info
}

func isNotFound(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == 404 || apiErr.Code == 403
	}
	return false
}
