// Package llm defines the provider contract used by the narrative engine:
// streaming generation, token counting, prompt-cache CRUD, and a file-upload
// fallback for providers without cache support. Concrete providers live in
// the subpackages gemini and openaicompat.
package llm

import (
	"context"
	"errors"
	"io"
	"time"
)

// Sentinel errors shared by all providers.
var (
	// ErrCacheNotFound indicates the remote cache resource no longer exists.
	ErrCacheNotFound = errors.New("llm: cache not found")

	// ErrCachingUnsupported is returned by providers that have no
	// server-side prompt cache. Callers fall back to uploading the
	// knowledge base as a plain file, or to inlining it.
	ErrCachingUnsupported = errors.New("llm: caching unsupported")

	// ErrFilesUnsupported is returned by providers without file storage.
	ErrFilesUnsupported = errors.New("llm: file storage unsupported")

	// ErrTokenCountUnavailable indicates the remote tokenizer failed.
	// Callers should degrade to EstimateTokens.
	ErrTokenCountUnavailable = errors.New("llm: token count unavailable")
)

// Provider generates narrative content. All methods are non-blocking beyond
// the lifetime of the passed context; cancelling the context cancels the call.
type Provider interface {
	Name() string

	// GenerateStream starts a streaming generation over the given messages.
	GenerateStream(ctx context.Context, messages []*Message, opts ...GenerateOption) (Stream, error)

	// CountTokens returns the prompt token count for the given messages.
	// Returns an error wrapping ErrTokenCountUnavailable on failure.
	CountTokens(ctx context.Context, model string, messages []*Message) (int, error)

	// Models lists the models this provider can serve.
	Models(ctx context.Context) ([]ModelInfo, error)
}

// CacheService manages server-side prompt caches. Providers that cannot
// cache return ErrCachingUnsupported from CreateCache.
type CacheService interface {
	CreateCache(ctx context.Context, params CreateCacheParams) (*CacheInfo, error)
	GetCache(ctx context.Context, name string) (*CacheInfo, error)
	UpdateCacheTTL(ctx context.Context, name string, ttl time.Duration) (*CacheInfo, error)
	DeleteCache(ctx context.Context, name string) error
}

// FileService is the fallback storage used when caching is unsupported or
// disabled. At most one uploaded knowledge file is kept alive per session.
type FileService interface {
	UploadFile(ctx context.Context, displayName string, r io.Reader, mimeType string) (*FileInfo, error)
	IsFileAvailable(ctx context.Context, name string) (bool, error)
	DeleteAllFiles(ctx context.Context) error
}

// CreateCacheParams describes a prompt cache to create.
type CreateCacheParams struct {
	Model             string
	SystemInstruction string
	Messages          []*Message
	TTL               time.Duration
	DisplayName       string
}

// CacheInfo describes a live server-side prompt cache.
type CacheInfo struct {
	Name       string    `json:"name"`
	Model      string    `json:"model"`
	TokenCount int       `json:"token_count"`
	CreateTime time.Time `json:"create_time"`
	ExpireTime time.Time `json:"expire_time"`
}

// FileInfo describes an uploaded knowledge file.
type FileInfo struct {
	Name string `json:"name"`
	URI  string `json:"uri"`
}

// ModelInfo identifies a servable model.
type ModelInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
}
