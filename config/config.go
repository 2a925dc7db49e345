// Package config loads engine settings from YAML or JSON files.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/storyloom/loom"
	"github.com/storyloom/loom/cost"
)

// Settings configures a narrative session.
type Settings struct {
	// Provider is "gemini" or "openai".
	Provider string `json:"provider" yaml:"provider"`

	// Model is the provider model ID.
	Model string `json:"model" yaml:"model"`

	// HistoryMode is "smart", "full", or "summarized". Default smart.
	HistoryMode loom.HistoryMode `json:"history_mode" yaml:"history_mode"`

	// SystemInstruction is the standing narrative instruction.
	SystemInstruction string `json:"system_instruction" yaml:"system_instruction"`

	// ActHeader is the one-time act-start header text.
	ActHeader string `json:"act_header" yaml:"act_header"`

	// KnowledgeDir holds the reference documents.
	KnowledgeDir string `json:"knowledge_dir" yaml:"knowledge_dir"`

	// CachingEnabled turns on the server-side prompt cache.
	CachingEnabled bool `json:"caching_enabled" yaml:"caching_enabled"`

	// CacheTTLSeconds is the requested cache lifetime. Default 3600.
	CacheTTLSeconds int `json:"cache_ttl_seconds" yaml:"cache_ttl_seconds"`

	// PostProcessTimeoutMS bounds each post-process transform.
	PostProcessTimeoutMS int `json:"post_process_timeout_ms" yaml:"post_process_timeout_ms"`

	// PricingOverrides replaces the built-in tier table per model ID.
	PricingOverrides map[string]cost.Pricing `json:"pricing_overrides,omitempty" yaml:"pricing_overrides,omitempty"`
}

// CacheTTL returns the cache lifetime as a duration.
func (s *Settings) CacheTTL() time.Duration {
	if s.CacheTTLSeconds <= 0 {
		return time.Hour
	}
	return time.Duration(s.CacheTTLSeconds) * time.Second
}

// PostProcessTimeout returns the transform timeout as a duration.
func (s *Settings) PostProcessTimeout() time.Duration {
	if s.PostProcessTimeoutMS <= 0 {
		return 2 * time.Second
	}
	return time.Duration(s.PostProcessTimeoutMS) * time.Millisecond
}

func (s *Settings) applyDefaults() {
	if s.HistoryMode == "" {
		s.HistoryMode = loom.HistoryModeSmart
	}
	if s.Provider == "" {
		s.Provider = "gemini"
	}
}

// ParseFile loads Settings from a file; the extension selects the format.
func ParseFile(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return ParseJSON(data)
	case ".yml", ".yaml":
		return ParseYAML(data)
	default:
		return nil, fmt.Errorf("unsupported settings extension: %s", path)
	}
}

// ParseYAML loads Settings from YAML. Unknown fields are rejected.
func ParseYAML(data []byte) (*Settings, error) {
	var s Settings
	if err := yaml.UnmarshalWithOptions(data, &s, yaml.Strict()); err != nil {
		return nil, err
	}
	s.applyDefaults()
	return &s, nil
}

// ParseJSON loads Settings from JSON.
func ParseJSON(data []byte) (*Settings, error) {
	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	s.applyDefaults()
	return &s, nil
}
