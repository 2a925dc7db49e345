package llm

// GenerateOption configures a single generation call.
type GenerateOption func(*GenerateConfig)

// GenerateConfig holds configuration for one generation call.
type GenerateConfig struct {
	Model             string
	SystemInstruction string

	// CachedContent is the resource name of an active server-side prompt
	// cache. When set, providers that support caching reference it instead
	// of re-sending the cached prefix.
	CachedContent string

	MaxOutputTokens *int
	Temperature     *float64

	// JSONResponse asks the provider for a JSON-typed response body.
	JSONResponse bool

	// IncludeThoughts asks the provider to stream reasoning text.
	IncludeThoughts bool
}

// Apply applies the given options to the config.
func (c *GenerateConfig) Apply(opts ...GenerateOption) {
	for _, opt := range opts {
		opt(c)
	}
}

// WithModel sets the model ID for the call.
func WithModel(model string) GenerateOption {
	return func(c *GenerateConfig) { c.Model = model }
}

// WithSystemInstruction sets the system instruction.
func WithSystemInstruction(text string) GenerateOption {
	return func(c *GenerateConfig) { c.SystemInstruction = text }
}

// WithCachedContent references an active prompt cache by resource name.
func WithCachedContent(name string) GenerateOption {
	return func(c *GenerateConfig) { c.CachedContent = name }
}

// WithMaxOutputTokens caps the response length.
func WithMaxOutputTokens(n int) GenerateOption {
	return func(c *GenerateConfig) { c.MaxOutputTokens = &n }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) GenerateOption {
	return func(c *GenerateConfig) { c.Temperature = &t }
}

// WithJSONResponse requests a JSON-typed response body.
func WithJSONResponse() GenerateOption {
	return func(c *GenerateConfig) { c.JSONResponse = true }
}

// WithThoughts requests streamed reasoning text.
func WithThoughts() GenerateOption {
	return func(c *GenerateConfig) { c.IncludeThoughts = true }
}
