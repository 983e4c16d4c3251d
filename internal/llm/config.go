package llm

import (
	"fmt"
	"strings"
)

const (
	ProviderOpenAI     = "openai"
	ProviderGemini     = "gemini"
	ProviderDeepSeek   = "deepseek"
	ProviderQwen       = "qwen"
	ProviderOpenRouter = "openrouter"
)

const defaultTimeoutSeconds = 120

var defaultAPIURLs = map[string]string{
	ProviderOpenAI:     "https://api.openai.com/v1",
	ProviderGemini:     "https://generativelanguage.googleapis.com/v1beta",
	ProviderDeepSeek:   "https://api.deepseek.com/v1",
	ProviderQwen:       "https://dashscope.aliyuncs.com/compatible-mode/v1",
	ProviderOpenRouter: "https://openrouter.ai/api/v1",
}

// Config holds the configuration for a model provider
//
// Provider selects the wire format: "gemini" uses the parts-based generateContent API,
// every other value uses the OpenAI-compatible chat-completions API.
//
// MaxTokens of 0 means "use the provider ceiling" (see MaxOutputTokens).
// Timeout is in seconds and bounds a whole request including a streamed body.
type Config struct {
	Provider    string  `json:"provider"`
	APIKey      string  `json:"api_key"`
	APIURL      string  `json:"api_url"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	Timeout     int     `json:"timeout"`
	SiteURL     string  `json:"site_url"`
	AppName     string  `json:"app_name"`
}

// DefaultAPIURL returns the public endpoint for a known provider, or "" when unknown.
func DefaultAPIURL(provider string) string {
	return defaultAPIURLs[strings.ToLower(provider)]
}

// KnownProvider reports whether provider names a supported backend.
func KnownProvider(provider string) bool {
	_, ok := defaultAPIURLs[strings.ToLower(strings.TrimSpace(provider))]
	return ok
}

// Normalize fills in defaults that can be derived from the provider.
func (c *Config) Normalize() {
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	if c.Provider == "" {
		c.Provider = ProviderOpenAI
	}
	if c.APIURL == "" {
		c.APIURL = DefaultAPIURL(c.Provider)
	}
	c.APIURL = strings.TrimRight(c.APIURL, "/")
	if c.Timeout == 0 {
		c.Timeout = defaultTimeoutSeconds
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("API key is required")
	}
	if c.APIURL == "" {
		return fmt.Errorf("API URL is required")
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("max tokens must not be negative")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if c.Timeout < 1 {
		return fmt.Errorf("timeout must be greater than 0")
	}
	return nil
}

// GetHeaders returns the headers for the OpenAI-compatible API request
func (c *Config) GetHeaders() map[string]string {
	headers := map[string]string{
		"Authorization": "Bearer " + c.APIKey,
		"Content-Type":  "application/json",
	}

	if c.SiteURL != "" {
		headers["HTTP-Referer"] = c.SiteURL
	}
	if c.AppName != "" {
		headers["X-Title"] = c.AppName
	}

	return headers
}

// EffectiveMaxTokens returns the configured ceiling or the provider table value.
func (c *Config) EffectiveMaxTokens() int {
	if c.MaxTokens > 0 {
		return c.MaxTokens
	}
	return MaxOutputTokens(c.Provider, c.Model)
}
