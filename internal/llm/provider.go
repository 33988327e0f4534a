// Package llm provides unified LLM provider interfaces, the model registry,
// and per-driver implementations.
package llm

import (
	"context"
)

// Driver names, in registry priority order (first match wins, stable).
const (
	DriverGemini     = "gemini"
	DriverOpenAI     = "openai"
	DriverAnthropic  = "anthropic"
	DriverCustom     = "custom"
	DriverOpenRouter = "openrouter"
)

// ProviderPriority is the registry's resolution order. Native first-party
// APIs first, then the configured custom endpoint, then the catch-all
// aggregator.
var ProviderPriority = []string{
	DriverGemini,
	DriverOpenAI,
	DriverAnthropic,
	DriverCustom,
	DriverOpenRouter,
}

// Provider is the unified interface for all LLM backends.
// Implementations: OpenAICompatProvider (openai/gemini/custom/openrouter
// drivers), AnthropicProvider.
type Provider interface {
	// Identity
	Name() string // Driver name (e.g., "openai", "openrouter")

	// Ready blocks until the provider has finished any deferred
	// initialization (e.g., a remote model-catalog fetch). Providers with a
	// static catalog return immediately.
	Ready(ctx context.Context) error

	// Catalog
	Models() []ModelCapabilities
	ClaimsModel(name string) bool // canonical or alias, case-insensitive
	Capabilities(name string) (*ModelCapabilities, bool)

	// Representative returns the provider's preferred model for a tool
	// category ("reasoning", "fast", "all"). Empty if none fits.
	Representative(category string) string

	// Complete sends a non-streaming chat completion. Streaming backends are
	// consumed to completion before returning.
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Message represents a conversation message (provider-agnostic).
type Message struct {
	Role    string  `json:"role"` // "user", "assistant", "system"
	Content string  `json:"content"`
	Images  []Image `json:"images,omitempty"` // Attached images (vision models)
}

// Image represents an attached image for multimodal models
type Image struct {
	MimeType string `json:"mimeType"` // "image/jpeg", "image/png", etc.
	Data     string `json:"data"`     // Base64-encoded data
	Source   string `json:"source"`   // Original source path (for logging)
}

// Request captures the normalized parameters of a model invocation.
type Request struct {
	Model        string    // canonical model name
	SystemPrompt string    // never elided by context trimming
	Messages     []Message // ordered transcript, oldest first
	Temperature  float64   // already constraint-corrected by the pipeline
	MaxTokens    int       // 0 = provider default
	JSONMode     bool      // request structured JSON output where supported
	Stop         []string  // stop sequences
}

// Response is the normalized completion result.
type Response struct {
	Text         string
	Model        string // model that actually served the request
	StopReason   string // "stop", "length", "content_filter", provider-specific
	InputTokens  int
	OutputTokens int
}

// Roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Model categories declared by tools. "all" resolves to the
// highest-priority provider's representative model.
const (
	CategoryReasoning = "reasoning"
	CategoryFast      = "fast"
	CategoryAll       = "all"
)
