package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"github.com/grunted/grunts/internal/errs"
	. "github.com/grunted/grunts/internal/logging"
)

// Default endpoints for the OpenAI-compatible drivers.
const (
	geminiCompatBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"
	openRouterBaseURL   = "https://openrouter.ai/api/v1"
)

// openRouterTransport adds Grunts attribution headers to OpenRouter requests
type openRouterTransport struct {
	base http.RoundTripper
}

func (t *openRouterTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("HTTP-Referer", "https://github.com/grunted/grunts")
	req.Header.Set("X-Title", "Grunts")
	if t.base == nil {
		return http.DefaultTransport.RoundTrip(req)
	}
	return t.base.RoundTrip(req)
}

// OpenAICompatProvider implements Provider for OpenAI-compatible APIs.
// One implementation serves four drivers: native OpenAI, Gemini via its
// OpenAI-compat endpoint, any configured custom endpoint (LM Studio,
// vLLM, Ollama, ...), and OpenRouter as the catch-all aggregator.
type OpenAICompatProvider struct {
	name    string // driver name: "openai", "gemini", "custom", "openrouter"
	client  *openai.Client
	baseURL string

	catalog   []ModelCapabilities
	catalogMu sync.RWMutex

	// Custom endpoints discover their catalog from /v1/models on first use.
	// readyOnce serializes that load exactly once; concurrent first calls
	// block inside Do until it completes.
	deferCatalog bool
	readyOnce    sync.Once
	readyErr     error
}

// newOpenAICompat builds the shared client. catalog may be nil for
// deferred-discovery endpoints.
func newOpenAICompat(name, apiKey, baseURL string, catalog []ModelCapabilities, deferCatalog bool) *OpenAICompatProvider {
	if apiKey == "" {
		apiKey = "not-needed" // local servers (LM Studio, Ollama) run keyless
	}

	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/v1") && !strings.HasSuffix(baseURL, "/v1/") &&
			!strings.HasSuffix(baseURL, "/openai") && !strings.HasSuffix(baseURL, "/openai/") {
			baseURL = strings.TrimSuffix(baseURL, "/") + "/v1"
		}
		config.BaseURL = baseURL
	}

	var transport http.RoundTripper = http.DefaultTransport
	if name == DriverOpenRouter {
		transport = &openRouterTransport{base: http.DefaultTransport}
	}
	config.HTTPClient = &http.Client{Transport: transport}

	L_debug("llm: provider created", "driver", name, "baseURL", displayURL(baseURL), "models", len(catalog))

	return &OpenAICompatProvider{
		name:         name,
		client:       openai.NewClientWithConfig(config),
		baseURL:      baseURL,
		catalog:      catalog,
		deferCatalog: deferCatalog,
	}
}

// NewOpenAIProvider creates the native OpenAI driver.
func NewOpenAIProvider(apiKey string, catalog []ModelCapabilities) *OpenAICompatProvider {
	return newOpenAICompat(DriverOpenAI, apiKey, "", catalog, false)
}

// NewGeminiProvider creates the Google driver via Gemini's OpenAI-compat
// endpoint.
func NewGeminiProvider(apiKey string, catalog []ModelCapabilities) *OpenAICompatProvider {
	return newOpenAICompat(DriverGemini, apiKey, geminiCompatBaseURL, catalog, false)
}

// NewOpenRouterProvider creates the aggregator driver. It claims any model
// name containing "/" in addition to its catalog.
func NewOpenRouterProvider(apiKey, baseURL string, catalog []ModelCapabilities) *OpenAICompatProvider {
	if baseURL == "" {
		baseURL = openRouterBaseURL
	}
	return newOpenAICompat(DriverOpenRouter, apiKey, baseURL, catalog, false)
}

// NewCustomProvider creates a driver for a configured OpenAI-compatible
// endpoint. Its catalog is discovered from /v1/models on first use, merged
// with any custom-only entries from the model config.
func NewCustomProvider(apiKey, baseURL string, catalog []ModelCapabilities) (*OpenAICompatProvider, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("custom provider requires a base URL")
	}
	return newOpenAICompat(DriverCustom, apiKey, baseURL, catalog, true), nil
}

// Name implements Provider.
func (p *OpenAICompatProvider) Name() string { return p.name }

// Ready implements Provider. For deferred-catalog endpoints the first call
// fetches the remote model list; later calls return the cached result.
func (p *OpenAICompatProvider) Ready(ctx context.Context) error {
	if !p.deferCatalog {
		return nil
	}
	p.readyOnce.Do(func() {
		list, err := p.client.ListModels(ctx)
		if err != nil {
			p.readyErr = ClassifyProviderError(p.name, err)
			L_warn("llm: custom catalog fetch failed", "baseURL", displayURL(p.baseURL), "error", err)
			return
		}
		p.catalogMu.Lock()
		defer p.catalogMu.Unlock()
		known := make(map[string]bool, len(p.catalog))
		for _, m := range p.catalog {
			known[strings.ToLower(m.ModelName)] = true
		}
		for _, m := range list.Models {
			if known[strings.ToLower(m.ID)] {
				continue
			}
			p.catalog = append(p.catalog, ModelCapabilities{
				ModelName:             m.ID,
				FriendlyName:          m.ID,
				ContextWindow:         32_768, // conservative default for undeclared models
				SupportsSystemPrompts: true,
				SupportsStreaming:     true,
				Temperature:           DefaultTemperature,
			})
		}
		L_info("llm: custom catalog loaded", "baseURL", displayURL(p.baseURL), "models", len(p.catalog))
	})
	return p.readyErr
}

// Models implements Provider.
func (p *OpenAICompatProvider) Models() []ModelCapabilities {
	p.catalogMu.RLock()
	defer p.catalogMu.RUnlock()
	return append([]ModelCapabilities(nil), p.catalog...)
}

// ClaimsModel implements Provider.
func (p *OpenAICompatProvider) ClaimsModel(name string) bool {
	if _, ok := p.Capabilities(name); ok {
		return true
	}
	// The aggregator accepts vendor-prefixed names it has never seen.
	return p.name == DriverOpenRouter && strings.Contains(name, "/")
}

// Capabilities implements Provider.
func (p *OpenAICompatProvider) Capabilities(name string) (*ModelCapabilities, bool) {
	p.catalogMu.RLock()
	defer p.catalogMu.RUnlock()
	for i := range p.catalog {
		if p.catalog[i].Matches(name) {
			m := p.catalog[i]
			return &m, true
		}
	}
	return nil, false
}

// Representative implements Provider.
func (p *OpenAICompatProvider) Representative(category string) string {
	p.catalogMu.RLock()
	defer p.catalogMu.RUnlock()
	if len(p.catalog) == 0 {
		return ""
	}
	if category == CategoryAll {
		return p.catalog[0].ModelName
	}
	for i := range p.catalog {
		if p.catalog[i].Category() == category {
			return p.catalog[i].ModelName
		}
	}
	return ""
}

// Complete implements Provider.
func (p *OpenAICompatProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, encodeOpenAIMessage(m))
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: float32(req.Temperature),
		Stop:        req.Stop,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.JSONMode {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, ClassifyProviderError(p.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, errs.E(errs.KindProviderUnavailable, "%s: empty completion", p.name)
	}

	choice := resp.Choices[0]
	return &Response{
		Text:         choice.Message.Content,
		Model:        resp.Model,
		StopReason:   string(choice.FinishReason),
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

// encodeOpenAIMessage maps a normalized message, attaching images as
// data-URI parts for vision models.
func encodeOpenAIMessage(m Message) openai.ChatCompletionMessage {
	role := openai.ChatMessageRoleUser
	if m.Role == RoleAssistant {
		role = openai.ChatMessageRoleAssistant
	}

	if len(m.Images) == 0 {
		return openai.ChatCompletionMessage{Role: role, Content: m.Content}
	}

	parts := []openai.ChatMessagePart{{
		Type: openai.ChatMessagePartTypeText,
		Text: m.Content,
	}}
	for _, img := range m.Images {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL: fmt.Sprintf("data:%s;base64,%s", img.MimeType, img.Data),
			},
		})
	}
	return openai.ChatCompletionMessage{Role: role, MultiContent: parts}
}

func displayURL(u string) string {
	if u == "" {
		return "(default)"
	}
	return u
}
