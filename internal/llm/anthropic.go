package llm

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/grunted/grunts/internal/errs"
	. "github.com/grunted/grunts/internal/logging"
)

// AnthropicProvider implements Provider for Anthropic's Claude API using
// the first-party SDK.
type AnthropicProvider struct {
	client  anthropic.Client
	catalog []ModelCapabilities
}

// defaultAnthropicMaxTokens caps completions when the caller does not.
const defaultAnthropicMaxTokens = 8192

// NewAnthropicProvider creates the Anthropic driver.
func NewAnthropicProvider(apiKey, baseURL string, catalog []ModelCapabilities) (*AnthropicProvider, error) {
	if apiKey == "" {
		return nil, errs.E(errs.KindProviderFatal, "anthropic API key not configured")
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	L_debug("llm: provider created", "driver", DriverAnthropic, "baseURL", displayURL(baseURL), "models", len(catalog))

	return &AnthropicProvider{
		client:  anthropic.NewClient(opts...),
		catalog: catalog,
	}, nil
}

// Name implements Provider.
func (p *AnthropicProvider) Name() string { return DriverAnthropic }

// Ready implements Provider. The catalog is static.
func (p *AnthropicProvider) Ready(context.Context) error { return nil }

// Models implements Provider.
func (p *AnthropicProvider) Models() []ModelCapabilities {
	return append([]ModelCapabilities(nil), p.catalog...)
}

// ClaimsModel implements Provider.
func (p *AnthropicProvider) ClaimsModel(name string) bool {
	_, ok := p.Capabilities(name)
	return ok
}

// Capabilities implements Provider.
func (p *AnthropicProvider) Capabilities(name string) (*ModelCapabilities, bool) {
	for i := range p.catalog {
		if p.catalog[i].Matches(name) {
			m := p.catalog[i]
			return &m, true
		}
	}
	return nil, false
}

// Representative implements Provider.
func (p *AnthropicProvider) Representative(category string) string {
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
func (p *AnthropicProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages:  encodeAnthropicMessages(req.Messages),
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}
	params.Temperature = anthropic.Float(req.Temperature)
	if len(req.Stop) > 0 {
		params.StopSequences = req.Stop
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, ClassifyProviderError(DriverAnthropic, err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return &Response{
		Text:         text,
		Model:        string(msg.Model),
		StopReason:   string(msg.StopReason),
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}, nil
}

// encodeAnthropicMessages maps normalized messages onto SDK params,
// attaching images as base64 blocks.
func encodeAnthropicMessages(messages []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		blocks := []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(m.Content)}
		for _, img := range m.Images {
			blocks = append(blocks, anthropic.NewImageBlockBase64(img.MimeType, img.Data))
		}
		if m.Role == RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out
}
