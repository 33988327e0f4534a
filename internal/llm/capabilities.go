package llm

import "strings"

// ModelCapabilities describes one model entry in a provider's catalog.
// ModelName is the canonical routing key; aliases resolve to it
// case-insensitively.
type ModelCapabilities struct {
	ModelName    string   `yaml:"model_name" json:"model_name"`
	FriendlyName string   `yaml:"friendly_name" json:"friendly_name"`
	Aliases      []string `yaml:"aliases" json:"aliases,omitempty"`

	ContextWindow int `yaml:"context_window" json:"context_window"`
	MaxImageMB    int `yaml:"max_image_mb" json:"max_image_mb,omitempty"`

	SupportsExtendedThinking bool `yaml:"supports_extended_thinking" json:"supports_extended_thinking"`
	SupportsSystemPrompts    bool `yaml:"supports_system_prompts" json:"supports_system_prompts"`
	SupportsStreaming        bool `yaml:"supports_streaming" json:"supports_streaming"`
	SupportsJSONMode         bool `yaml:"supports_json_mode" json:"supports_json_mode"`
	SupportsFunctionCalling  bool `yaml:"supports_function_calling" json:"supports_function_calling"`
	SupportsImages           bool `yaml:"supports_images" json:"supports_images"`

	// CustomOnly marks catalog entries served exclusively by the configured
	// custom endpoint (never routed to first-party APIs or the aggregator).
	CustomOnly bool `yaml:"custom_only" json:"custom_only,omitempty"`

	Temperature TemperatureConstraint `yaml:"-" json:"-"`

	// TemperatureSpec is the declarative form parsed from the model-config
	// document; see parseTemperatureSpec.
	TemperatureSpec string `yaml:"temperature" json:"-"`
}

// Constraint returns the model's temperature constraint, falling back to
// the generic default.
func (m *ModelCapabilities) Constraint() TemperatureConstraint {
	if m != nil && m.Temperature != nil {
		return m.Temperature
	}
	return DefaultTemperature
}

// Matches reports whether name equals the canonical name or any alias,
// case-insensitively.
func (m *ModelCapabilities) Matches(name string) bool {
	if strings.EqualFold(m.ModelName, name) {
		return true
	}
	for _, a := range m.Aliases {
		if strings.EqualFold(a, name) {
			return true
		}
	}
	return false
}

// Category buckets the model for auto selection: models with extended
// thinking are "reasoning", small-context models are "fast".
func (m *ModelCapabilities) Category() string {
	if m.SupportsExtendedThinking {
		return CategoryReasoning
	}
	return CategoryFast
}
