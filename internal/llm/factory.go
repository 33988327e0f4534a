package llm

import (
	"fmt"

	"github.com/grunted/grunts/internal/config"
)

// NewProvider creates a provider instance for a driver from config.
// The catalog comes from the model-config document when it declares models
// for the driver, otherwise from the built-in tables.
func NewProvider(driver string, cfg config.ProviderConfig, models *ModelConfig) (Provider, error) {
	catalog := models.ForProvider(driver)
	if len(catalog) == 0 {
		catalog = builtinCatalog(driver)
	}

	switch driver {
	case DriverGemini:
		return NewGeminiProvider(cfg.APIKey, catalog), nil
	case DriverOpenAI:
		return NewOpenAIProvider(cfg.APIKey, catalog), nil
	case DriverAnthropic:
		return NewAnthropicProvider(cfg.APIKey, cfg.BaseURL, catalog)
	case DriverCustom:
		return NewCustomProvider(cfg.APIKey, cfg.BaseURL, catalog)
	case DriverOpenRouter:
		return NewOpenRouterProvider(cfg.APIKey, cfg.BaseURL, catalog), nil
	default:
		return nil, fmt.Errorf("unknown provider driver: %s", driver)
	}
}

// enabled reports whether the driver has enough configuration to run.
// Custom endpoints may be keyless; everything else needs a credential.
func enabled(driver string, cfg config.ProviderConfig) bool {
	if driver == DriverCustom {
		return cfg.BaseURL != ""
	}
	return cfg.APIKey != ""
}
