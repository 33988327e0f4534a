package llm

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ModelConfig is the declarative model catalog consumed at registry
// initialization. It lists canonical model names, their aliases, context
// windows, feature flags, and whether they are custom-endpoint-only.
type ModelConfig struct {
	Models []ModelConfigEntry `yaml:"models"`
}

// ModelConfigEntry is one catalog row. Provider names the driver that owns
// the model ("gemini", "openai", "anthropic", "custom", "openrouter").
type ModelConfigEntry struct {
	Provider          string `yaml:"provider"`
	ModelCapabilities `yaml:",inline"`
}

// LoadModelConfig reads and parses the yaml model catalog. A missing file
// is not an error; providers then fall back to their built-in catalogs.
func LoadModelConfig(path string) (*ModelConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ModelConfig{}, nil
		}
		return nil, fmt.Errorf("read model config: %w", err)
	}

	var cfg ModelConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse model config: %w", err)
	}

	for i := range cfg.Models {
		entry := &cfg.Models[i]
		if entry.ModelName == "" {
			return nil, fmt.Errorf("model config: entry %d missing model_name", i)
		}
		c, err := parseTemperatureSpec(entry.TemperatureSpec)
		if err != nil {
			return nil, fmt.Errorf("model config: %s: %w", entry.ModelName, err)
		}
		entry.Temperature = c
	}

	return &cfg, nil
}

// ForProvider returns the catalog entries owned by driver.
func (c *ModelConfig) ForProvider(driver string) []ModelCapabilities {
	var out []ModelCapabilities
	for _, entry := range c.Models {
		if strings.EqualFold(entry.Provider, driver) {
			out = append(out, entry.ModelCapabilities)
		}
	}
	return out
}

// parseTemperatureSpec parses the declarative temperature field:
//
//	""                      -> default range [0,2] with 0.5
//	"fixed:1"               -> FixedTemperature{1}
//	"range:0:2:0.7"         -> RangeTemperature{0, 2, 0.7}
//	"discrete:0.2,0.7,1:0.7"-> DiscreteTemperature{{0.2,0.7,1}, 0.7}
func parseTemperatureSpec(spec string) (TemperatureConstraint, error) {
	if spec == "" {
		return DefaultTemperature, nil
	}

	parts := strings.Split(spec, ":")
	switch parts[0] {
	case "fixed":
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid fixed temperature spec %q", spec)
		}
		v, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid fixed temperature spec %q", spec)
		}
		return FixedTemperature{Value: v}, nil

	case "range":
		if len(parts) != 4 {
			return nil, fmt.Errorf("invalid range temperature spec %q", spec)
		}
		lo, err1 := strconv.ParseFloat(parts[1], 64)
		hi, err2 := strconv.ParseFloat(parts[2], 64)
		def, err3 := strconv.ParseFloat(parts[3], 64)
		if err1 != nil || err2 != nil || err3 != nil || lo > hi {
			return nil, fmt.Errorf("invalid range temperature spec %q", spec)
		}
		return RangeTemperature{Lo: lo, Hi: hi, Def: def}, nil

	case "discrete":
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid discrete temperature spec %q", spec)
		}
		var values []float64
		for _, s := range strings.Split(parts[1], ",") {
			v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return nil, fmt.Errorf("invalid discrete temperature spec %q", spec)
			}
			values = append(values, v)
		}
		def, err := strconv.ParseFloat(parts[2], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid discrete temperature spec %q", spec)
		}
		return NewDiscreteTemperature(def, values...), nil

	default:
		return nil, fmt.Errorf("unknown temperature spec %q", spec)
	}
}

// ClassifyModelProvider maps a model name to the driver used for
// restriction checks. Models containing "/" are aggregator-routed; known
// prefixes map to their native APIs.
func ClassifyModelProvider(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "/"):
		return DriverOpenRouter
	case strings.HasPrefix(lower, "gemini"):
		return DriverGemini
	case strings.HasPrefix(lower, "claude"):
		return DriverAnthropic
	case strings.HasPrefix(lower, "gpt") || strings.HasPrefix(lower, "o3") ||
		strings.HasPrefix(lower, "o4") || strings.HasPrefix(lower, "chatgpt"):
		return DriverOpenAI
	default:
		return DriverCustom
	}
}
