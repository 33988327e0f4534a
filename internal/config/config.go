// Package config loads the merged Grunts configuration.
// Precedence: built-in defaults < grunts.json < environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
)

// Defaults
const (
	DefaultMaxTurns             = 20
	DefaultTimeoutHours         = 3
	DefaultPromptSizeLimit      = 50_000
	DefaultBasePort             = 3031
	DefaultDashboardListen      = "127.0.0.1:3030"
	DefaultRedisURL             = "redis://localhost:6379/0"
	DefaultMaxExecutionSeconds  = 1800
	DefaultAssessmentIntervalS  = 1800
	DefaultModelConfigPath      = "conf/models.yaml"
	DefaultUniversalSmallModel  = "qwen2.5-coder:7b"
)

// ProviderConfig holds per-provider credentials and policy.
type ProviderConfig struct {
	APIKey  string   `json:"apiKey"`
	BaseURL string   `json:"baseUrl,omitempty"`
	Allowed []string `json:"allowed,omitempty"` // allowlist; empty = no restriction
}

// Config represents the merged Grunts configuration
type Config struct {
	// Providers, keyed by driver name: "gemini", "openai", "anthropic",
	// "custom", "openrouter"
	Providers map[string]ProviderConfig `json:"providers"`

	DefaultModel       string `json:"defaultModel"`       // "auto" delegates selection to the pipeline
	DefaultVisionModel string `json:"defaultVisionModel"` // preferred model when images are present

	ModelConfigPath string `json:"modelConfigPath"` // declarative model catalog (yaml)

	RedisURL             string `json:"redisUrl"`
	ConversationTimeoutH int    `json:"conversationTimeoutHours"`
	MaxConversationTurns int    `json:"maxConversationTurns"`
	PromptSizeLimit      int    `json:"promptSizeLimit"`

	WorkspaceDir string `json:"workspaceDir"`
	BasePort     int    `json:"basePort"` // worker N serves on BasePort+N

	DashboardListen string `json:"dashboardListen"`

	MaxExecutionSeconds       int `json:"maxExecutionSeconds"`
	AssessmentIntervalSeconds int `json:"assessmentIntervalSeconds"`
}

// Load reads configuration from grunts.json (if present) over built-in
// defaults, then applies environment overrides. Environment always wins.
func Load() (*Config, error) {
	cfg := defaults()

	path := configPath()
	if data, err := os.ReadFile(path); err == nil {
		var file Config
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if err := mergo.Merge(cfg, file, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merge %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if cfg.WorkspaceDir == "" {
		home, _ := os.UserHomeDir()
		cfg.WorkspaceDir = filepath.Join(home, ".grunts", "workspace")
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Providers:                 map[string]ProviderConfig{},
		DefaultModel:              "auto",
		ModelConfigPath:           DefaultModelConfigPath,
		RedisURL:                  DefaultRedisURL,
		ConversationTimeoutH:      DefaultTimeoutHours,
		MaxConversationTurns:      DefaultMaxTurns,
		PromptSizeLimit:           DefaultPromptSizeLimit,
		BasePort:                  DefaultBasePort,
		DashboardListen:           DefaultDashboardListen,
		MaxExecutionSeconds:       DefaultMaxExecutionSeconds,
		AssessmentIntervalSeconds: DefaultAssessmentIntervalS,
	}
}

// ConversationTTL returns the thread inactivity window as a duration.
func (c *Config) ConversationTTL() time.Duration {
	return time.Duration(c.ConversationTimeoutH) * time.Hour
}

func configPath() string {
	if p := os.Getenv("GRUNTS_CONFIG"); p != "" {
		return p
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".grunts", "grunts.json")
}

// applyEnv copies recognized environment variables over the config.
func (c *Config) applyEnv() {
	// Credentials and endpoints. A provider is enabled iff its credential is
	// present (custom endpoints may run keyless, so the URL enables them).
	c.envProvider("gemini", "GEMINI_API_KEY", "", "GOOGLE_ALLOWED_MODELS")
	c.envProvider("openai", "OPENAI_API_KEY", "", "OPENAI_ALLOWED_MODELS")
	c.envProvider("anthropic", "ANTHROPIC_API_KEY", "", "ANTHROPIC_ALLOWED_MODELS")
	c.envProvider("custom", "CUSTOM_API_KEY", "CUSTOM_API_URL", "CUSTOM_ALLOWED_MODELS")
	c.envProvider("openrouter", "OPENROUTER_API_KEY", "OPENROUTER_API_URL", "OPENROUTER_ALLOWED_MODELS")

	if v := os.Getenv("DEFAULT_MODEL"); v != "" {
		c.DefaultModel = v
	}
	if v := os.Getenv("DEFAULT_VISION_MODEL"); v != "" {
		c.DefaultVisionModel = v
	}
	if v := os.Getenv("GRUNTS_MODEL_CONFIG"); v != "" {
		c.ModelConfigPath = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv("WORKSPACE_DIR"); v != "" {
		c.WorkspaceDir = v
	}
	if v, ok := envInt("CONVERSATION_TIMEOUT_HOURS"); ok {
		c.ConversationTimeoutH = v
	}
	if v, ok := envInt("MAX_CONVERSATION_TURNS"); ok {
		c.MaxConversationTurns = v
	}
	if v, ok := envInt("PROMPT_SIZE_LIMIT"); ok {
		c.PromptSizeLimit = v
	}
	if v, ok := envInt("GRUNTS_BASE_PORT"); ok {
		c.BasePort = v
	}
	if v := os.Getenv("GRUNTS_DASHBOARD_LISTEN"); v != "" {
		c.DashboardListen = v
	}
}

func (c *Config) envProvider(name, keyVar, urlVar, allowVar string) {
	pc := c.Providers[name]
	if v := os.Getenv(keyVar); v != "" {
		pc.APIKey = v
	}
	if urlVar != "" {
		if v := os.Getenv(urlVar); v != "" {
			pc.BaseURL = v
		}
	}
	if v := os.Getenv(allowVar); v != "" {
		pc.Allowed = splitList(v)
	}
	if pc.APIKey != "" || pc.BaseURL != "" || len(pc.Allowed) > 0 {
		c.Providers[name] = pc
	}
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
