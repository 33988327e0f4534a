package llm

import (
	"os"
	"path/filepath"
	"testing"
)

const testCatalog = `
models:
  - provider: openai
    model_name: o3-mini
    friendly_name: OpenAI o3-mini
    aliases: [o3mini]
    context_window: 200000
    supports_extended_thinking: true
    supports_system_prompts: true
    temperature: "fixed:1"

  - provider: custom
    model_name: local-llama
    context_window: 8192
    custom_only: true
    temperature: "range:0:2:0.7"
`

func TestLoadModelConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	if err := os.WriteFile(path, []byte(testCatalog), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadModelConfig(path)
	if err != nil {
		t.Fatalf("LoadModelConfig: %v", err)
	}
	if len(cfg.Models) != 2 {
		t.Fatalf("got %d models, want 2", len(cfg.Models))
	}

	oai := cfg.ForProvider("openai")
	if len(oai) != 1 || oai[0].ModelName != "o3-mini" {
		t.Fatalf("ForProvider(openai) = %+v", oai)
	}
	if !oai[0].Matches("O3MINI") {
		t.Error("alias match should be case-insensitive")
	}
	if _, ok := oai[0].Temperature.(FixedTemperature); !ok {
		t.Errorf("temperature parsed as %T, want FixedTemperature", oai[0].Temperature)
	}
	if oai[0].Category() != CategoryReasoning {
		t.Errorf("category = %s, want reasoning", oai[0].Category())
	}

	custom := cfg.ForProvider("custom")
	if len(custom) != 1 || !custom[0].CustomOnly {
		t.Fatalf("ForProvider(custom) = %+v", custom)
	}
}

func TestLoadModelConfigMissingFile(t *testing.T) {
	cfg, err := LoadModelConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if len(cfg.Models) != 0 {
		t.Fatalf("got %d models from missing file", len(cfg.Models))
	}
}

func TestLoadModelConfigRejectsBadEntries(t *testing.T) {
	dir := t.TempDir()

	noName := filepath.Join(dir, "noname.yaml")
	os.WriteFile(noName, []byte("models:\n  - provider: openai\n    context_window: 100\n"), 0644)
	if _, err := LoadModelConfig(noName); err == nil {
		t.Error("entry without model_name accepted")
	}

	badTemp := filepath.Join(dir, "badtemp.yaml")
	os.WriteFile(badTemp, []byte("models:\n  - provider: openai\n    model_name: m\n    temperature: \"fixed:x\"\n"), 0644)
	if _, err := LoadModelConfig(badTemp); err == nil {
		t.Error("bad temperature spec accepted")
	}
}
