package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/grunted/grunts/internal/config"
	"github.com/grunted/grunts/internal/errs"
)

func testRegistry(t *testing.T, providers map[string]config.ProviderConfig) *Registry {
	t.Helper()
	r := NewRegistry()
	cfg := &config.Config{
		Providers:       providers,
		ModelConfigPath: "does-not-exist.yaml", // built-in catalogs
	}
	if err := r.Initialize(cfg); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return r
}

func TestRegistryNoProviders(t *testing.T) {
	r := NewRegistry()
	err := r.Initialize(&config.Config{Providers: map[string]config.ProviderConfig{}, ModelConfigPath: "none.yaml"})
	if !errs.IsKind(err, errs.KindNoProviders) {
		t.Fatalf("err = %v, want no_providers_configured", err)
	}
	// Idempotent: second call returns the same result without rebuilding
	if err2 := r.Initialize(&config.Config{}); !errs.IsKind(err2, errs.KindNoProviders) {
		t.Fatalf("second Initialize = %v", err2)
	}
}

func TestRegistryResolution(t *testing.T) {
	r := testRegistry(t, map[string]config.ProviderConfig{
		"openai": {APIKey: "test-key"},
	})
	ctx := context.Background()

	p, canonical, err := r.GetProviderForModel(ctx, "o3-mini")
	if err != nil {
		t.Fatalf("resolve o3-mini: %v", err)
	}
	if p.Name() != DriverOpenAI || canonical != "o3-mini" {
		t.Errorf("got %s/%s", p.Name(), canonical)
	}

	// Alias resolution is case-insensitive and yields the canonical name
	_, canonical, err = r.GetProviderForModel(ctx, "O3Mini")
	if err != nil {
		t.Fatalf("resolve alias: %v", err)
	}
	if canonical != "o3-mini" {
		t.Errorf("alias resolved to %q, want o3-mini", canonical)
	}

	if _, _, err := r.GetProviderForModel(ctx, "no-such-model"); !errs.IsKind(err, errs.KindUnknownModel) {
		t.Errorf("unknown model err = %v", err)
	}
	if _, _, err := r.GetProviderForModel(ctx, "auto"); !errs.IsKind(err, errs.KindAutoNotResolved) {
		t.Errorf("auto err = %v", err)
	}
}

func TestRegistryRestriction(t *testing.T) {
	r := testRegistry(t, map[string]config.ProviderConfig{
		"openai": {APIKey: "test-key", Allowed: []string{"o3-mini"}},
	})
	ctx := context.Background()

	if _, _, err := r.GetProviderForModel(ctx, "o3-mini"); err != nil {
		t.Fatalf("allowlisted model rejected: %v", err)
	}
	// o3 matches no allowlist entry ("o3" is not a substring match of the
	// entry "o3-mini"; the entry must appear inside the model name)
	if _, _, err := r.GetProviderForModel(ctx, "o3"); !errs.IsKind(err, errs.KindModelRestricted) {
		t.Fatalf("o3 err = %v, want model_restricted", err)
	}
	// Aliases cannot dodge the allowlist: restriction is checked on the
	// canonical name
	if _, canonical, err := r.GetProviderForModel(ctx, "o3mini"); err != nil || canonical != "o3-mini" {
		t.Fatalf("alias of allowlisted model: %v (%s)", err, canonical)
	}

	models := r.AvailableModels(ctx, true)
	for _, m := range models {
		if m == "o3" || m == "gpt-4.1" {
			t.Errorf("restricted model %q listed as available", m)
		}
	}
	all := r.AvailableModels(ctx, false)
	if len(all) <= len(models) {
		t.Errorf("unrestricted listing (%d) should exceed restricted (%d)", len(all), len(models))
	}
}

func TestRegistryPriorityOrder(t *testing.T) {
	r := testRegistry(t, map[string]config.ProviderConfig{
		"openai":     {APIKey: "k1"},
		"gemini":     {APIKey: "k2"},
		"openrouter": {APIKey: "k3"},
	})

	// Native providers outrank the aggregator for category selection
	if got := r.Representative(CategoryFast); got != "gemini-2.5-flash" {
		t.Errorf("fast representative = %q, want gemini-2.5-flash", got)
	}
	if got := r.Representative(CategoryReasoning); got != "gemini-2.5-pro" {
		t.Errorf("reasoning representative = %q, want gemini-2.5-pro", got)
	}

	// Vendor-prefixed names route to the aggregator even when unlisted
	p, _, err := r.GetProviderForModel(context.Background(), "mistralai/mistral-large")
	if err != nil {
		t.Fatalf("aggregator claim: %v", err)
	}
	if p.Name() != DriverOpenRouter {
		t.Errorf("claimed by %s, want openrouter", p.Name())
	}
}

func TestClassifyModelProvider(t *testing.T) {
	cases := map[string]string{
		"gemini-2.5-pro":       DriverGemini,
		"o3-mini":              DriverOpenAI,
		"gpt-4.1":              DriverOpenAI,
		"claude-sonnet-4-5":    DriverAnthropic,
		"vendor/model":         DriverOpenRouter,
		"qwen2.5-coder:7b":     DriverCustom,
	}
	for name, want := range cases {
		if got := ClassifyModelProvider(name); got != want {
			t.Errorf("ClassifyModelProvider(%q) = %s, want %s", name, got, want)
		}
	}
}

func TestDeferredCustomCatalogLoadsBeforeRouting(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			http.NotFound(w, r)
			return
		}
		hits++
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":[{"id":"local-llama"}]}`)
	}))
	defer srv.Close()

	r := testRegistry(t, map[string]config.ProviderConfig{
		"custom": {BaseURL: srv.URL},
	})
	ctx := context.Background()

	// A model the endpoint serves but no config declares must still route:
	// the first lookup loads the remote catalog before the claim check.
	p, canonical, err := r.GetProviderForModel(ctx, "local-llama")
	if err != nil {
		t.Fatalf("resolve discovered model: %v", err)
	}
	if p.Name() != DriverCustom || canonical != "local-llama" {
		t.Errorf("got %s/%s", p.Name(), canonical)
	}
	if hits == 0 {
		t.Error("catalog endpoint never queried")
	}

	found := false
	for _, m := range r.AvailableModels(ctx, true) {
		if m == "local-llama" {
			found = true
		}
	}
	if !found {
		t.Error("discovered model missing from available models")
	}

	if _, ok := r.Capabilities(ctx, "local-llama"); !ok {
		t.Error("no capabilities for discovered model")
	}
}

func TestRegistryCooldown(t *testing.T) {
	r := testRegistry(t, map[string]config.ProviderConfig{
		"gemini": {APIKey: "k1"},
		"openai": {APIKey: "k2"},
	})

	r.MarkFailure(DriverGemini)
	if !r.InCooldown(DriverGemini) {
		t.Fatal("gemini should be cooling down")
	}
	// Auto selection skips the cooling provider
	if got := r.Representative(CategoryReasoning); got != "o3" {
		t.Errorf("representative during cooldown = %q, want o3", got)
	}
	r.MarkSuccess(DriverGemini)
	if r.InCooldown(DriverGemini) {
		t.Error("cooldown should clear after success")
	}
}

func TestCooldownSurvivesLongFailureStreak(t *testing.T) {
	r := testRegistry(t, map[string]config.ProviderConfig{
		"openai": {APIKey: "test-key"},
	})

	for i := 0; i < 40; i++ {
		r.MarkFailure(DriverOpenAI)
	}
	if !r.InCooldown(DriverOpenAI) {
		t.Fatal("provider should still be cooling down after a long streak")
	}
	st := r.Status()
	if len(st) != 1 || !st[0].InCooldown {
		t.Fatalf("status = %+v", st)
	}
	if st[0].Until.After(time.Now().Add(cooldownMax + time.Minute)) {
		t.Errorf("cooldown until %v exceeds the cap", st[0].Until)
	}
}
