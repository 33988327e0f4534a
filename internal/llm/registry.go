package llm

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/grunted/grunts/internal/config"
	"github.com/grunted/grunts/internal/errs"
	. "github.com/grunted/grunts/internal/logging"
)

// cooldownBase is the first cooldown applied to a provider after a
// transient failure; it doubles per consecutive failure up to cooldownMax.
const (
	cooldownBase = 30 * time.Second
	cooldownMax  = 10 * time.Minute
)

// providerCooldown tracks backoff state for a provider after errors
type providerCooldown struct {
	until      time.Time
	errorCount int
}

// ProviderStatus is the dashboard view of one provider.
type ProviderStatus struct {
	Driver     string    `json:"driver"`
	Models     int       `json:"models"`
	InCooldown bool      `json:"in_cooldown"`
	Until      time.Time `json:"until,omitempty"`
}

// Registry resolves logical model names to providers, applying configured
// restrictions. It is built once by Initialize and is immutable afterwards
// apart from cooldown bookkeeping.
type Registry struct {
	providers  map[string]Provider // driver -> instance
	order      []string            // priority order, enabled drivers only
	allowlists map[string][]string // driver -> allowlist (nil = unrestricted)

	cooldowns  map[string]*providerCooldown
	cooldownMu sync.Mutex

	initOnce sync.Once
	initErr  error
}

// NewRegistry returns an empty registry; call Initialize before use.
func NewRegistry() *Registry {
	return &Registry{
		providers:  make(map[string]Provider),
		allowlists: make(map[string][]string),
		cooldowns:  make(map[string]*providerCooldown),
	}
}

// Initialize builds the provider set from configuration. Idempotent:
// concurrent and repeated calls share the single build, so first use from
// any client awaits full initialization exactly once.
func (r *Registry) Initialize(cfg *config.Config) error {
	r.initOnce.Do(func() {
		r.initErr = r.build(cfg)
	})
	return r.initErr
}

func (r *Registry) build(cfg *config.Config) error {
	models, err := LoadModelConfig(cfg.ModelConfigPath)
	if err != nil {
		return err
	}

	for _, driver := range ProviderPriority {
		pc, ok := cfg.Providers[driver]
		if !ok || !enabled(driver, pc) {
			continue
		}
		p, err := NewProvider(driver, pc, models)
		if err != nil {
			L_warn("llm: provider disabled", "driver", driver, "error", err)
			continue
		}
		r.providers[driver] = p
		r.order = append(r.order, driver)
		if len(pc.Allowed) > 0 {
			r.allowlists[driver] = pc.Allowed
		}
	}

	if len(r.order) == 0 {
		return errs.E(errs.KindNoProviders, "no provider credentials configured").
			WithHint("set at least one of GEMINI_API_KEY, OPENAI_API_KEY, ANTHROPIC_API_KEY, CUSTOM_API_URL, OPENROUTER_API_KEY")
	}

	L_info("llm: registry initialized", "providers", strings.Join(r.order, ","))
	return nil
}

// GetProviderForModel resolves a model name to the highest-priority
// provider claiming it. The name must already be concrete ("auto" is
// resolved by the pipeline before it reaches the registry).
// Returns the provider and the canonical model name.
func (r *Registry) GetProviderForModel(ctx context.Context, name string) (Provider, string, error) {
	if strings.EqualFold(name, "auto") {
		return nil, "", errs.E(errs.KindAutoNotResolved, "model \"auto\" must be resolved before registry lookup")
	}

	for _, driver := range r.order {
		p := r.providers[driver]
		// Deferred catalogs load on first use; the claim check must see the
		// full catalog, so readiness is awaited before consulting it. A
		// failed load still leaves any statically declared entries claimable.
		if err := p.Ready(ctx); err != nil {
			L_warn("llm: provider catalog not ready", "driver", driver, "error", err)
		}
		if !p.ClaimsModel(name) {
			continue
		}
		// Restrictions apply to the canonical name so aliases cannot dodge
		// an allowlist.
		canonical := name
		if caps, ok := p.Capabilities(name); ok {
			canonical = caps.ModelName
		}
		if !r.admissible(canonical) {
			return nil, "", errs.E(errs.KindModelRestricted, "model %q excluded by allowlist", canonical).
				WithHint("adjust the provider's *_ALLOWED_MODELS setting")
		}
		return p, canonical, nil
	}

	return nil, "", errs.E(errs.KindUnknownModel, "no provider claims model %q", name).
		WithHint("use one of the names from available models")
}

// admissible applies the per-provider allowlist. The owning provider for
// restriction purposes comes from the declarative classification table, not
// from who claimed the name.
func (r *Registry) admissible(name string) bool {
	driver := ClassifyModelProvider(name)
	allow, ok := r.allowlists[driver]
	if !ok || len(allow) == 0 {
		return true
	}
	lower := strings.ToLower(name)
	for _, entry := range allow {
		e := strings.ToLower(strings.TrimSpace(entry))
		if e == "" {
			continue
		}
		if lower == e || strings.Contains(lower, e) {
			return true
		}
	}
	return false
}

// AvailableModels returns the sorted canonical names of all claimable
// models, optionally filtered by restriction policy. Deferred catalogs are
// loaded before listing.
func (r *Registry) AvailableModels(ctx context.Context, respectRestrictions bool) []string {
	seen := make(map[string]bool)
	var out []string
	for _, driver := range r.order {
		if err := r.providers[driver].Ready(ctx); err != nil {
			L_warn("llm: provider catalog not ready", "driver", driver, "error", err)
		}
		for _, m := range r.providers[driver].Models() {
			if seen[m.ModelName] {
				continue
			}
			if respectRestrictions && !r.admissible(m.ModelName) {
				continue
			}
			seen[m.ModelName] = true
			out = append(out, m.ModelName)
		}
	}
	sort.Strings(out)
	return out
}

// Capabilities resolves capabilities for a model name (canonical or alias)
// from the highest-priority provider claiming it. Deferred catalogs are
// loaded before the lookup.
func (r *Registry) Capabilities(ctx context.Context, name string) (*ModelCapabilities, bool) {
	for _, driver := range r.order {
		if err := r.providers[driver].Ready(ctx); err != nil {
			L_warn("llm: provider catalog not ready", "driver", driver, "error", err)
		}
		if caps, ok := r.providers[driver].Capabilities(name); ok {
			return caps, true
		}
	}
	return nil, false
}

// IsAdmissible reports whether name is claimable and passes restrictions.
func (r *Registry) IsAdmissible(name string) bool {
	for _, driver := range r.order {
		if r.providers[driver].ClaimsModel(name) {
			return r.admissible(name)
		}
	}
	return false
}

// Representative returns the highest-priority healthy provider's
// representative model for a category, used by "auto" resolution.
func (r *Registry) Representative(category string) string {
	for _, driver := range r.order {
		if r.InCooldown(driver) {
			continue
		}
		if m := r.providers[driver].Representative(category); m != "" {
			return m
		}
	}
	// Cooldowns exhausted everything; fall back to priority order anyway.
	for _, driver := range r.order {
		if m := r.providers[driver].Representative(category); m != "" {
			return m
		}
	}
	return ""
}

// MarkFailure records a transient failure for a driver, extending its
// cooldown exponentially.
func (r *Registry) MarkFailure(driver string) {
	r.cooldownMu.Lock()
	defer r.cooldownMu.Unlock()

	cd := r.cooldowns[driver]
	if cd == nil {
		cd = &providerCooldown{}
		r.cooldowns[driver] = cd
	}
	cd.errorCount++
	// The shift itself must be clamped: a long failure streak would
	// otherwise overflow the duration and wrap negative.
	shift := cd.errorCount - 1
	if shift > 5 {
		shift = 5 // cooldownBase<<5 already exceeds cooldownMax
	}
	backoff := cooldownBase << shift
	if backoff > cooldownMax {
		backoff = cooldownMax
	}
	cd.until = time.Now().Add(backoff)
	L_warn("llm: provider cooling down", "driver", driver, "until", cd.until.Format(time.TimeOnly), "errors", cd.errorCount)
}

// MarkSuccess clears cooldown state for a driver.
func (r *Registry) MarkSuccess(driver string) {
	r.cooldownMu.Lock()
	defer r.cooldownMu.Unlock()
	delete(r.cooldowns, driver)
}

// InCooldown reports whether a driver is currently cooling down.
func (r *Registry) InCooldown(driver string) bool {
	r.cooldownMu.Lock()
	defer r.cooldownMu.Unlock()
	cd := r.cooldowns[driver]
	return cd != nil && time.Now().Before(cd.until)
}

// Status returns per-provider status for the dashboard.
func (r *Registry) Status() []ProviderStatus {
	r.cooldownMu.Lock()
	defer r.cooldownMu.Unlock()

	out := make([]ProviderStatus, 0, len(r.order))
	now := time.Now()
	for _, driver := range r.order {
		st := ProviderStatus{Driver: driver, Models: len(r.providers[driver].Models())}
		if cd := r.cooldowns[driver]; cd != nil && now.Before(cd.until) {
			st.InCooldown = true
			st.Until = cd.until
		}
		out = append(out, st)
	}
	return out
}
