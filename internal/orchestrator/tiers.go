// Package orchestrator launches a tier of workers against a task,
// supervises them to a terminal state, and aggregates the outcome.
package orchestrator

import (
	"fmt"
	"path/filepath"

	"github.com/grunted/grunts/internal/config"
	"github.com/grunted/grunts/internal/llm"
	"github.com/grunted/grunts/internal/worker"
)

// DefaultTier is used when the requested tier is unknown.
const DefaultTier = "medium"

// slot is one position in a tier: a specialization and the model category
// it prefers. Concrete model names are resolved against the registry at
// launch time.
type slot struct {
	tag      string
	category string
	prompt   string
}

var (
	slotGameplay = slot{"gameplay", llm.CategoryReasoning,
		"You own the core gameplay logic. Correctness of mechanics comes before polish."}
	slotUI = slot{"ui", llm.CategoryFast,
		"You own rendering and user-facing behavior. Keep the interface responsive."}
	slotTesting = slot{"testing", llm.CategoryFast,
		"You own verifiability. Structure code so its behavior is observable and testable."}
	slotIntegration = slot{"integration", llm.CategoryReasoning,
		"You own how the pieces fit together. Favor clean module boundaries."}
	slotOptimization = slot{"optimization", llm.CategoryFast,
		"You own performance. Avoid wasted work in hot paths."}
	slotInfra = slot{"infrastructure", llm.CategoryReasoning,
		"You own project structure, builds, and scaffolding."}
)

// tierTable maps tier names to their ordered worker slots.
var tierTable = map[string][]slot{
	"ultralight": {slotGameplay, slotUI},
	"light":      {slotGameplay, slotUI, slotTesting},
	"medium":     {slotGameplay, slotUI, slotTesting, slotIntegration},
	"high":       {slotGameplay, slotUI, slotTesting, slotIntegration, slotOptimization, slotInfra},
}

// tierSlots resolves a tier name; unknown tiers fall back to medium.
func tierSlots(tier string) (string, []slot) {
	if slots, ok := tierTable[tier]; ok {
		return tier, slots
	}
	return DefaultTier, tierTable[DefaultTier]
}

// TierNames lists the known tiers.
func TierNames() []string {
	return []string{"ultralight", "light", "medium", "high"}
}

const workerSystemPrompt = "You are a focused software engineer generating complete, " +
	"runnable code. You iterate on feedback until the result passes review."

// buildSpecs materializes worker specifications for a tier. Models are
// resolved through the registry: the slot's category representative if
// admissible, else the fallback, else the universal small model.
func buildSpecs(tier string, slots []slot, cfg *config.Config, reg *llm.Registry, runDir string) []worker.Spec {
	specs := make([]worker.Spec, 0, len(slots))
	for i, sl := range slots {
		id := i + 1
		primary := reg.Representative(sl.category)
		fallback := reg.Representative(otherCategory(sl.category))
		spec := worker.Spec{
			WorkerID:          id,
			ModelName:         resolveModel(reg, primary, fallback),
			FallbackModelName: fallback,
			SpecializationTag: sl.tag,
			SystemPrompt:      workerSystemPrompt + "\n" + sl.prompt,
			WorkspaceDir:      filepath.Join(runDir, fmt.Sprintf("worker-%d", id)),
			Port:              cfg.BasePort + id,
			MaxIterations:     worker.DefaultMaxIterations,
		}
		specs = append(specs, spec)
	}
	return specs
}

func otherCategory(category string) string {
	if category == llm.CategoryReasoning {
		return llm.CategoryFast
	}
	return llm.CategoryReasoning
}

// resolveModel applies the admissibility chain: primary, then fallback,
// then the universal small model.
func resolveModel(reg *llm.Registry, primary, fallback string) string {
	if primary != "" && reg.IsAdmissible(primary) {
		return primary
	}
	if fallback != "" && reg.IsAdmissible(fallback) {
		return fallback
	}
	return config.DefaultUniversalSmallModel
}
