package orchestrator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/grunted/grunts/internal/worker"
)

// Decompose turns a task prompt and its declared technologies into
// subtasks with test intents. It is a pure function: the same inputs
// always produce the same subtasks in the same order. Tool-specific
// decomposition heuristics live upstream; the core emits one subtask
// covering the whole prompt.
func Decompose(prompt string, technologies []string) []worker.Task {
	intents := []string{
		"response is code, not prose",
		"no markdown residue in the output",
		"declares and exports its entry point",
	}

	techs := append([]string(nil), technologies...)
	sort.Strings(techs)
	for _, tech := range techs {
		intents = append(intents, fmt.Sprintf("uses %s via module imports", tech))
	}
	if isGamePrompt(prompt, techs) {
		intents = append(intents,
			"implements the preload/create/update lifecycle",
			"wires up physics and input handling",
		)
	}

	return []worker.Task{{
		Prompt:       prompt,
		Technologies: techs,
		TestIntents:  intents,
	}}
}

func isGamePrompt(prompt string, techs []string) bool {
	p := strings.ToLower(prompt)
	if strings.Contains(p, "game") || strings.Contains(p, "phaser") {
		return true
	}
	for _, t := range techs {
		if strings.EqualFold(t, "phaser") {
			return true
		}
	}
	return false
}

// taskFor assigns a subtask to a worker slot. With a single subtask every
// worker attacks the same prompt from its own specialization; with more,
// they are dealt round-robin.
func taskFor(tasks []worker.Task, workerIndex int) worker.Task {
	return tasks[workerIndex%len(tasks)]
}
