// Package tools declares the built-in tool descriptors. Tools are thin:
// they differ only in system prompt, model category, image acceptance, and
// the follow-up suggestions offered with a continuation. The pipeline
// operates generically over these descriptors.
package tools

import (
	"sort"

	"github.com/grunted/grunts/internal/llm"
)

// Tool describes one tool's declarative surface.
type Tool struct {
	Name             string
	Description      string
	SystemPrompt     string
	Category         string // llm.CategoryReasoning | CategoryFast | CategoryAll
	AcceptsImages    bool
	AllowEmptyPrompt bool
	Suggestions      []string // follow-up offers for continuations
}

var registry = map[string]*Tool{
	"chat": {
		Name:        "chat",
		Description: "General conversation and quick questions",
		SystemPrompt: "You are a helpful senior engineering collaborator. Answer directly " +
			"and concretely; prefer working code over prose when code is asked for.",
		Category:      llm.CategoryFast,
		AcceptsImages: true,
		Suggestions: []string{
			"ask a follow-up question",
			"request a code example",
			"switch to the analyze tool for a deep dive",
		},
	},
	"analyze": {
		Name:        "analyze",
		Description: "Structured analysis of code or architecture",
		SystemPrompt: "You are a code analyst. Work through the provided material " +
			"methodically: structure, data flow, risks, and concrete findings with " +
			"file/line references where possible.",
		Category:      llm.CategoryReasoning,
		AcceptsImages: true,
		Suggestions: []string{
			"drill into one finding",
			"request a refactoring plan",
			"hand the findings to the codereview tool",
		},
	},
	"debug": {
		Name:        "debug",
		Description: "Root-cause debugging from errors and context",
		SystemPrompt: "You are a debugging specialist. Form hypotheses from the " +
			"evidence, rank them by likelihood, and propose the smallest experiment " +
			"that discriminates between them.",
		Category: llm.CategoryReasoning,
		Suggestions: []string{
			"share the result of the suggested experiment",
			"provide more log output",
			"ask for a fix for the confirmed cause",
		},
	},
	"codereview": {
		Name:        "codereview",
		Description: "Review a diff or file set",
		SystemPrompt: "You are a meticulous code reviewer. Report issues ordered by " +
			"severity with a one-line rationale each; distinguish defects from style.",
		Category: llm.CategoryReasoning,
		Suggestions: []string{
			"ask for fixes for the blocking issues",
			"request a second pass on the revised code",
		},
	},
	"thinkdeep": {
		Name:        "thinkdeep",
		Description: "Extended reasoning on a hard problem",
		SystemPrompt: "Take your time. Decompose the problem, explore alternatives, " +
			"and commit to the best answer with your reasoning summarized.",
		Category: llm.CategoryAll,
		Suggestions: []string{
			"challenge the conclusion",
			"explore the runner-up alternative",
		},
	},
}

// Get returns the descriptor for a tool name.
func Get(name string) (*Tool, bool) {
	t, ok := registry[name]
	return t, ok
}

// Names returns the sorted tool names.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
