// Package conversation provides the Redis-backed thread store that lets
// tools continue each other's context. Threads are ordered, bounded, and
// expire after a period of inactivity; an expired thread is
// indistinguishable from one that never existed.
package conversation

import (
	"time"
)

// Turn is one exchange appended to a thread. Immutable after append.
type Turn struct {
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	ToolName  string    `json:"tool_name,omitempty"`  // assistant turns only
	ModelName string    `json:"model_name,omitempty"` // assistant turns only
	Timestamp time.Time `json:"timestamp"`

	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Thread is the materialized view of a persisted conversation.
type Thread struct {
	ID            string            `json:"id"`
	ToolName      string            `json:"tool_name"`
	CreatedAt     time.Time         `json:"created_at"`
	LastUpdatedAt time.Time         `json:"last_updated_at"`
	Turns         []Turn            `json:"turns"`
	Metadata      map[string]string `json:"metadata,omitempty"`

	TotalInputTokens  int `json:"total_input_tokens"`
	TotalOutputTokens int `json:"total_output_tokens"`
}

// Stats summarizes a thread for continuation offers and the dashboard.
type Stats struct {
	Turns        int      `json:"total_turns"`
	InputTokens  int      `json:"total_input_tokens"`
	OutputTokens int      `json:"total_output_tokens"`
	ToolsUsed    []string `json:"tools_used"`
	ModelsUsed   []string `json:"models_used"`
}
