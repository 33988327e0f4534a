// Package pipeline implements the request path every tool invocation flows
// through: validate, resolve the model, correct the temperature, assemble
// context from the thread store, call the provider, persist the exchange,
// and emit a continuation offer.
//
// Multi-tool fan-out (the ":z" prefix) is an upstream dispatcher concern;
// each fanned-out request arrives here as an ordinary single-tool request.
package pipeline

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/grunted/grunts/internal/config"
	"github.com/grunted/grunts/internal/conversation"
	"github.com/grunted/grunts/internal/errs"
	"github.com/grunted/grunts/internal/llm"
	. "github.com/grunted/grunts/internal/logging"
	"github.com/grunted/grunts/internal/tokens"
	"github.com/grunted/grunts/internal/tools"
)

// Request is a validated tool invocation.
type Request struct {
	Tool           string      `json:"tool"`
	Prompt         string      `json:"prompt"`
	Model          string      `json:"model,omitempty"` // "auto", canonical, or alias
	Temperature    *float64    `json:"temperature,omitempty"`
	ContinuationID string      `json:"continuation_id,omitempty"`
	UseWebsearch   *bool       `json:"use_websearch,omitempty"` // default true
	Images         []llm.Image `json:"images,omitempty"`
	JSONMode       bool        `json:"json_mode,omitempty"`
	Stop           []string    `json:"stop,omitempty"`
}

// Response is the envelope returned to tool callers.
type Response struct {
	Status            string                 `json:"status"` // "success" | "error" | "clarification_required"
	ContentType       string                 `json:"content_type"`
	Content           string                 `json:"content"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
	ContinuationOffer *ContinuationOffer     `json:"continuation_offer,omitempty"`
}

// ContinuationOffer invites the caller to extend the thread.
type ContinuationOffer struct {
	ThreadID    string              `json:"thread_id"`
	Stats       *conversation.Stats `json:"stats"`
	Suggestions []string            `json:"suggestions"`
}

// retry policy for transient provider errors: at most 2 attempts total.
const (
	maxAttempts  = 2
	retryBackoff = 1 * time.Second
)

// completionReserve is the output budget kept free when fitting the
// assembled context into the model window.
const completionReserve = 8192

// Pipeline wires the registry, the thread store, and configuration.
// Everything is injected; there is no package-level state.
type Pipeline struct {
	reg   *llm.Registry
	store *conversation.Store
	cfg   *config.Config
	est   *tokens.Estimator
}

// New builds a pipeline.
func New(reg *llm.Registry, store *conversation.Store, cfg *config.Config) *Pipeline {
	return &Pipeline{reg: reg, store: store, cfg: cfg, est: tokens.Get()}
}

// Execute runs one tool invocation end to end. Errors carry kind tags from
// the errs package; ErrorResponse converts them to envelopes.
func (p *Pipeline) Execute(ctx context.Context, req Request) (*Response, error) {
	tool, err := p.validate(req)
	if err != nil {
		return nil, err
	}

	modelName, err := p.resolveModel(tool, req)
	if err != nil {
		return nil, err
	}
	provider, canonical, err := p.reg.GetProviderForModel(ctx, modelName)
	if err != nil {
		return nil, err
	}
	caps, _ := provider.Capabilities(canonical)

	if err := p.checkImages(tool, caps, req); err != nil {
		return nil, err
	}

	temperature := p.correctTemperature(caps, canonical, req.Temperature)

	threadID, messages, err := p.assembleContext(ctx, tool, caps, req)
	if err != nil {
		return nil, err
	}

	llmReq := llm.Request{
		Model:        canonical,
		SystemPrompt: tool.SystemPrompt,
		Messages:     messages,
		Temperature:  temperature,
		JSONMode:     req.JSONMode,
		Stop:         req.Stop,
	}

	resp, err := p.callWithRetry(ctx, provider, llmReq)
	if err != nil {
		return nil, err
	}

	threadID, offer, err := p.persistExchange(ctx, tool, req, canonical, threadID, resp)
	if err != nil {
		return nil, err
	}

	return &Response{
		Status:      "success",
		ContentType: "text",
		Content:     resp.Text,
		Metadata: map[string]interface{}{
			"tool_name":     tool.Name,
			"model_used":    resp.Model,
			"input_tokens":  resp.InputTokens,
			"output_tokens": resp.OutputTokens,
			"thread_id":     threadID,
		},
		ContinuationOffer: offer,
	}, nil
}

// validate is step 1 and 2: schema and prompt-size checks. All offending
// fields are reported together.
func (p *Pipeline) validate(req Request) (*tools.Tool, error) {
	var problems []string

	tool, ok := tools.Get(req.Tool)
	if !ok {
		problems = append(problems, fmt.Sprintf("unknown tool %q", req.Tool))
	}
	if ok && req.Prompt == "" && !tool.AllowEmptyPrompt {
		problems = append(problems, "prompt must not be empty")
	}
	if req.Temperature != nil && (*req.Temperature < 0 || *req.Temperature > 2) {
		problems = append(problems, "temperature out of plausible range [0,2]")
	}
	if len(problems) > 0 {
		return nil, errs.E(errs.KindInvalidRequest, "invalid request: %s", strings.Join(problems, "; "))
	}

	// The limit applies to the pre-assembly user text only, counted in
	// characters rather than bytes.
	if n := utf8.RuneCountInString(req.Prompt); n > p.cfg.PromptSizeLimit {
		return nil, errs.E(errs.KindPromptTooLarge, "prompt is %d characters; limit is %d",
			n, p.cfg.PromptSizeLimit).
			WithHint("shorten the prompt or raise PROMPT_SIZE_LIMIT")
	}

	return tool, nil
}

// resolveModel is step 3: map "auto" (or empty) to a concrete name.
func (p *Pipeline) resolveModel(tool *tools.Tool, req Request) (string, error) {
	name := req.Model
	if name == "" {
		name = p.cfg.DefaultModel
	}
	if !strings.EqualFold(name, "auto") {
		return name, nil
	}

	// Vision routing takes precedence when the tool accepts images and the
	// request actually carries one.
	if tool.AcceptsImages && len(req.Images) > 0 && p.cfg.DefaultVisionModel != "" {
		return p.cfg.DefaultVisionModel, nil
	}

	if m := p.reg.Representative(tool.Category); m != "" {
		return m, nil
	}
	return "", errs.E(errs.KindAutoNotResolved, "no provider offers a %q model", tool.Category)
}

// checkImages rejects images the resolved model cannot take.
func (p *Pipeline) checkImages(tool *tools.Tool, caps *llm.ModelCapabilities, req Request) error {
	if len(req.Images) == 0 {
		return nil
	}
	if !tool.AcceptsImages {
		return errs.E(errs.KindInvalidRequest, "tool %q does not accept images", tool.Name)
	}
	if caps == nil || !caps.SupportsImages {
		return errs.E(errs.KindInvalidRequest, "model does not support image input").
			WithHint("set DEFAULT_VISION_MODEL or pick a vision-capable model")
	}
	if caps.MaxImageMB > 0 {
		limit := caps.MaxImageMB * 1024 * 1024
		for _, img := range req.Images {
			size := base64.StdEncoding.DecodedLen(len(img.Data))
			if size > limit {
				return errs.E(errs.KindInvalidRequest, "image %s is %d bytes; model limit is %d MB",
					img.Source, size, caps.MaxImageMB)
			}
		}
	}
	return nil
}

// correctTemperature is step 4. Out-of-constraint requests are corrected
// with a warning, never failed.
func (p *Pipeline) correctTemperature(caps *llm.ModelCapabilities, model string, requested *float64) float64 {
	constraint := caps.Constraint()
	if requested == nil {
		return constraint.Default()
	}
	if constraint.Validate(*requested) {
		return *requested
	}
	corrected := constraint.Correct(*requested)
	L_warn("pipeline: corrected temperature", "model", model,
		"requested", *requested, "corrected", corrected, "constraint", constraint.Describe())
	return corrected
}

// assembleContext is step 5: build the transcript, eliding the oldest
// user/assistant pairs (never the system prompt) until it fits the model's
// context window.
func (p *Pipeline) assembleContext(ctx context.Context, tool *tools.Tool, caps *llm.ModelCapabilities, req Request) (string, []llm.Message, error) {
	userMsg := llm.Message{Role: llm.RoleUser, Content: req.Prompt, Images: req.Images}

	if req.ContinuationID == "" {
		return "", []llm.Message{userMsg}, nil
	}

	thread, err := p.store.GetThread(ctx, req.ContinuationID)
	if err != nil {
		return "", nil, err
	}

	messages := make([]llm.Message, 0, len(thread.Turns)+1)
	for _, turn := range thread.Turns {
		messages = append(messages, llm.Message{Role: turn.Role, Content: turn.Content})
	}
	messages = append(messages, userMsg)

	if caps != nil && caps.ContextWindow > 0 {
		budget := p.est.Count(tool.SystemPrompt)
		counts := make([]int, len(messages))
		total := budget
		for i, m := range messages {
			counts[i] = p.est.CountMessage(m.Content)
			total += counts[i]
		}
		// Drop oldest pairs first. The final user message always stays.
		start := 0
		for !tokens.FitsContext(caps.ContextWindow, total, completionReserve) && start < len(messages)-1 {
			drop := 1
			if start+1 < len(messages)-1 {
				drop = 2 // user/assistant pair
			}
			for i := 0; i < drop; i++ {
				total -= counts[start]
				start++
			}
		}
		if start > 0 {
			L_debug("pipeline: elided old turns to fit context", "thread", thread.ID, "dropped", start)
			messages = messages[start:]
		}
	}

	return thread.ID, messages, nil
}

// callWithRetry is step 6: one bounded retry, only for transient kinds.
func (p *Pipeline) callWithRetry(ctx context.Context, provider llm.Provider, req llm.Request) (*llm.Response, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := provider.Complete(ctx, req)
		if err == nil {
			p.reg.MarkSuccess(provider.Name())
			return resp, nil
		}
		lastErr = err
		if !errs.Retryable(err) {
			return nil, err
		}
		p.reg.MarkFailure(provider.Name())
		if attempt < maxAttempts {
			backoff := retryBackoff << (attempt - 1)
			L_warn("pipeline: transient provider error, retrying", "provider", provider.Name(),
				"attempt", attempt, "backoff", backoff.String(), "error", err)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return nil, lastErr
}

// persistExchange is steps 7 and 8: append the user and assistant turns and
// build the continuation offer.
func (p *Pipeline) persistExchange(ctx context.Context, tool *tools.Tool, req Request, model, threadID string, resp *llm.Response) (string, *ContinuationOffer, error) {
	if threadID == "" {
		var err error
		threadID, err = p.store.CreateThread(ctx, tool.Name, nil)
		if err != nil {
			return "", nil, err
		}
	}

	inputTokens := resp.InputTokens
	if inputTokens == 0 {
		inputTokens = p.est.Count(req.Prompt)
	}
	outputTokens := resp.OutputTokens
	if outputTokens == 0 {
		outputTokens = p.est.Count(resp.Text)
	}

	// Both turns land in one store transaction: a thread that cannot take
	// the whole exchange takes none of it.
	now := time.Now().UTC()
	if err := p.store.AppendTurns(ctx, threadID,
		conversation.Turn{
			Role: llm.RoleUser, Content: req.Prompt, Timestamp: now, InputTokens: inputTokens,
		},
		conversation.Turn{
			Role: llm.RoleAssistant, Content: resp.Text, ToolName: tool.Name, ModelName: model,
			Timestamp: now, OutputTokens: outputTokens,
		},
	); err != nil {
		return "", nil, err
	}

	stats, err := p.store.Stats(ctx, threadID)
	if err != nil {
		return "", nil, err
	}

	// Offer a continuation only while the thread can still take turns.
	var offer *ContinuationOffer
	if stats.Turns < p.store.MaxTurns() {
		offer = &ContinuationOffer{
			ThreadID:    threadID,
			Stats:       stats,
			Suggestions: tool.Suggestions,
		}
	}
	return threadID, offer, nil
}

// ErrorResponse converts a kind-tagged error into the caller envelope.
func ErrorResponse(err error) *Response {
	content := err.Error()
	if hint := errs.HintOf(err); hint != "" {
		content += " (hint: " + hint + ")"
	}
	return &Response{
		Status:      "error",
		ContentType: "text",
		Content:     content,
		Metadata:    map[string]interface{}{"error_kind": string(errs.KindOf(err))},
	}
}
