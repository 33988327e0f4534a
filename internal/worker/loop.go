package worker

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/grunted/grunts/internal/llm"
	. "github.com/grunted/grunts/internal/logging"
	"github.com/grunted/grunts/internal/tokens"
)

const (
	// DefaultMaxIterations bounds the generate/score loop.
	DefaultMaxIterations = 10
	// SimilarityAbortThreshold aborts a worker stuck repeating the same
	// mistakes.
	SimilarityAbortThreshold = 10
	// providerCallTimeout caps one completion call.
	providerCallTimeout = 5 * time.Minute
)

// Spec is the static per-worker configuration decided at launch.
type Spec struct {
	WorkerID          int    `json:"worker_id"`
	ModelName         string `json:"model_name"`
	FallbackModelName string `json:"fallback_model_name,omitempty"`
	SpecializationTag string `json:"specialization_tag"`
	SystemPrompt      string `json:"system_prompt"`
	WorkspaceDir      string `json:"workspace_dir"`
	Port              int    `json:"port"`
	MaxIterations     int    `json:"max_iterations"`
}

// Task is the unit of work handed to a worker.
type Task struct {
	Prompt       string   `json:"prompt"`
	Technologies []string `json:"technologies,omitempty"`
	TestIntents  []string `json:"test_intents,omitempty"`
}

// Result is the terminal outcome of one worker run.
type Result struct {
	WorkerID    int    `json:"worker_id"`
	Phase       string `json:"phase"`
	AbortReason string `json:"abort_reason,omitempty"`
	BestScore   int    `json:"best_score"`
	BestCode    string `json:"-"`
	Iterations  int    `json:"iterations"`
	ArtifactDir string `json:"artifact_dir,omitempty"`
	URL         string `json:"url,omitempty"`
}

// Completer is the slice of the provider surface the loop needs.
// llm.Provider satisfies it.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// Worker runs the iterative loop for one spec. Iterations are strictly
// sequential; the HTTP server and watcher only touch the status record.
type Worker struct {
	spec          Spec
	status        *Status
	completer     Completer
	contextWindow int
	est           *tokens.Estimator
	cancelled     atomic.Bool
	started       time.Time
}

// New builds a worker. contextWindow may be 0 when the model's window is
// unknown; prompt growth is then unbounded by the loop (the provider still
// enforces its own limit).
func New(spec Spec, completer Completer, contextWindow int) *Worker {
	if spec.MaxIterations <= 0 {
		spec.MaxIterations = DefaultMaxIterations
	}
	return &Worker{
		spec:          spec,
		status:        NewStatus(spec.WorkerID),
		completer:     completer,
		contextWindow: contextWindow,
		est:           tokens.Get(),
		started:       time.Now(),
	}
}

// Status exposes the live status record (read by the HTTP server).
func (w *Worker) Status() *Status { return w.status }

// Cancel requests a cooperative stop. The flag is checked between
// iterations and before each provider call; an in-flight call finishes and
// its result is discarded.
func (w *Worker) Cancel() { w.cancelled.Store(true) }

func (w *Worker) isCancelled(ctx context.Context) bool {
	return w.cancelled.Load() || ctx.Err() != nil
}

// Run drives the loop to a terminal phase. The returned Result is also
// reflected in the status record.
func (w *Worker) Run(ctx context.Context, task Task) *Result {
	if w.spec.WorkspaceDir != "" {
		if err := os.MkdirAll(w.spec.WorkspaceDir, 0o755); err != nil {
			return w.fail(1, 0, "", fmt.Sprintf("workspace setup: %v", err))
		}
		if watcher, err := watchWorkspace(w.spec.WorkspaceDir, w.status); err == nil {
			defer watcher.Close()
		} else {
			L_warn("worker: workspace watcher unavailable", "id", w.spec.WorkerID, "error", err)
		}
	}

	w.status.SetPhase(PhaseAnalyzing)
	systemPrompt := w.buildSystemPrompt(task)
	basePrompt := buildTaskPrompt(task)

	var (
		bestScore        int
		bestCode         string
		consecutiveFails int
		issueHistory     []string
		feedbackBlocks   []string
	)

	for iteration := 1; iteration <= w.spec.MaxIterations; iteration++ {
		if w.isCancelled(ctx) {
			return w.fail(iteration, bestScore, bestCode, "cancelled")
		}
		w.status.SetIteration(iteration, w.spec.MaxIterations)
		w.status.SetPhase(PhaseCoding)

		prompt, kept := w.boundPrompt(basePrompt, feedbackBlocks)
		feedbackBlocks = kept

		if w.isCancelled(ctx) {
			return w.fail(iteration, bestScore, bestCode, "cancelled")
		}
		resp, err := w.complete(ctx, systemPrompt, prompt)
		if err != nil {
			if w.isCancelled(ctx) {
				return w.fail(iteration, bestScore, bestCode, "cancelled")
			}
			L_warn("worker: provider call failed", "id", w.spec.WorkerID, "iteration", iteration, "error", err)
			consecutiveFails++
			w.status.RecordScore(bestScore, consecutiveFails)
			if consecutiveFails >= SimilarityAbortThreshold {
				return w.fail(iteration, bestScore, bestCode, "similar_failures")
			}
			continue
		}

		w.status.SetPhase(PhaseValidating)
		scored := Score(resp.Text, task.Prompt)
		w.status.RecordTests(scored.TestsPassed, scored.TestsFailed)
		L_debug("worker: iteration scored", "id", w.spec.WorkerID, "iteration", iteration,
			"score", scored.Score, "issues", len(scored.Issues))

		if scored.Score > bestScore || (bestCode == "" && scored.Score > 0) {
			bestScore = scored.Score
			bestCode = scored.Cleaned
			consecutiveFails = 0
		} else {
			consecutiveFails++
		}

		issueText := strings.Join(scored.Issues, "; ")
		if issueText != "" {
			if similarToAny(issueText, issueHistory) {
				consecutiveFails++
			}
			issueHistory = append(issueHistory, issueText)
		}
		w.status.RecordScore(bestScore, consecutiveFails)

		if scored.Score >= ExcellentThreshold {
			return w.succeed(iteration, bestScore, bestCode, task)
		}
		if consecutiveFails >= SimilarityAbortThreshold {
			return w.fail(iteration, bestScore, bestCode, "similar_failures")
		}

		feedbackBlocks = append(feedbackBlocks, feedbackBlock(iteration, scored))
	}

	return w.fail(w.spec.MaxIterations, bestScore, bestCode, "max_iterations")
}

func (w *Worker) complete(ctx context.Context, systemPrompt, prompt string) (*llm.Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, providerCallTimeout)
	defer cancel()
	return w.completer.Complete(callCtx, llm.Request{
		Model:        w.spec.ModelName,
		SystemPrompt: systemPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		// Low-variance generation; the completer corrects this to the
		// model's constraint when 0.2 is not admissible.
		Temperature: 0.2,
	})
}

func (w *Worker) buildSystemPrompt(task Task) string {
	var b strings.Builder
	b.WriteString(w.spec.SystemPrompt)
	if w.spec.SpecializationTag != "" {
		fmt.Fprintf(&b, "\nYour specialization: %s.", w.spec.SpecializationTag)
	}
	if len(task.Technologies) > 0 {
		fmt.Fprintf(&b, "\nTechnologies in play: %s.", strings.Join(task.Technologies, ", "))
	}
	b.WriteString("\nRespond with complete code only.")
	return b.String()
}

func buildTaskPrompt(task Task) string {
	var b strings.Builder
	b.WriteString(task.Prompt)
	if len(task.TestIntents) > 0 {
		b.WriteString("\nThe result must satisfy:")
		for _, intent := range task.TestIntents {
			b.WriteString("\n- " + intent)
		}
	}
	return b.String()
}

// boundPrompt joins the base prompt with the feedback blocks, dropping the
// oldest block while the estimate crosses 80% of the context window.
func (w *Worker) boundPrompt(base string, blocks []string) (string, []string) {
	for {
		prompt := base
		if len(blocks) > 0 {
			prompt += "\n" + strings.Join(blocks, "\n")
		}
		if w.contextWindow <= 0 ||
			tokens.FitsContext(w.contextWindow, w.est.Count(prompt), w.contextWindow/5) {
			return prompt, blocks
		}
		if len(blocks) == 0 {
			return prompt, blocks
		}
		L_debug("worker: dropping oldest feedback block", "id", w.spec.WorkerID, "blocks", len(blocks))
		blocks = blocks[1:]
	}
}

func feedbackBlock(iteration int, scored ScoreResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\nPREVIOUS ATTEMPT FEEDBACK (iteration %d, score %d/100)", iteration, scored.Score)
	if len(scored.Issues) > 0 {
		b.WriteString("\nISSUES: " + strings.Join(scored.Issues, "; "))
	}
	if len(scored.Feedback) > 0 {
		b.WriteString("\nFIX THESE:")
		for _, f := range scored.Feedback {
			b.WriteString("\n- " + f)
		}
	}
	return b.String()
}

// succeed finalizes a successful run: artifacts are written and the
// status flips to completed.
func (w *Worker) succeed(iterations, bestScore int, bestCode string, task Task) *Result {
	res := &Result{
		WorkerID:   w.spec.WorkerID,
		Phase:      PhaseCompleted,
		BestScore:  bestScore,
		BestCode:   bestCode,
		Iterations: iterations,
	}
	if w.spec.WorkspaceDir != "" {
		dir, url, err := WriteArtifacts(w.spec, task, bestCode)
		if err != nil {
			L_error("worker: artifact write failed", "id", w.spec.WorkerID, "error", err)
		} else {
			res.ArtifactDir = dir
			res.URL = url
		}
	}
	w.status.Finish(PhaseCompleted, "")
	L_info("worker: completed", "id", w.spec.WorkerID, "score", bestScore, "iterations", iterations)
	return res
}

// fail finalizes an aborted run. The best candidate so far, if any, is
// still written out so the orchestrator can salvage a partial result.
func (w *Worker) fail(iterations, bestScore int, bestCode, reason string) *Result {
	res := &Result{
		WorkerID:    w.spec.WorkerID,
		Phase:       PhaseFailed,
		AbortReason: reason,
		BestScore:   bestScore,
		BestCode:    bestCode,
		Iterations:  iterations,
	}
	if bestCode != "" && w.spec.WorkspaceDir != "" {
		if dir, url, err := WriteArtifacts(w.spec, Task{}, bestCode); err == nil {
			res.ArtifactDir = dir
			res.URL = url
		}
	}
	w.status.Finish(PhaseFailed, reason)
	L_warn("worker: failed", "id", w.spec.WorkerID, "reason", reason, "best", bestScore)
	return res
}
