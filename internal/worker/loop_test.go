package worker

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/grunted/grunts/internal/llm"
)

// stubCompleter serves canned responses and records the prompts it saw.
type stubCompleter struct {
	mu        sync.Mutex
	responses []string // indexed by call number; last repeats
	prompts   []string
}

func (s *stubCompleter) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, req.Messages[len(req.Messages)-1].Content)
	i := len(s.prompts) - 1
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	return &llm.Response{Text: s.responses[i], Model: req.Model}, nil
}

func (s *stubCompleter) calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}

func testSpec(t *testing.T) Spec {
	t.Helper()
	return Spec{
		WorkerID:          1,
		ModelName:         "stub-coder",
		SpecializationTag: "gameplay",
		SystemPrompt:      "You write production JavaScript.",
		WorkspaceDir:      filepath.Join(t.TempDir(), "w1"),
		Port:              3032,
		MaxIterations:     10,
	}
}

func TestRunCompletesOnExcellentCandidate(t *testing.T) {
	stub := &stubCompleter{responses: []string{"```js\n" + goodGameCode + "\n```"}}
	w := New(testSpec(t), stub, 32_768)

	res := w.Run(context.Background(), Task{Prompt: gameTask, Technologies: []string{"phaser"}})
	if res.Phase != PhaseCompleted {
		t.Fatalf("phase = %s (%s), want completed", res.Phase, res.AbortReason)
	}
	if res.Iterations != 1 {
		t.Errorf("iterations = %d, want 1", res.Iterations)
	}
	if res.BestScore < ExcellentThreshold {
		t.Errorf("best score = %d", res.BestScore)
	}
	if res.URL != "localhost:3032" {
		t.Errorf("url = %q", res.URL)
	}

	// Artifacts on disk, with the markdown already stripped.
	code, err := os.ReadFile(filepath.Join(res.ArtifactDir, "game.js"))
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if strings.Contains(string(code), "```") {
		t.Error("artifact contains markdown residue")
	}
	for _, name := range []string{"README.md", "package.json", "start.sh"} {
		if _, err := os.Stat(filepath.Join(res.ArtifactDir, name)); err != nil {
			t.Errorf("missing artifact %s: %v", name, err)
		}
	}

	if got := w.Status().Snapshot(); got.Phase != PhaseCompleted || got.ProgressPercent != 100 {
		t.Errorf("status = %+v", got)
	}
}

func TestRunFeedsScoreIssuesBack(t *testing.T) {
	mediocre := "const config = { width: 800, height: 600 };\nclass Thing {}\n"
	stub := &stubCompleter{responses: []string{mediocre, goodGameCode}}
	w := New(testSpec(t), stub, 32_768)

	res := w.Run(context.Background(), Task{Prompt: gameTask})
	if res.Phase != PhaseCompleted || res.Iterations != 2 {
		t.Fatalf("result = %+v, want completion on iteration 2", res)
	}

	prompts := stub.calls()
	if len(prompts) != 2 {
		t.Fatalf("provider called %d times", len(prompts))
	}
	if strings.Contains(prompts[0], "PREVIOUS ATTEMPT FEEDBACK") {
		t.Error("first prompt already carries feedback")
	}
	if !strings.Contains(prompts[1], "PREVIOUS ATTEMPT FEEDBACK") ||
		!strings.Contains(prompts[1], "ISSUES:") ||
		!strings.Contains(prompts[1], "FIX THESE:") {
		t.Errorf("second prompt missing structured feedback:\n%s", prompts[1])
	}
}

func TestRunAbortsOnRepeatedFailures(t *testing.T) {
	stub := &stubCompleter{responses: []string{"I am unable to help with that request."}}
	w := New(testSpec(t), stub, 32_768)

	res := w.Run(context.Background(), Task{Prompt: gameTask})
	if res.Phase != PhaseFailed {
		t.Fatalf("phase = %s, want failed", res.Phase)
	}
	if res.AbortReason != "similar_failures" && res.AbortReason != "max_iterations" {
		t.Errorf("abort reason = %q", res.AbortReason)
	}
	if res.Iterations > DefaultMaxIterations {
		t.Errorf("ran %d iterations, budget is %d", res.Iterations, DefaultMaxIterations)
	}
	if res.BestScore != 0 || res.BestCode != "" {
		t.Errorf("prose must not become the best candidate: score=%d code=%q", res.BestScore, res.BestCode)
	}
}

func TestRunHonorsCancelBeforeStart(t *testing.T) {
	stub := &stubCompleter{responses: []string{goodGameCode}}
	w := New(testSpec(t), stub, 32_768)
	w.Cancel()

	res := w.Run(context.Background(), Task{Prompt: gameTask})
	if res.Phase != PhaseFailed || res.AbortReason != "cancelled" {
		t.Fatalf("result = %+v, want cancelled failure", res)
	}
	if len(stub.calls()) != 0 {
		t.Error("provider called after cancellation")
	}
}

func TestBoundPromptDropsOldestBlocks(t *testing.T) {
	w := New(Spec{WorkerID: 2, MaxIterations: 1}, nil, 100)

	base := "task"
	blocks := []string{
		strings.Repeat("oldest ", 40),
		strings.Repeat("middle ", 40),
		"newest",
	}
	prompt, kept := w.boundPrompt(base, blocks)
	if !strings.HasPrefix(prompt, base) {
		t.Error("base prompt truncated")
	}
	if len(kept) >= len(blocks) && !strings.Contains(prompt, "oldest") {
		t.Errorf("kept = %d blocks but prompt lost content", len(kept))
	}
	if len(kept) > 0 && kept[len(kept)-1] != "newest" {
		t.Errorf("newest feedback dropped first: %v", kept)
	}
}
