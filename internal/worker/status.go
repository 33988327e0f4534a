// Package worker implements the generate → score → re-prompt loop, the
// per-worker HTTP status surface, and the completion artifacts. One worker
// owns one workspace subdirectory and one port; the orchestrator only ever
// reads from it.
package worker

import (
	"sync"
	"time"

	. "github.com/grunted/grunts/internal/logging"
)

// Phases. Coding and validating alternate; everything else only moves
// forward. Completed and failed are terminal.
const (
	PhaseInitializing = "initializing"
	PhaseAnalyzing    = "analyzing"
	PhaseCoding       = "coding"
	PhaseValidating   = "validating"
	PhaseTesting      = "testing"
	PhaseOptimizing   = "optimizing"
	PhaseDeploying    = "deploying"
	PhaseCompleted    = "completed"
	PhaseFailed       = "failed"
)

// phaseRank orders phases for the monotonicity check. Coding and
// validating share a rank so the loop between them is not a regression.
var phaseRank = map[string]int{
	PhaseInitializing: 0,
	PhaseAnalyzing:    1,
	PhaseCoding:       2,
	PhaseValidating:   2,
	PhaseTesting:      3,
	PhaseOptimizing:   4,
	PhaseDeploying:    5,
	PhaseCompleted:    6,
	PhaseFailed:       6,
}

// StatusSnapshot is the wire form served on GET /status.
type StatusSnapshot struct {
	WorkerID          int       `json:"worker_id"`
	Phase             string    `json:"phase"`
	CurrentIteration  int       `json:"current_iteration"`
	BestScore         int       `json:"best_score"`
	ConsecutiveFails  int       `json:"consecutive_failures"`
	LinesAdded        int       `json:"lines_added"`
	TestsPassed       int       `json:"tests_passed"`
	TestsFailed       int       `json:"tests_failed"`
	ProgressPercent   int       `json:"progress_percent"`
	AbortReason       string    `json:"abort_reason,omitempty"`
	LastActivityAt    time.Time `json:"last_activity_at"`
}

// Status is the worker's live status record. The worker is the sole
// writer; the HTTP server and the watcher read and write through the same
// mutex so each field group updates atomically.
type Status struct {
	mu   sync.Mutex
	snap StatusSnapshot
}

// NewStatus returns a status record in the initializing phase.
func NewStatus(workerID int) *Status {
	return &Status{snap: StatusSnapshot{
		WorkerID:       workerID,
		Phase:          PhaseInitializing,
		LastActivityAt: time.Now().UTC(),
	}}
}

// SetPhase advances the phase. Backward transitions are ignored with a
// warning; terminal phases never change again.
func (s *Status) SetPhase(phase string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snap.Phase
	if cur == PhaseCompleted || cur == PhaseFailed {
		return
	}
	if phaseRank[phase] < phaseRank[cur] {
		L_warn("worker: refusing phase regression", "from", cur, "to", phase)
		return
	}
	s.snap.Phase = phase
	s.snap.LastActivityAt = time.Now().UTC()
}

// Phase returns the current phase.
func (s *Status) Phase() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.Phase
}

// SetIteration records the start of an iteration and the derived progress
// percentage as one atomic update.
func (s *Status) SetIteration(iteration, maxIterations int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.CurrentIteration = iteration
	if maxIterations > 0 {
		s.snap.ProgressPercent = (iteration - 1) * 100 / maxIterations
	}
	s.snap.LastActivityAt = time.Now().UTC()
}

// RecordScore updates best-score and failure bookkeeping as one atomic
// update.
func (s *Status) RecordScore(bestScore, consecutiveFails int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.BestScore = bestScore
	s.snap.ConsecutiveFails = consecutiveFails
	s.snap.LastActivityAt = time.Now().UTC()
}

// RecordTests updates the structural-test counters as one atomic update.
func (s *Status) RecordTests(passed, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.TestsPassed = passed
	s.snap.TestsFailed = failed
	s.snap.LastActivityAt = time.Now().UTC()
}

// RecordActivity updates the watcher-fed fields as one atomic update.
func (s *Status) RecordActivity(linesAdded int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.LinesAdded = linesAdded
	s.snap.LastActivityAt = time.Now().UTC()
}

// Finish moves to a terminal phase with its reason and final progress.
func (s *Status) Finish(phase, abortReason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.Phase == PhaseCompleted || s.snap.Phase == PhaseFailed {
		return
	}
	s.snap.Phase = phase
	s.snap.AbortReason = abortReason
	if phase == PhaseCompleted {
		s.snap.ProgressPercent = 100
	}
	s.snap.LastActivityAt = time.Now().UTC()
}

// Snapshot returns a copy of the current status.
func (s *Status) Snapshot() StatusSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}
