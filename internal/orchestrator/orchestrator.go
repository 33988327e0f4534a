package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/grunted/grunts/internal/config"
	"github.com/grunted/grunts/internal/errs"
	"github.com/grunted/grunts/internal/llm"
	. "github.com/grunted/grunts/internal/logging"
	"github.com/grunted/grunts/internal/worker"
)

// defaultPollInterval is the worker status poll cadence.
const defaultPollInterval = 5 * time.Second

// Run outcomes.
const (
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeFailed  = "failed"
)

// Options configures one orchestration run.
type Options struct {
	Tier                      string
	Prompt                    string
	Technologies              []string
	MaxExecutionSeconds       int
	AssessmentIntervalSeconds int
}

// WorkerReport is one worker's contribution to the run result.
type WorkerReport struct {
	worker.StatusSnapshot
	SpecializationTag string `json:"specialization_tag"`
	ModelName         string `json:"model_name"`
	URL               string `json:"url,omitempty"`
	ArtifactDir       string `json:"artifact_dir,omitempty"`
}

// Result is the aggregate outcome of a run.
type Result struct {
	RunID       string         `json:"run_id"`
	Tier        string         `json:"tier"`
	Outcome     string         `json:"outcome"`
	Workers     []WorkerReport `json:"workers"`
	Assessments []Assessment   `json:"assessments,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  time.Time      `json:"finished_at"`
}

// State is the dashboard-visible snapshot of the active run. The
// orchestrator is its sole writer.
type State struct {
	RunID       string                        `json:"run_id"`
	Tier        string                        `json:"tier"`
	Prompt      string                        `json:"prompt"`
	StartedAt   time.Time                     `json:"started_at"`
	DeadlineAt  time.Time                     `json:"deadline_at"`
	Outcome     string                        `json:"outcome,omitempty"`
	Workers     map[int]worker.StatusSnapshot `json:"workers"`
	Assessments []Assessment                  `json:"assessments,omitempty"`
}

// Orchestrator runs tiers of workers. Safe for one run at a time.
type Orchestrator struct {
	cfg      *config.Config
	reg      *llm.Registry
	launcher Launcher

	// PollInterval overrides the status poll cadence (tests shorten it).
	PollInterval time.Duration

	mu    sync.Mutex
	state *State
}

// New builds an orchestrator.
func New(cfg *config.Config, reg *llm.Registry, launcher Launcher) *Orchestrator {
	return &Orchestrator{cfg: cfg, reg: reg, launcher: launcher, PollInterval: defaultPollInterval}
}

// State returns a copy of the active run state, or nil when idle.
func (o *Orchestrator) State() *State {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == nil {
		return nil
	}
	cp := *o.state
	cp.Workers = make(map[int]worker.StatusSnapshot, len(o.state.Workers))
	for id, snap := range o.state.Workers {
		cp.Workers[id] = snap
	}
	cp.Assessments = append([]Assessment(nil), o.state.Assessments...)
	return &cp
}

// Execute drives one run to completion: launch the tier, poll to a
// terminal state, shut everything down, aggregate. Cancelling ctx aborts
// the run; the deadline is a hard ceiling either way.
func (o *Orchestrator) Execute(ctx context.Context, opts Options) (*Result, error) {
	if opts.MaxExecutionSeconds <= 0 {
		opts.MaxExecutionSeconds = o.cfg.MaxExecutionSeconds
	}
	if opts.AssessmentIntervalSeconds <= 0 {
		opts.AssessmentIntervalSeconds = o.cfg.AssessmentIntervalSeconds
	}

	tier, slots := tierSlots(opts.Tier)
	runID := uuid.NewString()
	runDir := filepath.Join(o.cfg.WorkspaceDir, "run-"+runID[:8])
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("run workspace: %w", err)
	}

	started := time.Now().UTC()
	deadline := started.Add(time.Duration(opts.MaxExecutionSeconds) * time.Second)
	runCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	o.mu.Lock()
	o.state = &State{
		RunID:      runID,
		Tier:       tier,
		Prompt:     opts.Prompt,
		StartedAt:  started,
		DeadlineAt: deadline,
		Workers:    map[int]worker.StatusSnapshot{},
	}
	o.mu.Unlock()

	specs := buildSpecs(tier, slots, o.cfg, o.reg, runDir)
	tasks := Decompose(opts.Prompt, opts.Technologies)
	L_info("orchestrator: run starting", "run", runID, "tier", tier, "workers", len(specs))

	var handles []Handle
	for i, spec := range specs {
		h, err := o.launcher.Launch(runCtx, spec, taskFor(tasks, i))
		if err != nil {
			L_error("orchestrator: worker launch failed", "id", spec.WorkerID, "error", err)
			o.recordLaunchFailure(spec, err)
			continue
		}
		handles = append(handles, h)
	}

	assessor := startAssessor(opts.AssessmentIntervalSeconds, func() { o.assess() })
	defer assessor.Stop()

	o.pollUntilDone(runCtx, handles)
	o.shutdown(handles)
	o.coerceNonTerminal(abortReason(runCtx.Err()))

	result := o.aggregate(runID, tier, started, handles)
	o.mu.Lock()
	o.state.Outcome = result.Outcome
	result.Assessments = append([]Assessment(nil), o.state.Assessments...)
	o.mu.Unlock()

	L_info("orchestrator: run finished", "run", runID, "outcome", result.Outcome,
		"elapsed", time.Since(started).Round(time.Second).String())
	return result, nil
}

// pollUntilDone polls all workers each tick until every worker is
// terminal, the deadline passes, or the run is cancelled.
func (o *Orchestrator) pollUntilDone(ctx context.Context, handles []Handle) {
	if len(handles) == 0 {
		return
	}
	ticker := time.NewTicker(o.PollInterval)
	defer ticker.Stop()

	for {
		if o.pollAll(ctx, handles) {
			return
		}
		select {
		case <-ctx.Done():
			L_warn("orchestrator: run interrupted", "reason", ctx.Err())
			return
		case <-ticker.C:
		}
	}
}

// pollAll fetches every worker's status in parallel and reports whether
// all of them are terminal. Statuses are read one by one; there is no
// cross-worker atomicity.
func (o *Orchestrator) pollAll(ctx context.Context, handles []Handle) bool {
	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	snaps := make([]*worker.StatusSnapshot, len(handles))
	for i, h := range handles {
		g.Go(func() error {
			snap, err := h.Status(gctx)
			if err != nil {
				L_debug("orchestrator: status poll failed", "id", h.Spec().WorkerID, "error", err)
				return nil
			}
			snaps[i] = &snap
			return nil
		})
	}
	_ = g.Wait()

	allTerminal := true
	o.mu.Lock()
	for i, snap := range snaps {
		if snap == nil {
			// Unreachable worker: keep the last known snapshot and keep
			// polling; the deadline bounds the wait.
			if prev, ok := o.state.Workers[handles[i].Spec().WorkerID]; !ok || !isTerminal(prev.Phase) {
				allTerminal = false
			}
			continue
		}
		o.state.Workers[snap.WorkerID] = *snap
		if !isTerminal(snap.Phase) {
			allTerminal = false
		}
	}
	o.mu.Unlock()
	return allTerminal
}

func isTerminal(phase string) bool {
	return phase == worker.PhaseCompleted || phase == worker.PhaseFailed
}

// shutdown cancels cooperatively, then terminates. Every worker is down
// when this returns.
func (o *Orchestrator) shutdown(handles []Handle) {
	for _, h := range handles {
		_ = h.Cancel(context.Background())
	}
	for _, h := range handles {
		h.Terminate()
	}
}

// abortReason names why a worker was still running when the run stopped.
func abortReason(runErr error) string {
	switch {
	case errors.Is(runErr, context.DeadlineExceeded):
		return string(errs.KindRunDeadlineExceeded)
	case errors.Is(runErr, context.Canceled):
		return "cancelled"
	default:
		return string(errs.KindWorkerTimeout)
	}
}

// coerceNonTerminal marks every worker the shutdown had to stop as failed.
// A killed child never reports a terminal phase itself, so its last polled
// snapshot would otherwise leak a mid-run phase into the final result.
func (o *Orchestrator) coerceNonTerminal(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, snap := range o.state.Workers {
		if isTerminal(snap.Phase) {
			continue
		}
		snap.Phase = worker.PhaseFailed
		if snap.AbortReason == "" {
			snap.AbortReason = reason
		}
		o.state.Workers[id] = snap
		L_warn("orchestrator: worker stopped before finishing", "id", id, "reason", reason)
	}
}

func (o *Orchestrator) recordLaunchFailure(spec worker.Spec, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state.Workers[spec.WorkerID] = worker.StatusSnapshot{
		WorkerID:       spec.WorkerID,
		Phase:          worker.PhaseFailed,
		AbortReason:    fmt.Sprintf("launch: %v", err),
		LastActivityAt: time.Now().UTC(),
	}
}

// aggregate folds worker results into the run outcome: success if any
// worker completed, partial if any failed worker still left an artifact,
// failed otherwise.
func (o *Orchestrator) aggregate(runID, tier string, started time.Time, handles []Handle) *Result {
	result := &Result{
		RunID:      runID,
		Tier:       tier,
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
	}

	anyCompleted := false
	anyArtifact := false

	o.mu.Lock()
	stateWorkers := o.state.Workers
	o.mu.Unlock()

	for _, h := range handles {
		spec := h.Spec()
		report := WorkerReport{
			SpecializationTag: spec.SpecializationTag,
			ModelName:         spec.ModelName,
		}
		if snap, ok := stateWorkers[spec.WorkerID]; ok {
			report.StatusSnapshot = snap
		}
		if res := h.Result(); res != nil {
			report.Phase = res.Phase
			report.AbortReason = res.AbortReason
			report.BestScore = res.BestScore
			report.URL = res.URL
			report.ArtifactDir = res.ArtifactDir
			if res.Phase == worker.PhaseCompleted {
				anyCompleted = true
			}
			if res.ArtifactDir != "" {
				anyArtifact = true
			}
		} else if report.Phase == "" {
			report.WorkerID = spec.WorkerID
			report.Phase = worker.PhaseFailed
			report.AbortReason = "no status observed"
		}
		result.Workers = append(result.Workers, report)
	}

	// Launch failures appear in state but have no handle.
	for id, snap := range stateWorkers {
		if !hasWorker(result.Workers, id) {
			result.Workers = append(result.Workers, WorkerReport{StatusSnapshot: snap})
		}
	}

	switch {
	case anyCompleted:
		result.Outcome = OutcomeSuccess
	case anyArtifact:
		result.Outcome = OutcomePartial
	default:
		result.Outcome = OutcomeFailed
	}
	return result
}

func hasWorker(reports []WorkerReport, id int) bool {
	for _, r := range reports {
		if r.WorkerID == id {
			return true
		}
	}
	return false
}
