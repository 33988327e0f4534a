package worker

import "testing"

func TestPhaseMonotonic(t *testing.T) {
	s := NewStatus(1)

	s.SetPhase(PhaseAnalyzing)
	s.SetPhase(PhaseCoding)
	s.SetPhase(PhaseInitializing) // regression, ignored
	if got := s.Phase(); got != PhaseCoding {
		t.Errorf("phase = %s, want coding after ignored regression", got)
	}
}

func TestPhaseCodingValidatingAlternate(t *testing.T) {
	s := NewStatus(1)
	s.SetPhase(PhaseAnalyzing)

	for i := 0; i < 3; i++ {
		s.SetPhase(PhaseCoding)
		if s.Phase() != PhaseCoding {
			t.Fatalf("iteration %d: cannot return to coding", i)
		}
		s.SetPhase(PhaseValidating)
		if s.Phase() != PhaseValidating {
			t.Fatalf("iteration %d: cannot enter validating", i)
		}
	}
}

func TestTerminalPhaseSticks(t *testing.T) {
	s := NewStatus(1)
	s.Finish(PhaseFailed, "max_iterations")

	s.SetPhase(PhaseCoding)
	s.Finish(PhaseCompleted, "")
	snap := s.Snapshot()
	if snap.Phase != PhaseFailed || snap.AbortReason != "max_iterations" {
		t.Errorf("terminal state mutated: %+v", snap)
	}
}

func TestIterationProgress(t *testing.T) {
	s := NewStatus(1)
	s.SetIteration(1, 10)
	if got := s.Snapshot().ProgressPercent; got != 0 {
		t.Errorf("progress at iteration 1 = %d", got)
	}
	s.SetIteration(6, 10)
	if got := s.Snapshot().ProgressPercent; got != 50 {
		t.Errorf("progress at iteration 6 = %d, want 50", got)
	}
	s.Finish(PhaseCompleted, "")
	if got := s.Snapshot().ProgressPercent; got != 100 {
		t.Errorf("progress on completion = %d", got)
	}
}
