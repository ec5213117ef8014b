package reviews

import "testing"

func TestCanTransitionPhase(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		from string
		to   string
		want bool
	}{
		{name: "draft to scheduled", from: PhaseDraft, to: PhaseScheduled, want: true},
		{name: "draft to fieldwork skips scheduling", from: PhaseDraft, to: PhaseFieldwork, want: false},
		{name: "scheduled to fieldwork", from: PhaseScheduled, to: PhaseFieldwork, want: true},
		{name: "fieldwork to reporting", from: PhaseFieldwork, to: PhaseReporting, want: true},
		{name: "reporting to completed", from: PhaseReporting, to: PhaseCompleted, want: true},
		{name: "completed to closed", from: PhaseCompleted, to: PhaseClosed, want: true},
		{name: "completed cannot cancel", from: PhaseCompleted, to: PhaseCancelled, want: false},
		{name: "fieldwork can cancel", from: PhaseFieldwork, to: PhaseCancelled, want: true},
		{name: "closed is final", from: PhaseClosed, to: PhaseScheduled, want: false},
		{name: "no backwards moves", from: PhaseReporting, to: PhaseFieldwork, want: false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := CanTransitionPhase(tc.from, tc.to); got != tc.want {
				t.Fatalf("CanTransitionPhase(%s, %s): got=%v want=%v", tc.from, tc.to, got, tc.want)
			}
		})
	}
}

func TestTerminalPhase(t *testing.T) {
	t.Parallel()
	for _, phase := range []string{PhaseClosed, PhaseCancelled} {
		if !TerminalPhase(phase) {
			t.Fatalf("TerminalPhase(%s): got=false want=true", phase)
		}
	}
	for _, phase := range []string{PhaseDraft, PhaseScheduled, PhaseFieldwork, PhaseReporting, PhaseCompleted} {
		if TerminalPhase(phase) {
			t.Fatalf("TerminalPhase(%s): got=true want=false", phase)
		}
	}
}

func TestReviewActive(t *testing.T) {
	t.Parallel()
	if !(&PeerReview{Phase: PhaseFieldwork}).Active() {
		t.Fatalf("fieldwork review reported inactive")
	}
	if !(&PeerReview{Phase: PhaseReporting}).Active() {
		t.Fatalf("reporting review reported inactive")
	}
	if (&PeerReview{Phase: PhaseScheduled}).Active() {
		t.Fatalf("scheduled review reported active")
	}
	var nilReview *PeerReview
	if nilReview.Active() {
		t.Fatalf("nil review reported active")
	}
}
