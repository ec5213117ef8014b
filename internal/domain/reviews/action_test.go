package reviews

import (
	"testing"
	"time"
)

func TestCanTransitionAction(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		from string
		to   string
		want bool
	}{
		{name: "proposed to accepted", from: ActionProposed, to: ActionAccepted, want: true},
		{name: "proposed to rejected", from: ActionProposed, to: ActionRejected, want: true},
		{name: "proposed straight to closed", from: ActionProposed, to: ActionClosedState, want: false},
		{name: "accepted to in_progress", from: ActionAccepted, to: ActionInProgress, want: true},
		{name: "implemented back to in_progress", from: ActionImplemented, to: ActionInProgress, want: true},
		{name: "implemented to verified", from: ActionImplemented, to: ActionVerified, want: true},
		{name: "verified to closed", from: ActionVerified, to: ActionClosedState, want: true},
		{name: "closed is final", from: ActionClosedState, to: ActionProposed, want: false},
		{name: "rejected back to proposed", from: ActionRejected, to: ActionProposed, want: true},
		{name: "unknown state", from: "bogus", to: ActionAccepted, want: false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := CanTransitionAction(tc.from, tc.to); got != tc.want {
				t.Fatalf("CanTransitionAction(%s, %s): got=%v want=%v", tc.from, tc.to, got, tc.want)
			}
		})
	}
}

func TestActionOverdue(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	past := now.Add(-48 * time.Hour)
	future := now.Add(48 * time.Hour)

	cases := []struct {
		name   string
		action *CorrectiveAction
		want   bool
	}{
		{name: "nil action", action: nil, want: false},
		{name: "no due date", action: &CorrectiveAction{Status: ActionInProgress}, want: false},
		{name: "past due in progress", action: &CorrectiveAction{Status: ActionInProgress, DueOn: &past}, want: true},
		{name: "past due but implemented", action: &CorrectiveAction{Status: ActionImplemented, DueOn: &past}, want: false},
		{name: "past due but closed", action: &CorrectiveAction{Status: ActionClosedState, DueOn: &past}, want: false},
		{name: "future due", action: &CorrectiveAction{Status: ActionAccepted, DueOn: &future}, want: false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tc.action.Overdue(now); got != tc.want {
				t.Fatalf("Overdue: got=%v want=%v", got, tc.want)
			}
		})
	}
}

func TestActionDueSoon(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	window := 7 * 24 * time.Hour
	inWindow := now.Add(3 * 24 * time.Hour)
	beyond := now.Add(10 * 24 * time.Hour)
	past := now.Add(-time.Hour)

	cases := []struct {
		name   string
		action *CorrectiveAction
		want   bool
	}{
		{name: "inside window", action: &CorrectiveAction{Status: ActionInProgress, DueOn: &inWindow}, want: true},
		{name: "beyond window", action: &CorrectiveAction{Status: ActionInProgress, DueOn: &beyond}, want: false},
		{name: "already past due", action: &CorrectiveAction{Status: ActionInProgress, DueOn: &past}, want: false},
		{name: "implemented", action: &CorrectiveAction{Status: ActionImplemented, DueOn: &inWindow}, want: false},
		{name: "no due date", action: &CorrectiveAction{Status: ActionInProgress}, want: false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tc.action.DueSoon(now, window); got != tc.want {
				t.Fatalf("DueSoon: got=%v want=%v", got, tc.want)
			}
		})
	}
}

func TestActionOpen(t *testing.T) {
	t.Parallel()
	if (&CorrectiveAction{Status: ActionClosedState}).Open() {
		t.Fatalf("closed action reported open")
	}
	if !(&CorrectiveAction{Status: ActionVerified}).Open() {
		t.Fatalf("verified action reported closed")
	}
	var nilAction *CorrectiveAction
	if nilAction.Open() {
		t.Fatalf("nil action reported open")
	}
}
