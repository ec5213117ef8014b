package orgs

import "testing"

func TestCanTransitionStatus(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		from string
		to   string
		want bool
	}{
		{name: "applied to active", from: StatusApplied, to: StatusActive, want: true},
		{name: "applied to rejected", from: StatusApplied, to: StatusRejected, want: true},
		{name: "applied cannot suspend", from: StatusApplied, to: StatusSuspended, want: false},
		{name: "active to suspended", from: StatusActive, to: StatusSuspended, want: true},
		{name: "active to withdrawn", from: StatusActive, to: StatusWithdrawn, want: true},
		{name: "suspended back to active", from: StatusSuspended, to: StatusActive, want: true},
		{name: "withdrawn is final", from: StatusWithdrawn, to: StatusActive, want: false},
		{name: "rejected is final", from: StatusRejected, to: StatusApplied, want: false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := CanTransitionStatus(tc.from, tc.to); got != tc.want {
				t.Fatalf("CanTransitionStatus(%s, %s): got=%v want=%v", tc.from, tc.to, got, tc.want)
			}
		})
	}
}

func TestCanAuthor(t *testing.T) {
	t.Parallel()
	if !(&Organization{Status: StatusActive}).CanAuthor() {
		t.Fatalf("active organization cannot author")
	}
	if (&Organization{Status: StatusSuspended}).CanAuthor() {
		t.Fatalf("suspended organization can author")
	}
	var nilOrg *Organization
	if nilOrg.CanAuthor() {
		t.Fatalf("nil organization can author")
	}
}
