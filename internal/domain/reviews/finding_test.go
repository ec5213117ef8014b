package reviews

import "testing"

func TestSeverityAllowed(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name     string
		kind     string
		severity string
		want     bool
	}{
		{name: "non-conformity with minor", kind: FindingKindNonConformity, severity: SeverityMinor, want: true},
		{name: "non-conformity with critical", kind: FindingKindNonConformity, severity: SeverityCritical, want: true},
		{name: "non-conformity without severity", kind: FindingKindNonConformity, severity: "", want: false},
		{name: "non-conformity with bogus severity", kind: FindingKindNonConformity, severity: "catastrophic", want: false},
		{name: "observation without severity", kind: FindingKindObservation, severity: "", want: true},
		{name: "observation with severity", kind: FindingKindObservation, severity: SeverityMinor, want: false},
		{name: "good practice without severity", kind: FindingKindGoodPractice, severity: "", want: true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := SeverityAllowed(tc.kind, tc.severity); got != tc.want {
				t.Fatalf("SeverityAllowed(%s, %s): got=%v want=%v", tc.kind, tc.severity, got, tc.want)
			}
		})
	}
}

func TestValidFindingKind(t *testing.T) {
	t.Parallel()
	for _, kind := range []string{FindingKindNonConformity, FindingKindObservation, FindingKindGoodPractice} {
		if !ValidFindingKind(kind) {
			t.Fatalf("ValidFindingKind(%s): got=false want=true", kind)
		}
	}
	if ValidFindingKind("suggestion") {
		t.Fatalf("ValidFindingKind(suggestion): got=true want=false")
	}
}

func TestRequiresActions(t *testing.T) {
	t.Parallel()
	if !(&Finding{Kind: FindingKindNonConformity}).RequiresActions() {
		t.Fatalf("non-conformity does not require actions")
	}
	if (&Finding{Kind: FindingKindObservation}).RequiresActions() {
		t.Fatalf("observation requires actions")
	}
}
