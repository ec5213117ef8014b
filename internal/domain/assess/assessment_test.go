package assess

import "testing"

func intPtr(n int) *int    { return &n }
func boolPtr(b bool) *bool { return &b }

func TestAnswered(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		answer *AssessmentAnswer
		kind   string
		want   bool
	}{
		{name: "nil answer", answer: nil, kind: QuestionKindMaturity, want: false},
		{name: "maturity in range", answer: &AssessmentAnswer{MaturityLevel: intPtr(3)}, kind: QuestionKindMaturity, want: true},
		{name: "maturity at min", answer: &AssessmentAnswer{MaturityLevel: intPtr(MaturityMin)}, kind: QuestionKindMaturity, want: true},
		{name: "maturity above max", answer: &AssessmentAnswer{MaturityLevel: intPtr(6)}, kind: QuestionKindMaturity, want: false},
		{name: "maturity missing", answer: &AssessmentAnswer{}, kind: QuestionKindMaturity, want: false},
		{name: "yes_no false still answered", answer: &AssessmentAnswer{YesNo: boolPtr(false)}, kind: QuestionKindYesNo, want: true},
		{name: "yes_no missing", answer: &AssessmentAnswer{}, kind: QuestionKindYesNo, want: false},
		{name: "narrative with text", answer: &AssessmentAnswer{Narrative: "procedures reviewed"}, kind: QuestionKindNarrative, want: true},
		{name: "narrative empty", answer: &AssessmentAnswer{}, kind: QuestionKindNarrative, want: false},
		{name: "unknown kind", answer: &AssessmentAnswer{Narrative: "x"}, kind: "essay", want: false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tc.answer.Answered(tc.kind); got != tc.want {
				t.Fatalf("Answered(%s): got=%v want=%v", tc.kind, got, tc.want)
			}
		})
	}
}

func TestWritable(t *testing.T) {
	t.Parallel()
	if !(&SelfAssessment{Status: AssessmentInProgress}).Writable() {
		t.Fatalf("in_progress assessment not writable")
	}
	if !(&SelfAssessment{Status: AssessmentReopened}).Writable() {
		t.Fatalf("reopened assessment not writable")
	}
	if (&SelfAssessment{Status: AssessmentSubmitted}).Writable() {
		t.Fatalf("submitted assessment writable")
	}
}

func TestMaturityLabel(t *testing.T) {
	t.Parallel()
	cases := []struct {
		level int
		want  string
	}{
		{level: 1, want: "A"},
		{level: 3, want: "C"},
		{level: 5, want: "E"},
		{level: 0, want: ""},
		{level: 6, want: ""},
	}
	for _, tc := range cases {
		if got := MaturityLabel(tc.level); got != tc.want {
			t.Fatalf("MaturityLabel(%d): got=%q want=%q", tc.level, got, tc.want)
		}
	}
}
