package stats

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"

	types "github.com/skyassure/peerreview-backend/internal/domain"
)

func intPtr(v int) *int { return &v }

func timePtr(v time.Time) *time.Time { return &v }

func almostEqual(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestRate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		part, total int64
		want        float64
	}{
		{"zero total", 3, 0, 0},
		{"negative total", 3, -1, 0},
		{"half", 1, 2, 0.5},
		{"all", 4, 4, 1},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Rate(tc.part, tc.total); !almostEqual(got, tc.want) {
				t.Fatalf("Rate(%d, %d): got=%v want=%v", tc.part, tc.total, got, tc.want)
			}
		})
	}
}

func TestClosureRate(t *testing.T) {
	t.Parallel()

	byStatus := map[string]int64{
		types.ActionClosed:     3,
		types.ActionInProgress: 5,
		types.ActionProposed:   2,
	}
	if got := ClosureRate(byStatus); !almostEqual(got, 0.3) {
		t.Fatalf("closure rate: got=%v want=0.3", got)
	}
	if got := ClosureRate(nil); got != 0 {
		t.Fatalf("empty closure rate: got=%v want=0", got)
	}
}

func TestMedianDaysToClose(t *testing.T) {
	t.Parallel()

	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	closedAfter := func(days int) *types.Finding {
		return &types.Finding{
			Status:    types.FindingClosed,
			CreatedAt: base,
			ClosedAt:  timePtr(base.AddDate(0, 0, days)),
		}
	}

	if got := MedianDaysToClose(nil); got != 0 {
		t.Fatalf("no findings: got=%v want=0", got)
	}

	open := &types.Finding{Status: types.FindingOpen, CreatedAt: base}
	odd := []*types.Finding{closedAfter(2), open, closedAfter(10), closedAfter(4)}
	if got := MedianDaysToClose(odd); !almostEqual(got, 4) {
		t.Fatalf("odd median: got=%v want=4", got)
	}

	even := []*types.Finding{closedAfter(2), closedAfter(4), closedAfter(6), closedAfter(20)}
	if got := MedianDaysToClose(even); !almostEqual(got, 5) {
		t.Fatalf("even median: got=%v want=5", got)
	}
}

func TestMaturityByDomain(t *testing.T) {
	t.Parallel()

	smsID, cultureID := uuid.New(), uuid.New()
	domains := []*types.QuestionnaireDomain{
		{ID: smsID, Code: "SMS", Name: types.BilingualText{EN: "Safety management", FR: "Gestion de la sécurité"}, Position: 0, Weight: 2},
		{ID: cultureID, Code: "CUL", Name: types.BilingualText{EN: "Safety culture"}, Position: 1, Weight: 1},
	}
	q1, q2, q3, q4 := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	questions := []*types.Question{
		{ID: q1, DomainID: smsID, Kind: types.QuestionKindMaturity},
		{ID: q2, DomainID: smsID, Kind: types.QuestionKindMaturity},
		{ID: q3, DomainID: smsID, Kind: types.QuestionKindNarrative},
		{ID: q4, DomainID: cultureID, Kind: types.QuestionKindMaturity},
	}
	answers := []*types.AssessmentAnswer{
		{QuestionID: q1, MaturityLevel: intPtr(3)},
		{QuestionID: q2, MaturityLevel: intPtr(4)},
		{QuestionID: q3, Narrative: "long text"}, // narrative never scores
		{QuestionID: q4},                         // unanswered maturity
	}

	got := MaturityByDomain(domains, questions, answers, "fr")
	if len(got) != 2 {
		t.Fatalf("domain count: got=%d want=2", len(got))
	}
	if got[0].Code != "SMS" || got[0].Name != "Gestion de la sécurité" {
		t.Fatalf("first domain: got=%+v", got[0])
	}
	if got[0].Answered != 2 || !almostEqual(got[0].Average, 3.5) {
		t.Fatalf("SMS average: got=%+v want answered=2 average=3.5", got[0])
	}
	// English fallback when the locale is missing a translation.
	if got[1].Name != "Safety culture" {
		t.Fatalf("fallback name: got=%q", got[1].Name)
	}
	if got[1].Answered != 0 || got[1].Average != 0 {
		t.Fatalf("unanswered domain: got=%+v", got[1])
	}

	if overall := OverallMaturity(domains, got); !almostEqual(overall, 3.5) {
		t.Fatalf("overall maturity: got=%v want=3.5 (unanswered domain must not dilute)", overall)
	}
}

func TestApplyMaturityDeltas(t *testing.T) {
	t.Parallel()

	current := []DomainMaturity{
		{Code: "SMS", Average: 3.5, Answered: 2},
		{Code: "CUL", Average: 2, Answered: 1},
		{Code: "NEW", Average: 4, Answered: 1},
	}
	previous := []DomainMaturity{
		{Code: "SMS", Average: 3, Answered: 2},
		{Code: "CUL", Average: 0, Answered: 0},
	}

	got := ApplyMaturityDeltas(current, previous)
	if got[0].Delta == nil || !almostEqual(*got[0].Delta, 0.5) {
		t.Fatalf("SMS delta: got=%v want=0.5", got[0].Delta)
	}
	if got[1].Delta != nil {
		t.Fatalf("delta against unanswered previous domain: got=%v want=nil", *got[1].Delta)
	}
	if got[2].Delta != nil {
		t.Fatalf("delta for new domain: got=%v want=nil", *got[2].Delta)
	}
}

func TestOnTimeRate(t *testing.T) {
	t.Parallel()

	due := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	history := func(closedAt time.Time) []byte {
		raw, err := json.Marshal([]types.ActionHistoryEntry{
			{From: types.ActionProposed, To: types.ActionAccepted, ChangedAt: closedAt.AddDate(0, 0, -30)},
			{From: types.ActionVerified, To: types.ActionClosed, ChangedAt: closedAt},
		})
		if err != nil {
			t.Fatalf("marshal history: %v", err)
		}
		return raw
	}

	actions := []*types.CorrectiveAction{
		// Closed late in the evening of the due day: still on time.
		{Status: types.ActionClosed, DueOn: timePtr(due), History: history(due.Add(18 * time.Hour))},
		// Closed the day after: late.
		{Status: types.ActionClosed, DueOn: timePtr(due), History: history(due.AddDate(0, 0, 1))},
		// No due date: excluded.
		{Status: types.ActionClosed, History: history(due)},
		// Still open: excluded.
		{Status: types.ActionInProgress, DueOn: timePtr(due)},
	}
	if got := OnTimeRate(actions); !almostEqual(got, 0.5) {
		t.Fatalf("on-time rate: got=%v want=0.5", got)
	}

	// Without history the last row update stands in for the close time.
	noHistory := []*types.CorrectiveAction{
		{Status: types.ActionClosed, DueOn: timePtr(due), UpdatedAt: due.AddDate(0, 0, -1)},
	}
	if got := OnTimeRate(noHistory); !almostEqual(got, 1) {
		t.Fatalf("on-time rate without history: got=%v want=1", got)
	}
}

func TestCountOverdue(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	actions := []*types.CorrectiveAction{
		{Status: types.ActionInProgress, DueOn: timePtr(now.AddDate(0, 0, -2))},
		{Status: types.ActionImplemented, DueOn: timePtr(now.AddDate(0, 0, -2))}, // implemented stops the clock
		{Status: types.ActionAccepted, DueOn: timePtr(now.AddDate(0, 0, 3))},
		{Status: types.ActionInProgress},
	}
	if got := CountOverdue(actions, now); got != 1 {
		t.Fatalf("overdue count: got=%d want=1", got)
	}
}

func TestSeverityOverCycles(t *testing.T) {
	t.Parallel()

	r2024, r2025 := uuid.New(), uuid.New()
	cycles := map[uuid.UUID]int{r2024: 2024, r2025: 2025}
	findings := []*types.Finding{
		{ReviewID: r2024, Kind: types.FindingKindNonConformity, Severity: types.SeverityMajor},
		{ReviewID: r2024, Kind: types.FindingKindGoodPractice},
		{ReviewID: r2025, Kind: types.FindingKindNonConformity, Severity: types.SeverityMinor},
		{ReviewID: r2025, Kind: types.FindingKindNonConformity, Severity: types.SeverityMinor},
		{ReviewID: r2025, Kind: types.FindingKindObservation},
		{ReviewID: uuid.New(), Kind: types.FindingKindObservation}, // unknown review skipped
	}

	got := SeverityOverCycles(findings, cycles)
	if got[2024][types.SeverityMajor] != 1 || got[2024][types.FindingKindGoodPractice] != 1 {
		t.Fatalf("2024 buckets: got=%v", got[2024])
	}
	if got[2025][types.SeverityMinor] != 2 || got[2025][types.FindingKindObservation] != 1 {
		t.Fatalf("2025 buckets: got=%v", got[2025])
	}
	if len(got) != 2 {
		t.Fatalf("cycle count: got=%d want=2", len(got))
	}
}

func TestUpcomingReviews(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC)
	mk := func(ref string, phase string, start *time.Time) *types.PeerReview {
		return &types.PeerReview{ID: uuid.New(), Reference: ref, Phase: phase, StartsOn: start}
	}
	reviews := []*types.PeerReview{
		mk("REV-2025-003", types.ReviewScheduled, timePtr(now.AddDate(0, 1, 0))),
		mk("REV-2025-001", types.ReviewScheduled, timePtr(now.AddDate(0, 0, 3))),
		mk("REV-2025-002", types.ReviewScheduled, timePtr(now.AddDate(0, 0, -10))), // already past
		mk("REV-2025-004", types.ReviewFieldwork, timePtr(now.AddDate(0, 0, 5))),   // already underway
		mk("", types.ReviewScheduled, nil), // no date
	}

	got := UpcomingReviews(reviews, now, 10)
	if len(got) != 2 {
		t.Fatalf("upcoming count: got=%d want=2", len(got))
	}
	if got[0].Reference != "REV-2025-001" || got[1].Reference != "REV-2025-003" {
		t.Fatalf("upcoming order: got=[%s %s]", got[0].Reference, got[1].Reference)
	}

	if limited := UpcomingReviews(reviews, now, 1); len(limited) != 1 {
		t.Fatalf("limit: got=%d want=1", len(limited))
	}
}

func TestParticipation(t *testing.T) {
	t.Parallel()

	orgA, orgB, orgC := uuid.New(), uuid.New(), uuid.New()
	alice, bob, carol := uuid.New(), uuid.New(), uuid.New()

	start := time.Date(2025, 5, 12, 0, 0, 0, 0, time.UTC)
	hostedByA := &types.PeerReview{
		ID:                 uuid.New(),
		HostOrganizationID: orgA,
		Phase:              types.ReviewCompleted,
		StartsOn:           timePtr(start),
		EndsOn:             timePtr(start.AddDate(0, 0, 2)), // 3 on-site days
	}
	hostedByB := &types.PeerReview{
		ID:                 uuid.New(),
		HostOrganizationID: orgB,
		Phase:              types.ReviewScheduled,
	}
	cancelled := &types.PeerReview{
		ID:                 uuid.New(),
		HostOrganizationID: orgA,
		Phase:              types.ReviewCancelled,
	}

	members := []*types.ReviewTeamMember{
		{ReviewID: hostedByA.ID, UserID: bob, OrganizationID: orgB, Role: types.TeamRoleLead, InviteStatus: types.InviteAccepted},
		{ReviewID: hostedByA.ID, UserID: carol, OrganizationID: orgC, Role: types.TeamRoleReviewer, InviteStatus: types.InviteAccepted},
		{ReviewID: hostedByB.ID, UserID: alice, OrganizationID: orgA, Role: types.TeamRoleReviewer, InviteStatus: types.InviteAccepted},
		// Declined and removed seats count for nothing.
		{ReviewID: hostedByB.ID, UserID: carol, OrganizationID: orgC, InviteStatus: types.InviteDeclined},
		{ReviewID: hostedByA.ID, UserID: alice, OrganizationID: orgB, InviteStatus: types.InviteAccepted, RemovedAt: timePtr(start)},
		// Seat on a cancelled review is skipped.
		{ReviewID: cancelled.ID, UserID: bob, OrganizationID: orgB, InviteStatus: types.InviteAccepted},
	}

	orgs, users := Participation([]*types.PeerReview{hostedByA, hostedByB, cancelled}, members)

	byOrg := make(map[uuid.UUID]OrgParticipation, len(orgs))
	for _, p := range orgs {
		byOrg[p.OrganizationID] = p
	}

	a := byOrg[orgA]
	if a.ReviewsHosted != 1 || a.ReviewsServed != 1 || a.ReviewersProvided != 1 || a.ReviewersReceived != 2 {
		t.Fatalf("orgA: got=%+v", a)
	}
	if a.ExchangeBalance != -1 {
		t.Fatalf("orgA exchange balance: got=%d want=-1", a.ExchangeBalance)
	}
	if a.ReviewerDays != 1 {
		t.Fatalf("orgA reviewer days (undated review counts 1): got=%d", a.ReviewerDays)
	}
	if a.DistinctOrgsMet != 2 {
		t.Fatalf("orgA distinct orgs met: got=%d want=2", a.DistinctOrgsMet)
	}

	b := byOrg[orgB]
	if b.ReviewsHosted != 1 || b.ReviewersProvided != 1 || b.ReviewersReceived != 1 || b.ExchangeBalance != 0 {
		t.Fatalf("orgB: got=%+v", b)
	}
	if b.ReviewerDays != 3 {
		t.Fatalf("orgB reviewer days: got=%d want=3", b.ReviewerDays)
	}

	c := byOrg[orgC]
	if c.ReviewsHosted != 0 || c.ReviewersProvided != 1 || c.ExchangeBalance != 1 {
		t.Fatalf("orgC: got=%+v", c)
	}

	byUser := make(map[uuid.UUID]UserParticipation, len(users))
	for _, u := range users {
		byUser[u.UserID] = u
	}
	if got := byUser[bob]; got.ReviewsServed != 1 || got.LeadCount != 1 || got.ReviewerDays != 3 {
		t.Fatalf("bob: got=%+v", got)
	}
	if got := byUser[alice]; got.ReviewsServed != 1 || got.LeadCount != 0 || got.ReviewerDays != 1 {
		t.Fatalf("alice: got=%+v", got)
	}
}
