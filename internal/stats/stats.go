// Package stats computes programme, organization and participation metrics
// from domain rows. Everything here is pure: callers fetch the rows, these
// functions only derive numbers from them, so the math is unit-testable
// without a database.
package stats

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"

	types "github.com/skyassure/peerreview-backend/internal/domain"
)

// ProgrammeOverview is the coordinator-level dashboard payload. The grouped
// maps come straight from repo counts; the derived fields are computed here.
type ProgrammeOverview struct {
	CycleYear             int              `json:"cycle_year,omitempty"`
	OrganizationsByStatus map[string]int64 `json:"organizations_by_status"`
	ActiveOrganizations   int64            `json:"active_organizations"`
	ReviewsByPhase        map[string]int64 `json:"reviews_by_phase"`
	FindingsByKind        map[string]int64 `json:"findings_by_kind"`
	FindingsBySeverity    map[string]int64 `json:"findings_by_severity"`
	FindingsByDomain      map[string]int64 `json:"findings_by_domain"`
	ActionsByStatus       map[string]int64 `json:"actions_by_status"`
	ActionClosureRate     float64          `json:"action_closure_rate"`
	MedianDaysToClose     float64          `json:"median_days_to_close"`
	OverdueActions        int64            `json:"overdue_actions"`
	GeneratedAt           time.Time        `json:"generated_at"`
}

// DomainMaturity is the averaged self-assessed maturity for one questionnaire
// domain. Delta is set only when the previous cycle assessed the same domain
// code.
type DomainMaturity struct {
	Code     string   `json:"code"`
	Name     string   `json:"name"`
	Average  float64  `json:"average"`
	Answered int      `json:"answered"`
	Delta    *float64 `json:"delta,omitempty"`
}

// OrgDashboard is the member-organization dashboard payload.
type OrgDashboard struct {
	OrganizationID   uuid.UUID                `json:"organization_id"`
	CycleYear        int                      `json:"cycle_year"`
	MaturityByDomain []DomainMaturity         `json:"maturity_by_domain"`
	OverallMaturity  float64                  `json:"overall_maturity"`
	FindingsByCycle  map[int]map[string]int64 `json:"findings_by_cycle"`
	OpenFindings     int64                    `json:"open_findings"`
	OpenActions      int64                    `json:"open_actions"`
	ActionOnTimeRate float64                  `json:"action_on_time_rate"`
	UpcomingReviews  []*types.PeerReview      `json:"upcoming_reviews"`
	GeneratedAt      time.Time                `json:"generated_at"`
}

// OrgParticipation counts one organization's give and take across the
// programme. ExchangeBalance is reviewer seats provided to other hosts minus
// seats received on its own reviews.
type OrgParticipation struct {
	OrganizationID    uuid.UUID `json:"organization_id"`
	ReviewsHosted     int       `json:"reviews_hosted"`
	ReviewsServed     int       `json:"reviews_served"`
	ReviewerDays      int       `json:"reviewer_days"`
	ReviewersProvided int       `json:"reviewers_provided"`
	ReviewersReceived int       `json:"reviewers_received"`
	ExchangeBalance   int       `json:"exchange_balance"`
	DistinctOrgsMet   int       `json:"distinct_orgs_met"`
}

// UserParticipation counts one user's review service.
type UserParticipation struct {
	UserID        uuid.UUID `json:"user_id"`
	ReviewsServed int       `json:"reviews_served"`
	ReviewerDays  int       `json:"reviewer_days"`
	LeadCount     int       `json:"lead_count"`
}

// Rate returns part/total, or 0 when total is zero.
func Rate(part, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(part) / float64(total)
}

// ClosureRate returns the closed fraction of a status-grouped action count.
func ClosureRate(byStatus map[string]int64) float64 {
	var total, closed int64
	for status, n := range byStatus {
		total += n
		if status == types.ActionClosed {
			closed += n
		}
	}
	return Rate(closed, total)
}

// MedianDaysToClose returns the median days between a finding being raised
// and closed, over the findings that have closed. Open findings are skipped;
// no closed findings yields 0.
func MedianDaysToClose(findings []*types.Finding) float64 {
	days := make([]float64, 0, len(findings))
	for _, f := range findings {
		if f == nil || f.Status != types.FindingClosed || f.ClosedAt == nil {
			continue
		}
		d := f.ClosedAt.Sub(f.CreatedAt).Hours() / 24
		if d < 0 {
			d = 0
		}
		days = append(days, d)
	}
	if len(days) == 0 {
		return 0
	}
	sort.Float64s(days)
	mid := len(days) / 2
	if len(days)%2 == 1 {
		return days[mid]
	}
	return (days[mid-1] + days[mid]) / 2
}

// CountOverdue counts actions past their due date and still being worked.
func CountOverdue(actions []*types.CorrectiveAction, now time.Time) int64 {
	var n int64
	for _, a := range actions {
		if a.Overdue(now) {
			n++
		}
	}
	return n
}

// MaturityByDomain averages the maturity answers of one assessment per
// questionnaire domain, in the domains' declared order. Domain names resolve
// in the given locale. Domains with no maturity answers are kept with a zero
// average so dashboards render the full questionnaire.
func MaturityByDomain(domains []*types.QuestionnaireDomain, questions []*types.Question, answers []*types.AssessmentAnswer, locale string) []DomainMaturity {
	domainOfQuestion := make(map[uuid.UUID]uuid.UUID, len(questions))
	for _, q := range questions {
		if q.Kind == types.QuestionKindMaturity {
			domainOfQuestion[q.ID] = q.DomainID
		}
	}

	sums := make(map[uuid.UUID]int, len(domains))
	counts := make(map[uuid.UUID]int, len(domains))
	for _, ans := range answers {
		if ans.MaturityLevel == nil {
			continue
		}
		domainID, ok := domainOfQuestion[ans.QuestionID]
		if !ok {
			continue
		}
		sums[domainID] += *ans.MaturityLevel
		counts[domainID]++
	}

	out := make([]DomainMaturity, 0, len(domains))
	for _, d := range domains {
		name, _ := d.Name.Resolve(locale)
		dm := DomainMaturity{Code: d.Code, Name: name}
		if n := counts[d.ID]; n > 0 {
			dm.Answered = n
			dm.Average = float64(sums[d.ID]) / float64(n)
		}
		out = append(out, dm)
	}
	return out
}

// ApplyMaturityDeltas sets Delta on each current entry whose domain code was
// also assessed in the previous cycle, and returns current for chaining.
func ApplyMaturityDeltas(current, previous []DomainMaturity) []DomainMaturity {
	prevByCode := make(map[string]DomainMaturity, len(previous))
	for _, p := range previous {
		prevByCode[p.Code] = p
	}
	for i := range current {
		if current[i].Answered == 0 {
			continue
		}
		p, ok := prevByCode[current[i].Code]
		if !ok || p.Answered == 0 {
			continue
		}
		delta := current[i].Average - p.Average
		current[i].Delta = &delta
	}
	return current
}

// OverallMaturity weight-averages the per-domain maturities using the
// questionnaire's domain weights. Unanswered domains do not dilute the score.
func OverallMaturity(domains []*types.QuestionnaireDomain, perDomain []DomainMaturity) float64 {
	weightByCode := make(map[string]float64, len(domains))
	for _, d := range domains {
		weightByCode[d.Code] = d.Weight
	}
	var sum, weight float64
	for _, dm := range perDomain {
		if dm.Answered == 0 {
			continue
		}
		w := weightByCode[dm.Code]
		if w <= 0 {
			w = 1
		}
		sum += dm.Average * w
		weight += w
	}
	if weight == 0 {
		return 0
	}
	return sum / weight
}

// OnTimeRate returns the fraction of closed, due-dated actions that closed on
// or before their due date. Actions without a due date or not yet closed do
// not participate.
func OnTimeRate(actions []*types.CorrectiveAction) float64 {
	var closed, onTime int64
	for _, a := range actions {
		if a == nil || a.Status != types.ActionClosed || a.DueOn == nil {
			continue
		}
		closed++
		if !actionClosedAt(a).After(endOfDay(*a.DueOn)) {
			onTime++
		}
	}
	return Rate(onTime, closed)
}

// actionClosedAt pulls the closing transition's timestamp out of the action's
// history column, falling back to the row's last update when the history is
// missing or unreadable.
func actionClosedAt(a *types.CorrectiveAction) time.Time {
	if len(a.History) > 0 {
		var entries []types.ActionHistoryEntry
		if err := json.Unmarshal(a.History, &entries); err == nil {
			for i := len(entries) - 1; i >= 0; i-- {
				if entries[i].To == types.ActionClosed {
					return entries[i].ChangedAt
				}
			}
		}
	}
	return a.UpdatedAt
}

// Due dates are calendar days; closing any time that day is on time.
func endOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, 999999999, t.Location())
}

// SeverityOverCycles buckets findings by their review's cycle year.
// Non-conformities bucket under their severity, the other kinds under their
// kind, so one map tells the whole story of a cycle. Findings whose review is
// not in cycleByReview are skipped.
func SeverityOverCycles(findings []*types.Finding, cycleByReview map[uuid.UUID]int) map[int]map[string]int64 {
	out := make(map[int]map[string]int64)
	for _, f := range findings {
		cycle, ok := cycleByReview[f.ReviewID]
		if !ok {
			continue
		}
		bucket := f.Severity
		if bucket == "" {
			bucket = f.Kind
		}
		if out[cycle] == nil {
			out[cycle] = make(map[string]int64)
		}
		out[cycle][bucket]++
	}
	return out
}

// UpcomingReviews returns scheduled reviews whose start date is today or
// later, soonest first, at most limit entries. Reviews without a start date
// cannot be ordered and are skipped.
func UpcomingReviews(reviews []*types.PeerReview, now time.Time, limit int) []*types.PeerReview {
	upcoming := make([]*types.PeerReview, 0, len(reviews))
	today := now.Truncate(24 * time.Hour)
	for _, r := range reviews {
		if r.Phase != types.ReviewScheduled || r.StartsOn == nil {
			continue
		}
		if r.StartsOn.Before(today) {
			continue
		}
		upcoming = append(upcoming, r)
	}
	sort.Slice(upcoming, func(i, j int) bool {
		if upcoming[i].StartsOn.Equal(*upcoming[j].StartsOn) {
			return upcoming[i].Reference < upcoming[j].Reference
		}
		return upcoming[i].StartsOn.Before(*upcoming[j].StartsOn)
	})
	if limit > 0 && len(upcoming) > limit {
		upcoming = upcoming[:limit]
	}
	return upcoming
}

// Participation derives per-organization and per-user service counts from
// reviews and their team rows. Cancelled reviews and unseated members are
// excluded. Results are ordered by ID for stable output.
func Participation(reviews []*types.PeerReview, members []*types.ReviewTeamMember) ([]OrgParticipation, []UserParticipation) {
	reviewByID := make(map[uuid.UUID]*types.PeerReview, len(reviews))
	orgAgg := make(map[uuid.UUID]*OrgParticipation)
	userAgg := make(map[uuid.UUID]*UserParticipation)
	met := make(map[uuid.UUID]map[uuid.UUID]bool)

	orgFor := func(id uuid.UUID) *OrgParticipation {
		if p, ok := orgAgg[id]; ok {
			return p
		}
		p := &OrgParticipation{OrganizationID: id}
		orgAgg[id] = p
		return p
	}
	meet := func(a, b uuid.UUID) {
		if a == b {
			return
		}
		if met[a] == nil {
			met[a] = make(map[uuid.UUID]bool)
		}
		met[a][b] = true
	}

	for _, r := range reviews {
		if r.Phase == types.ReviewCancelled {
			continue
		}
		reviewByID[r.ID] = r
		orgFor(r.HostOrganizationID).ReviewsHosted++
	}

	for _, m := range members {
		if !m.Seated() {
			continue
		}
		r, ok := reviewByID[m.ReviewID]
		if !ok {
			continue
		}
		days := reviewDays(r)

		provider := orgFor(m.OrganizationID)
		provider.ReviewsServed++
		provider.ReviewersProvided++
		provider.ReviewerDays += days

		host := orgFor(r.HostOrganizationID)
		host.ReviewersReceived++

		meet(m.OrganizationID, r.HostOrganizationID)
		meet(r.HostOrganizationID, m.OrganizationID)

		u, ok := userAgg[m.UserID]
		if !ok {
			u = &UserParticipation{UserID: m.UserID}
			userAgg[m.UserID] = u
		}
		u.ReviewsServed++
		u.ReviewerDays += days
		if m.Role == types.TeamRoleLead {
			u.LeadCount++
		}
	}

	orgs := make([]OrgParticipation, 0, len(orgAgg))
	for id, p := range orgAgg {
		p.ExchangeBalance = p.ReviewersProvided - p.ReviewersReceived
		p.DistinctOrgsMet = len(met[id])
		orgs = append(orgs, *p)
	}
	sort.Slice(orgs, func(i, j int) bool {
		return orgs[i].OrganizationID.String() < orgs[j].OrganizationID.String()
	})

	users := make([]UserParticipation, 0, len(userAgg))
	for _, u := range userAgg {
		users = append(users, *u)
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].UserID.String() < users[j].UserID.String()
	})

	return orgs, users
}

// reviewDays is the inclusive on-site duration, or 1 when the review has no
// dates yet so a served seat never counts for nothing.
func reviewDays(r *types.PeerReview) int {
	if r.StartsOn == nil || r.EndsOn == nil {
		return 1
	}
	days := int(r.EndsOn.Sub(*r.StartsOn).Hours()/24) + 1
	if days < 1 {
		return 1
	}
	return days
}
