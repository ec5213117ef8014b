package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	types "github.com/skyassure/peerreview-backend/internal/domain"
	"github.com/skyassure/peerreview-backend/internal/platform/apierr"
	"github.com/skyassure/peerreview-backend/internal/platform/logger"
	"github.com/skyassure/peerreview-backend/internal/repos"
	"github.com/skyassure/peerreview-backend/internal/stats"
)

const statsVersionKey = "stats:ver"

// StatsCache fronts the statistics queries with redis. Keys embed a version
// counter; mutating services bump the counter so every cached aggregate goes
// stale at once, and the TTL reaps the abandoned generations. A nil cache (or
// nil client) disables caching, never the statistics themselves.
type StatsCache struct {
	rdb *goredis.Client
	ttl time.Duration
	log *logger.Logger
}

func NewStatsCache(rdb *goredis.Client, ttl time.Duration, baseLog *logger.Logger) *StatsCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &StatsCache{rdb: rdb, ttl: ttl, log: baseLog.With("component", "StatsCache")}
}

func (c *StatsCache) enabled() bool { return c != nil && c.rdb != nil }

// Bump invalidates every cached aggregate by moving the version counter.
func (c *StatsCache) Bump(ctx context.Context) {
	if !c.enabled() {
		return
	}
	if err := c.rdb.Incr(ctx, statsVersionKey).Err(); err != nil {
		c.log.Warn("stats cache bump failed", "error", err)
	}
}

func (c *StatsCache) version(ctx context.Context) int64 {
	if !c.enabled() {
		return 1
	}
	raw, err := c.rdb.Get(ctx, statsVersionKey).Result()
	if err != nil {
		return 1
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 1 {
		return 1
	}
	return v
}

func (c *StatsCache) key(ctx context.Context, suffix string) string {
	return fmt.Sprintf("stats:v%d:%s", c.version(ctx), suffix)
}

func (c *StatsCache) get(ctx context.Context, key string, out any) bool {
	if !c.enabled() {
		return false
	}
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		c.log.Warn("stats cache entry unreadable", "key", key, "error", err)
		return false
	}
	return true
}

func (c *StatsCache) set(ctx context.Context, key string, val any) {
	if !c.enabled() {
		return
	}
	raw, err := json.Marshal(val)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.log.Warn("stats cache write failed", "key", key, "error", err)
	}
}

// ParticipationReport pairs the per-organization and per-user service counts.
type ParticipationReport struct {
	Organizations []stats.OrgParticipation  `json:"organizations"`
	Users         []stats.UserParticipation `json:"users"`
	GeneratedAt   time.Time                 `json:"generated_at"`
}

type StatisticsService interface {
	ProgrammeOverview(ctx context.Context, cycleYear int) (*stats.ProgrammeOverview, error)
	OrgDashboard(ctx context.Context, orgID uuid.UUID, cycleYear int) (*stats.OrgDashboard, error)
	Participation(ctx context.Context) (*ParticipationReport, error)
	Rebuild(ctx context.Context) error
}

type statisticsService struct {
	db             *gorm.DB
	log            *logger.Logger
	cache          *StatsCache
	orgs           repos.OrganizationRepo
	reviews        repos.ReviewRepo
	findings       repos.FindingRepo
	actions        repos.ActionRepo
	assessments    repos.AssessmentRepo
	questionnaires repos.QuestionnaireRepo
	memberships    repos.MembershipRepo
	users          repos.UserRepo
}

func NewStatisticsService(
	db *gorm.DB,
	baseLog *logger.Logger,
	cache *StatsCache,
	orgs repos.OrganizationRepo,
	reviews repos.ReviewRepo,
	findings repos.FindingRepo,
	actions repos.ActionRepo,
	assessments repos.AssessmentRepo,
	questionnaires repos.QuestionnaireRepo,
	memberships repos.MembershipRepo,
	users repos.UserRepo,
) StatisticsService {
	return &statisticsService{
		db:             db,
		log:            baseLog.With("service", "StatisticsService"),
		cache:          cache,
		orgs:           orgs,
		reviews:        reviews,
		findings:       findings,
		actions:        actions,
		assessments:    assessments,
		questionnaires: questionnaires,
		memberships:    memberships,
		users:          users,
	}
}

// ProgrammeOverview aggregates the coordinator dashboard for one cycle year
// (0 means the current year). Every authenticated role may read it.
func (s *statisticsService) ProgrammeOverview(ctx context.Context, cycleYear int) (*stats.ProgrammeOverview, error) {
	if _, err := requireUser(ctx, nil, s.users); err != nil {
		return nil, err
	}
	if cycleYear == 0 {
		cycleYear = time.Now().Year()
	}

	key := s.cache.key(ctx, fmt.Sprintf("programme:%d", cycleYear))
	var cached stats.ProgrammeOverview
	if s.cache.get(ctx, key, &cached) {
		return &cached, nil
	}

	overview, err := s.computeProgrammeOverview(ctx, cycleYear)
	if err != nil {
		return nil, err
	}
	s.cache.set(ctx, key, overview)
	return overview, nil
}

func (s *statisticsService) computeProgrammeOverview(ctx context.Context, cycleYear int) (*stats.ProgrammeOverview, error) {
	var (
		orgCounts    map[string]int64
		phaseCounts  map[string]int64
		kindCounts   map[string]int64
		sevCounts    map[string]int64
		domCounts    map[string]int64
		actionCounts map[string]int64
		findings     []*types.Finding
		actions      []*types.CorrectiveAction
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		orgCounts, err = s.orgs.CountByStatus(gctx, nil)
		return err
	})
	g.Go(func() error {
		var err error
		phaseCounts, err = s.reviews.CountByPhase(gctx, nil)
		return err
	})
	g.Go(func() error {
		var err error
		kindCounts, err = s.findings.CountByKind(gctx, nil, cycleYear)
		return err
	})
	g.Go(func() error {
		var err error
		sevCounts, err = s.findings.CountBySeverity(gctx, nil, cycleYear)
		return err
	})
	g.Go(func() error {
		var err error
		domCounts, err = s.findings.CountByDomainCode(gctx, nil, cycleYear)
		return err
	})
	g.Go(func() error {
		var err error
		actionCounts, err = s.actions.CountByStatus(gctx, nil, cycleYear)
		return err
	})
	g.Go(func() error {
		reviews, err := s.reviews.List(gctx, nil, repos.ReviewListFilter{CycleYear: cycleYear})
		if err != nil {
			return err
		}
		ids := make([]uuid.UUID, 0, len(reviews))
		for _, r := range reviews {
			ids = append(ids, r.ID)
		}
		findings, err = s.findings.ListByReviewIDs(gctx, nil, ids)
		if err != nil {
			return err
		}
		findingIDs := make([]uuid.UUID, 0, len(findings))
		for _, f := range findings {
			findingIDs = append(findingIDs, f.ID)
		}
		actions, err = s.actions.ListByFindingIDs(gctx, nil, findingIDs)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, apierr.Internal("stats_query_failed", err)
	}

	return &stats.ProgrammeOverview{
		CycleYear:             cycleYear,
		OrganizationsByStatus: orgCounts,
		ActiveOrganizations:   orgCounts[types.OrgActive],
		ReviewsByPhase:        phaseCounts,
		FindingsByKind:        kindCounts,
		FindingsBySeverity:    sevCounts,
		FindingsByDomain:      domCounts,
		ActionsByStatus:       actionCounts,
		ActionClosureRate:     stats.ClosureRate(actionCounts),
		MedianDaysToClose:     stats.MedianDaysToClose(findings),
		OverdueActions:        stats.CountOverdue(actions, time.Now()),
		GeneratedAt:           time.Now(),
	}, nil
}

// OrgDashboard aggregates one organization's view: self-assessed maturity for
// the cycle with deltas against the previous one, findings received across
// cycles, corrective-action punctuality and the next visits. Coordinators and
// auditors see any organization, everyone else only their own.
func (s *statisticsService) OrgDashboard(ctx context.Context, orgID uuid.UUID, cycleYear int) (*stats.OrgDashboard, error) {
	actor, err := requireUser(ctx, nil, s.users)
	if err != nil {
		return nil, err
	}
	if actor.ProgrammeRole != types.ProgrammeRoleCoordinator && actor.ProgrammeRole != types.ProgrammeRoleAuditor {
		role, err := membershipRole(ctx, nil, s.memberships, actor.ID, orgID)
		if err != nil {
			return nil, err
		}
		if role == "" {
			return nil, apierr.Forbidden("not_a_member", fmt.Errorf("user %s is not a member of organization %s", actor.ID, orgID))
		}
	}
	org, err := s.orgs.GetByID(ctx, nil, orgID)
	if err != nil {
		return nil, apierr.Internal("organization_lookup_failed", err)
	}
	if org == nil {
		return nil, apierr.NotFound("organization_not_found", fmt.Errorf("organization %s not found", orgID))
	}
	if cycleYear == 0 {
		cycleYear = time.Now().Year()
	}
	locale := actor.Locale

	key := s.cache.key(ctx, fmt.Sprintf("org:%s:%d:%s", orgID, cycleYear, locale))
	var cached stats.OrgDashboard
	if s.cache.get(ctx, key, &cached) {
		return &cached, nil
	}

	dashboard, err := s.computeOrgDashboard(ctx, orgID, cycleYear, locale)
	if err != nil {
		return nil, err
	}
	s.cache.set(ctx, key, dashboard)
	return dashboard, nil
}

func (s *statisticsService) computeOrgDashboard(ctx context.Context, orgID uuid.UUID, cycleYear int, locale string) (*stats.OrgDashboard, error) {
	var (
		current, previous []stats.DomainMaturity
		overall           float64
		hostedReviews     []*types.PeerReview
		findings          []*types.Finding
		actions           []*types.CorrectiveAction
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		assessments, err := s.assessments.ListByOrg(gctx, nil, orgID)
		if err != nil {
			return err
		}
		cur := latestAssessmentForCycle(assessments, cycleYear)
		prev := latestAssessmentForCycle(assessments, cycleYear-1)
		if cur != nil {
			var domains []*types.QuestionnaireDomain
			current, domains, err = s.maturityFor(gctx, cur, locale)
			if err != nil {
				return err
			}
			overall = stats.OverallMaturity(domains, current)
		}
		if prev != nil {
			previous, _, err = s.maturityFor(gctx, prev, locale)
			if err != nil {
				return err
			}
		}
		return nil
	})
	g.Go(func() error {
		var err error
		hostedReviews, err = s.reviews.List(gctx, nil, repos.ReviewListFilter{HostOrganizationID: orgID})
		if err != nil {
			return err
		}
		ids := make([]uuid.UUID, 0, len(hostedReviews))
		for _, r := range hostedReviews {
			ids = append(ids, r.ID)
		}
		findings, err = s.findings.ListByReviewIDs(gctx, nil, ids)
		if err != nil {
			return err
		}
		findingIDs := make([]uuid.UUID, 0, len(findings))
		for _, f := range findings {
			findingIDs = append(findingIDs, f.ID)
		}
		actions, err = s.actions.ListByFindingIDs(gctx, nil, findingIDs)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, apierr.Internal("stats_query_failed", err)
	}

	cycleByReview := make(map[uuid.UUID]int, len(hostedReviews))
	for _, r := range hostedReviews {
		if r.Phase != types.ReviewCancelled {
			cycleByReview[r.ID] = r.CycleYear
		}
	}
	var openFindings, openActions int64
	for _, f := range findings {
		if f.Status != types.FindingClosed {
			if _, counted := cycleByReview[f.ReviewID]; counted {
				openFindings++
			}
		}
	}
	for _, a := range actions {
		if a.Open() {
			openActions++
		}
	}

	return &stats.OrgDashboard{
		OrganizationID:   orgID,
		CycleYear:        cycleYear,
		MaturityByDomain: stats.ApplyMaturityDeltas(current, previous),
		OverallMaturity:  overall,
		FindingsByCycle:  stats.SeverityOverCycles(findings, cycleByReview),
		OpenFindings:     openFindings,
		OpenActions:      openActions,
		ActionOnTimeRate: stats.OnTimeRate(actions),
		UpcomingReviews:  stats.UpcomingReviews(hostedReviews, time.Now(), 5),
		GeneratedAt:      time.Now(),
	}, nil
}

// maturityFor loads the assessment's questionnaire structure and answers and
// averages the maturity per domain.
func (s *statisticsService) maturityFor(ctx context.Context, assessment *types.SelfAssessment, locale string) ([]stats.DomainMaturity, []*types.QuestionnaireDomain, error) {
	domains, err := s.questionnaires.ListDomains(ctx, nil, assessment.QuestionnaireID)
	if err != nil {
		return nil, nil, err
	}
	questions, err := s.questionnaires.ListQuestions(ctx, nil, assessment.QuestionnaireID)
	if err != nil {
		return nil, nil, err
	}
	answers, err := s.assessments.ListAnswers(ctx, nil, assessment.ID)
	if err != nil {
		return nil, nil, err
	}
	return stats.MaturityByDomain(domains, questions, answers, locale), domains, nil
}

// latestAssessmentForCycle prefers the submitted assessment, falling back to
// the most recently touched one.
func latestAssessmentForCycle(assessments []*types.SelfAssessment, cycleYear int) *types.SelfAssessment {
	var best *types.SelfAssessment
	for _, a := range assessments {
		if a.CycleYear != cycleYear {
			continue
		}
		if best == nil {
			best = a
			continue
		}
		bestSubmitted := best.Status == types.AssessmentSubmitted
		aSubmitted := a.Status == types.AssessmentSubmitted
		if aSubmitted != bestSubmitted {
			if aSubmitted {
				best = a
			}
			continue
		}
		if a.UpdatedAt.After(best.UpdatedAt) {
			best = a
		}
	}
	return best
}

// Participation derives who gives and who takes across the whole programme
// from review and team rows.
func (s *statisticsService) Participation(ctx context.Context) (*ParticipationReport, error) {
	if _, err := requireUser(ctx, nil, s.users); err != nil {
		return nil, err
	}

	key := s.cache.key(ctx, "participation")
	var cached ParticipationReport
	if s.cache.get(ctx, key, &cached) {
		return &cached, nil
	}

	report, err := s.computeParticipation(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.set(ctx, key, report)
	return report, nil
}

func (s *statisticsService) computeParticipation(ctx context.Context) (*ParticipationReport, error) {
	reviews, err := s.reviews.List(ctx, nil, repos.ReviewListFilter{})
	if err != nil {
		return nil, apierr.Internal("stats_query_failed", err)
	}
	ids := make([]uuid.UUID, 0, len(reviews))
	for _, r := range reviews {
		ids = append(ids, r.ID)
	}
	members, err := s.reviews.ListTeamMembersByReviewIDs(ctx, nil, ids)
	if err != nil {
		return nil, apierr.Internal("stats_query_failed", err)
	}
	orgs, users := stats.Participation(reviews, members)
	return &ParticipationReport{
		Organizations: orgs,
		Users:         users,
		GeneratedAt:   time.Now(),
	}, nil
}

// Rebuild recomputes the programme-wide aggregates behind a fresh cache
// version. The periodic stats_rebuild job calls this so dashboards stay warm
// even when the version counter was bumped during a quiet night.
func (s *statisticsService) Rebuild(ctx context.Context) error {
	s.cache.Bump(ctx)
	cycleYear := time.Now().Year()

	overview, err := s.computeProgrammeOverview(ctx, cycleYear)
	if err != nil {
		return err
	}
	s.cache.set(ctx, s.cache.key(ctx, fmt.Sprintf("programme:%d", cycleYear)), overview)

	report, err := s.computeParticipation(ctx)
	if err != nil {
		return err
	}
	s.cache.set(ctx, s.cache.key(ctx, "participation"), report)

	s.log.Info("statistics rebuilt", "cycle_year", cycleYear,
		"organizations", len(report.Organizations), "users", len(report.Users))
	return nil
}
