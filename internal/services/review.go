package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/skyassure/peerreview-backend/internal/domain"
	"github.com/skyassure/peerreview-backend/internal/graph"
	"github.com/skyassure/peerreview-backend/internal/i18n"
	"github.com/skyassure/peerreview-backend/internal/platform/apierr"
	"github.com/skyassure/peerreview-backend/internal/platform/logger"
	"github.com/skyassure/peerreview-backend/internal/platform/neo4jdb"
	"github.com/skyassure/peerreview-backend/internal/rbac"
	"github.com/skyassure/peerreview-backend/internal/repos"
)

type CreateReviewInput struct {
	HostOrganizationID uuid.UUID
	QuestionnaireID    uuid.UUID
	CycleYear          int
	Language           string
	Location           string
}

type ScheduleReviewInput struct {
	StartsOn time.Time
	EndsOn   time.Time
	Scope    []string
	Location string
}

// TransitionReviewInput moves a review along the phase table. Force lets a
// coordinator start fieldwork before the scheduled date; Reason is mandatory
// for cancellation and stored on the review.
type TransitionReviewInput struct {
	Phase  string
	Force  bool
	Reason string
}

type AssignTeamMemberInput struct {
	UserID         uuid.UUID
	OrganizationID uuid.UUID
	Role           string
	CoiOverride    bool
	CoiNote        string
}

type ReviewDetail struct {
	Review *types.PeerReview         `json:"review"`
	Team   []*types.ReviewTeamMember `json:"team"`
}

type ReviewService interface {
	CreateDraft(ctx context.Context, input CreateReviewInput) (*types.PeerReview, error)
	Schedule(ctx context.Context, reviewID uuid.UUID, input ScheduleReviewInput) (*types.PeerReview, error)
	Transition(ctx context.Context, reviewID uuid.UUID, input TransitionReviewInput) (*types.PeerReview, error)
	Get(ctx context.Context, reviewID uuid.UUID) (*ReviewDetail, error)
	GetByReference(ctx context.Context, reference string) (*ReviewDetail, error)
	List(ctx context.Context, filter repos.ReviewListFilter) ([]*types.PeerReview, error)
	Upcoming(ctx context.Context) ([]*types.PeerReview, error)

	AssignTeamMember(ctx context.Context, reviewID uuid.UUID, input AssignTeamMemberInput) (*types.ReviewTeamMember, error)
	SetTeamRole(ctx context.Context, reviewID, userID uuid.UUID, role string) (*types.ReviewTeamMember, error)
	RemoveTeamMember(ctx context.Context, reviewID, userID uuid.UUID) error
	RespondInvitation(ctx context.Context, reviewID uuid.UUID, accept bool) (*types.ReviewTeamMember, error)
}

type reviewService struct {
	db             *gorm.DB
	log            *logger.Logger
	repo           repos.ReviewRepo
	orgs           repos.OrganizationRepo
	memberships    repos.MembershipRepo
	users          repos.UserRepo
	questionnaires repos.QuestionnaireRepo
	reportRuns     repos.ReportRunRepo
	notify         NotificationService
	graphClient    *neo4jdb.Client
	stats          *StatsCache
}

func NewReviewService(
	db *gorm.DB,
	baseLog *logger.Logger,
	repo repos.ReviewRepo,
	orgs repos.OrganizationRepo,
	memberships repos.MembershipRepo,
	users repos.UserRepo,
	questionnaires repos.QuestionnaireRepo,
	reportRuns repos.ReportRunRepo,
	notify NotificationService,
	graphClient *neo4jdb.Client,
	stats *StatsCache,
) ReviewService {
	return &reviewService{
		db:             db,
		log:            baseLog.With("service", "ReviewService"),
		repo:           repo,
		orgs:           orgs,
		memberships:    memberships,
		users:          users,
		questionnaires: questionnaires,
		reportRuns:     reportRuns,
		notify:         notify,
		graphClient:    graphClient,
		stats:          stats,
	}
}

// CreateDraft opens a review request for a host organization. The reference
// is not assigned yet; that happens at scheduling.
func (s *reviewService) CreateDraft(ctx context.Context, input CreateReviewInput) (*types.PeerReview, error) {
	actor, err := requireUser(ctx, nil, s.users)
	if err != nil {
		return nil, err
	}
	if input.CycleYear < 2000 || input.CycleYear > time.Now().Year()+1 {
		return nil, apierr.BadRequest("invalid_cycle_year", fmt.Errorf("cycle year %d out of range", input.CycleYear))
	}

	var review *types.PeerReview
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		org, err := s.loadReviewOrg(ctx, tx, input.HostOrganizationID)
		if err != nil {
			return err
		}
		if !org.CanAuthor() {
			return apierr.Forbidden("org_not_active", fmt.Errorf("organization %s is %s", org.ID, org.Status))
		}
		if actor.ProgrammeRole != types.ProgrammeRoleCoordinator {
			role, err := membershipRole(ctx, tx, s.memberships, actor.ID, org.ID)
			if err != nil {
				return err
			}
			if !rbac.Allowed(role, rbac.ResourceReview, rbac.ActionCreate) {
				return apierr.Forbidden("review_create_denied", fmt.Errorf("role %q may not request reviews", role))
			}
		}

		q, err := s.questionnaires.GetByID(ctx, tx, input.QuestionnaireID)
		if err != nil {
			return apierr.Internal("questionnaire_lookup_failed", err)
		}
		if q == nil {
			return apierr.NotFound("questionnaire_not_found", fmt.Errorf("questionnaire %s not found", input.QuestionnaireID))
		}
		if q.Status != types.QuestionnairePublished {
			return apierr.Conflict("questionnaire_not_published", fmt.Errorf("questionnaire %s is %s", q.ID, q.Status))
		}

		review = &types.PeerReview{
			ID:                 uuid.New(),
			HostOrganizationID: org.ID,
			QuestionnaireID:    q.ID,
			CycleYear:          input.CycleYear,
			Phase:              types.ReviewDraft,
			Language:           types.NormalizeLocale(input.Language),
			Location:           strings.TrimSpace(input.Location),
			CreatedBy:          actor.ID,
		}
		if _, err := s.repo.Create(ctx, tx, []*types.PeerReview{review}); err != nil {
			return apierr.Internal("review_create_failed", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.stats.Bump(ctx)
	return review, nil
}

// Schedule assigns the reference, dates and scope and moves the review to
// scheduled. It refuses until the team holds a lead and at least two accepted
// members from two distinct non-host organizations.
func (s *reviewService) Schedule(ctx context.Context, reviewID uuid.UUID, input ScheduleReviewInput) (*types.PeerReview, error) {
	if _, err := requireCoordinator(ctx, nil, s.users); err != nil {
		return nil, err
	}
	if input.StartsOn.IsZero() || input.EndsOn.IsZero() {
		return nil, apierr.BadRequest("dates_required", fmt.Errorf("start and end dates are required"))
	}
	if input.EndsOn.Before(input.StartsOn) {
		return nil, apierr.BadRequest("invalid_dates", fmt.Errorf("end date precedes start date"))
	}
	today := time.Now().Truncate(24 * time.Hour)
	if input.StartsOn.Before(today) {
		return nil, apierr.BadRequest("start_in_past", fmt.Errorf("start date %s is in the past", isoDate(input.StartsOn)))
	}

	var review *types.PeerReview
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		review, err = s.loadReview(ctx, tx, reviewID)
		if err != nil {
			return err
		}
		if !types.CanTransitionPhase(review.Phase, types.ReviewScheduled) {
			return apierr.Conflict("invalid_phase_transition", fmt.Errorf("cannot schedule a %s review", review.Phase))
		}

		scope, err := s.normalizeScope(ctx, tx, review.QuestionnaireID, input.Scope)
		if err != nil {
			return err
		}
		if err := s.checkSchedulingQuorum(ctx, tx, review); err != nil {
			return err
		}

		seq, err := s.repo.CountWithReferenceInYear(ctx, tx, review.CycleYear)
		if err != nil {
			return apierr.Internal("review_lookup_failed", err)
		}
		reference := fmt.Sprintf("REV-%d-%03d", review.CycleYear, seq+1)

		now := time.Now()
		updates := map[string]interface{}{
			"reference":        reference,
			"phase":            types.ReviewScheduled,
			"phase_changed_at": now,
			"starts_on":        input.StartsOn,
			"ends_on":          input.EndsOn,
		}
		if scope != nil {
			updates["scope"] = scope
		}
		if loc := strings.TrimSpace(input.Location); loc != "" {
			updates["location"] = loc
			review.Location = loc
		}
		if err := s.repo.UpdateFields(ctx, tx, review.ID, updates); err != nil {
			return apierr.Internal("review_update_failed", err)
		}
		review.Reference = reference
		review.Phase = types.ReviewScheduled
		review.PhaseChangedAt = &now
		review.StartsOn = &input.StartsOn
		review.EndsOn = &input.EndsOn
		if scope != nil {
			review.Scope = scope
		}

		org, err := s.loadReviewOrg(ctx, tx, review.HostOrganizationID)
		if err != nil {
			return err
		}
		recipients, err := s.reviewAudience(ctx, tx, review)
		if err != nil {
			return err
		}
		return s.notify.NotifyMany(ctx, tx, recipients, NotifyInput{
			Kind: types.NotifyReviewScheduled,
			Args: []any{reference, org.Name, isoDate(input.StartsOn), isoDate(input.EndsOn)},
			Payload: map[string]any{
				"review_id": review.ID.String(),
				"reference": reference,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	s.mirrorReview(ctx, review)
	return review, nil
}

// Transition moves the review along the phase table. Fieldwork cannot start
// before the scheduled date unless forced; completion requires a current
// report run in the review language.
func (s *reviewService) Transition(ctx context.Context, reviewID uuid.UUID, input TransitionReviewInput) (*types.PeerReview, error) {
	if _, err := requireCoordinator(ctx, nil, s.users); err != nil {
		return nil, err
	}
	var review *types.PeerReview
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		review, err = s.loadReview(ctx, tx, reviewID)
		if err != nil {
			return err
		}
		if !types.CanTransitionPhase(review.Phase, input.Phase) {
			return apierr.Conflict("invalid_phase_transition",
				fmt.Errorf("cannot move review from %s to %s", review.Phase, input.Phase))
		}

		now := time.Now()
		updates := map[string]interface{}{
			"phase":            input.Phase,
			"phase_changed_at": now,
		}
		switch input.Phase {
		case types.ReviewFieldwork:
			if review.StartsOn != nil && now.Before(*review.StartsOn) && !input.Force {
				return apierr.Conflict("fieldwork_before_start",
					fmt.Errorf("fieldwork starts %s; use force to begin early", isoDate(*review.StartsOn)))
			}
		case types.ReviewCompleted:
			run, err := s.reportRuns.GetCurrent(ctx, tx, review.ID, review.Language)
			if err != nil {
				return apierr.Internal("report_lookup_failed", err)
			}
			if run == nil {
				return apierr.Conflict("report_run_required",
					fmt.Errorf("review %s has no current %s report", review.ID, review.Language))
			}
			updates["completed_at"] = now
			review.CompletedAt = &now
		case types.ReviewClosed:
			updates["closed_at"] = now
			review.ClosedAt = &now
		case types.ReviewCancelled:
			reason := strings.TrimSpace(input.Reason)
			if reason == "" {
				return apierr.BadRequest("cancel_reason_required", fmt.Errorf("cancellation requires a reason"))
			}
			updates["cancel_reason"] = reason
			review.CancelReason = reason
		}
		if err := s.repo.UpdateFields(ctx, tx, review.ID, updates); err != nil {
			return apierr.Internal("review_update_failed", err)
		}
		review.Phase = input.Phase
		review.PhaseChangedAt = &now

		recipients, err := s.reviewAudience(ctx, tx, review)
		if err != nil {
			return err
		}
		return s.notify.NotifyMany(ctx, tx, recipients, NotifyInput{
			Kind: types.NotifyReviewPhase,
			Args: []any{displayRef(review), i18n.Key("label.review_phase." + input.Phase)},
			Payload: map[string]any{
				"review_id": review.ID.String(),
				"reference": review.Reference,
				"phase":     input.Phase,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	s.mirrorReview(ctx, review)
	return review, nil
}

func (s *reviewService) Get(ctx context.Context, reviewID uuid.UUID) (*ReviewDetail, error) {
	if _, err := requireUser(ctx, nil, s.users); err != nil {
		return nil, err
	}
	review, err := s.loadReview(ctx, nil, reviewID)
	if err != nil {
		return nil, err
	}
	team, err := s.repo.ListTeamMembers(ctx, nil, review.ID)
	if err != nil {
		return nil, apierr.Internal("team_lookup_failed", err)
	}
	return &ReviewDetail{Review: review, Team: team}, nil
}

func (s *reviewService) GetByReference(ctx context.Context, reference string) (*ReviewDetail, error) {
	if _, err := requireUser(ctx, nil, s.users); err != nil {
		return nil, err
	}
	review, err := s.repo.GetByReference(ctx, nil, strings.ToUpper(strings.TrimSpace(reference)))
	if err != nil {
		return nil, apierr.Internal("review_lookup_failed", err)
	}
	if review == nil {
		return nil, apierr.NotFound("review_not_found", fmt.Errorf("no review with reference %s", reference))
	}
	team, err := s.repo.ListTeamMembers(ctx, nil, review.ID)
	if err != nil {
		return nil, apierr.Internal("team_lookup_failed", err)
	}
	return &ReviewDetail{Review: review, Team: team}, nil
}

func (s *reviewService) List(ctx context.Context, filter repos.ReviewListFilter) ([]*types.PeerReview, error) {
	if _, err := requireUser(ctx, nil, s.users); err != nil {
		return nil, err
	}
	rows, err := s.repo.List(ctx, nil, filter)
	if err != nil {
		return nil, apierr.Internal("review_lookup_failed", err)
	}
	return rows, nil
}

// Upcoming lists scheduled reviews whose start date is today or later,
// soonest first.
func (s *reviewService) Upcoming(ctx context.Context) ([]*types.PeerReview, error) {
	rows, err := s.List(ctx, repos.ReviewListFilter{Phase: types.ReviewScheduled})
	if err != nil {
		return nil, err
	}
	today := time.Now().Truncate(24 * time.Hour)
	out := make([]*types.PeerReview, 0, len(rows))
	for _, review := range rows {
		if review.StartsOn != nil && !review.StartsOn.Before(today) {
			out = append(out, review)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsOn.Before(*out[j].StartsOn) })
	return out, nil
}

// AssignTeamMember seats a reviewer on the team. Members of the host
// organization are rejected outright; candidates inside the cooling-off
// window are rejected unless the coordinator overrides with a note.
func (s *reviewService) AssignTeamMember(ctx context.Context, reviewID uuid.UUID, input AssignTeamMemberInput) (*types.ReviewTeamMember, error) {
	actor, err := requireCoordinator(ctx, nil, s.users)
	if err != nil {
		return nil, err
	}
	if !types.ValidTeamRole(input.Role) {
		return nil, apierr.BadRequest("invalid_team_role", fmt.Errorf("role %q is not valid", input.Role))
	}

	var member *types.ReviewTeamMember
	var review *types.PeerReview
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		review, err = s.loadReview(ctx, tx, reviewID)
		if err != nil {
			return err
		}
		switch review.Phase {
		case types.ReviewDraft, types.ReviewScheduled, types.ReviewFieldwork:
		default:
			return apierr.Conflict("review_team_frozen", fmt.Errorf("team changes are closed in phase %s", review.Phase))
		}
		if input.OrganizationID == review.HostOrganizationID {
			return apierr.Unprocessable("host_org_member",
				fmt.Errorf("team members cannot come from the host organization"))
		}

		candidate, err := s.users.GetByID(ctx, tx, input.UserID)
		if err != nil {
			return apierr.Internal("user_lookup_failed", err)
		}
		if candidate == nil {
			return apierr.NotFound("user_not_found", fmt.Errorf("user %s not found", input.UserID))
		}
		role, err := membershipRole(ctx, tx, s.memberships, candidate.ID, input.OrganizationID)
		if err != nil {
			return err
		}
		if role == "" {
			return apierr.Unprocessable("not_org_member",
				fmt.Errorf("user %s is not a member of organization %s", candidate.ID, input.OrganizationID))
		}

		existing, err := s.repo.GetTeamMember(ctx, tx, review.ID, candidate.ID)
		if err != nil {
			return apierr.Internal("team_lookup_failed", err)
		}
		if existing.Seated() {
			return apierr.Conflict("already_on_team", fmt.Errorf("user %s already holds a seat", candidate.ID))
		}

		if input.Role == types.TeamRoleLead {
			if err := s.checkNoSeatedLead(ctx, tx, review.ID, uuid.Nil); err != nil {
				return err
			}
		}
		if err := s.checkConflictOfInterest(ctx, tx, review, candidate.ID, input); err != nil {
			return err
		}

		if existing != nil {
			updates := map[string]interface{}{
				"role":          input.Role,
				"invite_status": types.InviteInvited,
				"responded_at":  nil,
				"removed_at":    nil,
				"coi_override":  input.CoiOverride,
				"coi_note":      strings.TrimSpace(input.CoiNote),
				"added_by":      actor.ID,
			}
			if err := s.repo.UpdateTeamMemberFields(ctx, tx, existing.ID, updates); err != nil {
				return apierr.Internal("team_update_failed", err)
			}
			existing.Role = input.Role
			existing.InviteStatus = types.InviteInvited
			existing.RespondedAt = nil
			existing.RemovedAt = nil
			existing.CoiOverride = input.CoiOverride
			existing.CoiNote = strings.TrimSpace(input.CoiNote)
			existing.AddedBy = actor.ID
			member = existing
		} else {
			member = &types.ReviewTeamMember{
				ID:             uuid.New(),
				ReviewID:       review.ID,
				UserID:         candidate.ID,
				OrganizationID: input.OrganizationID,
				Role:           input.Role,
				InviteStatus:   types.InviteInvited,
				CoiOverride:    input.CoiOverride,
				CoiNote:        strings.TrimSpace(input.CoiNote),
				AddedBy:        actor.ID,
			}
			if _, err := s.repo.AddTeamMember(ctx, tx, member); err != nil {
				return apierr.Internal("team_update_failed", err)
			}
		}

		_, err = s.notify.Notify(ctx, tx, NotifyInput{
			UserID: candidate.ID,
			Kind:   types.NotifyTeamInvitation,
			Args:   []any{displayRef(review), i18n.Key("label.team_role." + input.Role)},
			Payload: map[string]any{
				"review_id": review.ID.String(),
				"reference": review.Reference,
				"role":      input.Role,
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.mirrorReview(ctx, review)
	return member, nil
}

// SetTeamRole promotes or demotes a seated member. Promoting to lead while
// another lead is seated is rejected; demote the current lead first.
func (s *reviewService) SetTeamRole(ctx context.Context, reviewID, userID uuid.UUID, role string) (*types.ReviewTeamMember, error) {
	if _, err := requireCoordinator(ctx, nil, s.users); err != nil {
		return nil, err
	}
	if !types.ValidTeamRole(role) {
		return nil, apierr.BadRequest("invalid_team_role", fmt.Errorf("role %q is not valid", role))
	}
	var member *types.ReviewTeamMember
	var review *types.PeerReview
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		review, err = s.loadReview(ctx, tx, reviewID)
		if err != nil {
			return err
		}
		member, err = s.loadSeatedMember(ctx, tx, reviewID, userID)
		if err != nil {
			return err
		}
		if member.Role == role {
			return nil
		}
		if role == types.TeamRoleLead {
			if err := s.checkNoSeatedLead(ctx, tx, reviewID, member.ID); err != nil {
				return err
			}
		}
		if err := s.repo.UpdateTeamMemberFields(ctx, tx, member.ID, map[string]interface{}{"role": role}); err != nil {
			return apierr.Internal("team_update_failed", err)
		}
		member.Role = role
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.mirrorReview(ctx, review)
	return member, nil
}

func (s *reviewService) RemoveTeamMember(ctx context.Context, reviewID, userID uuid.UUID) error {
	if _, err := requireCoordinator(ctx, nil, s.users); err != nil {
		return err
	}
	var review *types.PeerReview
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		review, err = s.loadReview(ctx, tx, reviewID)
		if err != nil {
			return err
		}
		member, err := s.loadSeatedMember(ctx, tx, reviewID, userID)
		if err != nil {
			return err
		}
		now := time.Now()
		if err := s.repo.UpdateTeamMemberFields(ctx, tx, member.ID, map[string]interface{}{"removed_at": now}); err != nil {
			return apierr.Internal("team_update_failed", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.mirrorReview(ctx, review)
	return nil
}

// RespondInvitation records the seat owner's accept or decline and tells
// whoever issued the invitation.
func (s *reviewService) RespondInvitation(ctx context.Context, reviewID uuid.UUID, accept bool) (*types.ReviewTeamMember, error) {
	actor, err := requireUser(ctx, nil, s.users)
	if err != nil {
		return nil, err
	}
	var member *types.ReviewTeamMember
	var review *types.PeerReview
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		review, err = s.loadReview(ctx, tx, reviewID)
		if err != nil {
			return err
		}
		member, err = s.repo.GetTeamMember(ctx, tx, reviewID, actor.ID)
		if err != nil {
			return apierr.Internal("team_lookup_failed", err)
		}
		if member == nil || member.RemovedAt != nil {
			return apierr.NotFound("invitation_not_found", fmt.Errorf("no open invitation for user %s", actor.ID))
		}
		if member.InviteStatus != types.InviteInvited {
			return apierr.Conflict("already_responded", fmt.Errorf("invitation already %s", member.InviteStatus))
		}

		status := types.InviteAccepted
		if !accept {
			status = types.InviteDeclined
		}
		now := time.Now()
		if err := s.repo.UpdateTeamMemberFields(ctx, tx, member.ID, map[string]interface{}{
			"invite_status": status,
			"responded_at":  now,
		}); err != nil {
			return apierr.Internal("team_update_failed", err)
		}
		member.InviteStatus = status
		member.RespondedAt = &now

		_, err = s.notify.Notify(ctx, tx, NotifyInput{
			UserID: member.AddedBy,
			Kind:   types.NotifyInvitationResponse,
			Args: []any{
				strings.TrimSpace(actor.FirstName + " " + actor.LastName),
				i18n.Key("label.invite_response." + status),
				displayRef(review),
			},
			Payload: map[string]any{
				"review_id": review.ID.String(),
				"reference": review.Reference,
				"user_id":   actor.ID.String(),
				"response":  status,
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.mirrorReview(ctx, review)
	return member, nil
}

// checkSchedulingQuorum enforces the team preconditions for scheduling: one
// seated lead, and at least two accepted members from two distinct
// organizations.
func (s *reviewService) checkSchedulingQuorum(ctx context.Context, tx *gorm.DB, review *types.PeerReview) error {
	team, err := s.repo.ListTeamMembers(ctx, tx, review.ID)
	if err != nil {
		return apierr.Internal("team_lookup_failed", err)
	}
	var leadSeated bool
	accepted := 0
	orgSet := map[uuid.UUID]struct{}{}
	for _, m := range team {
		if !m.Seated() {
			continue
		}
		if m.Role == types.TeamRoleLead {
			leadSeated = true
		}
		if m.InviteStatus == types.InviteAccepted {
			accepted++
			orgSet[m.OrganizationID] = struct{}{}
		}
	}
	if !leadSeated {
		return apierr.Unprocessable("lead_required", fmt.Errorf("no lead reviewer assigned"))
	}
	if accepted < 2 {
		return apierr.Unprocessable("team_too_small", fmt.Errorf("%d accepted members, need at least 2", accepted))
	}
	if len(orgSet) < 2 {
		return apierr.Unprocessable("team_org_diversity", fmt.Errorf("accepted members come from %d organization(s), need 2", len(orgSet)))
	}
	return nil
}

// checkConflictOfInterest flags candidates whose organization and the host
// crossed paths within the cooling-off window. The graph mirror answers the
// org-level question in both directions; without it we fall back to the
// candidate's own seats on this host's reviews in SQL.
func (s *reviewService) checkConflictOfInterest(ctx context.Context, tx *gorm.DB, review *types.PeerReview, candidateID uuid.UUID, input AssignTeamMemberInput) error {
	sinceCycle := review.CycleYear - types.CoolingOffCycles
	encounters := 0
	if graph.Enabled(s.graphClient) {
		n, err := graph.RecentEncounters(ctx, s.graphClient, input.OrganizationID, review.HostOrganizationID, sinceCycle)
		if err != nil {
			s.log.Warn("graph COI query failed, using SQL fallback", "error", err, "review_id", review.ID)
		} else {
			encounters = n
		}
	}
	if encounters == 0 {
		seats, err := s.repo.ListPastHostTeamMemberships(ctx, tx, candidateID, review.HostOrganizationID, sinceCycle)
		if err != nil {
			return apierr.Internal("team_lookup_failed", err)
		}
		for _, seat := range seats {
			if seat.ReviewID != review.ID {
				encounters++
			}
		}
	}
	if encounters == 0 {
		return nil
	}
	if !input.CoiOverride {
		return apierr.Conflict("coi_flagged",
			fmt.Errorf("%d encounter(s) with host since cycle %d; assignment needs an override", encounters, sinceCycle))
	}
	if strings.TrimSpace(input.CoiNote) == "" {
		return apierr.BadRequest("coi_note_required", fmt.Errorf("conflict-of-interest override requires a note"))
	}
	s.log.Warn("COI override recorded",
		"review_id", review.ID,
		"user_id", candidateID,
		"encounters", encounters,
		"note", strings.TrimSpace(input.CoiNote),
	)
	return nil
}

// checkNoSeatedLead rejects when a seated lead other than exceptID exists.
func (s *reviewService) checkNoSeatedLead(ctx context.Context, tx *gorm.DB, reviewID, exceptID uuid.UUID) error {
	team, err := s.repo.ListTeamMembers(ctx, tx, reviewID)
	if err != nil {
		return apierr.Internal("team_lookup_failed", err)
	}
	for _, m := range team {
		if m.Seated() && m.Role == types.TeamRoleLead && m.ID != exceptID {
			return apierr.Conflict("lead_already_assigned", fmt.Errorf("user %s already leads this review", m.UserID))
		}
	}
	return nil
}

// normalizeScope validates scope codes against the questionnaire's domains
// and returns them as a jsonb array. Nil means the scope field is untouched.
func (s *reviewService) normalizeScope(ctx context.Context, tx *gorm.DB, questionnaireID uuid.UUID, scope []string) (datatypes.JSON, error) {
	if len(scope) == 0 {
		return nil, nil
	}
	domains, err := s.questionnaires.ListDomains(ctx, tx, questionnaireID)
	if err != nil {
		return nil, apierr.Internal("questionnaire_lookup_failed", err)
	}
	known := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		known[d.Code] = struct{}{}
	}
	seen := map[string]struct{}{}
	codes := make([]string, 0, len(scope))
	for _, raw := range scope {
		code := strings.ToLower(strings.TrimSpace(raw))
		if code == "" {
			continue
		}
		if _, ok := known[code]; !ok {
			return nil, apierr.BadRequest("unknown_scope_code", fmt.Errorf("domain code %q is not in the questionnaire", code))
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}
	if len(codes) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(codes)
	if err != nil {
		return nil, apierr.Internal("scope_encode_failed", err)
	}
	return datatypes.JSON(raw), nil
}

// reviewAudience is everyone who should hear about review lifecycle events:
// the host organization's admins and safety managers plus all seated team
// members.
func (s *reviewService) reviewAudience(ctx context.Context, tx *gorm.DB, review *types.PeerReview) ([]uuid.UUID, error) {
	ids, err := s.memberships.ListUserIDsByOrgRoles(ctx, tx, review.HostOrganizationID,
		[]string{types.OrgRoleAdmin, types.OrgRoleSafetyManager})
	if err != nil {
		return nil, apierr.Internal("membership_lookup_failed", err)
	}
	team, err := s.repo.ListTeamMembers(ctx, tx, review.ID)
	if err != nil {
		return nil, apierr.Internal("team_lookup_failed", err)
	}
	seen := make(map[uuid.UUID]struct{}, len(ids)+len(team))
	out := make([]uuid.UUID, 0, len(ids)+len(team))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for _, m := range team {
		if !m.Seated() {
			continue
		}
		if _, dup := seen[m.UserID]; dup {
			continue
		}
		seen[m.UserID] = struct{}{}
		out = append(out, m.UserID)
	}
	return out, nil
}

// mirrorReview runs after a committed review mutation: it drops the cached
// dashboards and pushes the review with its roster into the graph. Failures
// only cost the mirror, never the transaction.
func (s *reviewService) mirrorReview(ctx context.Context, review *types.PeerReview) {
	s.stats.Bump(ctx)
	if review == nil || !graph.Enabled(s.graphClient) {
		return
	}
	team, err := s.repo.ListTeamMembers(ctx, nil, review.ID)
	if err != nil {
		s.log.Warn("graph mirror skipped: roster load failed", "error", err, "review_id", review.ID)
		return
	}
	if err := graph.UpsertReview(ctx, s.graphClient, s.log, review, team); err != nil {
		s.log.Warn("graph mirror failed", "error", err, "review_id", review.ID)
	}
}

func (s *reviewService) loadReview(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.PeerReview, error) {
	review, err := s.repo.GetByID(ctx, tx, id)
	if err != nil {
		return nil, apierr.Internal("review_lookup_failed", err)
	}
	if review == nil {
		return nil, apierr.NotFound("review_not_found", fmt.Errorf("review %s not found", id))
	}
	return review, nil
}

func (s *reviewService) loadSeatedMember(ctx context.Context, tx *gorm.DB, reviewID, userID uuid.UUID) (*types.ReviewTeamMember, error) {
	member, err := s.repo.GetTeamMember(ctx, tx, reviewID, userID)
	if err != nil {
		return nil, apierr.Internal("team_lookup_failed", err)
	}
	if !member.Seated() {
		return nil, apierr.NotFound("team_member_not_found", fmt.Errorf("user %s holds no seat on review %s", userID, reviewID))
	}
	return member, nil
}

func (s *reviewService) loadReviewOrg(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Organization, error) {
	org, err := s.orgs.GetByID(ctx, tx, id)
	if err != nil {
		return nil, apierr.Internal("org_lookup_failed", err)
	}
	if org == nil {
		return nil, apierr.NotFound("org_not_found", fmt.Errorf("organization %s not found", id))
	}
	return org, nil
}

// displayRef prefers the assigned reference and falls back to a short id for
// reviews that never reached scheduling.
func displayRef(review *types.PeerReview) string {
	if review.Reference != "" {
		return review.Reference
	}
	return review.ID.String()[:8]
}
