package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/skyassure/peerreview-backend/internal/domain"
	"github.com/skyassure/peerreview-backend/internal/i18n"
	"github.com/skyassure/peerreview-backend/internal/platform/apierr"
	"github.com/skyassure/peerreview-backend/internal/platform/logger"
	"github.com/skyassure/peerreview-backend/internal/rbac"
	"github.com/skyassure/peerreview-backend/internal/repos"
)

type ProposeActionInput struct {
	Description string
	OwnerID     uuid.UUID
	DueOn       time.Time
}

type UpdateActionInput struct {
	Description *string
	OwnerID     *uuid.UUID
	DueOn       *time.Time
}

type ActionService interface {
	Propose(ctx context.Context, findingID uuid.UUID, input ProposeActionInput) (*types.CorrectiveAction, error)
	UpdateProposal(ctx context.Context, actionID uuid.UUID, input UpdateActionInput) (*types.CorrectiveAction, error)
	Transition(ctx context.Context, actionID uuid.UUID, to, note string) (*types.CorrectiveAction, error)
	Get(ctx context.Context, actionID uuid.UUID) (*types.CorrectiveAction, error)
	ListByFinding(ctx context.Context, findingID uuid.UUID) ([]*types.CorrectiveAction, error)
}

type actionService struct {
	db          *gorm.DB
	log         *logger.Logger
	repo        repos.ActionRepo
	findings    repos.FindingRepo
	reviews     repos.ReviewRepo
	memberships repos.MembershipRepo
	users       repos.UserRepo
	notify      NotificationService
	stats       *StatsCache
}

func NewActionService(
	db *gorm.DB,
	baseLog *logger.Logger,
	repo repos.ActionRepo,
	findings repos.FindingRepo,
	reviews repos.ReviewRepo,
	memberships repos.MembershipRepo,
	users repos.UserRepo,
	notify NotificationService,
	stats *StatsCache,
) ActionService {
	return &actionService{
		db:          db,
		log:         baseLog.With("service", "ActionService"),
		repo:        repo,
		findings:    findings,
		reviews:     reviews,
		memberships: memberships,
		users:       users,
		notify:      notify,
		stats:       stats,
	}
}

// hostTransitions are the moves the host organization makes while working the
// plan; everything else belongs to the reviewer side (lead or coordinator).
var hostTransitions = map[string]map[string]bool{
	types.ActionAccepted:   {types.ActionInProgress: true},
	types.ActionInProgress: {types.ActionImplemented: true},
	types.ActionRejected:   {types.ActionProposed: true},
}

// Propose creates a corrective action against an open non-conformity. The
// host organization authors the plan; it lands in proposed awaiting the
// reviewer side.
func (s *actionService) Propose(ctx context.Context, findingID uuid.UUID, input ProposeActionInput) (*types.CorrectiveAction, error) {
	actor, err := requireUser(ctx, nil, s.users)
	if err != nil {
		return nil, err
	}
	description := strings.TrimSpace(input.Description)
	if description == "" {
		return nil, apierr.BadRequest("description_required", fmt.Errorf("corrective action needs a description"))
	}
	if input.DueOn.IsZero() {
		return nil, apierr.BadRequest("due_date_required", fmt.Errorf("corrective action needs a due date"))
	}
	if input.DueOn.Before(time.Now().Truncate(24 * time.Hour)) {
		return nil, apierr.BadRequest("due_date_in_past", fmt.Errorf("due date %s is in the past", isoDate(input.DueOn)))
	}

	var action *types.CorrectiveAction
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		finding, review, err := s.loadFindingWithReview(ctx, tx, findingID)
		if err != nil {
			return err
		}
		if err := s.requireWritableReview(review); err != nil {
			return err
		}
		if !finding.RequiresActions() {
			return apierr.Unprocessable("actions_only_for_non_conformities",
				fmt.Errorf("%s findings do not take corrective actions", finding.Kind))
		}
		if finding.Status == types.FindingClosed {
			return apierr.Conflict("finding_closed", fmt.Errorf("finding %s is closed", finding.Reference))
		}
		if err := s.requireHostAuthor(ctx, tx, review.HostOrganizationID, actor); err != nil {
			return err
		}

		ownerID := input.OwnerID
		if ownerID == uuid.Nil {
			ownerID = actor.ID
		}
		ownerRole, err := membershipRole(ctx, tx, s.memberships, ownerID, review.HostOrganizationID)
		if err != nil {
			return err
		}
		if ownerRole == "" {
			return apierr.Unprocessable("owner_not_host_member",
				fmt.Errorf("owner %s is not a member of the host organization", ownerID))
		}

		history, err := appendHistory(nil, types.ActionHistoryEntry{
			To:        types.ActionProposed,
			ActorID:   actor.ID,
			ChangedAt: time.Now(),
		})
		if err != nil {
			return apierr.Internal("history_encode_failed", err)
		}
		action = &types.CorrectiveAction{
			ID:          uuid.New(),
			FindingID:   finding.ID,
			Status:      types.ActionProposed,
			Description: description,
			OwnerID:     ownerID,
			DueOn:       &input.DueOn,
			History:     history,
			Version:     1,
		}
		if _, err := s.repo.Create(ctx, tx, []*types.CorrectiveAction{action}); err != nil {
			return apierr.Internal("action_create_failed", err)
		}

		return s.notifyReviewerSide(ctx, tx, review, NotifyInput{
			Kind: types.NotifyActionProposed,
			Args: []any{finding.Reference, isoDate(input.DueOn)},
			Payload: map[string]any{
				"action_id":  action.ID.String(),
				"finding_id": finding.ID.String(),
				"review_id":  review.ID.String(),
			},
		})
	})
	if err != nil {
		return nil, err
	}
	s.stats.Bump(ctx)
	return action, nil
}

// UpdateProposal edits the plan while it is still proposed or rejected.
// Changing the due date re-arms the due-soon and overdue notifications.
func (s *actionService) UpdateProposal(ctx context.Context, actionID uuid.UUID, input UpdateActionInput) (*types.CorrectiveAction, error) {
	actor, err := requireUser(ctx, nil, s.users)
	if err != nil {
		return nil, err
	}
	var action *types.CorrectiveAction
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		action, err = s.loadAction(ctx, tx, actionID)
		if err != nil {
			return err
		}
		_, review, err := s.loadFindingWithReview(ctx, tx, action.FindingID)
		if err != nil {
			return err
		}
		if err := s.requireWritableReview(review); err != nil {
			return err
		}
		if action.Status != types.ActionProposed && action.Status != types.ActionRejected {
			return apierr.Conflict("action_not_editable",
				fmt.Errorf("corrective action is %s; only proposed or rejected plans can be edited", action.Status))
		}
		if err := s.requireHostAuthor(ctx, tx, review.HostOrganizationID, actor); err != nil {
			return err
		}

		updates := map[string]interface{}{}
		if input.Description != nil {
			description := strings.TrimSpace(*input.Description)
			if description == "" {
				return apierr.BadRequest("description_required", fmt.Errorf("corrective action needs a description"))
			}
			updates["description"] = description
			action.Description = description
		}
		if input.OwnerID != nil {
			role, err := membershipRole(ctx, tx, s.memberships, *input.OwnerID, review.HostOrganizationID)
			if err != nil {
				return err
			}
			if role == "" {
				return apierr.Unprocessable("owner_not_host_member",
					fmt.Errorf("owner %s is not a member of the host organization", *input.OwnerID))
			}
			updates["owner_id"] = *input.OwnerID
			action.OwnerID = *input.OwnerID
		}
		if input.DueOn != nil {
			if input.DueOn.Before(time.Now().Truncate(24 * time.Hour)) {
				return apierr.BadRequest("due_date_in_past", fmt.Errorf("due date %s is in the past", isoDate(*input.DueOn)))
			}
			updates["due_on"] = *input.DueOn
			updates["due_soon_notified"] = false
			updates["overdue_notified"] = false
			action.DueOn = input.DueOn
			action.DueSoonNotified = false
			action.OverdueNotified = false
		}
		if len(updates) == 0 {
			return nil
		}
		if err := s.repo.UpdateFieldsChecked(ctx, tx, action.ID, action.Version, updates); err != nil {
			if errors.Is(err, repos.ErrActionVersionConflict) {
				return apierr.Conflict("action_version_conflict", err)
			}
			return apierr.Internal("action_update_failed", err)
		}
		action.Version++
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.stats.Bump(ctx)
	return action, nil
}

// Transition moves the plan along the lifecycle. The host works it
// (accepted→in_progress→implemented and the rejected→proposed rework); the
// reviewer side accepts, rejects, verifies and closes. Verification demands a
// verifier other than the owner.
func (s *actionService) Transition(ctx context.Context, actionID uuid.UUID, to, note string) (*types.CorrectiveAction, error) {
	actor, err := requireUser(ctx, nil, s.users)
	if err != nil {
		return nil, err
	}
	note = strings.TrimSpace(note)

	var action *types.CorrectiveAction
	var finding *types.Finding
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		action, err = s.loadAction(ctx, tx, actionID)
		if err != nil {
			return err
		}
		var review *types.PeerReview
		finding, review, err = s.loadFindingWithReview(ctx, tx, action.FindingID)
		if err != nil {
			return err
		}
		if err := s.requireWritableReview(review); err != nil {
			return err
		}
		if !types.CanTransitionAction(action.Status, to) {
			return apierr.Conflict("invalid_action_transition",
				fmt.Errorf("cannot move corrective action from %s to %s", action.Status, to))
		}

		if hostTransitions[action.Status][to] {
			if err := s.requireHostWorker(ctx, tx, review.HostOrganizationID, action, actor); err != nil {
				return err
			}
		} else {
			if err := s.requireReviewerSide(ctx, tx, review.ID, actor); err != nil {
				return err
			}
		}

		now := time.Now()
		updates := map[string]interface{}{"status": to}
		switch to {
		case types.ActionRejected:
			if note == "" {
				return apierr.BadRequest("reject_note_required", fmt.Errorf("rejecting a plan requires a note"))
			}
			updates["reject_note"] = note
			action.RejectNote = note
		case types.ActionProposed:
			// Rework after rejection: the old note no longer applies.
			updates["reject_note"] = ""
			action.RejectNote = ""
		case types.ActionVerified:
			if actor.ID == action.OwnerID {
				return apierr.Conflict("verifier_is_owner", fmt.Errorf("the plan owner cannot verify their own work"))
			}
			updates["verified_by"] = actor.ID
			updates["verified_at"] = now
			action.VerifiedBy = &actor.ID
			action.VerifiedAt = &now
		}

		history, err := appendHistory(action.History, types.ActionHistoryEntry{
			From:      action.Status,
			To:        to,
			ActorID:   actor.ID,
			Note:      note,
			ChangedAt: now,
		})
		if err != nil {
			return apierr.Internal("history_encode_failed", err)
		}
		updates["history"] = history

		if err := s.repo.UpdateFieldsChecked(ctx, tx, action.ID, action.Version, updates); err != nil {
			if errors.Is(err, repos.ErrActionVersionConflict) {
				return apierr.Conflict("action_version_conflict", err)
			}
			return apierr.Internal("action_update_failed", err)
		}
		from := action.Status
		action.Status = to
		action.History = history
		action.Version++

		return s.notifyTransition(ctx, tx, review, finding, action, actor, from, to, note)
	})
	if err != nil {
		return nil, err
	}
	s.stats.Bump(ctx)
	return action, nil
}

func (s *actionService) Get(ctx context.Context, actionID uuid.UUID) (*types.CorrectiveAction, error) {
	if _, err := requireUser(ctx, nil, s.users); err != nil {
		return nil, err
	}
	return s.loadAction(ctx, nil, actionID)
}

func (s *actionService) ListByFinding(ctx context.Context, findingID uuid.UUID) ([]*types.CorrectiveAction, error) {
	if _, err := requireUser(ctx, nil, s.users); err != nil {
		return nil, err
	}
	rows, err := s.repo.ListByFinding(ctx, nil, findingID)
	if err != nil {
		return nil, apierr.Internal("action_lookup_failed", err)
	}
	return rows, nil
}

// notifyTransition tells the other side of the table what happened: host
// moves notify the reviewer side, reviewer moves notify the owner. An
// implemented plan additionally pings the verifiers.
func (s *actionService) notifyTransition(ctx context.Context, tx *gorm.DB, review *types.PeerReview, finding *types.Finding, action *types.CorrectiveAction, actor *types.User, from, to, note string) error {
	payload := map[string]any{
		"action_id":  action.ID.String(),
		"finding_id": finding.ID.String(),
		"review_id":  review.ID.String(),
		"from":       from,
		"to":         to,
	}
	if note != "" {
		payload["note"] = note
	}

	statusInput := NotifyInput{
		Kind:    types.NotifyActionStatus,
		Args:    []any{finding.Reference, i18n.Key("label.action_status." + to)},
		Payload: payload,
	}
	if hostTransitions[from][to] {
		if to == types.ActionImplemented {
			return s.notifyReviewerSide(ctx, tx, review, NotifyInput{
				Kind:    types.NotifyActionVerify,
				Args:    []any{finding.Reference},
				Payload: payload,
			})
		}
		return s.notifyReviewerSide(ctx, tx, review, statusInput)
	}
	if action.OwnerID == actor.ID {
		return nil
	}
	statusInput.UserID = action.OwnerID
	_, err := s.notify.Notify(ctx, tx, statusInput)
	return err
}

// notifyReviewerSide reaches the seated accepted lead; when no lead has
// accepted yet, the coordinators are told instead so proposals never sit
// unseen.
func (s *actionService) notifyReviewerSide(ctx context.Context, tx *gorm.DB, review *types.PeerReview, input NotifyInput) error {
	team, err := s.reviews.ListTeamMembers(ctx, tx, review.ID)
	if err != nil {
		return apierr.Internal("team_lookup_failed", err)
	}
	var recipients []uuid.UUID
	for _, m := range team {
		if m.Seated() && m.InviteStatus == types.InviteAccepted && m.Role == types.TeamRoleLead {
			recipients = append(recipients, m.UserID)
		}
	}
	if len(recipients) == 0 {
		coordinators, err := s.users.ListByProgrammeRole(ctx, tx, types.ProgrammeRoleCoordinator)
		if err != nil {
			return apierr.Internal("user_lookup_failed", err)
		}
		for _, c := range coordinators {
			recipients = append(recipients, c.ID)
		}
	}
	return s.notify.NotifyMany(ctx, tx, recipients, input)
}

// requireHostAuthor admits host-org members whose role may author plans.
func (s *actionService) requireHostAuthor(ctx context.Context, tx *gorm.DB, hostOrgID uuid.UUID, actor *types.User) error {
	role, err := membershipRole(ctx, tx, s.memberships, actor.ID, hostOrgID)
	if err != nil {
		return err
	}
	if !rbac.Allowed(role, rbac.ResourceActionPlan, rbac.ActionCreate) {
		return apierr.Forbidden("action_author_denied",
			fmt.Errorf("role %q in the host organization may not author corrective actions", role))
	}
	return nil
}

// requireHostWorker admits the plan owner and host-org roles with transition
// rights.
func (s *actionService) requireHostWorker(ctx context.Context, tx *gorm.DB, hostOrgID uuid.UUID, action *types.CorrectiveAction, actor *types.User) error {
	if actor.ID == action.OwnerID {
		return nil
	}
	role, err := membershipRole(ctx, tx, s.memberships, actor.ID, hostOrgID)
	if err != nil {
		return err
	}
	if !rbac.Allowed(role, rbac.ResourceActionPlan, rbac.ActionTransition) {
		return apierr.Forbidden("action_transition_denied",
			fmt.Errorf("role %q in the host organization may not move this plan", role))
	}
	return nil
}

func (s *actionService) requireReviewerSide(ctx context.Context, tx *gorm.DB, reviewID uuid.UUID, actor *types.User) error {
	if actor.ProgrammeRole == types.ProgrammeRoleCoordinator {
		return nil
	}
	member, err := s.reviews.GetTeamMember(ctx, tx, reviewID, actor.ID)
	if err != nil {
		return apierr.Internal("team_lookup_failed", err)
	}
	if !member.Seated() || member.InviteStatus != types.InviteAccepted || member.Role != types.TeamRoleLead {
		return apierr.Forbidden("lead_only", fmt.Errorf("only the lead reviewer or a coordinator may do this"))
	}
	return nil
}

// requireWritableReview blocks CAP writes once the review is closed or
// cancelled; plans keep moving through completed since verification usually
// outlives the visit.
func (s *actionService) requireWritableReview(review *types.PeerReview) error {
	switch review.Phase {
	case types.ReviewClosed, types.ReviewCancelled:
		return apierr.Conflict("review_read_only", fmt.Errorf("review %s is %s", displayRef(review), review.Phase))
	case types.ReviewDraft, types.ReviewScheduled:
		return apierr.Conflict("review_not_active", fmt.Errorf("review %s has not started fieldwork", displayRef(review)))
	}
	return nil
}

func (s *actionService) loadAction(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.CorrectiveAction, error) {
	action, err := s.repo.GetByID(ctx, tx, id)
	if err != nil {
		return nil, apierr.Internal("action_lookup_failed", err)
	}
	if action == nil {
		return nil, apierr.NotFound("action_not_found", fmt.Errorf("corrective action %s not found", id))
	}
	return action, nil
}

func (s *actionService) loadFindingWithReview(ctx context.Context, tx *gorm.DB, findingID uuid.UUID) (*types.Finding, *types.PeerReview, error) {
	finding, err := s.findings.GetByID(ctx, tx, findingID)
	if err != nil {
		return nil, nil, apierr.Internal("finding_lookup_failed", err)
	}
	if finding == nil {
		return nil, nil, apierr.NotFound("finding_not_found", fmt.Errorf("finding %s not found", findingID))
	}
	review, err := s.reviews.GetByID(ctx, tx, finding.ReviewID)
	if err != nil {
		return nil, nil, apierr.Internal("review_lookup_failed", err)
	}
	if review == nil {
		return nil, nil, apierr.NotFound("review_not_found", fmt.Errorf("review %s not found", finding.ReviewID))
	}
	return finding, review, nil
}

// appendHistory decodes, appends and re-encodes the audit trail.
func appendHistory(raw datatypes.JSON, entry types.ActionHistoryEntry) (datatypes.JSON, error) {
	var history []types.ActionHistoryEntry
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &history); err != nil {
			return nil, err
		}
	}
	history = append(history, entry)
	encoded, err := json.Marshal(history)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(encoded), nil
}
