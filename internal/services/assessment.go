package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/skyassure/peerreview-backend/internal/domain"
	"github.com/skyassure/peerreview-backend/internal/platform/apierr"
	"github.com/skyassure/peerreview-backend/internal/platform/logger"
	"github.com/skyassure/peerreview-backend/internal/rbac"
	"github.com/skyassure/peerreview-backend/internal/repos"
)

type StartAssessmentInput struct {
	OrganizationID  uuid.UUID
	QuestionnaireID uuid.UUID
	CycleYear       int
}

// AnswerInput records or replaces one answer. ExpectedVersion zero means
// "latest wins" (the interactive editor); a positive value demands the stored
// row still be at that version, which is how replayed offline writes detect
// they went stale.
type AnswerInput struct {
	QuestionID      uuid.UUID
	MaturityLevel   *int
	YesNo           *bool
	Narrative       string
	EvidenceNote    string
	ExpectedVersion int
}

// AssessmentProgress is always computed from answers, never stored.
type AssessmentProgress struct {
	Total            int  `json:"total"`
	Required         int  `json:"required"`
	AnsweredRequired int  `json:"answered_required"`
	Answered         int  `json:"answered"`
	Complete         bool `json:"complete"`
}

type AssessmentDetail struct {
	Assessment *types.SelfAssessment     `json:"assessment"`
	Answers    []*types.AssessmentAnswer `json:"answers"`
	Progress   AssessmentProgress        `json:"progress"`
}

type AssessmentService interface {
	Start(ctx context.Context, input StartAssessmentInput) (*types.SelfAssessment, error)
	Answer(ctx context.Context, assessmentID uuid.UUID, input AnswerInput) (*types.AssessmentAnswer, error)
	Progress(ctx context.Context, assessmentID uuid.UUID) (*AssessmentProgress, error)
	Submit(ctx context.Context, assessmentID uuid.UUID) (*types.SelfAssessment, error)
	Reopen(ctx context.Context, assessmentID uuid.UUID, note string) (*types.SelfAssessment, error)
	Get(ctx context.Context, assessmentID uuid.UUID) (*AssessmentDetail, error)
	ListByOrg(ctx context.Context, orgID uuid.UUID) ([]*types.SelfAssessment, error)
}

type assessmentService struct {
	db             *gorm.DB
	log            *logger.Logger
	repo           repos.AssessmentRepo
	questionnaires repos.QuestionnaireRepo
	orgs           repos.OrganizationRepo
	memberships    repos.MembershipRepo
	users          repos.UserRepo
	notify         NotificationService
}

func NewAssessmentService(
	db *gorm.DB,
	baseLog *logger.Logger,
	repo repos.AssessmentRepo,
	questionnaires repos.QuestionnaireRepo,
	orgs repos.OrganizationRepo,
	memberships repos.MembershipRepo,
	users repos.UserRepo,
	notify NotificationService,
) AssessmentService {
	return &assessmentService{
		db:             db,
		log:            baseLog.With("service", "AssessmentService"),
		repo:           repo,
		questionnaires: questionnaires,
		orgs:           orgs,
		memberships:    memberships,
		users:          users,
		notify:         notify,
	}
}

// Start opens the organization's assessment for one questionnaire and cycle.
// The (org, questionnaire, cycle) triple is unique: starting twice returns
// the conflict rather than a second assessment.
func (s *assessmentService) Start(ctx context.Context, input StartAssessmentInput) (*types.SelfAssessment, error) {
	actor, err := requireUser(ctx, nil, s.users)
	if err != nil {
		return nil, err
	}
	if input.CycleYear < 2000 || input.CycleYear > time.Now().Year()+1 {
		return nil, apierr.BadRequest("invalid_cycle_year", fmt.Errorf("cycle year %d out of range", input.CycleYear))
	}

	var assessment *types.SelfAssessment
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		org, err := s.loadOrg(ctx, tx, input.OrganizationID)
		if err != nil {
			return err
		}
		if !org.CanAuthor() {
			return apierr.Forbidden("org_not_active", fmt.Errorf("organization %s is %s", org.ID, org.Status))
		}
		role, err := membershipRole(ctx, tx, s.memberships, actor.ID, org.ID)
		if err != nil {
			return err
		}
		if !rbac.Allowed(role, rbac.ResourceAssessment, rbac.ActionCreate) {
			return apierr.Forbidden("assessment_create_denied", fmt.Errorf("role %q may not start assessments", role))
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

		existing, err := s.repo.GetByOrgQuestionnaireCycle(ctx, tx, org.ID, q.ID, input.CycleYear)
		if err != nil {
			return apierr.Internal("assessment_lookup_failed", err)
		}
		if existing != nil {
			return apierr.Conflict("assessment_exists", fmt.Errorf("assessment %s already covers this cycle", existing.ID))
		}

		assessment = &types.SelfAssessment{
			ID:              uuid.New(),
			OrganizationID:  org.ID,
			QuestionnaireID: q.ID,
			CycleYear:       input.CycleYear,
			Status:          types.AssessmentInProgress,
			StartedBy:       actor.ID,
		}
		if _, err := s.repo.Create(ctx, tx, []*types.SelfAssessment{assessment}); err != nil {
			return apierr.Internal("assessment_create_failed", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return assessment, nil
}

// Answer upserts one answer. Every write bumps the row version; writes
// carrying a stale ExpectedVersion are rejected so an offline replay never
// silently overwrites newer work.
func (s *assessmentService) Answer(ctx context.Context, assessmentID uuid.UUID, input AnswerInput) (*types.AssessmentAnswer, error) {
	actor, err := requireUser(ctx, nil, s.users)
	if err != nil {
		return nil, err
	}

	var answer *types.AssessmentAnswer
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		assessment, err := s.loadAssessment(ctx, tx, assessmentID)
		if err != nil {
			return err
		}
		role, err := membershipRole(ctx, tx, s.memberships, actor.ID, assessment.OrganizationID)
		if err != nil {
			return err
		}
		if !rbac.Allowed(role, rbac.ResourceAssessment, rbac.ActionUpdate) {
			return apierr.Forbidden("assessment_update_denied", fmt.Errorf("role %q may not answer", role))
		}
		if !assessment.Writable() {
			return apierr.Conflict("assessment_locked", fmt.Errorf("assessment %s is %s", assessment.ID, assessment.Status))
		}

		question, err := s.questionnaires.GetQuestion(ctx, tx, input.QuestionID)
		if err != nil {
			return apierr.Internal("questionnaire_lookup_failed", err)
		}
		if question == nil {
			return apierr.NotFound("question_not_found", fmt.Errorf("question %s not found", input.QuestionID))
		}
		domain, err := s.questionnaires.GetDomain(ctx, tx, question.DomainID)
		if err != nil {
			return apierr.Internal("questionnaire_lookup_failed", err)
		}
		if domain == nil || domain.QuestionnaireID != assessment.QuestionnaireID {
			return apierr.BadRequest("question_mismatch", fmt.Errorf("question %s does not belong to questionnaire %s", input.QuestionID, assessment.QuestionnaireID))
		}
		if err := validateAnswer(question.Kind, input); err != nil {
			return err
		}

		existing, err := s.repo.GetAnswer(ctx, tx, assessment.ID, question.ID)
		if err != nil {
			return apierr.Internal("answer_lookup_failed", err)
		}
		if existing == nil {
			if input.ExpectedVersion > 0 {
				// The client edited a row that no longer exists server-side
				// (or never did); treat it like any other stale write.
				return apierr.Conflict("answer_version_conflict", repos.ErrAnswerVersionConflict)
			}
			answer = &types.AssessmentAnswer{
				ID:            uuid.New(),
				AssessmentID:  assessment.ID,
				QuestionID:    question.ID,
				MaturityLevel: input.MaturityLevel,
				YesNo:         input.YesNo,
				Narrative:     strings.TrimSpace(input.Narrative),
				EvidenceNote:  strings.TrimSpace(input.EvidenceNote),
				AnsweredBy:    actor.ID,
				Version:       1,
			}
			if _, err := s.repo.CreateAnswer(ctx, tx, answer); err != nil {
				return apierr.Internal("answer_create_failed", err)
			}
			return nil
		}

		expected := input.ExpectedVersion
		if expected == 0 {
			expected = existing.Version
		}
		updates := map[string]interface{}{
			"maturity_level": input.MaturityLevel,
			"yes_no":         input.YesNo,
			"narrative":      strings.TrimSpace(input.Narrative),
			"evidence_note":  strings.TrimSpace(input.EvidenceNote),
			"answered_by":    actor.ID,
		}
		if err := s.repo.UpdateAnswerChecked(ctx, tx, existing.ID, expected, updates); err != nil {
			if errors.Is(err, repos.ErrAnswerVersionConflict) {
				return apierr.Conflict("answer_version_conflict", err)
			}
			return apierr.Internal("answer_update_failed", err)
		}
		existing.MaturityLevel = input.MaturityLevel
		existing.YesNo = input.YesNo
		existing.Narrative = strings.TrimSpace(input.Narrative)
		existing.EvidenceNote = strings.TrimSpace(input.EvidenceNote)
		existing.AnsweredBy = actor.ID
		existing.Version = expected + 1
		answer = existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	return answer, nil
}

func (s *assessmentService) Progress(ctx context.Context, assessmentID uuid.UUID) (*AssessmentProgress, error) {
	assessment, err := s.loadAssessment(ctx, nil, assessmentID)
	if err != nil {
		return nil, err
	}
	if err := s.requireReadAccess(ctx, assessment.OrganizationID); err != nil {
		return nil, err
	}
	progress, err := s.computeProgress(ctx, nil, assessment)
	if err != nil {
		return nil, err
	}
	return progress, nil
}

// Submit locks the assessment once every required question is answered and
// tells the coordinators a new self-assessment is in.
func (s *assessmentService) Submit(ctx context.Context, assessmentID uuid.UUID) (*types.SelfAssessment, error) {
	actor, err := requireUser(ctx, nil, s.users)
	if err != nil {
		return nil, err
	}
	var assessment *types.SelfAssessment
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		assessment, err = s.loadAssessment(ctx, tx, assessmentID)
		if err != nil {
			return err
		}
		role, err := membershipRole(ctx, tx, s.memberships, actor.ID, assessment.OrganizationID)
		if err != nil {
			return err
		}
		if !rbac.Allowed(role, rbac.ResourceAssessment, rbac.ActionSubmit) {
			return apierr.Forbidden("assessment_submit_denied", fmt.Errorf("role %q may not submit", role))
		}
		if !assessment.Writable() {
			return apierr.Conflict("assessment_locked", fmt.Errorf("assessment %s is %s", assessment.ID, assessment.Status))
		}
		progress, err := s.computeProgress(ctx, tx, assessment)
		if err != nil {
			return err
		}
		if !progress.Complete {
			return apierr.Unprocessable("assessment_incomplete",
				fmt.Errorf("%d of %d required questions answered", progress.AnsweredRequired, progress.Required))
		}

		now := time.Now()
		if err := s.repo.UpdateFields(ctx, tx, assessment.ID, map[string]interface{}{
			"status":       types.AssessmentSubmitted,
			"submitted_by": actor.ID,
			"submitted_at": now,
		}); err != nil {
			return apierr.Internal("assessment_update_failed", err)
		}
		assessment.Status = types.AssessmentSubmitted
		assessment.SubmittedBy = &actor.ID
		assessment.SubmittedAt = &now

		org, err := s.loadOrg(ctx, tx, assessment.OrganizationID)
		if err != nil {
			return err
		}
		coordinators, err := s.users.ListByProgrammeRole(ctx, tx, types.ProgrammeRoleCoordinator)
		if err != nil {
			return apierr.Internal("user_lookup_failed", err)
		}
		ids := make([]uuid.UUID, 0, len(coordinators))
		for _, c := range coordinators {
			ids = append(ids, c.ID)
		}
		return s.notify.NotifyMany(ctx, tx, ids, NotifyInput{
			Kind: types.NotifyAssessmentSubmitted,
			Args: []any{org.Name, assessment.CycleYear},
			Payload: map[string]any{
				"assessment_id":   assessment.ID.String(),
				"organization_id": org.ID.String(),
				"cycle_year":      assessment.CycleYear,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return assessment, nil
}

// Reopen unlocks a submitted assessment for correction. Coordinator only,
// and the note is mandatory: reopening is an audit event.
func (s *assessmentService) Reopen(ctx context.Context, assessmentID uuid.UUID, note string) (*types.SelfAssessment, error) {
	if _, err := requireCoordinator(ctx, nil, s.users); err != nil {
		return nil, err
	}
	note = strings.TrimSpace(note)
	if note == "" {
		return nil, apierr.BadRequest("note_required", fmt.Errorf("reopen requires a note"))
	}
	var assessment *types.SelfAssessment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		assessment, err = s.loadAssessment(ctx, tx, assessmentID)
		if err != nil {
			return err
		}
		if assessment.Status != types.AssessmentSubmitted {
			return apierr.Conflict("assessment_not_submitted", fmt.Errorf("assessment %s is %s", assessment.ID, assessment.Status))
		}
		if err := s.repo.UpdateFields(ctx, tx, assessment.ID, map[string]interface{}{
			"status":      types.AssessmentReopened,
			"reopen_note": note,
		}); err != nil {
			return apierr.Internal("assessment_update_failed", err)
		}
		assessment.Status = types.AssessmentReopened
		assessment.ReopenNote = note

		org, err := s.loadOrg(ctx, tx, assessment.OrganizationID)
		if err != nil {
			return err
		}
		recipients, err := s.memberships.ListUserIDsByOrgRoles(ctx, tx, org.ID, []string{types.OrgRoleAdmin, types.OrgRoleSafetyManager})
		if err != nil {
			return apierr.Internal("membership_lookup_failed", err)
		}
		return s.notify.NotifyMany(ctx, tx, recipients, NotifyInput{
			Kind: types.NotifyAssessmentReopen,
			Args: []any{org.Name, assessment.CycleYear, note},
			Payload: map[string]any{
				"assessment_id":   assessment.ID.String(),
				"organization_id": org.ID.String(),
				"cycle_year":      assessment.CycleYear,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return assessment, nil
}

func (s *assessmentService) Get(ctx context.Context, assessmentID uuid.UUID) (*AssessmentDetail, error) {
	assessment, err := s.loadAssessment(ctx, nil, assessmentID)
	if err != nil {
		return nil, err
	}
	if err := s.requireReadAccess(ctx, assessment.OrganizationID); err != nil {
		return nil, err
	}
	answers, err := s.repo.ListAnswers(ctx, nil, assessment.ID)
	if err != nil {
		return nil, apierr.Internal("answer_lookup_failed", err)
	}
	progress, err := s.computeProgress(ctx, nil, assessment)
	if err != nil {
		return nil, err
	}
	return &AssessmentDetail{Assessment: assessment, Answers: answers, Progress: *progress}, nil
}

func (s *assessmentService) ListByOrg(ctx context.Context, orgID uuid.UUID) ([]*types.SelfAssessment, error) {
	if err := s.requireReadAccess(ctx, orgID); err != nil {
		return nil, err
	}
	rows, err := s.repo.ListByOrg(ctx, nil, orgID)
	if err != nil {
		return nil, apierr.Internal("assessment_lookup_failed", err)
	}
	return rows, nil
}

// computeProgress derives completion from the questionnaire's required
// questions and the answers on file.
func (s *assessmentService) computeProgress(ctx context.Context, tx *gorm.DB, assessment *types.SelfAssessment) (*AssessmentProgress, error) {
	questions, err := s.questionnaires.ListQuestions(ctx, tx, assessment.QuestionnaireID)
	if err != nil {
		return nil, apierr.Internal("questionnaire_lookup_failed", err)
	}
	answers, err := s.repo.ListAnswers(ctx, tx, assessment.ID)
	if err != nil {
		return nil, apierr.Internal("answer_lookup_failed", err)
	}
	byQuestion := make(map[uuid.UUID]*types.AssessmentAnswer, len(answers))
	for _, ans := range answers {
		byQuestion[ans.QuestionID] = ans
	}

	progress := &AssessmentProgress{Total: len(questions)}
	for _, question := range questions {
		ans := byQuestion[question.ID]
		answered := ans.Answered(question.Kind)
		if answered {
			progress.Answered++
		}
		if question.Required {
			progress.Required++
			if answered {
				progress.AnsweredRequired++
			}
		}
	}
	progress.Complete = progress.AnsweredRequired == progress.Required
	return progress, nil
}

func (s *assessmentService) requireReadAccess(ctx context.Context, orgID uuid.UUID) error {
	actor, err := requireUser(ctx, nil, s.users)
	if err != nil {
		return err
	}
	if actor.ProgrammeRole == types.ProgrammeRoleCoordinator || actor.ProgrammeRole == types.ProgrammeRoleAuditor {
		return nil
	}
	role, err := membershipRole(ctx, nil, s.memberships, actor.ID, orgID)
	if err != nil {
		return err
	}
	if role == "" {
		return apierr.Forbidden("not_a_member", fmt.Errorf("user %s is not a member of organization %s", actor.ID, orgID))
	}
	return nil
}

func (s *assessmentService) loadAssessment(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.SelfAssessment, error) {
	a, err := s.repo.GetByID(ctx, tx, id)
	if err != nil {
		return nil, apierr.Internal("assessment_lookup_failed", err)
	}
	if a == nil {
		return nil, apierr.NotFound("assessment_not_found", fmt.Errorf("assessment %s not found", id))
	}
	return a, nil
}

func (s *assessmentService) loadOrg(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Organization, error) {
	org, err := s.orgs.GetByID(ctx, tx, id)
	if err != nil {
		return nil, apierr.Internal("org_lookup_failed", err)
	}
	if org == nil {
		return nil, apierr.NotFound("org_not_found", fmt.Errorf("organization %s not found", id))
	}
	return org, nil
}

// validateAnswer checks the payload against the question kind: the matching
// value must be present and anything belonging to another kind must not be.
func validateAnswer(kind string, input AnswerInput) error {
	switch kind {
	case types.QuestionKindMaturity:
		if input.MaturityLevel == nil {
			return apierr.BadRequest("maturity_level_required", fmt.Errorf("maturity question needs a level"))
		}
		if *input.MaturityLevel < types.MaturityMin || *input.MaturityLevel > types.MaturityMax {
			return apierr.BadRequest("maturity_level_out_of_range",
				fmt.Errorf("level %d outside %d..%d", *input.MaturityLevel, types.MaturityMin, types.MaturityMax))
		}
		if input.YesNo != nil {
			return apierr.BadRequest("answer_kind_mismatch", fmt.Errorf("maturity question cannot carry a yes/no value"))
		}
	case types.QuestionKindYesNo:
		if input.YesNo == nil {
			return apierr.BadRequest("yes_no_required", fmt.Errorf("yes/no question needs a value"))
		}
		if input.MaturityLevel != nil {
			return apierr.BadRequest("answer_kind_mismatch", fmt.Errorf("yes/no question cannot carry a maturity level"))
		}
	case types.QuestionKindNarrative:
		if strings.TrimSpace(input.Narrative) == "" {
			return apierr.BadRequest("narrative_required", fmt.Errorf("narrative question needs text"))
		}
		if input.MaturityLevel != nil || input.YesNo != nil {
			return apierr.BadRequest("answer_kind_mismatch", fmt.Errorf("narrative question cannot carry a level or yes/no value"))
		}
	default:
		return apierr.BadRequest("invalid_question_kind", fmt.Errorf("kind %q is not valid", kind))
	}
	return nil
}
