package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/skyassure/peerreview-backend/internal/domain"
	"github.com/skyassure/peerreview-backend/internal/i18n"
	"github.com/skyassure/peerreview-backend/internal/platform/apierr"
	"github.com/skyassure/peerreview-backend/internal/platform/gcp"
	"github.com/skyassure/peerreview-backend/internal/platform/logger"
	"github.com/skyassure/peerreview-backend/internal/repos"
)

type RecordFindingInput struct {
	Kind        string
	Severity    string
	DomainCode  string
	QuestionID  *uuid.UUID
	Title       string
	Description string
}

// UpdateFindingInput edits finding content. ExpectedVersion zero takes the
// current row version; a positive value is the offline-sync contract and
// rejects stale writes.
type UpdateFindingInput struct {
	Severity        *string
	Title           *string
	Description     *string
	ExpectedVersion int
}

type FindingDetail struct {
	Finding *types.Finding            `json:"finding"`
	Actions []*types.CorrectiveAction `json:"actions"`
}

type FindingService interface {
	Record(ctx context.Context, reviewID uuid.UUID, input RecordFindingInput) (*types.Finding, error)
	Update(ctx context.Context, findingID uuid.UUID, input UpdateFindingInput) (*types.Finding, error)
	Close(ctx context.Context, findingID uuid.UUID) (*types.Finding, error)
	AttachEvidence(ctx context.Context, findingID uuid.UUID, filename string, raw []byte) (*types.Finding, error)
	Get(ctx context.Context, findingID uuid.UUID) (*FindingDetail, error)
	ListByReview(ctx context.Context, reviewID uuid.UUID) ([]*types.Finding, error)
}

type findingService struct {
	db          *gorm.DB
	log         *logger.Logger
	repo        repos.FindingRepo
	actions     repos.ActionRepo
	reviews     repos.ReviewRepo
	memberships repos.MembershipRepo
	users       repos.UserRepo
	notify      NotificationService
	bucket      gcp.BucketService
	stats       *StatsCache
}

func NewFindingService(
	db *gorm.DB,
	baseLog *logger.Logger,
	repo repos.FindingRepo,
	actions repos.ActionRepo,
	reviews repos.ReviewRepo,
	memberships repos.MembershipRepo,
	users repos.UserRepo,
	notify NotificationService,
	bucket gcp.BucketService,
	stats *StatsCache,
) FindingService {
	return &findingService{
		db:          db,
		log:         baseLog.With("service", "FindingService"),
		repo:        repo,
		actions:     actions,
		reviews:     reviews,
		memberships: memberships,
		users:       users,
		notify:      notify,
		bucket:      bucket,
		stats:       stats,
	}
}

// Record writes a finding during fieldwork or reporting. The sequence comes
// from the review's transactional counter, so references stay dense even when
// two reviewers record at once.
func (s *findingService) Record(ctx context.Context, reviewID uuid.UUID, input RecordFindingInput) (*types.Finding, error) {
	actor, err := requireUser(ctx, nil, s.users)
	if err != nil {
		return nil, err
	}
	if !types.ValidFindingKind(input.Kind) {
		return nil, apierr.BadRequest("invalid_finding_kind", fmt.Errorf("kind %q is not valid", input.Kind))
	}
	if err := checkSeverityPairing(input.Kind, input.Severity); err != nil {
		return nil, err
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, apierr.BadRequest("title_required", fmt.Errorf("finding title is required"))
	}

	var finding *types.Finding
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		review, err := s.loadActiveReview(ctx, tx, reviewID)
		if err != nil {
			return err
		}
		if _, err := s.requireWritingSeat(ctx, tx, review.ID, actor.ID); err != nil {
			return err
		}
		if err := s.checkScope(ctx, tx, review, input.DomainCode, input.QuestionID); err != nil {
			return err
		}

		seq, err := s.reviews.NextFindingSeq(ctx, tx, review.ID)
		if err != nil {
			return apierr.Internal("finding_seq_failed", err)
		}
		finding = &types.Finding{
			ID:          uuid.New(),
			ReviewID:    review.ID,
			Seq:         seq,
			Reference:   fmt.Sprintf("%s-F%d", review.Reference, seq),
			Kind:        input.Kind,
			Severity:    input.Severity,
			Status:      types.FindingOpen,
			DomainCode:  strings.ToLower(strings.TrimSpace(input.DomainCode)),
			QuestionID:  input.QuestionID,
			Title:       title,
			Description: strings.TrimSpace(input.Description),
			RaisedBy:    actor.ID,
			Version:     1,
		}
		if _, err := s.repo.Create(ctx, tx, []*types.Finding{finding}); err != nil {
			return apierr.Internal("finding_create_failed", err)
		}

		recipients, err := s.memberships.ListUserIDsByOrgRoles(ctx, tx, review.HostOrganizationID,
			[]string{types.OrgRoleAdmin, types.OrgRoleSafetyManager})
		if err != nil {
			return apierr.Internal("membership_lookup_failed", err)
		}
		return s.notify.NotifyMany(ctx, tx, recipients, NotifyInput{
			Kind: types.NotifyFindingRecorded,
			Args: []any{finding.Reference, i18n.Key("label.finding_kind." + finding.Kind), review.Reference},
			Payload: map[string]any{
				"finding_id": finding.ID.String(),
				"review_id":  review.ID.String(),
				"reference":  finding.Reference,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	s.stats.Bump(ctx)
	return finding, nil
}

func (s *findingService) Update(ctx context.Context, findingID uuid.UUID, input UpdateFindingInput) (*types.Finding, error) {
	actor, err := requireUser(ctx, nil, s.users)
	if err != nil {
		return nil, err
	}
	var finding *types.Finding
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		finding, err = s.loadFinding(ctx, tx, findingID)
		if err != nil {
			return err
		}
		review, err := s.loadActiveReview(ctx, tx, finding.ReviewID)
		if err != nil {
			return err
		}
		if _, err := s.requireWritingSeat(ctx, tx, review.ID, actor.ID); err != nil {
			return err
		}
		if finding.Status == types.FindingClosed {
			return apierr.Conflict("finding_closed", fmt.Errorf("finding %s is closed", finding.Reference))
		}

		updates := map[string]interface{}{}
		if input.Severity != nil {
			if err := checkSeverityPairing(finding.Kind, *input.Severity); err != nil {
				return err
			}
			updates["severity"] = *input.Severity
			finding.Severity = *input.Severity
		}
		if input.Title != nil {
			title := strings.TrimSpace(*input.Title)
			if title == "" {
				return apierr.BadRequest("title_required", fmt.Errorf("finding title is required"))
			}
			updates["title"] = title
			finding.Title = title
		}
		if input.Description != nil {
			updates["description"] = strings.TrimSpace(*input.Description)
			finding.Description = strings.TrimSpace(*input.Description)
		}
		if len(updates) == 0 {
			return nil
		}

		expected := input.ExpectedVersion
		if expected == 0 {
			expected = finding.Version
		}
		if err := s.repo.UpdateFieldsChecked(ctx, tx, finding.ID, expected, updates); err != nil {
			if errors.Is(err, repos.ErrFindingVersionConflict) {
				return apierr.Conflict("finding_version_conflict", err)
			}
			return apierr.Internal("finding_update_failed", err)
		}
		finding.Version = expected + 1
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.stats.Bump(ctx)
	return finding, nil
}

// Close closes a finding. The review lead (or a coordinator) closes any kind;
// a non-conformity additionally needs every corrective action closed first.
func (s *findingService) Close(ctx context.Context, findingID uuid.UUID) (*types.Finding, error) {
	actor, err := requireUser(ctx, nil, s.users)
	if err != nil {
		return nil, err
	}
	var finding *types.Finding
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		finding, err = s.loadFinding(ctx, tx, findingID)
		if err != nil {
			return err
		}
		review, err := s.loadReview(ctx, tx, finding.ReviewID)
		if err != nil {
			return err
		}
		if review.Phase == types.ReviewClosed || review.Phase == types.ReviewCancelled {
			return apierr.Conflict("review_read_only", fmt.Errorf("review %s is %s", displayRef(review), review.Phase))
		}
		if err := s.requireLeadOrCoordinator(ctx, tx, review.ID, actor); err != nil {
			return err
		}
		if finding.Status == types.FindingClosed {
			return apierr.Conflict("finding_closed", fmt.Errorf("finding %s is already closed", finding.Reference))
		}
		if finding.RequiresActions() {
			open, err := s.actions.CountOpenByFinding(ctx, tx, finding.ID)
			if err != nil {
				return apierr.Internal("action_lookup_failed", err)
			}
			if open > 0 {
				return apierr.Conflict("open_actions_remain",
					fmt.Errorf("finding %s has %d open corrective action(s)", finding.Reference, open))
			}
		}

		now := time.Now()
		if err := s.repo.UpdateFieldsChecked(ctx, tx, finding.ID, finding.Version, map[string]interface{}{
			"status":    types.FindingClosed,
			"closed_by": actor.ID,
			"closed_at": now,
		}); err != nil {
			if errors.Is(err, repos.ErrFindingVersionConflict) {
				return apierr.Conflict("finding_version_conflict", err)
			}
			return apierr.Internal("finding_update_failed", err)
		}
		finding.Status = types.FindingClosed
		finding.ClosedBy = &actor.ID
		finding.ClosedAt = &now
		finding.Version++
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.stats.Bump(ctx)
	return finding, nil
}

// AttachEvidence uploads a file to the evidence bucket and appends its key to
// the finding.
func (s *findingService) AttachEvidence(ctx context.Context, findingID uuid.UUID, filename string, raw []byte) (*types.Finding, error) {
	actor, err := requireUser(ctx, nil, s.users)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, apierr.BadRequest("empty_file", fmt.Errorf("evidence file is empty"))
	}

	finding, err := s.loadFinding(ctx, nil, findingID)
	if err != nil {
		return nil, err
	}
	review, err := s.loadActiveReview(ctx, nil, finding.ReviewID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireWritingSeat(ctx, nil, review.ID, actor.ID); err != nil {
		return nil, err
	}
	if finding.Status == types.FindingClosed {
		return nil, apierr.Conflict("finding_closed", fmt.Errorf("finding %s is closed", finding.Reference))
	}

	key := fmt.Sprintf("finding_evidence/%s/%d_%s", finding.ID, time.Now().UnixNano(), sanitizeFilename(filename))
	if err := s.bucket.UploadFile(ctx, gcp.BucketCategoryEvidence, key, bytes.NewReader(raw)); err != nil {
		return nil, apierr.Internal("evidence_upload_failed", err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fresh, err := s.loadFinding(ctx, tx, finding.ID)
		if err != nil {
			return err
		}
		keys, err := evidenceKeys(fresh.Evidence)
		if err != nil {
			return apierr.Internal("evidence_decode_failed", err)
		}
		keys = append(keys, key)
		encoded, err := json.Marshal(keys)
		if err != nil {
			return apierr.Internal("evidence_encode_failed", err)
		}
		if err := s.repo.UpdateFieldsChecked(ctx, tx, fresh.ID, fresh.Version, map[string]interface{}{
			"evidence": datatypes.JSON(encoded),
		}); err != nil {
			if errors.Is(err, repos.ErrFindingVersionConflict) {
				return apierr.Conflict("finding_version_conflict", err)
			}
			return apierr.Internal("finding_update_failed", err)
		}
		fresh.Evidence = datatypes.JSON(encoded)
		fresh.Version++
		finding = fresh
		return nil
	})
	if err != nil {
		// The object is uploaded but unreferenced; remove it so the bucket
		// does not accumulate orphans.
		if delErr := s.bucket.DeleteFile(ctx, gcp.BucketCategoryEvidence, key); delErr != nil {
			s.log.Warn("orphan evidence cleanup failed", "error", delErr, "key", key)
		}
		return nil, err
	}
	return finding, nil
}

func (s *findingService) Get(ctx context.Context, findingID uuid.UUID) (*FindingDetail, error) {
	if _, err := requireUser(ctx, nil, s.users); err != nil {
		return nil, err
	}
	finding, err := s.loadFinding(ctx, nil, findingID)
	if err != nil {
		return nil, err
	}
	actions, err := s.actions.ListByFinding(ctx, nil, finding.ID)
	if err != nil {
		return nil, apierr.Internal("action_lookup_failed", err)
	}
	return &FindingDetail{Finding: finding, Actions: actions}, nil
}

func (s *findingService) ListByReview(ctx context.Context, reviewID uuid.UUID) ([]*types.Finding, error) {
	if _, err := requireUser(ctx, nil, s.users); err != nil {
		return nil, err
	}
	rows, err := s.repo.ListByReview(ctx, nil, reviewID)
	if err != nil {
		return nil, apierr.Internal("finding_lookup_failed", err)
	}
	return rows, nil
}

// requireWritingSeat returns the actor's seat when they hold an accepted lead
// or reviewer seat; observers and outsiders are rejected.
func (s *findingService) requireWritingSeat(ctx context.Context, tx *gorm.DB, reviewID, userID uuid.UUID) (*types.ReviewTeamMember, error) {
	member, err := s.reviews.GetTeamMember(ctx, tx, reviewID, userID)
	if err != nil {
		return nil, apierr.Internal("team_lookup_failed", err)
	}
	if !member.Seated() || member.InviteStatus != types.InviteAccepted {
		return nil, apierr.Forbidden("not_on_team", fmt.Errorf("user %s holds no accepted seat on review %s", userID, reviewID))
	}
	if member.Role == types.TeamRoleObserver {
		return nil, apierr.Forbidden("observer_read_only", fmt.Errorf("observers cannot record findings"))
	}
	return member, nil
}

func (s *findingService) requireLeadOrCoordinator(ctx context.Context, tx *gorm.DB, reviewID uuid.UUID, actor *types.User) error {
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

// checkScope validates the domain code and question against the review's
// questionnaire and scope.
func (s *findingService) checkScope(ctx context.Context, tx *gorm.DB, review *types.PeerReview, domainCode string, questionID *uuid.UUID) error {
	code := strings.ToLower(strings.TrimSpace(domainCode))
	if code != "" {
		var scoped []string
		if len(review.Scope) > 0 {
			if err := json.Unmarshal(review.Scope, &scoped); err != nil {
				return apierr.Internal("scope_decode_failed", err)
			}
		}
		if len(scoped) > 0 {
			found := false
			for _, c := range scoped {
				if c == code {
					found = true
					break
				}
			}
			if !found {
				return apierr.BadRequest("domain_out_of_scope", fmt.Errorf("domain %q is outside the review scope", code))
			}
		}
	}
	if questionID != nil {
		question, err := s.questionByID(ctx, tx, *questionID)
		if err != nil {
			return err
		}
		if question == nil {
			return apierr.NotFound("question_not_found", fmt.Errorf("question %s not found", *questionID))
		}
	}
	return nil
}

// questionByID is a narrow lookup kept separate so the finding service does
// not grow a full questionnaire dependency.
func (s *findingService) questionByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Question, error) {
	transaction := tx
	if transaction == nil {
		transaction = s.db
	}
	var question types.Question
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&question).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apierr.Internal("questionnaire_lookup_failed", err)
	}
	return &question, nil
}

func (s *findingService) loadFinding(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Finding, error) {
	finding, err := s.repo.GetByID(ctx, tx, id)
	if err != nil {
		return nil, apierr.Internal("finding_lookup_failed", err)
	}
	if finding == nil {
		return nil, apierr.NotFound("finding_not_found", fmt.Errorf("finding %s not found", id))
	}
	return finding, nil
}

func (s *findingService) loadReview(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.PeerReview, error) {
	review, err := s.reviews.GetByID(ctx, tx, id)
	if err != nil {
		return nil, apierr.Internal("review_lookup_failed", err)
	}
	if review == nil {
		return nil, apierr.NotFound("review_not_found", fmt.Errorf("review %s not found", id))
	}
	return review, nil
}

func (s *findingService) loadActiveReview(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.PeerReview, error) {
	review, err := s.loadReview(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if !review.Active() {
		return nil, apierr.Conflict("review_not_active",
			fmt.Errorf("review %s is in phase %s; findings are written during fieldwork and reporting", displayRef(review), review.Phase))
	}
	return review, nil
}

func checkSeverityPairing(kind, severity string) error {
	if types.SeverityAllowed(kind, severity) {
		return nil
	}
	if kind == types.FindingKindNonConformity {
		return apierr.BadRequest("severity_required",
			fmt.Errorf("non-conformities need a severity of minor, major or critical"))
	}
	return apierr.BadRequest("severity_not_allowed", fmt.Errorf("%s findings carry no severity", kind))
}

func evidenceKeys(raw datatypes.JSON) ([]string, error) {
	if len(raw) == 0 {
		return []string{}, nil
	}
	var keys []string
	if err := json.Unmarshal(raw, &keys); err != nil {
		return nil, err
	}
	return keys, nil
}

func sanitizeFilename(name string) string {
	base := filepath.Base(strings.TrimSpace(name))
	if base == "." || base == "/" || base == "" {
		return "evidence"
	}
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	return base
}
