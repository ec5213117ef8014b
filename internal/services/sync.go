package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/skyassure/peerreview-backend/internal/domain"
	"github.com/skyassure/peerreview-backend/internal/platform/apierr"
	"github.com/skyassure/peerreview-backend/internal/platform/logger"
	"github.com/skyassure/peerreview-backend/internal/repos"
)

// SyncMaxBatch caps one drain request from a fieldwork client.
const SyncMaxBatch = 50

// SyncOpInput is one queued offline operation as submitted by a fieldwork
// client. The ID is generated client-side when the operation is queued and is
// the idempotency key: resubmitting the same batch after a lost response
// replays nothing.
type SyncOpInput struct {
	ID          uuid.UUID       `json:"id"`
	Kind        string          `json:"kind"`
	ReviewID    uuid.UUID       `json:"review_id"`
	EntityID    *uuid.UUID      `json:"entity_id,omitempty"`
	BaseVersion int             `json:"base_version,omitempty"`
	Payload     json.RawMessage `json:"payload"`
	QueuedAt    time.Time       `json:"queued_at"`
}

// SyncOpResult reports what happened to one operation. Version carries the
// row version after an applied write, or the current server version on a
// conflict so the client can show what it lost to.
type SyncOpResult struct {
	ID       uuid.UUID  `json:"id"`
	Outcome  string     `json:"outcome"`
	EntityID *uuid.UUID `json:"entity_id,omitempty"`
	Version  int        `json:"version,omitempty"`
	Code     string     `json:"code,omitempty"`
	Message  string     `json:"message,omitempty"`
}

type SyncService interface {
	ApplyBatch(ctx context.Context, deviceID string, ops []SyncOpInput) ([]SyncOpResult, error)
	Status(ctx context.Context) (map[string]int64, error)
	ListByReview(ctx context.Context, reviewID uuid.UUID, limit int) ([]*types.SyncOperation, error)
}

type syncService struct {
	db             *gorm.DB
	log            *logger.Logger
	repo           repos.SyncOperationRepo
	assessments    repos.AssessmentRepo
	questionnaires repos.QuestionnaireRepo
	findings       repos.FindingRepo
	reviews        repos.ReviewRepo
	users          repos.UserRepo
	stats          *StatsCache
}

func NewSyncService(
	db *gorm.DB,
	baseLog *logger.Logger,
	repo repos.SyncOperationRepo,
	assessments repos.AssessmentRepo,
	questionnaires repos.QuestionnaireRepo,
	findings repos.FindingRepo,
	reviews repos.ReviewRepo,
	users repos.UserRepo,
	stats *StatsCache,
) SyncService {
	return &syncService{
		db:             db,
		log:            baseLog.With("service", "SyncService"),
		repo:           repo,
		assessments:    assessments,
		questionnaires: questionnaires,
		findings:       findings,
		reviews:        reviews,
		users:          users,
		stats:          stats,
	}
}

// errReplayRace aborts an apply transaction when the journal insert loses to
// a concurrent replay of the same operation id.
var errReplayRace = errors.New("sync operation replayed concurrently")

// ApplyBatch drains one batch in submission order. The batch as a whole is
// NOT one transaction: each operation applies (journal row included) in its
// own, so a crash mid-batch loses nothing already acked and a full resubmit
// is answered from the journal.
func (s *syncService) ApplyBatch(ctx context.Context, deviceID string, ops []SyncOpInput) ([]SyncOpResult, error) {
	actor, err := requireUser(ctx, nil, s.users)
	if err != nil {
		return nil, err
	}
	if len(ops) == 0 {
		return []SyncOpResult{}, nil
	}
	if len(ops) > SyncMaxBatch {
		return nil, apierr.BadRequest("sync_batch_too_large",
			fmt.Errorf("batch of %d exceeds the limit of %d", len(ops), SyncMaxBatch))
	}

	results := make([]SyncOpResult, 0, len(ops))
	applied := 0
	for _, op := range ops {
		res := s.applyOne(ctx, actor, deviceID, op)
		if res.Outcome == types.SyncApplied {
			applied++
		}
		results = append(results, res)
	}
	if applied > 0 {
		s.stats.Bump(ctx)
	}
	s.log.Info("Sync batch drained",
		"user_id", actor.ID, "device_id", deviceID, "ops", len(ops), "applied", applied)
	return results, nil
}

func (s *syncService) applyOne(ctx context.Context, actor *types.User, deviceID string, op SyncOpInput) SyncOpResult {
	if op.ID == uuid.Nil {
		return SyncOpResult{Outcome: types.SyncRejected, Code: "missing_op_id", Message: "operation id is required"}
	}
	res := SyncOpResult{ID: op.ID}
	if !types.ValidSyncOpKind(op.Kind) {
		res.Outcome = types.SyncRejected
		res.Code = "invalid_op_kind"
		res.Message = fmt.Sprintf("kind %q is not a sync operation", op.Kind)
		s.journalRejected(ctx, actor, deviceID, op, res.Code)
		return res
	}
	if op.ReviewID == uuid.Nil {
		res.Outcome = types.SyncRejected
		res.Code = "missing_review_id"
		res.Message = "review id is required"
		s.journalRejected(ctx, actor, deviceID, op, res.Code)
		return res
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.GetByID(ctx, tx, op.ID)
		if err != nil {
			return fmt.Errorf("journal lookup: %w", err)
		}
		if existing != nil {
			res = replayResult(op.ID, existing)
			return nil
		}

		outcome := s.dispatch(ctx, tx, actor, op, &res)
		row := &types.SyncOperation{
			ID:            op.ID,
			UserID:        actor.ID,
			ReviewID:      op.ReviewID,
			DeviceID:      deviceID,
			Kind:          op.Kind,
			EntityID:      res.EntityID,
			BaseVersion:   op.BaseVersion,
			Payload:       datatypes.JSON(op.Payload),
			Outcome:       outcome,
			RejectCode:    res.Code,
			ResultVersion: res.Version,
			QueuedAt:      queuedAtOrNow(op.QueuedAt),
		}
		inserted, err := s.repo.CreateIgnoreDuplicates(ctx, tx, row)
		if err != nil {
			return fmt.Errorf("journal insert: %w", err)
		}
		if !inserted {
			// Someone replayed the same id between our lookup and insert.
			// Roll the apply back; the stored row answers for both.
			return errReplayRace
		}
		res.Outcome = outcome
		return nil
	})
	if errors.Is(err, errReplayRace) {
		stored, gerr := s.repo.GetByID(ctx, nil, op.ID)
		if gerr != nil || stored == nil {
			res.Outcome = types.SyncRejected
			res.Code = "journal_race"
			res.Message = "operation raced a concurrent replay; resubmit"
			return res
		}
		return replayResult(op.ID, stored)
	}
	if err != nil {
		s.log.Error("Sync operation failed", "op_id", op.ID, "kind", op.Kind, "error", err)
		res.Outcome = types.SyncRejected
		res.Code = "apply_failed"
		res.Message = err.Error()
	}
	return res
}

// dispatch applies the operation inside tx and returns the outcome, filling
// res with entity id, version and any reject code. Apply errors never abort
// the transaction: the journal row still records the rejection.
func (s *syncService) dispatch(ctx context.Context, tx *gorm.DB, actor *types.User, op SyncOpInput, res *SyncOpResult) string {
	var err error
	switch op.Kind {
	case types.SyncOpAnswerUpsert:
		err = s.applyAnswerUpsert(ctx, tx, actor, op, res)
	case types.SyncOpFindingCreate:
		err = s.applyFindingCreate(ctx, tx, actor, op, res)
	case types.SyncOpFindingUpdate:
		err = s.applyFindingUpdate(ctx, tx, actor, op, res)
	case types.SyncOpNoteAttach:
		err = s.applyNoteAttach(ctx, tx, actor, op, res)
	}
	if err == nil {
		return types.SyncApplied
	}

	var apiErr *apierr.Error
	if errors.As(err, &apiErr) {
		res.Code = apiErr.Code
		res.Message = apiErr.Error()
		if apiErr.Status == http.StatusConflict {
			return types.SyncConflict
		}
		return types.SyncRejected
	}
	res.Code = "apply_failed"
	res.Message = err.Error()
	return types.SyncRejected
}

type answerUpsertPayload struct {
	AssessmentID  uuid.UUID `json:"assessment_id"`
	QuestionID    uuid.UUID `json:"question_id"`
	MaturityLevel *int      `json:"maturity_level,omitempty"`
	YesNo         *bool     `json:"yes_no,omitempty"`
	Narrative     string    `json:"narrative,omitempty"`
	EvidenceNote  string    `json:"evidence_note,omitempty"`
}

func (s *syncService) applyAnswerUpsert(ctx context.Context, tx *gorm.DB, actor *types.User, op SyncOpInput, res *SyncOpResult) error {
	var p answerUpsertPayload
	if err := json.Unmarshal(op.Payload, &p); err != nil {
		return apierr.BadRequest("bad_payload", fmt.Errorf("decode answer payload: %w", err))
	}
	assessment, err := s.assessments.GetByID(ctx, tx, p.AssessmentID)
	if err != nil {
		return apierr.Internal("assessment_lookup_failed", err)
	}
	if assessment == nil {
		return apierr.NotFound("assessment_not_found", fmt.Errorf("assessment %s not found", p.AssessmentID))
	}
	if !assessment.Writable() {
		return apierr.Conflict("assessment_locked", fmt.Errorf("assessment %s is %s", assessment.ID, assessment.Status))
	}

	question, err := s.questionnaires.GetQuestion(ctx, tx, p.QuestionID)
	if err != nil {
		return apierr.Internal("questionnaire_lookup_failed", err)
	}
	if question == nil {
		return apierr.NotFound("question_not_found", fmt.Errorf("question %s not found", p.QuestionID))
	}
	input := AnswerInput{
		QuestionID:      p.QuestionID,
		MaturityLevel:   p.MaturityLevel,
		YesNo:           p.YesNo,
		Narrative:       p.Narrative,
		EvidenceNote:    p.EvidenceNote,
		ExpectedVersion: op.BaseVersion,
	}
	if err := validateAnswer(question.Kind, input); err != nil {
		return err
	}

	existing, err := s.assessments.GetAnswer(ctx, tx, assessment.ID, question.ID)
	if err != nil {
		return apierr.Internal("answer_lookup_failed", err)
	}
	if existing == nil {
		if op.BaseVersion > 0 {
			return apierr.Conflict("answer_version_conflict", repos.ErrAnswerVersionConflict)
		}
		answer := &types.AssessmentAnswer{
			ID:            uuid.New(),
			AssessmentID:  assessment.ID,
			QuestionID:    question.ID,
			MaturityLevel: p.MaturityLevel,
			YesNo:         p.YesNo,
			Narrative:     strings.TrimSpace(p.Narrative),
			EvidenceNote:  strings.TrimSpace(p.EvidenceNote),
			AnsweredBy:    actor.ID,
			Version:       1,
		}
		if _, err := s.assessments.CreateAnswer(ctx, tx, answer); err != nil {
			return apierr.Internal("answer_create_failed", err)
		}
		res.EntityID = &answer.ID
		res.Version = 1
		return nil
	}

	expected := op.BaseVersion
	if expected == 0 {
		expected = existing.Version
	}
	err = s.assessments.UpdateAnswerChecked(ctx, tx, existing.ID, expected, map[string]interface{}{
		"maturity_level": p.MaturityLevel,
		"yes_no":         p.YesNo,
		"narrative":      strings.TrimSpace(p.Narrative),
		"evidence_note":  strings.TrimSpace(p.EvidenceNote),
		"answered_by":    actor.ID,
	})
	if err != nil {
		if errors.Is(err, repos.ErrAnswerVersionConflict) {
			res.EntityID = &existing.ID
			res.Version = existing.Version
			return apierr.Conflict("answer_version_conflict", err)
		}
		return apierr.Internal("answer_update_failed", err)
	}
	res.EntityID = &existing.ID
	res.Version = expected + 1
	return nil
}

type findingCreatePayload struct {
	Kind        string     `json:"kind"`
	Severity    string     `json:"severity,omitempty"`
	DomainCode  string     `json:"domain_code,omitempty"`
	QuestionID  *uuid.UUID `json:"question_id,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
}

func (s *syncService) applyFindingCreate(ctx context.Context, tx *gorm.DB, actor *types.User, op SyncOpInput, res *SyncOpResult) error {
	var p findingCreatePayload
	if err := json.Unmarshal(op.Payload, &p); err != nil {
		return apierr.BadRequest("bad_payload", fmt.Errorf("decode finding payload: %w", err))
	}
	if !types.ValidFindingKind(p.Kind) {
		return apierr.BadRequest("invalid_finding_kind", fmt.Errorf("kind %q is not valid", p.Kind))
	}
	if err := checkSeverityPairing(p.Kind, p.Severity); err != nil {
		return err
	}
	title := strings.TrimSpace(p.Title)
	if title == "" {
		return apierr.BadRequest("title_required", fmt.Errorf("finding title is required"))
	}

	review, err := s.activeReview(ctx, tx, op.ReviewID)
	if err != nil {
		return err
	}
	if err := s.requireWritingSeat(ctx, tx, review.ID, actor.ID); err != nil {
		return err
	}

	seq, err := s.reviews.NextFindingSeq(ctx, tx, review.ID)
	if err != nil {
		return apierr.Internal("finding_seq_failed", err)
	}
	finding := &types.Finding{
		ReviewID:    review.ID,
		Seq:         seq,
		Reference:   fmt.Sprintf("%s-F%d", review.Reference, seq),
		Kind:        p.Kind,
		Severity:    p.Severity,
		Status:      types.FindingOpen,
		DomainCode:  strings.ToLower(strings.TrimSpace(p.DomainCode)),
		QuestionID:  p.QuestionID,
		Title:       title,
		Description: strings.TrimSpace(p.Description),
		RaisedBy:    actor.ID,
		Version:     1,
	}
	// The client names the finding it created offline so later queued
	// finding_update ops can reference it.
	if op.EntityID != nil && *op.EntityID != uuid.Nil {
		finding.ID = *op.EntityID
	} else {
		finding.ID = uuid.New()
	}
	if _, err := s.findings.Create(ctx, tx, []*types.Finding{finding}); err != nil {
		return apierr.Internal("finding_create_failed", err)
	}
	res.EntityID = &finding.ID
	res.Version = 1
	return nil
}

type findingUpdatePayload struct {
	Severity    *string `json:"severity,omitempty"`
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
}

func (s *syncService) applyFindingUpdate(ctx context.Context, tx *gorm.DB, actor *types.User, op SyncOpInput, res *SyncOpResult) error {
	if op.EntityID == nil || *op.EntityID == uuid.Nil {
		return apierr.BadRequest("missing_entity_id", fmt.Errorf("finding_update needs the finding id"))
	}
	var p findingUpdatePayload
	if err := json.Unmarshal(op.Payload, &p); err != nil {
		return apierr.BadRequest("bad_payload", fmt.Errorf("decode finding payload: %w", err))
	}

	finding, err := s.findings.GetByID(ctx, tx, *op.EntityID)
	if err != nil {
		return apierr.Internal("finding_lookup_failed", err)
	}
	if finding == nil {
		return apierr.NotFound("finding_not_found", fmt.Errorf("finding %s not found", *op.EntityID))
	}
	if finding.ReviewID != op.ReviewID {
		return apierr.BadRequest("review_mismatch", fmt.Errorf("finding %s belongs to another review", finding.Reference))
	}
	review, err := s.activeReview(ctx, tx, finding.ReviewID)
	if err != nil {
		return err
	}
	if err := s.requireWritingSeat(ctx, tx, review.ID, actor.ID); err != nil {
		return err
	}
	if finding.Status == types.FindingClosed {
		return apierr.Conflict("finding_closed", fmt.Errorf("finding %s is closed", finding.Reference))
	}

	updates := map[string]interface{}{}
	if p.Severity != nil {
		if err := checkSeverityPairing(finding.Kind, *p.Severity); err != nil {
			return err
		}
		updates["severity"] = *p.Severity
	}
	if p.Title != nil {
		title := strings.TrimSpace(*p.Title)
		if title == "" {
			return apierr.BadRequest("title_required", fmt.Errorf("finding title is required"))
		}
		updates["title"] = title
	}
	if p.Description != nil {
		updates["description"] = strings.TrimSpace(*p.Description)
	}
	if len(updates) == 0 {
		res.EntityID = &finding.ID
		res.Version = finding.Version
		return nil
	}

	expected := op.BaseVersion
	if expected == 0 {
		expected = finding.Version
	}
	if err := s.findings.UpdateFieldsChecked(ctx, tx, finding.ID, expected, updates); err != nil {
		if errors.Is(err, repos.ErrFindingVersionConflict) {
			res.EntityID = &finding.ID
			res.Version = finding.Version
			return apierr.Conflict("finding_version_conflict", err)
		}
		return apierr.Internal("finding_update_failed", err)
	}
	res.EntityID = &finding.ID
	res.Version = expected + 1
	return nil
}

type noteAttachPayload struct {
	NoteID    uuid.UUID `json:"note_id"`
	FindingID uuid.UUID `json:"finding_id"`
	Note      string    `json:"note"`
	NotedAt   time.Time `json:"noted_at"`
}

// applyNoteAttach appends a field note. Notes are insert-only with a
// client-generated id, so there is no version to check and no conflict to
// report; a replay is a silent no-op.
func (s *syncService) applyNoteAttach(ctx context.Context, tx *gorm.DB, actor *types.User, op SyncOpInput, res *SyncOpResult) error {
	var p noteAttachPayload
	if err := json.Unmarshal(op.Payload, &p); err != nil {
		return apierr.BadRequest("bad_payload", fmt.Errorf("decode note payload: %w", err))
	}
	if p.NoteID == uuid.Nil {
		return apierr.BadRequest("missing_note_id", fmt.Errorf("note id is required"))
	}
	note := strings.TrimSpace(p.Note)
	if note == "" {
		return apierr.BadRequest("note_required", fmt.Errorf("note text is required"))
	}

	finding, err := s.findings.GetByID(ctx, tx, p.FindingID)
	if err != nil {
		return apierr.Internal("finding_lookup_failed", err)
	}
	if finding == nil {
		return apierr.NotFound("finding_not_found", fmt.Errorf("finding %s not found", p.FindingID))
	}
	if finding.ReviewID != op.ReviewID {
		return apierr.BadRequest("review_mismatch", fmt.Errorf("finding %s belongs to another review", finding.Reference))
	}
	review, err := s.activeReview(ctx, tx, finding.ReviewID)
	if err != nil {
		return err
	}
	if err := s.requireWritingSeat(ctx, tx, review.ID, actor.ID); err != nil {
		return err
	}

	notedAt := p.NotedAt
	if notedAt.IsZero() {
		notedAt = queuedAtOrNow(op.QueuedAt)
	}
	if _, err := s.findings.CreateNote(ctx, tx, &types.FieldNote{
		ID:        p.NoteID,
		FindingID: finding.ID,
		AuthorID:  actor.ID,
		Note:      note,
		NotedAt:   notedAt,
	}); err != nil {
		return apierr.Internal("note_create_failed", err)
	}
	res.EntityID = &finding.ID
	res.Version = finding.Version
	return nil
}

func (s *syncService) Status(ctx context.Context) (map[string]int64, error) {
	actor, err := requireUser(ctx, nil, s.users)
	if err != nil {
		return nil, err
	}
	counts, err := s.repo.CountOutcomes(ctx, nil, actor.ID)
	if err != nil {
		return nil, apierr.Internal("sync_status_failed", err)
	}
	return counts, nil
}

func (s *syncService) ListByReview(ctx context.Context, reviewID uuid.UUID, limit int) ([]*types.SyncOperation, error) {
	if _, err := requireCoordinator(ctx, nil, s.users); err != nil {
		return nil, err
	}
	ops, err := s.repo.ListByReview(ctx, nil, reviewID, limit)
	if err != nil {
		return nil, apierr.Internal("sync_list_failed", err)
	}
	return ops, nil
}

func (s *syncService) activeReview(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.PeerReview, error) {
	review, err := s.reviews.GetByID(ctx, tx, id)
	if err != nil {
		return nil, apierr.Internal("review_lookup_failed", err)
	}
	if review == nil {
		return nil, apierr.NotFound("review_not_found", fmt.Errorf("review %s not found", id))
	}
	if !review.Active() {
		return nil, apierr.Conflict("review_not_active",
			fmt.Errorf("review %s is in phase %s; fieldwork writes need fieldwork or reporting", displayRef(review), review.Phase))
	}
	return review, nil
}

func (s *syncService) requireWritingSeat(ctx context.Context, tx *gorm.DB, reviewID, userID uuid.UUID) error {
	member, err := s.reviews.GetTeamMember(ctx, tx, reviewID, userID)
	if err != nil {
		return apierr.Internal("team_lookup_failed", err)
	}
	if !member.Seated() || member.InviteStatus != types.InviteAccepted {
		return apierr.Forbidden("not_on_team", fmt.Errorf("user %s holds no accepted seat on review %s", userID, reviewID))
	}
	if member.Role == types.TeamRoleObserver {
		return apierr.Forbidden("observer_read_only", fmt.Errorf("observers cannot write fieldwork data"))
	}
	return nil
}

// journalRejected records an operation that failed validation before any
// apply attempt, so replaying it answers from the journal like everything
// else. Journal write failures here are logged, not surfaced: the client
// already gets the rejection.
func (s *syncService) journalRejected(ctx context.Context, actor *types.User, deviceID string, op SyncOpInput, code string) {
	reviewID := op.ReviewID
	if reviewID == uuid.Nil {
		return
	}
	row := &types.SyncOperation{
		ID:          op.ID,
		UserID:      actor.ID,
		ReviewID:    reviewID,
		DeviceID:    deviceID,
		Kind:        op.Kind,
		BaseVersion: op.BaseVersion,
		Payload:     datatypes.JSON(op.Payload),
		Outcome:     types.SyncRejected,
		RejectCode:  code,
		QueuedAt:    queuedAtOrNow(op.QueuedAt),
	}
	if _, err := s.repo.CreateIgnoreDuplicates(ctx, nil, row); err != nil {
		s.log.Warn("Sync rejection journal write failed", "op_id", op.ID, "error", err)
	}
}

// replayResult reports a previously journaled operation back as a duplicate,
// carrying the originally recorded outcome and entity state.
func replayResult(id uuid.UUID, stored *types.SyncOperation) SyncOpResult {
	return SyncOpResult{
		ID:       id,
		Outcome:  types.SyncDuplicate,
		EntityID: stored.EntityID,
		Version:  stored.ResultVersion,
		Code:     stored.RejectCode,
		Message:  fmt.Sprintf("previously %s", stored.Outcome),
	}
}

func queuedAtOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
