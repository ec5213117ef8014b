package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/skyassure/peerreview-backend/internal/domain"
	"github.com/skyassure/peerreview-backend/internal/platform/logger"
)

// ErrAnswerVersionConflict is returned when a version-checked answer update
// finds a newer row than the caller based its write on.
var ErrAnswerVersionConflict = errors.New("answer version conflict")

type AssessmentRepo interface {
	Create(ctx context.Context, tx *gorm.DB, assessments []*types.SelfAssessment) ([]*types.SelfAssessment, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.SelfAssessment, error)
	GetByOrgQuestionnaireCycle(ctx context.Context, tx *gorm.DB, orgID, questionnaireID uuid.UUID, cycleYear int) (*types.SelfAssessment, error)
	ListByOrg(ctx context.Context, tx *gorm.DB, orgID uuid.UUID) ([]*types.SelfAssessment, error)
	ListByCycle(ctx context.Context, tx *gorm.DB, cycleYear int) ([]*types.SelfAssessment, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error

	GetAnswer(ctx context.Context, tx *gorm.DB, assessmentID, questionID uuid.UUID) (*types.AssessmentAnswer, error)
	ListAnswers(ctx context.Context, tx *gorm.DB, assessmentID uuid.UUID) ([]*types.AssessmentAnswer, error)
	CreateAnswer(ctx context.Context, tx *gorm.DB, answer *types.AssessmentAnswer) (*types.AssessmentAnswer, error)
	UpdateAnswerChecked(ctx context.Context, tx *gorm.DB, id uuid.UUID, expectedVersion int, updates map[string]interface{}) error
	CountAnswers(ctx context.Context, tx *gorm.DB, assessmentID uuid.UUID) (int64, error)
}

type assessmentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAssessmentRepo(db *gorm.DB, baseLog *logger.Logger) AssessmentRepo {
	return &assessmentRepo{db: db, log: baseLog.With("repo", "AssessmentRepo")}
}

func (r *assessmentRepo) Create(ctx context.Context, tx *gorm.DB, assessments []*types.SelfAssessment) ([]*types.SelfAssessment, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(assessments) == 0 {
		return []*types.SelfAssessment{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&assessments).Error; err != nil {
		return nil, err
	}
	return assessments, nil
}

func (r *assessmentRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.SelfAssessment, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var a types.SelfAssessment
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *assessmentRepo) GetByOrgQuestionnaireCycle(ctx context.Context, tx *gorm.DB, orgID, questionnaireID uuid.UUID, cycleYear int) (*types.SelfAssessment, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var a types.SelfAssessment
	err := transaction.WithContext(ctx).
		Where("organization_id = ? AND questionnaire_id = ? AND cycle_year = ?", orgID, questionnaireID, cycleYear).
		First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *assessmentRepo) ListByOrg(ctx context.Context, tx *gorm.DB, orgID uuid.UUID) ([]*types.SelfAssessment, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.SelfAssessment
	if err := transaction.WithContext(ctx).
		Where("organization_id = ?", orgID).
		Order("cycle_year DESC, created_at DESC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *assessmentRepo) ListByCycle(ctx context.Context, tx *gorm.DB, cycleYear int) ([]*types.SelfAssessment, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.SelfAssessment
	if err := transaction.WithContext(ctx).
		Where("cycle_year = ?", cycleYear).
		Order("created_at ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *assessmentRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil || len(updates) == 0 {
		return nil
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(ctx).
		Model(&types.SelfAssessment{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *assessmentRepo) GetAnswer(ctx context.Context, tx *gorm.DB, assessmentID, questionID uuid.UUID) (*types.AssessmentAnswer, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var ans types.AssessmentAnswer
	err := transaction.WithContext(ctx).
		Where("assessment_id = ? AND question_id = ?", assessmentID, questionID).
		First(&ans).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ans, nil
}

func (r *assessmentRepo) ListAnswers(ctx context.Context, tx *gorm.DB, assessmentID uuid.UUID) ([]*types.AssessmentAnswer, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.AssessmentAnswer
	if err := transaction.WithContext(ctx).
		Where("assessment_id = ?", assessmentID).
		Order("created_at ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *assessmentRepo) CreateAnswer(ctx context.Context, tx *gorm.DB, answer *types.AssessmentAnswer) (*types.AssessmentAnswer, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if answer == nil {
		return nil, nil
	}
	if err := transaction.WithContext(ctx).Create(answer).Error; err != nil {
		return nil, err
	}
	return answer, nil
}

// UpdateAnswerChecked applies updates only when the stored version still
// matches expectedVersion, bumping version by one in the same statement.
// Returns ErrAnswerVersionConflict when another writer got there first.
func (r *assessmentRepo) UpdateAnswerChecked(ctx context.Context, tx *gorm.DB, id uuid.UUID, expectedVersion int, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil || len(updates) == 0 {
		return nil
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	updates["version"] = gorm.Expr("version + 1")
	res := transaction.WithContext(ctx).
		Model(&types.AssessmentAnswer{}).
		Where("id = ? AND version = ?", id, expectedVersion).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAnswerVersionConflict
	}
	return nil
}

func (r *assessmentRepo) CountAnswers(ctx context.Context, tx *gorm.DB, assessmentID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	if err := transaction.WithContext(ctx).
		Model(&types.AssessmentAnswer{}).
		Where("assessment_id = ?", assessmentID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
