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

type QuestionnaireRepo interface {
	Create(ctx context.Context, tx *gorm.DB, questionnaires []*types.Questionnaire) ([]*types.Questionnaire, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Questionnaire, error)
	GetBySlugVersion(ctx context.Context, tx *gorm.DB, slug string, version int) (*types.Questionnaire, error)
	LatestPublishedBySlug(ctx context.Context, tx *gorm.DB, slug string) (*types.Questionnaire, error)
	MaxVersionForSlug(ctx context.Context, tx *gorm.DB, slug string) (int, error)
	List(ctx context.Context, tx *gorm.DB, status string) ([]*types.Questionnaire, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error

	CreateDomains(ctx context.Context, tx *gorm.DB, domains []*types.QuestionnaireDomain) ([]*types.QuestionnaireDomain, error)
	ListDomains(ctx context.Context, tx *gorm.DB, questionnaireID uuid.UUID) ([]*types.QuestionnaireDomain, error)
	GetDomain(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.QuestionnaireDomain, error)
	UpdateDomainFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	DeleteDomain(ctx context.Context, tx *gorm.DB, id uuid.UUID) error

	CreateQuestions(ctx context.Context, tx *gorm.DB, questions []*types.Question) ([]*types.Question, error)
	GetQuestion(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Question, error)
	ListQuestionsByDomain(ctx context.Context, tx *gorm.DB, domainID uuid.UUID) ([]*types.Question, error)
	ListQuestions(ctx context.Context, tx *gorm.DB, questionnaireID uuid.UUID) ([]*types.Question, error)
	CountQuestions(ctx context.Context, tx *gorm.DB, questionnaireID uuid.UUID) (int64, error)
	UpdateQuestionFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	DeleteQuestion(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type questionnaireRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewQuestionnaireRepo(db *gorm.DB, baseLog *logger.Logger) QuestionnaireRepo {
	return &questionnaireRepo{db: db, log: baseLog.With("repo", "QuestionnaireRepo")}
}

func (r *questionnaireRepo) Create(ctx context.Context, tx *gorm.DB, questionnaires []*types.Questionnaire) ([]*types.Questionnaire, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(questionnaires) == 0 {
		return []*types.Questionnaire{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&questionnaires).Error; err != nil {
		return nil, err
	}
	return questionnaires, nil
}

func (r *questionnaireRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Questionnaire, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var q types.Questionnaire
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&q).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func (r *questionnaireRepo) GetBySlugVersion(ctx context.Context, tx *gorm.DB, slug string, version int) (*types.Questionnaire, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var q types.Questionnaire
	err := transaction.WithContext(ctx).
		Where("slug = ? AND version = ?", slug, version).
		First(&q).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func (r *questionnaireRepo) LatestPublishedBySlug(ctx context.Context, tx *gorm.DB, slug string) (*types.Questionnaire, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var q types.Questionnaire
	err := transaction.WithContext(ctx).
		Where("slug = ? AND status = ?", slug, types.QuestionnairePublished).
		Order("version DESC").
		First(&q).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func (r *questionnaireRepo) MaxVersionForSlug(ctx context.Context, tx *gorm.DB, slug string) (int, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var max *int
	if err := transaction.WithContext(ctx).
		Model(&types.Questionnaire{}).
		Where("slug = ?", slug).
		Select("MAX(version)").
		Scan(&max).Error; err != nil {
		return 0, err
	}
	if max == nil {
		return 0, nil
	}
	return *max, nil
}

func (r *questionnaireRepo) List(ctx context.Context, tx *gorm.DB, status string) ([]*types.Questionnaire, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(ctx).Model(&types.Questionnaire{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var results []*types.Questionnaire
	if err := q.Order("slug ASC, version DESC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *questionnaireRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.Questionnaire{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *questionnaireRepo) CreateDomains(ctx context.Context, tx *gorm.DB, domains []*types.QuestionnaireDomain) ([]*types.QuestionnaireDomain, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(domains) == 0 {
		return []*types.QuestionnaireDomain{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&domains).Error; err != nil {
		return nil, err
	}
	return domains, nil
}

func (r *questionnaireRepo) ListDomains(ctx context.Context, tx *gorm.DB, questionnaireID uuid.UUID) ([]*types.QuestionnaireDomain, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.QuestionnaireDomain
	if err := transaction.WithContext(ctx).
		Where("questionnaire_id = ?", questionnaireID).
		Order("position ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *questionnaireRepo) GetDomain(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.QuestionnaireDomain, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var d types.QuestionnaireDomain
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *questionnaireRepo) UpdateDomainFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.QuestionnaireDomain{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *questionnaireRepo) DeleteDomain(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	return transaction.WithContext(ctx).
		Where("id = ?", id).
		Delete(&types.QuestionnaireDomain{}).Error
}

func (r *questionnaireRepo) CreateQuestions(ctx context.Context, tx *gorm.DB, questions []*types.Question) ([]*types.Question, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(questions) == 0 {
		return []*types.Question{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&questions).Error; err != nil {
		return nil, err
	}
	return questions, nil
}

func (r *questionnaireRepo) GetQuestion(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Question, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var q types.Question
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&q).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func (r *questionnaireRepo) ListQuestionsByDomain(ctx context.Context, tx *gorm.DB, domainID uuid.UUID) ([]*types.Question, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Question
	if err := transaction.WithContext(ctx).
		Where("domain_id = ?", domainID).
		Order("position ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// ListQuestions returns every question of a questionnaire ordered by domain
// position then question position. Questions hang off domains, so the lookup
// goes through questionnaire_domain.
func (r *questionnaireRepo) ListQuestions(ctx context.Context, tx *gorm.DB, questionnaireID uuid.UUID) ([]*types.Question, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Question
	if err := transaction.WithContext(ctx).
		Model(&types.Question{}).
		Joins("JOIN questionnaire_domain qd ON qd.id = question.domain_id").
		Where("qd.questionnaire_id = ?", questionnaireID).
		Order("qd.position ASC, question.position ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *questionnaireRepo) CountQuestions(ctx context.Context, tx *gorm.DB, questionnaireID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	if err := transaction.WithContext(ctx).
		Model(&types.Question{}).
		Joins("JOIN questionnaire_domain qd ON qd.id = question.domain_id").
		Where("qd.questionnaire_id = ?", questionnaireID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *questionnaireRepo) UpdateQuestionFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.Question{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *questionnaireRepo) DeleteQuestion(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	return transaction.WithContext(ctx).
		Where("id = ?", id).
		Delete(&types.Question{}).Error
}
