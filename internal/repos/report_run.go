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

type ReportRunRepo interface {
	Create(ctx context.Context, tx *gorm.DB, runs []*types.ReportRun) ([]*types.ReportRun, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ReportRun, error)
	GetCurrent(ctx context.Context, tx *gorm.DB, reviewID uuid.UUID, language string) (*types.ReportRun, error)
	ListByReview(ctx context.Context, tx *gorm.DB, reviewID uuid.UUID) ([]*types.ReportRun, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	PromoteCurrent(ctx context.Context, tx *gorm.DB, id, reviewID uuid.UUID, language string) error
}

type reportRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewReportRunRepo(db *gorm.DB, baseLog *logger.Logger) ReportRunRepo {
	return &reportRunRepo{db: db, log: baseLog.With("repo", "ReportRunRepo")}
}

func (r *reportRunRepo) Create(ctx context.Context, tx *gorm.DB, runs []*types.ReportRun) ([]*types.ReportRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(runs) == 0 {
		return []*types.ReportRun{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

func (r *reportRunRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ReportRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var run types.ReportRun
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *reportRunRepo) GetCurrent(ctx context.Context, tx *gorm.DB, reviewID uuid.UUID, language string) (*types.ReportRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var run types.ReportRun
	err := transaction.WithContext(ctx).
		Where("review_id = ? AND language = ? AND is_current = true", reviewID, language).
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *reportRunRepo) ListByReview(ctx context.Context, tx *gorm.DB, reviewID uuid.UUID) ([]*types.ReportRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.ReportRun
	if err := transaction.WithContext(ctx).
		Where("review_id = ?", reviewID).
		Order("created_at DESC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *reportRunRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.ReportRun{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// PromoteCurrent demotes whatever run is current for (review, language) and
// promotes id, in two statements meant to run inside one transaction.
func (r *reportRunRepo) PromoteCurrent(ctx context.Context, tx *gorm.DB, id, reviewID uuid.UUID, language string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).
		Model(&types.ReportRun{}).
		Where("review_id = ? AND language = ? AND is_current = true AND id <> ?", reviewID, language, id).
		Updates(map[string]interface{}{"is_current": false, "updated_at": time.Now()}).Error; err != nil {
		return err
	}
	return transaction.WithContext(ctx).
		Model(&types.ReportRun{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"is_current": true, "updated_at": time.Now()}).Error
}
