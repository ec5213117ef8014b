package repos

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/skyassure/peerreview-backend/internal/domain"
	"github.com/skyassure/peerreview-backend/internal/platform/logger"
)

type SyncOperationRepo interface {
	Create(ctx context.Context, tx *gorm.DB, ops []*types.SyncOperation) ([]*types.SyncOperation, error)
	CreateIgnoreDuplicates(ctx context.Context, tx *gorm.DB, op *types.SyncOperation) (bool, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.SyncOperation, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.SyncOperation, error)
	ListByReview(ctx context.Context, tx *gorm.DB, reviewID uuid.UUID, limit int) ([]*types.SyncOperation, error)
	CountOutcomes(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (map[string]int64, error)
}

type syncOperationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSyncOperationRepo(db *gorm.DB, baseLog *logger.Logger) SyncOperationRepo {
	return &syncOperationRepo{db: db, log: baseLog.With("repo", "SyncOperationRepo")}
}

func (r *syncOperationRepo) Create(ctx context.Context, tx *gorm.DB, ops []*types.SyncOperation) ([]*types.SyncOperation, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(ops) == 0 {
		return []*types.SyncOperation{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&ops).Error; err != nil {
		return nil, err
	}
	return ops, nil
}

// CreateIgnoreDuplicates inserts the operation unless its client-generated id
// is already recorded. Returns false when the row already existed, which is
// how a replayed batch item is detected.
func (r *syncOperationRepo) CreateIgnoreDuplicates(ctx context.Context, tx *gorm.DB, op *types.SyncOperation) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if op == nil {
		return false, nil
	}
	res := transaction.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(op)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *syncOperationRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.SyncOperation, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var op types.SyncOperation
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&op).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &op, nil
}

func (r *syncOperationRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.SyncOperation, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(ids) == 0 {
		return []*types.SyncOperation{}, nil
	}
	var results []*types.SyncOperation
	if err := transaction.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *syncOperationRepo) ListByReview(ctx context.Context, tx *gorm.DB, reviewID uuid.UUID, limit int) ([]*types.SyncOperation, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(ctx).Where("review_id = ?", reviewID)
	if limit > 0 {
		q = q.Limit(limit)
	}
	var results []*types.SyncOperation
	if err := q.Order("received_at DESC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *syncOperationRepo) CountOutcomes(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (map[string]int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(ctx).
		Model(&types.SyncOperation{}).
		Select("outcome, COUNT(1) AS count")
	if userID != uuid.Nil {
		q = q.Where("user_id = ?", userID)
	}
	var rows []struct {
		Outcome string
		Count   int64
	}
	if err := q.Group("outcome").Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Outcome] = row.Count
	}
	return out, nil
}
