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

// ErrActionVersionConflict is returned when a version-checked action update
// lost the race to another writer.
var ErrActionVersionConflict = errors.New("action version conflict")

type ActionRepo interface {
	Create(ctx context.Context, tx *gorm.DB, actions []*types.CorrectiveAction) ([]*types.CorrectiveAction, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.CorrectiveAction, error)
	ListByFinding(ctx context.Context, tx *gorm.DB, findingID uuid.UUID) ([]*types.CorrectiveAction, error)
	ListByFindingIDs(ctx context.Context, tx *gorm.DB, findingIDs []uuid.UUID) ([]*types.CorrectiveAction, error)
	ListOpenOverdue(ctx context.Context, tx *gorm.DB, asOf time.Time) ([]*types.CorrectiveAction, error)
	ListDueSoon(ctx context.Context, tx *gorm.DB, asOf time.Time, window time.Duration) ([]*types.CorrectiveAction, error)
	CountOpenByFinding(ctx context.Context, tx *gorm.DB, findingID uuid.UUID) (int64, error)
	CountByStatus(ctx context.Context, tx *gorm.DB, cycleYear int) (map[string]int64, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	UpdateFieldsChecked(ctx context.Context, tx *gorm.DB, id uuid.UUID, expectedVersion int, updates map[string]interface{}) error
}

type actionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewActionRepo(db *gorm.DB, baseLog *logger.Logger) ActionRepo {
	return &actionRepo{db: db, log: baseLog.With("repo", "ActionRepo")}
}

func (r *actionRepo) Create(ctx context.Context, tx *gorm.DB, actions []*types.CorrectiveAction) ([]*types.CorrectiveAction, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(actions) == 0 {
		return []*types.CorrectiveAction{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&actions).Error; err != nil {
		return nil, err
	}
	return actions, nil
}

func (r *actionRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.CorrectiveAction, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var a types.CorrectiveAction
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *actionRepo) ListByFinding(ctx context.Context, tx *gorm.DB, findingID uuid.UUID) ([]*types.CorrectiveAction, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.CorrectiveAction
	if err := transaction.WithContext(ctx).
		Where("finding_id = ?", findingID).
		Order("created_at ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *actionRepo) ListByFindingIDs(ctx context.Context, tx *gorm.DB, findingIDs []uuid.UUID) ([]*types.CorrectiveAction, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(findingIDs) == 0 {
		return []*types.CorrectiveAction{}, nil
	}
	var results []*types.CorrectiveAction
	if err := transaction.WithContext(ctx).
		Where("finding_id IN ?", findingIDs).
		Order("finding_id ASC, created_at ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// ListOpenOverdue returns actions past their due date that are still being
// worked and have not been flagged yet. The overdue sweep job consumes this.
func (r *actionRepo) ListOpenOverdue(ctx context.Context, tx *gorm.DB, asOf time.Time) ([]*types.CorrectiveAction, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.CorrectiveAction
	if err := transaction.WithContext(ctx).
		Where("due_on IS NOT NULL AND due_on < ?", asOf).
		Where("status IN ?", []string{types.ActionProposed, types.ActionAccepted, types.ActionInProgress}).
		Where("overdue_notified = false").
		Order("due_on ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// ListDueSoon returns unflagged actions whose due date falls inside the
// warning window but has not passed yet.
func (r *actionRepo) ListDueSoon(ctx context.Context, tx *gorm.DB, asOf time.Time, window time.Duration) ([]*types.CorrectiveAction, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.CorrectiveAction
	if err := transaction.WithContext(ctx).
		Where("due_on IS NOT NULL AND due_on >= ? AND due_on < ?", asOf, asOf.Add(window)).
		Where("status IN ?", []string{types.ActionProposed, types.ActionAccepted, types.ActionInProgress}).
		Where("due_soon_notified = false").
		Order("due_on ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *actionRepo) CountOpenByFinding(ctx context.Context, tx *gorm.DB, findingID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	if err := transaction.WithContext(ctx).
		Model(&types.CorrectiveAction{}).
		Where("finding_id = ? AND status <> ?", findingID, types.ActionClosed).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *actionRepo) CountByStatus(ctx context.Context, tx *gorm.DB, cycleYear int) (map[string]int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(ctx).
		Model(&types.CorrectiveAction{}).
		Select("corrective_action.status, COUNT(1) AS count").
		Joins("JOIN finding f ON f.id = corrective_action.finding_id").
		Joins("JOIN peer_review pr ON pr.id = f.review_id").
		Where("pr.deleted_at IS NULL")
	if cycleYear != 0 {
		q = q.Where("pr.cycle_year = ?", cycleYear)
	}
	var rows []struct {
		Status string
		Count  int64
	}
	if err := q.Group("corrective_action.status").Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Count
	}
	return out, nil
}

func (r *actionRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.CorrectiveAction{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *actionRepo) UpdateFieldsChecked(ctx context.Context, tx *gorm.DB, id uuid.UUID, expectedVersion int, updates map[string]interface{}) error {
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
		Model(&types.CorrectiveAction{}).
		Where("id = ? AND version = ?", id, expectedVersion).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrActionVersionConflict
	}
	return nil
}
