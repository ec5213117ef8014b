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

type MembershipRepo interface {
	Create(ctx context.Context, tx *gorm.DB, memberships []*types.Membership) ([]*types.Membership, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Membership, error)
	GetByUserAndOrg(ctx context.Context, tx *gorm.DB, userID, orgID uuid.UUID) (*types.Membership, error)
	ListByOrg(ctx context.Context, tx *gorm.DB, orgID uuid.UUID) ([]*types.Membership, error)
	ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.Membership, error)
	ListUserIDsByOrgRoles(ctx context.Context, tx *gorm.DB, orgID uuid.UUID, roles []string) ([]uuid.UUID, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type membershipRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMembershipRepo(db *gorm.DB, baseLog *logger.Logger) MembershipRepo {
	return &membershipRepo{db: db, log: baseLog.With("repo", "MembershipRepo")}
}

func (r *membershipRepo) Create(ctx context.Context, tx *gorm.DB, memberships []*types.Membership) ([]*types.Membership, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(memberships) == 0 {
		return []*types.Membership{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&memberships).Error; err != nil {
		return nil, err
	}
	return memberships, nil
}

func (r *membershipRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Membership, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var m types.Membership
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *membershipRepo) GetByUserAndOrg(ctx context.Context, tx *gorm.DB, userID, orgID uuid.UUID) (*types.Membership, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if userID == uuid.Nil || orgID == uuid.Nil {
		return nil, nil
	}
	var m types.Membership
	err := transaction.WithContext(ctx).
		Where("user_id = ? AND organization_id = ?", userID, orgID).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *membershipRepo) ListByOrg(ctx context.Context, tx *gorm.DB, orgID uuid.UUID) ([]*types.Membership, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Membership
	if err := transaction.WithContext(ctx).
		Where("organization_id = ?", orgID).
		Order("created_at ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *membershipRepo) ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.Membership, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Membership
	if err := transaction.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *membershipRepo) ListUserIDsByOrgRoles(ctx context.Context, tx *gorm.DB, orgID uuid.UUID, roles []string) ([]uuid.UUID, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if orgID == uuid.Nil || len(roles) == 0 {
		return []uuid.UUID{}, nil
	}
	var ids []uuid.UUID
	if err := transaction.WithContext(ctx).
		Model(&types.Membership{}).
		Where("organization_id = ? AND org_role IN ?", orgID, roles).
		Pluck("user_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *membershipRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.Membership{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *membershipRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	return transaction.WithContext(ctx).
		Where("id = ?", id).
		Delete(&types.Membership{}).Error
}
