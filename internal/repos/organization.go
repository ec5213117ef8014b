package repos

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/skyassure/peerreview-backend/internal/domain"
	"github.com/skyassure/peerreview-backend/internal/platform/logger"
)

type OrganizationRepo interface {
	Create(ctx context.Context, tx *gorm.DB, orgs []*types.Organization) ([]*types.Organization, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Organization, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Organization, error)
	GetByICAOCode(ctx context.Context, tx *gorm.DB, icaoCode string) (*types.Organization, error)
	ICAOCodeExists(ctx context.Context, tx *gorm.DB, icaoCode string) (bool, error)
	List(ctx context.Context, tx *gorm.DB, status string) ([]*types.Organization, error)
	CountByStatus(ctx context.Context, tx *gorm.DB) (map[string]int64, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
}

type organizationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewOrganizationRepo(db *gorm.DB, baseLog *logger.Logger) OrganizationRepo {
	return &organizationRepo{db: db, log: baseLog.With("repo", "OrganizationRepo")}
}

func (r *organizationRepo) Create(ctx context.Context, tx *gorm.DB, orgs []*types.Organization) ([]*types.Organization, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(orgs) == 0 {
		return []*types.Organization{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&orgs).Error; err != nil {
		return nil, err
	}
	return orgs, nil
}

func (r *organizationRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Organization, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var org types.Organization
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&org).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &org, nil
}

func (r *organizationRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Organization, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Organization
	if len(ids) == 0 {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *organizationRepo) GetByICAOCode(ctx context.Context, tx *gorm.DB, icaoCode string) (*types.Organization, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	icaoCode = strings.ToUpper(strings.TrimSpace(icaoCode))
	if icaoCode == "" {
		return nil, nil
	}
	var org types.Organization
	err := transaction.WithContext(ctx).Where("icao_code = ?", icaoCode).First(&org).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &org, nil
}

func (r *organizationRepo) ICAOCodeExists(ctx context.Context, tx *gorm.DB, icaoCode string) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	if err := transaction.WithContext(ctx).
		Model(&types.Organization{}).
		Where("icao_code = ?", strings.ToUpper(strings.TrimSpace(icaoCode))).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *organizationRepo) List(ctx context.Context, tx *gorm.DB, status string) ([]*types.Organization, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(ctx).Model(&types.Organization{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var results []*types.Organization
	if err := q.Order("name ASC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *organizationRepo) CountByStatus(ctx context.Context, tx *gorm.DB) (map[string]int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var rows []struct {
		Status string
		Count  int64
	}
	if err := transaction.WithContext(ctx).
		Model(&types.Organization{}).
		Select("status, COUNT(1) AS count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Count
	}
	return out, nil
}

func (r *organizationRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.Organization{}).
		Where("id = ?", id).
		Updates(updates).Error
}
