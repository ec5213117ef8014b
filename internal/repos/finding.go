package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/skyassure/peerreview-backend/internal/domain"
	"github.com/skyassure/peerreview-backend/internal/platform/logger"
)

// ErrFindingVersionConflict is returned when a version-checked finding update
// lost the race to another writer.
var ErrFindingVersionConflict = errors.New("finding version conflict")

type FindingRepo interface {
	Create(ctx context.Context, tx *gorm.DB, findings []*types.Finding) ([]*types.Finding, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Finding, error)
	GetByReference(ctx context.Context, tx *gorm.DB, reference string) (*types.Finding, error)
	ListByReview(ctx context.Context, tx *gorm.DB, reviewID uuid.UUID) ([]*types.Finding, error)
	ListByReviewIDs(ctx context.Context, tx *gorm.DB, reviewIDs []uuid.UUID) ([]*types.Finding, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	UpdateFieldsChecked(ctx context.Context, tx *gorm.DB, id uuid.UUID, expectedVersion int, updates map[string]interface{}) error
	CountOpenByReview(ctx context.Context, tx *gorm.DB, reviewID uuid.UUID) (int64, error)
	CountByKind(ctx context.Context, tx *gorm.DB, cycleYear int) (map[string]int64, error)
	CountBySeverity(ctx context.Context, tx *gorm.DB, cycleYear int) (map[string]int64, error)
	CountByDomainCode(ctx context.Context, tx *gorm.DB, cycleYear int) (map[string]int64, error)

	CreateNote(ctx context.Context, tx *gorm.DB, note *types.FieldNote) (bool, error)
	ListNotesByFinding(ctx context.Context, tx *gorm.DB, findingID uuid.UUID) ([]*types.FieldNote, error)
}

type findingRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewFindingRepo(db *gorm.DB, baseLog *logger.Logger) FindingRepo {
	return &findingRepo{db: db, log: baseLog.With("repo", "FindingRepo")}
}

func (r *findingRepo) Create(ctx context.Context, tx *gorm.DB, findings []*types.Finding) ([]*types.Finding, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(findings) == 0 {
		return []*types.Finding{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&findings).Error; err != nil {
		return nil, err
	}
	return findings, nil
}

func (r *findingRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Finding, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var f types.Finding
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&f).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *findingRepo) GetByReference(ctx context.Context, tx *gorm.DB, reference string) (*types.Finding, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if reference == "" {
		return nil, nil
	}
	var f types.Finding
	err := transaction.WithContext(ctx).Where("reference = ?", reference).First(&f).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *findingRepo) ListByReview(ctx context.Context, tx *gorm.DB, reviewID uuid.UUID) ([]*types.Finding, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Finding
	if err := transaction.WithContext(ctx).
		Where("review_id = ?", reviewID).
		Order("seq ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *findingRepo) ListByReviewIDs(ctx context.Context, tx *gorm.DB, reviewIDs []uuid.UUID) ([]*types.Finding, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(reviewIDs) == 0 {
		return []*types.Finding{}, nil
	}
	var results []*types.Finding
	if err := transaction.WithContext(ctx).
		Where("review_id IN ?", reviewIDs).
		Order("review_id ASC, seq ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *findingRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.Finding{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// UpdateFieldsChecked applies updates only while the stored version matches,
// bumping version in the same statement. Offline edits replay through this.
func (r *findingRepo) UpdateFieldsChecked(ctx context.Context, tx *gorm.DB, id uuid.UUID, expectedVersion int, updates map[string]interface{}) error {
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
		Model(&types.Finding{}).
		Where("id = ? AND version = ?", id, expectedVersion).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrFindingVersionConflict
	}
	return nil
}

func (r *findingRepo) CountOpenByReview(ctx context.Context, tx *gorm.DB, reviewID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	if err := transaction.WithContext(ctx).
		Model(&types.Finding{}).
		Where("review_id = ? AND status = ?", reviewID, types.FindingOpen).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *findingRepo) CountByKind(ctx context.Context, tx *gorm.DB, cycleYear int) (map[string]int64, error) {
	return r.countGrouped(ctx, tx, "finding.kind", cycleYear)
}

func (r *findingRepo) CountBySeverity(ctx context.Context, tx *gorm.DB, cycleYear int) (map[string]int64, error) {
	return r.countGrouped(ctx, tx, "finding.severity", cycleYear)
}

func (r *findingRepo) CountByDomainCode(ctx context.Context, tx *gorm.DB, cycleYear int) (map[string]int64, error) {
	return r.countGrouped(ctx, tx, "finding.domain_code", cycleYear)
}

func (r *findingRepo) countGrouped(ctx context.Context, tx *gorm.DB, column string, cycleYear int) (map[string]int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(ctx).
		Model(&types.Finding{}).
		Select(column + " AS label, COUNT(1) AS count").
		Joins("JOIN peer_review pr ON pr.id = finding.review_id").
		Where("pr.deleted_at IS NULL")
	if cycleYear != 0 {
		q = q.Where("pr.cycle_year = ?", cycleYear)
	}
	var rows []struct {
		Label string
		Count int64
	}
	if err := q.Group(column).Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Label] = row.Count
	}
	return out, nil
}

// CreateNote inserts the note unless its client-generated id already exists.
// Returns false for the replay case.
func (r *findingRepo) CreateNote(ctx context.Context, tx *gorm.DB, note *types.FieldNote) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if note == nil {
		return false, nil
	}
	res := transaction.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(note)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *findingRepo) ListNotesByFinding(ctx context.Context, tx *gorm.DB, findingID uuid.UUID) ([]*types.FieldNote, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.FieldNote
	if err := transaction.WithContext(ctx).
		Where("finding_id = ?", findingID).
		Order("noted_at ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
