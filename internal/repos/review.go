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

// ReviewListFilter narrows List; zero values mean "no filter".
type ReviewListFilter struct {
	HostOrganizationID uuid.UUID
	Phase              string
	CycleYear          int
}

type ReviewRepo interface {
	Create(ctx context.Context, tx *gorm.DB, reviews []*types.PeerReview) ([]*types.PeerReview, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.PeerReview, error)
	GetByReference(ctx context.Context, tx *gorm.DB, reference string) (*types.PeerReview, error)
	List(ctx context.Context, tx *gorm.DB, filter ReviewListFilter) ([]*types.PeerReview, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	NextFindingSeq(ctx context.Context, tx *gorm.DB, reviewID uuid.UUID) (int, error)
	CountWithReferenceInYear(ctx context.Context, tx *gorm.DB, cycleYear int) (int64, error)
	CountByPhase(ctx context.Context, tx *gorm.DB) (map[string]int64, error)

	AddTeamMember(ctx context.Context, tx *gorm.DB, member *types.ReviewTeamMember) (*types.ReviewTeamMember, error)
	GetTeamMember(ctx context.Context, tx *gorm.DB, reviewID, userID uuid.UUID) (*types.ReviewTeamMember, error)
	ListTeamMembers(ctx context.Context, tx *gorm.DB, reviewID uuid.UUID) ([]*types.ReviewTeamMember, error)
	UpdateTeamMemberFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	ListPastHostTeamMemberships(ctx context.Context, tx *gorm.DB, userID, hostOrgID uuid.UUID, sinceCycleYear int) ([]*types.ReviewTeamMember, error)
	ListReviewIDsForTeamUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]uuid.UUID, error)
	ListTeamMembersByReviewIDs(ctx context.Context, tx *gorm.DB, reviewIDs []uuid.UUID) ([]*types.ReviewTeamMember, error)
}

type reviewRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewReviewRepo(db *gorm.DB, baseLog *logger.Logger) ReviewRepo {
	return &reviewRepo{db: db, log: baseLog.With("repo", "ReviewRepo")}
}

func (r *reviewRepo) Create(ctx context.Context, tx *gorm.DB, reviews []*types.PeerReview) ([]*types.PeerReview, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(reviews) == 0 {
		return []*types.PeerReview{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&reviews).Error; err != nil {
		return nil, err
	}
	return reviews, nil
}

func (r *reviewRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.PeerReview, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var rv types.PeerReview
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&rv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rv, nil
}

func (r *reviewRepo) GetByReference(ctx context.Context, tx *gorm.DB, reference string) (*types.PeerReview, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if reference == "" {
		return nil, nil
	}
	var rv types.PeerReview
	err := transaction.WithContext(ctx).Where("reference = ?", reference).First(&rv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rv, nil
}

func (r *reviewRepo) List(ctx context.Context, tx *gorm.DB, filter ReviewListFilter) ([]*types.PeerReview, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(ctx).Model(&types.PeerReview{})
	if filter.HostOrganizationID != uuid.Nil {
		q = q.Where("host_organization_id = ?", filter.HostOrganizationID)
	}
	if filter.Phase != "" {
		q = q.Where("phase = ?", filter.Phase)
	}
	if filter.CycleYear != 0 {
		q = q.Where("cycle_year = ?", filter.CycleYear)
	}
	var results []*types.PeerReview
	if err := q.Order("created_at DESC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *reviewRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.PeerReview{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// NextFindingSeq bumps the review's finding counter and returns the new
// value. The increment and read happen in one statement so concurrent
// finding writers never share a sequence number.
func (r *reviewRepo) NextFindingSeq(ctx context.Context, tx *gorm.DB, reviewID uuid.UUID) (int, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var seq int
	err := transaction.WithContext(ctx).
		Raw("UPDATE peer_review SET finding_seq = finding_seq + 1, updated_at = now() WHERE id = ? RETURNING finding_seq", reviewID).
		Scan(&seq).Error
	if err != nil {
		return 0, err
	}
	if seq == 0 {
		return 0, gorm.ErrRecordNotFound
	}
	return seq, nil
}

// CountWithReferenceInYear counts reviews already holding a reference in the
// cycle year. The unique index on reference backstops concurrent scheduling.
func (r *reviewRepo) CountWithReferenceInYear(ctx context.Context, tx *gorm.DB, cycleYear int) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	if err := transaction.WithContext(ctx).
		Model(&types.PeerReview{}).
		Where("cycle_year = ? AND reference <> ''", cycleYear).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *reviewRepo) CountByPhase(ctx context.Context, tx *gorm.DB) (map[string]int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var rows []struct {
		Phase string
		Count int64
	}
	if err := transaction.WithContext(ctx).
		Model(&types.PeerReview{}).
		Select("phase, COUNT(1) AS count").
		Group("phase").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Phase] = row.Count
	}
	return out, nil
}

func (r *reviewRepo) AddTeamMember(ctx context.Context, tx *gorm.DB, member *types.ReviewTeamMember) (*types.ReviewTeamMember, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if member == nil {
		return nil, nil
	}
	if err := transaction.WithContext(ctx).Create(member).Error; err != nil {
		return nil, err
	}
	return member, nil
}

func (r *reviewRepo) GetTeamMember(ctx context.Context, tx *gorm.DB, reviewID, userID uuid.UUID) (*types.ReviewTeamMember, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var m types.ReviewTeamMember
	err := transaction.WithContext(ctx).
		Where("review_id = ? AND user_id = ?", reviewID, userID).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *reviewRepo) ListTeamMembers(ctx context.Context, tx *gorm.DB, reviewID uuid.UUID) ([]*types.ReviewTeamMember, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.ReviewTeamMember
	if err := transaction.WithContext(ctx).
		Where("review_id = ? AND removed_at IS NULL", reviewID).
		Order("created_at ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *reviewRepo) UpdateTeamMemberFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.ReviewTeamMember{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// ListPastHostTeamMemberships returns the user's team seats on reviews hosted
// by hostOrgID from sinceCycleYear onward, cancelled reviews excluded. The
// conflict-of-interest check runs on this.
func (r *reviewRepo) ListPastHostTeamMemberships(ctx context.Context, tx *gorm.DB, userID, hostOrgID uuid.UUID, sinceCycleYear int) ([]*types.ReviewTeamMember, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.ReviewTeamMember
	if err := transaction.WithContext(ctx).
		Model(&types.ReviewTeamMember{}).
		Joins("JOIN peer_review pr ON pr.id = review_team_member.review_id").
		Where("review_team_member.user_id = ?", userID).
		Where("pr.host_organization_id = ?", hostOrgID).
		Where("pr.cycle_year >= ?", sinceCycleYear).
		Where("pr.phase <> ?", types.ReviewCancelled).
		Where("pr.deleted_at IS NULL").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *reviewRepo) ListTeamMembersByReviewIDs(ctx context.Context, tx *gorm.DB, reviewIDs []uuid.UUID) ([]*types.ReviewTeamMember, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(reviewIDs) == 0 {
		return []*types.ReviewTeamMember{}, nil
	}
	var results []*types.ReviewTeamMember
	if err := transaction.WithContext(ctx).
		Where("review_id IN ? AND removed_at IS NULL", reviewIDs).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *reviewRepo) ListReviewIDsForTeamUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]uuid.UUID, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if userID == uuid.Nil {
		return []uuid.UUID{}, nil
	}
	var ids []uuid.UUID
	if err := transaction.WithContext(ctx).
		Model(&types.ReviewTeamMember{}).
		Where("user_id = ? AND removed_at IS NULL", userID).
		Pluck("review_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
