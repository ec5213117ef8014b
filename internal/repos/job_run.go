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

type JobRunRepo interface {
	Create(ctx context.Context, tx *gorm.DB, jobs []*types.JobRun) ([]*types.JobRun, error)
	CreateDeduped(ctx context.Context, tx *gorm.DB, job *types.JobRun) (bool, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.JobRun, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.JobRun, error)
	GetLatestByEntity(ctx context.Context, tx *gorm.DB, entityType string, entityID uuid.UUID, kind string) (*types.JobRun, error)
	ClaimNextRunnable(ctx context.Context, tx *gorm.DB, retryDelay time.Duration, staleRunning time.Duration) (*types.JobRun, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	UpdateFieldsUnlessStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, excludedStatuses []string, updates map[string]interface{}) (bool, error)
	Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	AppendEvent(ctx context.Context, tx *gorm.DB, event *types.JobRunEvent) error
	ListEvents(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) ([]*types.JobRunEvent, error)
	CountByStatus(ctx context.Context, tx *gorm.DB) (map[string]int64, error)
}

type jobRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRunRepo(db *gorm.DB, baseLog *logger.Logger) JobRunRepo {
	return &jobRunRepo{db: db, log: baseLog.With("repo", "JobRunRepo")}
}

func (r *jobRunRepo) Create(ctx context.Context, tx *gorm.DB, jobs []*types.JobRun) ([]*types.JobRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(jobs) == 0 {
		return []*types.JobRun{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// CreateDeduped inserts the job unless another row already holds its dedupe
// key. Returns false when the insert was skipped.
func (r *jobRunRepo) CreateDeduped(ctx context.Context, tx *gorm.DB, job *types.JobRun) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if job == nil {
		return false, nil
	}
	if job.DedupeKey == nil || *job.DedupeKey == "" {
		if err := transaction.WithContext(ctx).Create(job).Error; err != nil {
			return false, err
		}
		return true, nil
	}
	res := transaction.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "dedupe_key"}}, DoNothing: true}).
		Create(job)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *jobRunRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.JobRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var job types.JobRun
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *jobRunRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.JobRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(ids) == 0 {
		return []*types.JobRun{}, nil
	}
	var results []*types.JobRun
	if err := transaction.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *jobRunRepo) GetLatestByEntity(ctx context.Context, tx *gorm.DB, entityType string, entityID uuid.UUID, kind string) (*types.JobRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var job types.JobRun
	err := transaction.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ? AND kind = ?", entityType, entityID, kind).
		Order("created_at DESC").
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ClaimNextRunnable locks and claims the oldest runnable job with
// FOR UPDATE SKIP LOCKED so concurrent workers never grab the same row.
// Runnable means queued and past run_after, failed with attempts left once
// the retry delay has elapsed, or running with a heartbeat stale enough to
// call the previous worker dead.
func (r *jobRunRepo) ClaimNextRunnable(ctx context.Context, tx *gorm.DB, retryDelay time.Duration, staleRunning time.Duration) (*types.JobRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now()
	retryCutoff := now.Add(-retryDelay)
	staleCutoff := now.Add(-staleRunning)

	var job types.JobRun
	err := transaction.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where(`
			(status = ? AND (run_after IS NULL OR run_after <= ?))
			OR (status = ? AND attempts < max_attempts AND last_error_at IS NOT NULL AND last_error_at < ?)
			OR (status = ? AND heartbeat_at IS NOT NULL AND heartbeat_at < ?)
		`,
			types.JobStatusQueued, now,
			types.JobStatusFailed, retryCutoff,
			types.JobStatusRunning, staleCutoff,
		).
		Order("created_at ASC").
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{
		"status":       types.JobStatusRunning,
		"attempts":     gorm.Expr("attempts + 1"),
		"locked_at":    now,
		"heartbeat_at": now,
		"updated_at":   now,
	}
	if err := transaction.WithContext(ctx).
		Model(&types.JobRun{}).
		Where("id = ?", job.ID).
		Updates(updates).Error; err != nil {
		return nil, err
	}

	job.Status = types.JobStatusRunning
	job.Attempts++
	job.LockedAt = &now
	job.HeartbeatAt = &now
	return &job, nil
}

func (r *jobRunRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.JobRun{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// UpdateFieldsUnlessStatus applies updates only while the job is not in one
// of the excluded statuses. Returns whether a row changed, so a worker that
// lost its claim to a stale-takeover can tell.
func (r *jobRunRepo) UpdateFieldsUnlessStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, excludedStatuses []string, updates map[string]interface{}) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil || len(updates) == 0 {
		return false, nil
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	q := transaction.WithContext(ctx).
		Model(&types.JobRun{}).
		Where("id = ?", id)
	if len(excludedStatuses) > 0 {
		q = q.Where("status NOT IN ?", excludedStatuses)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Heartbeat refreshes the liveness stamp while the job is still running.
func (r *jobRunRepo) Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	return transaction.WithContext(ctx).
		Model(&types.JobRun{}).
		Where("id = ? AND status = ?", id, types.JobStatusRunning).
		Update("heartbeat_at", time.Now()).Error
}

func (r *jobRunRepo) AppendEvent(ctx context.Context, tx *gorm.DB, event *types.JobRunEvent) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if event == nil {
		return nil
	}
	return transaction.WithContext(ctx).Create(event).Error
}

func (r *jobRunRepo) ListEvents(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) ([]*types.JobRunEvent, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.JobRunEvent
	if err := transaction.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("created_at ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *jobRunRepo) CountByStatus(ctx context.Context, tx *gorm.DB) (map[string]int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var rows []struct {
		Status string
		Count  int64
	}
	if err := transaction.WithContext(ctx).
		Model(&types.JobRun{}).
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
