package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	temporalsdkclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/skyassure/peerreview-backend/internal/domain"
	"github.com/skyassure/peerreview-backend/internal/platform/apierr"
	"github.com/skyassure/peerreview-backend/internal/platform/ctxutil"
	"github.com/skyassure/peerreview-backend/internal/platform/logger"
	"github.com/skyassure/peerreview-backend/internal/repos"
)

// EnqueueJobInput describes one background job to insert. DedupeKey, when
// set, collapses repeat enqueues of the same logical work (one email per
// notification, one sweep per day) into the first row.
type EnqueueJobInput struct {
	Kind        string
	EntityType  string
	EntityID    *uuid.UUID
	Payload     map[string]any
	DedupeKey   string
	RunAfter    *time.Time
	MaxAttempts int
}

type JobService interface {
	Enqueue(ctx context.Context, tx *gorm.DB, input EnqueueJobInput) (*types.JobRun, bool, error)
	Dispatch(ctx context.Context, jobID uuid.UUID) error
	GetByID(ctx context.Context, jobID uuid.UUID) (*types.JobRun, error)
	ListEvents(ctx context.Context, jobID uuid.UUID) ([]*types.JobRunEvent, error)
	Cancel(ctx context.Context, jobID uuid.UUID) (*types.JobRun, error)
	Restart(ctx context.Context, jobID uuid.UUID) (*types.JobRun, error)
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

type jobService struct {
	db   *gorm.DB
	log  *logger.Logger
	repo repos.JobRunRepo

	temporal          temporalsdkclient.Client
	temporalTaskQueue string
}

// NewJobService wires the queue. tc may be nil: the polling worker claims
// jobs straight from the table, Temporal only shortens the pickup latency
// when an address is configured.
func NewJobService(
	db *gorm.DB,
	baseLog *logger.Logger,
	repo repos.JobRunRepo,
	tc temporalsdkclient.Client,
	taskQueue string,
) JobService {
	return &jobService{
		db:                db,
		log:               baseLog.With("service", "JobService"),
		repo:              repo,
		temporal:          tc,
		temporalTaskQueue: strings.TrimSpace(taskQueue),
	}
}

// Enqueue inserts the job and reports whether a row was actually created.
// (nil, false, nil) means a live row already holds the dedupe key. When
// called outside a surrounding transaction the job is handed to Temporal
// right away; inside one, the polling worker picks it up after commit.
func (s *jobService) Enqueue(ctx context.Context, tx *gorm.DB, input EnqueueJobInput) (*types.JobRun, bool, error) {
	if strings.TrimSpace(input.Kind) == "" {
		return nil, false, fmt.Errorf("missing job kind")
	}
	payload := input.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	if td := ctxutil.GetTraceData(ctx); td != nil {
		if td.TraceID != "" {
			if _, ok := payload["trace_id"]; !ok {
				payload["trace_id"] = td.TraceID
			}
		}
		if td.RequestID != "" {
			if _, ok := payload["request_id"]; !ok {
				payload["request_id"] = td.RequestID
			}
		}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, false, fmt.Errorf("marshal job payload: %w", err)
	}

	maxAttempts := input.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = types.JobDefaultMaxAttempts
	}
	var dedupeKey *string
	if k := strings.TrimSpace(input.DedupeKey); k != "" {
		dedupeKey = &k
	}

	now := time.Now()
	job := &types.JobRun{
		ID:          uuid.New(),
		Kind:        input.Kind,
		DedupeKey:   dedupeKey,
		EntityType:  input.EntityType,
		EntityID:    input.EntityID,
		Status:      types.JobStatusQueued,
		Stage:       "queued",
		Progress:    0,
		Attempts:    0,
		MaxAttempts: maxAttempts,
		RunAfter:    input.RunAfter,
		Payload:     datatypes.JSON(payloadJSON),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	inserted, err := s.repo.CreateDeduped(ctx, tx, job)
	if err != nil {
		return nil, false, fmt.Errorf("enqueue job: %w", err)
	}
	if !inserted {
		s.log.Debug("Job enqueue skipped, dedupe key already live", "kind", input.Kind, "dedupe_key", input.DedupeKey)
		return nil, false, nil
	}
	if err := s.repo.AppendEvent(ctx, tx, &types.JobRunEvent{
		ID:      uuid.New(),
		JobID:   job.ID,
		JobKind: job.Kind,
		Kind:    string(types.JobEventCreated),
		Message: "queued",
	}); err != nil {
		return nil, false, fmt.Errorf("append job event: %w", err)
	}

	// Inside a real transaction the row is not visible to Temporal's worker
	// yet, so dispatching now would race the commit.
	if isDBTransaction(tx) {
		s.log.Debug("Job enqueued inside transaction; worker claims it after commit", "job_id", job.ID, "kind", job.Kind)
		return job, true, nil
	}
	if err := s.Dispatch(ctx, job.ID); err != nil {
		// The polling worker still claims the row, so a dispatch failure
		// only costs latency.
		s.log.Warn("Temporal dispatch failed; leaving job for the polling worker", "job_id", job.ID, "kind", job.Kind, "error", err)
	}
	return job, true, nil
}

type txCommitter interface {
	Commit() error
	Rollback() error
}

// isDBTransaction detects a live transaction. gorm.DB pointers are cloned by
// WithContext/Session, so pointer identity is not a usable signal; the
// ConnPool type is.
func isDBTransaction(db *gorm.DB) bool {
	if db == nil || db.Statement == nil || db.Statement.ConnPool == nil {
		return false
	}
	_, ok := db.Statement.ConnPool.(txCommitter)
	return ok
}

// Dispatch starts the Temporal workflow for a queued job. A nil Temporal
// client is not an error: execution then belongs to the polling worker.
func (s *jobService) Dispatch(ctx context.Context, jobID uuid.UUID) error {
	if s.temporal == nil {
		return nil
	}
	if jobID == uuid.Nil {
		return fmt.Errorf("missing job id")
	}
	err := s.startWorkflow(ctxutil.Default(ctx), jobID, enums.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE)
	if err == nil {
		return nil
	}
	if _, ok := err.(*serviceerror.WorkflowExecutionAlreadyStarted); ok {
		return nil
	}
	return fmt.Errorf("start job workflow: %w", err)
}

func (s *jobService) GetByID(ctx context.Context, jobID uuid.UUID) (*types.JobRun, error) {
	job, err := s.repo.GetByID(ctx, nil, jobID)
	if err != nil {
		return nil, apierr.Internal("job_lookup_failed", err)
	}
	if job == nil {
		return nil, apierr.NotFound("job_not_found", fmt.Errorf("job %s not found", jobID))
	}
	return job, nil
}

func (s *jobService) ListEvents(ctx context.Context, jobID uuid.UUID) ([]*types.JobRunEvent, error) {
	if _, err := s.GetByID(ctx, jobID); err != nil {
		return nil, err
	}
	events, err := s.repo.ListEvents(ctx, nil, jobID)
	if err != nil {
		return nil, apierr.Internal("job_events_failed", err)
	}
	return events, nil
}

// Cancel stops a job that has not finished. Workers publish results with
// UpdateFieldsUnlessStatus, so a cancel that lands mid-run wins.
func (s *jobService) Cancel(ctx context.Context, jobID uuid.UUID) (*types.JobRun, error) {
	var updated *types.JobRun
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		job, err := s.repo.GetByID(ctx, tx, jobID)
		if err != nil {
			return apierr.Internal("job_lookup_failed", err)
		}
		if job == nil {
			return apierr.NotFound("job_not_found", fmt.Errorf("job %s not found", jobID))
		}
		if job.Status == types.JobStatusSucceeded || job.Status == types.JobStatusCanceled {
			return apierr.Conflict("job_not_cancelable", fmt.Errorf("job is %s", job.Status))
		}
		now := time.Now()
		if err := s.repo.UpdateFields(ctx, tx, jobID, map[string]interface{}{
			"status":     types.JobStatusCanceled,
			"stage":      "canceled",
			"locked_at":  nil,
			"updated_at": now,
		}); err != nil {
			return apierr.Internal("job_cancel_failed", err)
		}
		if err := s.repo.AppendEvent(ctx, tx, &types.JobRunEvent{
			ID:      uuid.New(),
			JobID:   job.ID,
			JobKind: job.Kind,
			Kind:    string(types.JobEventCanceled),
			Attempt: job.Attempts,
		}); err != nil {
			return apierr.Internal("job_cancel_failed", err)
		}
		job.Status = types.JobStatusCanceled
		job.Stage = "canceled"
		job.LockedAt = nil
		job.UpdatedAt = now
		updated = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Restart requeues a canceled or exhausted job with a fresh attempt budget.
func (s *jobService) Restart(ctx context.Context, jobID uuid.UUID) (*types.JobRun, error) {
	var updated *types.JobRun
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		job, err := s.repo.GetByID(ctx, tx, jobID)
		if err != nil {
			return apierr.Internal("job_lookup_failed", err)
		}
		if job == nil {
			return apierr.NotFound("job_not_found", fmt.Errorf("job %s not found", jobID))
		}
		if job.Status != types.JobStatusCanceled && job.Status != types.JobStatusFailed {
			return apierr.Conflict("job_not_restartable", fmt.Errorf("job is %s", job.Status))
		}
		now := time.Now()
		if err := s.repo.UpdateFields(ctx, tx, jobID, map[string]interface{}{
			"status":        types.JobStatusQueued,
			"stage":         "queued",
			"progress":      0,
			"attempts":      0,
			"error":         "",
			"last_error_at": nil,
			"locked_at":     nil,
			"heartbeat_at":  nil,
			"run_after":     nil,
			"updated_at":    now,
		}); err != nil {
			return apierr.Internal("job_restart_failed", err)
		}
		if err := s.repo.AppendEvent(ctx, tx, &types.JobRunEvent{
			ID:      uuid.New(),
			JobID:   job.ID,
			JobKind: job.Kind,
			Kind:    string(types.JobEventCreated),
			Message: "restarted",
		}); err != nil {
			return apierr.Internal("job_restart_failed", err)
		}
		job.Status = types.JobStatusQueued
		job.Stage = "queued"
		job.Progress = 0
		job.Attempts = 0
		job.Error = ""
		job.LastErrorAt = nil
		job.LockedAt = nil
		job.HeartbeatAt = nil
		job.RunAfter = nil
		job.UpdatedAt = now
		updated = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	if updated != nil && s.temporal != nil {
		if derr := s.startWorkflow(ctxutil.Default(ctx), jobID, enums.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE); derr != nil {
			if _, ok := derr.(*serviceerror.WorkflowExecutionAlreadyStarted); !ok {
				s.log.Warn("Temporal dispatch failed on restart; leaving job for the polling worker", "job_id", jobID, "error", derr)
			}
		}
	}
	return updated, nil
}

func (s *jobService) CountByStatus(ctx context.Context) (map[string]int64, error) {
	counts, err := s.repo.CountByStatus(ctx, nil)
	if err != nil {
		return nil, apierr.Internal("job_counts_failed", err)
	}
	return counts, nil
}

func (s *jobService) startWorkflow(ctx context.Context, jobID uuid.UUID, reusePolicy enums.WorkflowIdReusePolicy) error {
	tq := s.temporalTaskQueue
	if tq == "" {
		tq = "peerreview"
	}
	opts := temporalsdkclient.StartWorkflowOptions{
		ID:                    jobID.String(),
		TaskQueue:             tq,
		WorkflowIDReusePolicy: reusePolicy,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    30 * time.Second,
			BackoffCoefficient: 1.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    5,
		},
	}
	_, err := s.temporal.ExecuteWorkflow(ctx, opts, "job_run")
	return err
}
