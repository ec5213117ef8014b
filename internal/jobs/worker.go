package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/skyassure/peerreview-backend/internal/domain"
	"github.com/skyassure/peerreview-backend/internal/observability"
	"github.com/skyassure/peerreview-backend/internal/platform/logger"
	"github.com/skyassure/peerreview-backend/internal/repos"
)

const (
	pollInterval = 1 * time.Second
	retryDelay   = 30 * time.Second
	staleRunning = 2 * time.Minute
)

// Worker polls the job_run table and executes claimed jobs through the
// registry. Claiming runs FOR UPDATE SKIP LOCKED inside a short transaction,
// so any number of workers share one table without double execution.
type Worker struct {
	db       *gorm.DB
	log      *logger.Logger
	repo     repos.JobRunRepo
	registry *Registry
}

func NewWorker(db *gorm.DB, baseLog *logger.Logger, repo repos.JobRunRepo, registry *Registry) *Worker {
	return &Worker{
		db:       db,
		log:      baseLog.With("component", "JobWorker"),
		repo:     repo,
		registry: registry,
	}
}

func (w *Worker) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				// Drain everything runnable before sleeping again, so a
				// burst of enqueues does not pay a tick per job.
				for {
					claimed, err := w.claimAndRun(ctx)
					if err != nil {
						w.log.Warn("Job claim failed", "error", err)
						break
					}
					if !claimed {
						break
					}
				}
			}
		}
	}()
}

func (w *Worker) claimAndRun(ctx context.Context) (bool, error) {
	var job *types.JobRun
	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		job, err = w.repo.ClaimNextRunnable(ctx, tx, retryDelay, staleRunning)
		return err
	})
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	start := time.Now()
	w.log.Info("Job claimed", "job_id", job.ID, "kind", job.Kind, "attempt", job.Attempts)
	_ = w.repo.AppendEvent(ctx, nil, &types.JobRunEvent{
		ID:      uuid.New(),
		JobID:   job.ID,
		JobKind: job.Kind,
		Kind:    string(types.JobEventStarted),
		Attempt: job.Attempts,
	})

	jc := NewContext(ctx, w.db, job, w.repo)
	w.run(jc)

	observability.ObserveJob(job.Kind, job.Status, time.Since(start))
	return true, nil
}

func (w *Worker) run(jc *Context) {
	job := jc.Job
	h, ok := w.registry.Get(job.Kind)
	if !ok {
		w.log.Warn("No handler registered for job kind", "kind", job.Kind, "job_id", job.ID)
		jc.Fail("dispatch", fmt.Errorf("no handler registered for kind=%s", job.Kind))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			w.log.Error("Job handler panic", "job_id", job.ID, "kind", job.Kind, "panic", r)
			jc.Fail("panic", fmt.Errorf("panic: %v", r))
		}
	}()

	if err := h.Run(jc); err != nil && !jc.Terminal() {
		jc.Fail(job.Stage, err)
		return
	}
	if !jc.Terminal() {
		// A handler that returns nil without terminating forgot the
		// contract; failing loudly beats a row stuck in running.
		jc.Fail("contract", fmt.Errorf("handler for kind=%s returned without terminal state", job.Kind))
	}
}
