package jobrun

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"
	"gorm.io/gorm"

	types "github.com/skyassure/peerreview-backend/internal/domain"
	"github.com/skyassure/peerreview-backend/internal/jobs"
	"github.com/skyassure/peerreview-backend/internal/observability"
	"github.com/skyassure/peerreview-backend/internal/platform/logger"
	"github.com/skyassure/peerreview-backend/internal/repos"
)

// Activities runs one job tick on behalf of the job_run workflow. The same
// rows are also claimable by the polling worker; the claim guard below makes
// sure only one of the two actually executes a given run.
type Activities struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Jobs     repos.JobRunRepo
	Registry *jobs.Registry
}

func (a *Activities) Tick(ctx context.Context, jobID string) (TickResult, error) {
	res := TickResult{JobID: strings.TrimSpace(jobID)}
	if a == nil || a.DB == nil || a.Jobs == nil || a.Registry == nil {
		return res, fmt.Errorf("jobrun: activity not configured")
	}

	parsedJobID, err := uuid.Parse(res.JobID)
	if err != nil || parsedJobID == uuid.Nil {
		return res, fmt.Errorf("jobrun: invalid job_id")
	}

	job, err := a.Jobs.GetByID(ctx, nil, parsedJobID)
	if err != nil {
		return res, err
	}
	if job == nil {
		return res, fmt.Errorf("jobrun: job not found")
	}

	switch job.Status {
	case types.JobStatusSucceeded, types.JobStatusCanceled:
		return fill(res, job), nil
	case types.JobStatusFailed:
		if job.Attempts >= job.MaxAttempts {
			return fill(res, job), nil
		}
	case types.JobStatusRunning:
		// The polling worker has it. Report and let the workflow re-poll.
		return fill(res, job), nil
	}

	claimed, err := a.claim(ctx, job)
	if err != nil {
		return res, err
	}
	if !claimed {
		// Lost the race; refresh and report.
		if fresh, ferr := a.Jobs.GetByID(ctx, nil, parsedJobID); ferr == nil && fresh != nil {
			job = fresh
		}
		return fill(res, job), nil
	}

	stopHB := a.startHeartbeat(ctx, parsedJobID)
	defer stopHB()

	_ = a.Jobs.AppendEvent(ctx, nil, &types.JobRunEvent{
		ID:      uuid.New(),
		JobID:   job.ID,
		JobKind: job.Kind,
		Kind:    string(types.JobEventStarted),
		Attempt: job.Attempts,
	})

	start := time.Now()
	jc := jobs.NewContext(ctx, a.DB, job, a.Jobs)
	a.run(jc)
	observability.ObserveJob(job.Kind, job.Status, time.Since(start))

	updated, err := a.Jobs.GetByID(ctx, nil, parsedJobID)
	if err != nil {
		return res, err
	}
	if updated == nil {
		return res, fmt.Errorf("jobrun: job not found after tick")
	}
	return fill(res, updated), nil
}

// claim flips a queued or retryable-failed row to running, incrementing the
// attempt counter. A false return means another executor got there first.
func (a *Activities) claim(ctx context.Context, job *types.JobRun) (bool, error) {
	now := time.Now()
	excluded := []string{
		types.JobStatusRunning,
		types.JobStatusSucceeded,
		types.JobStatusCanceled,
	}
	ok, err := a.Jobs.UpdateFieldsUnlessStatus(ctx, nil, job.ID, excluded, map[string]interface{}{
		"status":       types.JobStatusRunning,
		"attempts":     gorm.Expr("attempts + 1"),
		"locked_at":    now,
		"heartbeat_at": now,
		"updated_at":   now,
	})
	if err != nil || !ok {
		return false, err
	}
	job.Status = types.JobStatusRunning
	job.Attempts++
	job.LockedAt = &now
	job.HeartbeatAt = &now
	job.UpdatedAt = now
	return true, nil
}

func (a *Activities) run(jc *jobs.Context) {
	job := jc.Job
	h, ok := a.Registry.Get(job.Kind)
	if !ok {
		jc.Fail("dispatch", fmt.Errorf("no handler registered for kind=%s", job.Kind))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			if a.Log != nil {
				a.Log.Error("Job handler panic", "job_id", job.ID, "kind", job.Kind, "panic", r)
			}
			jc.Fail("panic", fmt.Errorf("panic: %v", r))
		}
	}()

	if err := h.Run(jc); err != nil && !jc.Terminal() {
		jc.Fail(job.Stage, err)
		return
	}
	if !jc.Terminal() {
		jc.Fail("contract", fmt.Errorf("handler for kind=%s returned without terminal state", job.Kind))
	}
}

func (a *Activities) startHeartbeat(ctx context.Context, jobID uuid.UUID) func() {
	done := make(chan struct{})
	go func() {
		temporalHB := time.NewTicker(10 * time.Second)
		defer temporalHB.Stop()

		dbHB := time.NewTicker(30 * time.Second)
		defer dbHB.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-temporalHB.C:
				activity.RecordHeartbeat(ctx)
			case <-dbHB.C:
				_ = a.Jobs.Heartbeat(ctx, nil, jobID)
			}
		}
	}()
	return func() { close(done) }
}

func fill(res TickResult, job *types.JobRun) TickResult {
	res.Status = job.Status
	res.Stage = job.Stage
	res.Progress = job.Progress
	res.Attempts = job.Attempts
	res.MaxAttempts = job.MaxAttempts
	return res
}
