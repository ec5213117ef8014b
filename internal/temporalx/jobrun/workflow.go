package jobrun

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/workflow"
)

// Workflow drives one job run to a terminal state. The workflow ID is the
// job_run row ID, so duplicate dispatches collapse onto the same execution.
func Workflow(ctx workflow.Context) error {
	jobID := strings.TrimSpace(workflow.GetInfo(ctx).WorkflowExecution.ID)
	if jobID == "" {
		return fmt.Errorf("jobrun: missing job_id")
	}

	const (
		pollInterval         = 2 * time.Second
		retryDelay           = 30 * time.Second
		continueTickLimit    = 2000
		continueHistoryLimit = 15000
	)

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Hour,
		HeartbeatTimeout:    30 * time.Second,
		RetryPolicy:         nil, // retries are decided here, from the row's attempt budget
	})

	tickCount := 0
	for {
		tickCount++
		var out TickResult
		if err := workflow.ExecuteActivity(ctx, ActivityTick, jobID).Get(ctx, &out); err != nil {
			return err
		}

		wait := pollInterval
		switch out.Status {
		case "succeeded", "canceled":
			return nil
		case "failed":
			if out.Attempts >= out.MaxAttempts {
				return fmt.Errorf("job failed (stage=%s)", strings.TrimSpace(out.Stage))
			}
			wait = retryDelay
		}

		if err := workflow.Sleep(ctx, wait); err != nil {
			return err
		}
		if shouldContinueAsNew(ctx, tickCount, continueTickLimit, continueHistoryLimit) {
			return workflow.NewContinueAsNewError(ctx, Workflow)
		}
	}
}

func shouldContinueAsNew(ctx workflow.Context, ticks, maxTicks, maxHistory int) bool {
	if maxTicks > 0 && ticks >= maxTicks {
		return true
	}
	info := workflow.GetInfo(ctx)
	if info == nil || maxHistory <= 0 {
		return false
	}
	return info.GetCurrentHistoryLength() >= maxHistory
}
