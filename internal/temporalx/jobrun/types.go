package jobrun

const (
	WorkflowName = "job_run"
	ActivityTick = "job_run_tick"
)

// TickResult is what one activity tick reports back to the workflow.
// Attempts and MaxAttempts let the workflow decide whether a failed run
// still has retry budget left.
type TickResult struct {
	JobID       string `json:"job_id"`
	Status      string `json:"status"`
	Stage       string `json:"stage,omitempty"`
	Progress    int    `json:"progress,omitempty"`
	Attempts    int    `json:"attempts,omitempty"`
	MaxAttempts int    `json:"max_attempts,omitempty"`
}
