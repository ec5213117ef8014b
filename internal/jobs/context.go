package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/skyassure/peerreview-backend/internal/domain"
	"github.com/skyassure/peerreview-backend/internal/platform/ctxutil"
	"github.com/skyassure/peerreview-backend/internal/repos"
)

// Context is the execution handle for one claimed job run: the row in
// memory, the only sanctioned ways to publish progress or terminate, and the
// decoded payload. Handlers never write job_run fields directly.
type Context struct {
	Ctx  context.Context
	DB   *gorm.DB
	Job  *types.JobRun
	Repo repos.JobRunRepo

	payload  map[string]any
	terminal bool
}

// NewContext decodes the payload eagerly and restores trace identifiers the
// enqueueing request stashed there, so worker-side log lines join the
// original trace. A malformed payload is not fatal here; handlers validate
// their own required fields.
func NewContext(ctx context.Context, db *gorm.DB, job *types.JobRun, repo repos.JobRunRepo) *Context {
	c := &Context{Ctx: ctx, DB: db, Job: job, Repo: repo}
	c.decodePayload()
	c.applyTraceData()
	return c
}

func (c *Context) decodePayload() {
	c.payload = map[string]any{}
	if c.Job == nil || len(c.Job.Payload) == 0 {
		return
	}
	var m map[string]any
	if err := json.Unmarshal(c.Job.Payload, &m); err == nil {
		c.payload = m
	}
}

func (c *Context) applyTraceData() {
	if c.Ctx == nil {
		return
	}
	traceID, _ := c.payload["trace_id"].(string)
	reqID, _ := c.payload["request_id"].(string)
	traceID = strings.TrimSpace(traceID)
	reqID = strings.TrimSpace(reqID)
	if traceID == "" && reqID == "" {
		return
	}
	c.Ctx = ctxutil.WithTraceData(c.Ctx, &ctxutil.TraceData{TraceID: traceID, RequestID: reqID})
}

// Payload never returns nil.
func (c *Context) Payload() map[string]any {
	if c.payload == nil {
		c.payload = map[string]any{}
	}
	return c.payload
}

// PayloadUUID reads a payload field as a UUID. (uuid.Nil, false) covers
// missing, empty and unparseable alike.
func (c *Context) PayloadUUID(key string) (uuid.UUID, bool) {
	v, ok := c.Payload()[key]
	if !ok || v == nil {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(fmt.Sprint(v))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// PayloadString reads a payload field as a trimmed string.
func (c *Context) PayloadString(key string) string {
	v, ok := c.Payload()[key]
	if !ok || v == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

// Terminal reports whether Fail or Succeed has been called.
func (c *Context) Terminal() bool { return c != nil && c.terminal }

// Progress publishes a non-terminal stage update and refreshes the
// heartbeat, guarded so a cancel landed mid-run is never overwritten.
func (c *Context) Progress(stage string, pct int) {
	if c == nil || c.Job == nil || c.Job.ID == uuid.Nil {
		return
	}
	now := time.Now()
	ok, _ := c.Repo.UpdateFieldsUnlessStatus(c.Ctx, nil, c.Job.ID, []string{types.JobStatusCanceled}, map[string]interface{}{
		"stage":        stage,
		"progress":     pct,
		"heartbeat_at": now,
		"updated_at":   now,
	})
	if !ok {
		return
	}
	c.Job.Stage = stage
	c.Job.Progress = pct
	c.Job.HeartbeatAt = &now
	c.Job.UpdatedAt = now
}

// Fail marks the run failed at the given stage. The claim query retries
// failed runs below max_attempts after the retry delay, so Fail is "try
// again later" until the budget runs out.
func (c *Context) Fail(stage string, err error) {
	if c == nil || c.Job == nil || c.Job.ID == uuid.Nil {
		return
	}
	c.terminal = true
	now := time.Now()
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	ok, _ := c.Repo.UpdateFieldsUnlessStatus(c.Ctx, nil, c.Job.ID, []string{types.JobStatusCanceled}, map[string]interface{}{
		"status":        types.JobStatusFailed,
		"stage":         stage,
		"error":         msg,
		"last_error_at": now,
		"locked_at":     nil,
		"updated_at":    now,
	})
	if !ok {
		return
	}
	c.Job.Status = types.JobStatusFailed
	c.Job.Stage = stage
	c.Job.Error = msg
	c.Job.LastErrorAt = &now
	c.Job.LockedAt = nil
	c.Job.UpdatedAt = now

	_ = c.Repo.AppendEvent(c.Ctx, nil, &types.JobRunEvent{
		ID:      uuid.New(),
		JobID:   c.Job.ID,
		JobKind: c.Job.Kind,
		Kind:    string(types.JobEventFailed),
		Attempt: c.Job.Attempts,
		Message: msg,
	})
}

// Succeed marks the run succeeded and stores the result payload.
func (c *Context) Succeed(finalStage string, result any) {
	if c == nil || c.Job == nil || c.Job.ID == uuid.Nil {
		return
	}
	c.terminal = true
	now := time.Now()
	var res datatypes.JSON
	if result != nil {
		if b, err := json.Marshal(result); err == nil {
			res = datatypes.JSON(b)
		}
	}
	ok, _ := c.Repo.UpdateFieldsUnlessStatus(c.Ctx, nil, c.Job.ID, []string{types.JobStatusCanceled}, map[string]interface{}{
		"status":       types.JobStatusSucceeded,
		"stage":        finalStage,
		"progress":     100,
		"error":        "",
		"result":       res,
		"locked_at":    nil,
		"heartbeat_at": now,
		"updated_at":   now,
	})
	if !ok {
		return
	}
	c.Job.Status = types.JobStatusSucceeded
	c.Job.Stage = finalStage
	c.Job.Progress = 100
	c.Job.Error = ""
	c.Job.Result = res
	c.Job.LockedAt = nil
	c.Job.HeartbeatAt = &now
	c.Job.UpdatedAt = now

	_ = c.Repo.AppendEvent(c.Ctx, nil, &types.JobRunEvent{
		ID:      uuid.New(),
		JobID:   c.Job.ID,
		JobKind: c.Job.Kind,
		Kind:    string(types.JobEventSucceeded),
		Attempt: c.Job.Attempts,
	})
}
