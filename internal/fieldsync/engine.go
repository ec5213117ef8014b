package fieldsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/skyassure/peerreview-backend/internal/fieldsync/store"
	"github.com/skyassure/peerreview-backend/internal/platform/httpx"
	"github.com/skyassure/peerreview-backend/internal/platform/logger"
	"github.com/skyassure/peerreview-backend/internal/services"
)

// Engine drains the local queue to the server. It runs a probe/drain loop:
// while the server is reachable it pushes batches in queue order; on a
// transport error it flips offline and probes /healthcheck with exponential
// backoff until the server answers again.
type Engine struct {
	log   *logger.Logger
	cfg   Config
	store *store.Store
	httpc *http.Client

	offline    bool
	probeDelay time.Duration
}

func NewEngine(baseLog *logger.Logger, cfg Config, st *store.Store) *Engine {
	return &Engine{
		log:   baseLog.With("component", "FieldsyncEngine"),
		cfg:   cfg,
		store: st,
		httpc: &http.Client{Timeout: 30 * time.Second},
	}
}

// Run loops until the context is done. Each cycle drains everything pending
// or, when offline, waits out the probe backoff.
func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if e.offline {
			if !e.probe(ctx) {
				wait := httpx.JitterSleep(e.probeDelay)
				e.probeDelay *= 2
				if e.probeDelay > e.cfg.ProbeMax {
					e.probeDelay = e.cfg.ProbeMax
				}
				e.log.Info("Server unreachable; backing off", "wait", wait.String())
				if !sleepCtx(ctx, wait) {
					return ctx.Err()
				}
				continue
			}
			e.log.Info("Server reachable again; resuming drain")
			e.offline = false
		}

		n, err := e.Drain(ctx)
		if err != nil {
			e.goOffline(err)
			continue
		}
		if n == 0 {
			if !sleepCtx(ctx, e.cfg.PollInterval) {
				return ctx.Err()
			}
		}
	}
}

// Drain pushes queued batches until the queue is empty or a transport error
// occurs. Returns the number of ops acknowledged in any outcome.
func (e *Engine) Drain(ctx context.Context) (int, error) {
	total := 0
	for {
		ops, err := e.store.NextBatch(ctx, e.cfg.BatchSize)
		if err != nil {
			return total, err
		}
		if len(ops) == 0 {
			return total, nil
		}

		ids := make([]uuid.UUID, 0, len(ops))
		for _, op := range ops {
			ids = append(ids, op.ID)
		}
		if err := e.store.MarkSent(ctx, ids); err != nil {
			return total, err
		}

		results, err := e.push(ctx, ops)
		if err != nil {
			_ = e.store.RecordFailure(ctx, ids, e.cfg.MaxAttempts, err.Error())
			return total, err
		}

		for _, res := range results {
			switch res.Outcome {
			case "applied", "duplicate":
				if err := e.store.MarkAcked(ctx, res.ID); err != nil {
					return total, err
				}
			case "conflict":
				if err := e.store.MarkConflicted(ctx, res.ID, res.Version, res.Message); err != nil {
					return total, err
				}
				e.log.Warn("Operation conflicted; kept locally for review", "op_id", res.ID, "server_version", res.Version)
			default:
				if err := e.store.MarkRejected(ctx, res.ID, res.Message); err != nil {
					return total, err
				}
				e.log.Warn("Operation rejected", "op_id", res.ID, "code", res.Code, "message", res.Message)
			}
			total++
		}
	}
}

func (e *Engine) push(ctx context.Context, ops []*store.QueuedOp) ([]services.SyncOpResult, error) {
	inputs := make([]services.SyncOpInput, 0, len(ops))
	for _, op := range ops {
		inputs = append(inputs, services.SyncOpInput{
			ID:          op.ID,
			Kind:        op.Kind,
			ReviewID:    op.ReviewID,
			EntityID:    op.EntityID,
			BaseVersion: op.BaseVersion,
			Payload:     json.RawMessage(op.Payload),
			QueuedAt:    op.QueuedAt,
		})
	}
	body, err := json.Marshal(map[string]any{"ops": inputs})
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			if !sleepCtx(ctx, httpx.JitterSleep(time.Duration(attempt)*time.Second)) {
				return nil, ctx.Err()
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.ServerURL+"/api/sync/batch", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+e.cfg.Token)
		req.Header.Set("X-Device-Id", e.cfg.DeviceID)

		resp, err := e.httpc.Do(req)
		if err != nil {
			lastErr = err
			if httpx.IsRetryableError(err) {
				continue
			}
			return nil, err
		}

		raw, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("sync batch: server returned %d", resp.StatusCode)
			if httpx.IsRetryableHTTPStatus(resp.StatusCode) {
				if !sleepCtx(ctx, httpx.RetryAfterDuration(resp, time.Second, 30*time.Second)) {
					return nil, ctx.Err()
				}
				continue
			}
			return nil, lastErr
		}

		var out struct {
			Results []services.SyncOpResult `json:"results"`
		}
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("sync batch: decode response: %w", err)
		}
		return out.Results, nil
	}
	return nil, lastErr
}

// probe checks /healthcheck without authentication.
func (e *Engine) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.cfg.ServerURL+"/healthcheck", nil)
	if err != nil {
		return false
	}
	resp, err := e.httpc.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

func (e *Engine) goOffline(err error) {
	e.offline = true
	if e.probeDelay < e.cfg.ProbeBase {
		e.probeDelay = e.cfg.ProbeBase
	}
	e.log.Warn("Drain failed; going offline", "error", err)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
