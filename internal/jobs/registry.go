// Package jobs runs background work claimed from the job_run table:
// report rendering, notification email delivery, the corrective-action due
// date sweep and statistics rebuilds. The polling worker is always on;
// Temporal, when configured, only shortens pickup latency by nudging the
// same rows.
package jobs

import (
	"fmt"
	"sync"
)

// Handler executes one claimed job run. Run reports terminal state through
// the Context (Fail/Succeed); returning normally without either marks the
// job failed so a forgotten call never wedges a row in running.
type Handler interface {
	Kind() string
	Run(jc *Context) error
}

type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(h Handler) error {
	if h == nil {
		return fmt.Errorf("nil handler")
	}
	kind := h.Kind()
	if kind == "" {
		return fmt.Errorf("handler Kind() is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[kind]; exists {
		return fmt.Errorf("handler already registered for kind=%s", kind)
	}
	r.handlers[kind] = h
	return nil
}

func (r *Registry) Get(kind string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	return h, ok
}
