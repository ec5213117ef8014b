package jobs

import (
	"testing"
)

type stubHandler struct {
	kind string
}

func (h *stubHandler) Kind() string          { return h.kind }
func (h *stubHandler) Run(jc *Context) error { return nil }

func TestRegistryRegisterAndGet(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	if err := r.Register(&stubHandler{kind: "report_generate"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	h, ok := r.Get("report_generate")
	if !ok || h == nil {
		t.Fatalf("Get(report_generate): got=%v ok=%v", h, ok)
	}
	if _, ok := r.Get("unknown_kind"); ok {
		t.Fatalf("Get(unknown_kind) reported a handler")
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	if err := r.Register(&stubHandler{kind: "notify_email"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(&stubHandler{kind: "notify_email"}); err == nil {
		t.Fatalf("duplicate Register succeeded")
	}
}

func TestRegistryRejectsInvalidHandlers(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	if err := r.Register(nil); err == nil {
		t.Fatalf("Register(nil) succeeded")
	}
	if err := r.Register(&stubHandler{kind: ""}); err == nil {
		t.Fatalf("Register with empty kind succeeded")
	}
}
