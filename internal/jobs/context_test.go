package jobs

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	types "github.com/skyassure/peerreview-backend/internal/domain"
)

func jobWithPayload(t *testing.T, payload string) *types.JobRun {
	t.Helper()
	return &types.JobRun{
		ID:      uuid.New(),
		Kind:    types.JobKindReportGenerate,
		Payload: datatypes.JSON(payload),
	}
}

func TestPayloadDecoding(t *testing.T) {
	t.Parallel()
	reportRunID := uuid.New()
	jc := NewContext(context.Background(), nil, jobWithPayload(t,
		`{"report_run_id":"`+reportRunID.String()+`","language":" en ","retries":3}`), nil)

	if got, ok := jc.PayloadUUID("report_run_id"); !ok || got != reportRunID {
		t.Fatalf("PayloadUUID(report_run_id): got=%v ok=%v want=%v", got, ok, reportRunID)
	}
	if got := jc.PayloadString("language"); got != "en" {
		t.Fatalf("PayloadString(language): got=%q want=%q", got, "en")
	}
	if got := jc.PayloadString("retries"); got != "3" {
		t.Fatalf("PayloadString(retries): got=%q want=%q", got, "3")
	}
}

func TestPayloadMissingAndMalformed(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		payload string
	}{
		{name: "empty payload", payload: ""},
		{name: "not json", payload: "{{{"},
		{name: "wrong field types", payload: `{"report_run_id":42,"language":null}`},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			jc := NewContext(context.Background(), nil, jobWithPayload(t, tc.payload), nil)

			if jc.Payload() == nil {
				t.Fatalf("Payload() returned nil")
			}
			if id, ok := jc.PayloadUUID("report_run_id"); ok || id != uuid.Nil {
				t.Fatalf("PayloadUUID on %s: got=%v ok=%v", tc.name, id, ok)
			}
			if got := jc.PayloadString("language"); got != "" {
				t.Fatalf("PayloadString on %s: got=%q want empty", tc.name, got)
			}
		})
	}
}

func TestContextTerminalStartsFalse(t *testing.T) {
	t.Parallel()
	jc := NewContext(context.Background(), nil, jobWithPayload(t, `{}`), nil)
	if jc.Terminal() {
		t.Fatalf("fresh context reports terminal")
	}
}
