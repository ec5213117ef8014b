package ctxutil

import "context"

type traceDataKey struct{}

// TraceData mirrors the active OTel span identifiers plus the inbound request
// id so log lines can be joined to traces.
type TraceData struct {
	TraceID   string
	SpanID    string
	RequestID string
}

func WithTraceData(ctx context.Context, td *TraceData) context.Context {
	return context.WithValue(ctx, traceDataKey{}, td)
}

func GetTraceData(ctx context.Context) *TraceData {
	val := ctx.Value(traceDataKey{})
	if td, ok := val.(*TraceData); ok {
		return td
	}
	return nil
}
