package httpx

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

type statusErr int

func (e statusErr) Error() string       { return "status error" }
func (e statusErr) HTTPStatusCode() int { return int(e) }

func TestIsRetryableHTTPStatus(t *testing.T) {
	t.Parallel()
	cases := []struct {
		code int
		want bool
	}{
		{code: http.StatusOK, want: false},
		{code: http.StatusBadRequest, want: false},
		{code: http.StatusUnauthorized, want: false},
		{code: http.StatusRequestTimeout, want: true},
		{code: http.StatusTooManyRequests, want: true},
		{code: http.StatusInternalServerError, want: true},
		{code: http.StatusBadGateway, want: true},
		{code: http.StatusServiceUnavailable, want: true},
	}
	for _, tc := range cases {
		if got := IsRetryableHTTPStatus(tc.code); got != tc.want {
			t.Fatalf("IsRetryableHTTPStatus(%d): got=%v want=%v", tc.code, got, tc.want)
		}
	}
}

func TestIsRetryableError(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "deadline exceeded", err: context.DeadlineExceeded, want: true},
		{name: "canceled", err: context.Canceled, want: false},
		{name: "plain error", err: errors.New("boom"), want: false},
		{name: "retryable status", err: statusErr(http.StatusBadGateway), want: true},
		{name: "non-retryable status", err: statusErr(http.StatusForbidden), want: false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := IsRetryableError(tc.err); got != tc.want {
				t.Fatalf("IsRetryableError(%v): got=%v want=%v", tc.err, got, tc.want)
			}
		})
	}
}

func TestRetryAfterDuration(t *testing.T) {
	t.Parallel()
	resp := &http.Response{Header: http.Header{"Retry-After": []string{"3"}}}
	if got := RetryAfterDuration(resp, time.Second, time.Minute); got != 3*time.Second {
		t.Fatalf("with header: got=%v want=3s", got)
	}
	if got := RetryAfterDuration(resp, time.Second, 2*time.Second); got != 2*time.Second {
		t.Fatalf("clamped: got=%v want=2s", got)
	}
	if got := RetryAfterDuration(nil, time.Second, time.Minute); got != time.Second {
		t.Fatalf("fallback: got=%v want=1s", got)
	}
	bad := &http.Response{Header: http.Header{"Retry-After": []string{"soon"}}}
	if got := RetryAfterDuration(bad, time.Second, time.Minute); got != time.Second {
		t.Fatalf("unparseable header: got=%v want=1s", got)
	}
}

func TestJitterSleepBounds(t *testing.T) {
	t.Parallel()
	if got := JitterSleep(0); got != 0 {
		t.Fatalf("JitterSleep(0): got=%v want=0", got)
	}
	base := 10 * time.Second
	for i := 0; i < 50; i++ {
		got := JitterSleep(base)
		if got < 8*time.Second || got > 12*time.Second {
			t.Fatalf("JitterSleep(%v): got=%v outside +/-20%%", base, got)
		}
	}
}
