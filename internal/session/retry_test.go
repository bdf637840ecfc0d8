package session

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"
)

func fastPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), "push post", func() error {
		calls++
		if calls < 3 {
			return &StatusError{StatusCode: http.StatusGatewayTimeout, Status: "504 Gateway Timeout"}
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("operation ran %d times, want 3", calls)
	}
}

func TestRetryNeverRetriesConflict(t *testing.T) {
	calls := 0
	conflictErr := &StatusError{StatusCode: http.StatusConflict, Status: "409 Conflict"}
	err := fastPolicy().Do(context.Background(), "push post", func() error {
		calls++
		return conflictErr
	})

	if calls != 1 {
		t.Errorf("conflicting operation ran %d times, want 1", calls)
	}
	if !errors.Is(err, conflictErr) {
		t.Errorf("conflict error should pass through unchanged, got %v", err)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), "find post", func() error {
		calls++
		return &StatusError{StatusCode: http.StatusServiceUnavailable, Status: "503 Service Unavailable"}
	})

	if calls != 3 {
		t.Errorf("operation ran %d times, want 3", calls)
	}
	if err == nil || !strings.Contains(err.Error(), "failed after 3 attempts") {
		t.Errorf("error = %v, want attempt summary", err)
	}

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Error("underlying status error should be wrapped")
	}
}

func TestRetryStopsOnNonRetryableError(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), "push tag", func() error {
		calls++
		return errors.New("nothing transient about this")
	})

	if calls != 1 {
		t.Errorf("operation ran %d times, want 1", calls)
	}
	if err == nil {
		t.Error("error should propagate")
	}
}

func TestRetryHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RetryPolicy{MaxAttempts: 6, BaseDelay: time.Hour}.Do(ctx, "push post", func() error {
		return &StatusError{StatusCode: http.StatusGatewayTimeout}
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestRetryableClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"gateway timeout", &StatusError{StatusCode: http.StatusGatewayTimeout}, true},
		{"too many requests", &StatusError{StatusCode: http.StatusTooManyRequests}, true},
		{"conflict", &StatusError{StatusCode: http.StatusConflict}, false},
		{"not found", &StatusError{StatusCode: http.StatusNotFound}, false},
		{"plain error", errors.New("boom"), false},
		{"network error", &net.DNSError{IsTimeout: true}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Retryable(tt.err); got != tt.want {
				t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestDefaultRetryPolicy(t *testing.T) {
	policy := DefaultRetryPolicy()
	if policy.MaxAttempts != 6 {
		t.Errorf("MaxAttempts = %d, want 6", policy.MaxAttempts)
	}
	if policy.BaseDelay != 30*time.Second {
		t.Errorf("BaseDelay = %v, want 30s", policy.BaseDelay)
	}
}
