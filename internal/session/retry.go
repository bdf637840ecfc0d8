package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"boorusync/internal/logger"
)

// RetryPolicy retries transient failures with exponential backoff.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy matches the backoff the destination boorus expect:
// the delay starts at 30s and doubles on every attempt.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 6,
		BaseDelay:   30 * time.Second,
	}
}

type temporary interface {
	Temporary() bool
}

type conflicter interface {
	Conflict() bool
}

// Retryable reports whether an error is worth retrying. Conflicts are
// never retried regardless of any other classification.
func Retryable(err error) bool {
	if err == nil {
		return false
	}

	var conflict conflicter
	if errors.As(err, &conflict) && conflict.Conflict() {
		return false
	}

	var transient temporary
	if errors.As(err, &transient) {
		return transient.Temporary()
	}

	// Plain transport failures (connection refused, timeouts) are
	// transient too.
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Do runs fn under the policy, sleeping between attempts. The context
// cancels outstanding sleeps.
func (p RetryPolicy) Do(ctx context.Context, operation string, fn func() error) error {
	delay := p.BaseDelay

	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !Retryable(err) {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}

		logger.Warn("retrying after transient failure",
			"operation", operation,
			"attempt", attempt,
			"delay", delay.String(),
			"error", err.Error(),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operation, p.MaxAttempts, err)
}
