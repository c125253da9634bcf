package runner

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"charactercam/server/internal/providers/swap"
)

// RetryPolicy bounds re-attempts of the provider call. The call is
// billable, so classification errs toward not retrying: only transport
// resets, gateway failures and plain 500s are worth a second attempt.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration

	// sleep is injected so tests can verify the backoff schedule with a
	// fake clock.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryPolicy returns the production policy: 3 attempts total, linear
// backoff of 10s then 20s.
func NewRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   10 * time.Second,
		sleep:       sleepContext,
	}
}

// Do invokes fn until it succeeds, fails non-retryably, or attempts are
// exhausted. The wait before attempt n is BaseDelay*(n-1).
func (p *RetryPolicy) Do(ctx context.Context, logger zerolog.Logger, fn func(ctx context.Context) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			wait := p.BaseDelay * time.Duration(attempt-1)
			logger.Warn().
				Err(lastErr).
				Int("attempt", attempt).
				Dur("wait", wait).
				Msg("runner: retrying provider call")
			if err := p.sleep(ctx, wait); err != nil {
				return err
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !Retryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// Retryable classifies one failure of the provider call. It walks the
// explicit error chain; message matching against third-party transport
// errors is unavoidable and isolated here.
func Retryable(err error) bool {
	var swapErr *swap.Error
	if errors.As(err, &swapErr) {
		switch swapErr.StatusCode {
		case http.StatusInternalServerError, http.StatusBadGateway, http.StatusGatewayTimeout:
			return true
		}
		if swapErr.StatusCode >= 400 && swapErr.StatusCode < 500 {
			return false
		}
	}

	for e := err; e != nil; e = errors.Unwrap(e) {
		msg := strings.ToLower(e.Error())
		if strings.Contains(msg, "connection reset") ||
			strings.Contains(msg, "econnreset") ||
			strings.Contains(msg, "broken pipe") ||
			strings.Contains(msg, "bad gateway") ||
			strings.Contains(msg, "gateway timeout") {
			return true
		}
	}
	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
