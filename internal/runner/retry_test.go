package runner

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"charactercam/server/internal/providers/swap"
)

func testPolicy(sleeps *[]time.Duration) *RetryPolicy {
	p := NewRetryPolicy()
	p.sleep = func(ctx context.Context, d time.Duration) error {
		*sleeps = append(*sleeps, d)
		return nil
	}
	return p
}

func serverError() error {
	return &swap.Error{StatusCode: 500, Message: "internal error"}
}

func TestRetryExhaustsAfterThreeAttempts(t *testing.T) {
	var sleeps []time.Duration
	policy := testPolicy(&sleeps)

	calls := 0
	err := policy.Do(context.Background(), zerolog.Nop(), func(ctx context.Context) error {
		calls++
		return serverError()
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", calls)
	}
}

func TestRetryBackoffIsLinear(t *testing.T) {
	var sleeps []time.Duration
	policy := testPolicy(&sleeps)

	_ = policy.Do(context.Background(), zerolog.Nop(), func(ctx context.Context) error {
		return serverError()
	})

	want := []time.Duration{10 * time.Second, 20 * time.Second}
	if len(sleeps) != len(want) {
		t.Fatalf("expected %d waits, got %v", len(want), sleeps)
	}
	for i, d := range want {
		if sleeps[i] != d {
			t.Fatalf("wait before attempt %d = %s, want %s", i+2, sleeps[i], d)
		}
	}
}

func TestNonRetryableStopsImmediately(t *testing.T) {
	var sleeps []time.Duration
	policy := testPolicy(&sleeps)

	calls := 0
	err := policy.Do(context.Background(), zerolog.Nop(), func(ctx context.Context) error {
		calls++
		return &swap.Error{StatusCode: 422, Message: "input rejected"}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 attempt, got %d", calls)
	}
	if len(sleeps) != 0 {
		t.Fatalf("expected no backoff waits, got %v", sleeps)
	}
}

func TestRetrySucceedsAfterTransientFailure(t *testing.T) {
	var sleeps []time.Duration
	policy := testPolicy(&sleeps)

	calls := 0
	err := policy.Do(context.Background(), zerolog.Nop(), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return serverError()
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
	if len(sleeps) != 1 || sleeps[0] != 10*time.Second {
		t.Fatalf("expected single 10s wait, got %v", sleeps)
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"plain 500", &swap.Error{StatusCode: 500, Message: "boom"}, true},
		{"bad gateway status", &swap.Error{StatusCode: 502, Message: "bad gateway"}, true},
		{"gateway timeout status", &swap.Error{StatusCode: 504, Message: "gateway timeout"}, true},
		{"client reject", &swap.Error{StatusCode: 422, Message: "video too short"}, false},
		{"unauthorized", &swap.Error{StatusCode: 401, Message: "bad key"}, false},
		{"connection reset in chain", fmt.Errorf("call provider: %w", errors.New("read tcp: connection reset by peer")), true},
		{"econnreset in chain", fmt.Errorf("provider: %w", errors.New("ECONNRESET")), true},
		{"broken pipe", errors.New("write: broken pipe"), true},
		{"validation", errors.New("missing character image"), false},
		{"provider input rejection without status", &swap.Error{Code: "insufficient_motion", Message: "not enough motion detected"}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Retryable(tc.err); got != tc.want {
				t.Fatalf("Retryable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestRetrySleepCancelled(t *testing.T) {
	policy := NewRetryPolicy()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := policy.Do(ctx, zerolog.Nop(), func(ctx context.Context) error {
		calls++
		return serverError()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 attempt before cancelled backoff, got %d", calls)
	}
}
