package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/permaboost370/x-posting-bot/internal/llm"
)

func instantSleep(ctx context.Context, d time.Duration) error { return nil }

func newTestInvoker(retryMax int, now func() time.Time) *Invoker {
	return NewInvoker(InvokerConfig{
		Gate:      NewGate(now),
		RetryMax:  retryMax,
		BaseDelay: time.Millisecond,
		CoolOff:   time.Hour,
		Sleep:     instantSleep,
	})
}

func TestSuccessFirstTry(t *testing.T) {
	inv := newTestInvoker(4, nil)

	calls := 0
	err := inv.Do(context.Background(), "test", func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRateLimitSingleAttemptAndGate(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	inv := newTestInvoker(4, func() time.Time { return now })

	rateLimited := &llm.APIError{StatusCode: 429, Type: "rate_limit_exceeded"}

	calls := 0
	err := inv.Do(context.Background(), "test", func(ctx context.Context) error {
		calls++
		return rateLimited
	})
	if !errors.Is(err, error(rateLimited)) {
		t.Fatalf("expected rate-limit error surfaced, got %v", err)
	}
	if calls != 1 {
		t.Errorf("rate limit must not retry: expected 1 call, got %d", calls)
	}

	if !inv.Gate().Active() {
		t.Fatal("gate should be armed after a rate limit")
	}

	// A subsequent call within the cool-off fails without invoking the op.
	calls = 0
	err = inv.Do(context.Background(), "test", func(ctx context.Context) error {
		calls++
		return nil
	})
	var coolErr *CoolingOffError
	if !errors.As(err, &coolErr) {
		t.Fatalf("expected *CoolingOffError, got %v", err)
	}
	if calls != 0 {
		t.Errorf("gated call must not invoke the operation, got %d calls", calls)
	}
}

func TestGateClearsWithTime(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	clock := &now
	gate := NewGate(func() time.Time { return *clock })

	gate.Trip(time.Hour)
	if rem := gate.Remaining(); rem != time.Hour {
		t.Errorf("expected 1h remaining, got %v", rem)
	}

	later := now.Add(61 * time.Minute)
	clock = &later
	if gate.Active() {
		t.Error("gate should clear once the cool-off elapses")
	}
}

func TestTransientRetriesThenSucceeds(t *testing.T) {
	const retryMax = 3
	inv := newTestInvoker(retryMax, nil)

	transient := &llm.APIError{StatusCode: 503}
	calls := 0
	err := inv.Do(context.Background(), "test", func(ctx context.Context) error {
		calls++
		if calls <= retryMax {
			return transient
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if calls != retryMax+1 {
		t.Errorf("expected %d calls, got %d", retryMax+1, calls)
	}
}

func TestTransientExhaustsRetries(t *testing.T) {
	const retryMax = 2
	inv := newTestInvoker(retryMax, nil)

	transient := &llm.APIError{StatusCode: 500}
	calls := 0
	err := inv.Do(context.Background(), "test", func(ctx context.Context) error {
		calls++
		return transient
	})
	if !errors.Is(err, error(transient)) {
		t.Fatalf("expected last transient error surfaced, got %v", err)
	}
	if calls != retryMax+1 {
		t.Errorf("expected %d calls, got %d", retryMax+1, calls)
	}
}

func TestPermanentErrorNoRetry(t *testing.T) {
	inv := newTestInvoker(4, nil)

	permanent := &llm.APIError{StatusCode: 400, Message: "bad request"}
	calls := 0
	err := inv.Do(context.Background(), "test", func(ctx context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, error(permanent)) {
		t.Fatalf("expected permanent error surfaced, got %v", err)
	}
	if calls != 1 {
		t.Errorf("permanent errors must not retry: got %d calls", calls)
	}
}

func TestContextCancelDuringBackoff(t *testing.T) {
	inv := NewInvoker(InvokerConfig{
		Gate:      NewGate(nil),
		RetryMax:  4,
		BaseDelay: time.Millisecond,
		Sleep:     sleepCtx,
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := inv.Do(ctx, "test", func(ctx context.Context) error {
		return &llm.APIError{StatusCode: 500}
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context cancellation surfaced, got %v", err)
	}
}

func TestJitterBounds(t *testing.T) {
	base := 1000 * time.Millisecond
	for i := 0; i < 200; i++ {
		d := jitter(base)
		if d < 750*time.Millisecond || d > 1250*time.Millisecond {
			t.Fatalf("jitter out of 75–125%% bounds: %v", d)
		}
	}
}
