package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDelayHonorsResetHint(t *testing.T) {
	b := &Backoff{Base: 100 * time.Millisecond, Ceiling: 3 * time.Second}

	d := b.Delay(0, 2*time.Second)
	if d < 2*time.Second {
		t.Fatalf("delay must honor the reset hint: %v", d)
	}

	// Without a hint the delay is the jittered exponential value.
	d = b.Delay(0, 0)
	if d < 50*time.Millisecond || d >= 100*time.Millisecond {
		t.Fatalf("expected jittered delay in [50ms,100ms), got %v", d)
	}
}

func TestDelayCapsAtCeiling(t *testing.T) {
	b := &Backoff{Base: 100 * time.Millisecond, Ceiling: time.Second}
	d := b.Delay(20, 0)
	if d >= time.Second {
		t.Fatalf("jittered delay must stay under the ceiling, got %v", d)
	}
}

func TestDoStopsOnSuccess(t *testing.T) {
	b := &Backoff{Base: time.Millisecond, Ceiling: 2 * time.Millisecond, MaxAttempts: 5}

	calls := 0
	err := b.Do(context.Background(), func(ctx context.Context) (time.Duration, bool, error) {
		calls++
		if calls < 3 {
			return 0, true, errors.New("rate limited")
		}
		return 0, false, nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestDoStopsOnTerminalError(t *testing.T) {
	b := &Backoff{Base: time.Millisecond, Ceiling: 2 * time.Millisecond, MaxAttempts: 5}

	terminal := errors.New("unauthenticated")
	calls := 0
	err := b.Do(context.Background(), func(ctx context.Context) (time.Duration, bool, error) {
		calls++
		return 0, false, terminal
	})
	if !errors.Is(err, terminal) {
		t.Fatalf("expected terminal error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("terminal errors must not be retried, got %d attempts", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	b := &Backoff{Base: time.Millisecond, Ceiling: 2 * time.Millisecond, MaxAttempts: 3}

	limited := errors.New("rate limited")
	calls := 0
	err := b.Do(context.Background(), func(ctx context.Context) (time.Duration, bool, error) {
		calls++
		return time.Millisecond, true, limited
	})
	if !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("expected exhaustion error, got %v", err)
	}
	if !errors.Is(err, limited) {
		t.Fatalf("expected last error to be joined, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestDoRespectsContext(t *testing.T) {
	b := &Backoff{Base: time.Second, Ceiling: time.Second, MaxAttempts: 5}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := b.Do(ctx, func(ctx context.Context) (time.Duration, bool, error) {
		return time.Second, true, errors.New("rate limited")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}
