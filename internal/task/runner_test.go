package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestRunnerRetriesUntilExhausted(t *testing.T) {
	r := NewRunner(1)
	r.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	attempts := 0
	var exhaustedWith error
	exhaustedCalls := 0
	err := r.Register(Definition{
		ID:    "flaky",
		Retry: RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond},
		Handler: func(ctx context.Context, payload string) error {
			attempts++
			return fmt.Errorf("attempt %d failed", attempts)
		},
		OnExhausted: func(ctx context.Context, payload string, err error) {
			exhaustedCalls++
			exhaustedWith = err
		},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	err = r.Run(context.Background(), "flaky", "p1")
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if exhaustedCalls != 1 {
		t.Fatalf("expected OnExhausted once, got %d", exhaustedCalls)
	}
	if exhaustedWith == nil || exhaustedWith.Error() != "attempt 3 failed" {
		t.Fatalf("OnExhausted got %v, want the last error", exhaustedWith)
	}
}

func TestRunnerPermanentShortCircuits(t *testing.T) {
	r := NewRunner(1)
	r.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	attempts := 0
	exhaustedCalls := 0
	cause := errors.New("bad input")
	_ = r.Register(Definition{
		ID:    "doomed",
		Retry: RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond},
		Handler: func(ctx context.Context, payload string) error {
			attempts++
			return Permanent(cause)
		},
		OnExhausted: func(ctx context.Context, payload string, err error) {
			exhaustedCalls++
			if !errors.Is(err, cause) {
				t.Errorf("OnExhausted got %v, want wrapped %v", err, cause)
			}
		},
	})

	err := r.Run(context.Background(), "doomed", "p1")
	if !errors.Is(err, cause) {
		t.Fatalf("expected %v, got %v", cause, err)
	}
	if attempts != 1 {
		t.Fatalf("permanent error should not retry, got %d attempts", attempts)
	}
	if exhaustedCalls != 1 {
		t.Fatalf("expected OnExhausted once, got %d", exhaustedCalls)
	}
}

func TestRunnerRecovers(t *testing.T) {
	r := NewRunner(1)
	r.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	attempts := 0
	exhaustedCalls := 0
	_ = r.Register(Definition{
		ID:    "recovering",
		Retry: RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond},
		Handler: func(ctx context.Context, payload string) error {
			attempts++
			if attempts < 2 {
				return errors.New("transient")
			}
			return nil
		},
		OnExhausted: func(ctx context.Context, payload string, err error) { exhaustedCalls++ },
	})

	if err := r.Run(context.Background(), "recovering", "p1"); err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
	if exhaustedCalls != 0 {
		t.Fatalf("OnExhausted fired on a recovered run")
	}
}

func TestRunnerBackoffSchedule(t *testing.T) {
	r := NewRunner(1)
	var delays []time.Duration
	r.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	_ = r.Register(Definition{
		ID: "slow",
		Retry: RetryPolicy{
			MaxAttempts: 4,
			BaseDelay:   10 * time.Millisecond,
			MaxDelay:    25 * time.Millisecond,
			Factor:      2,
		},
		Handler: func(ctx context.Context, payload string) error {
			return errors.New("still failing")
		},
	})

	_ = r.Run(context.Background(), "slow", "p1")
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 25 * time.Millisecond}
	if len(delays) != len(want) {
		t.Fatalf("expected %d sleeps, got %d: %v", len(want), len(delays), delays)
	}
	for i, d := range delays {
		if d != want[i] {
			t.Fatalf("sleep %d: got %v, want %v", i, d, want[i])
		}
	}
}

func TestRunnerPanicBecomesError(t *testing.T) {
	r := NewRunner(1)
	r.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	_ = r.Register(Definition{
		ID:    "panicky",
		Retry: RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond},
		Handler: func(ctx context.Context, payload string) error {
			panic("boom")
		},
	})

	err := r.Run(context.Background(), "panicky", "p1")
	if err == nil || err.Error() != "task panic: boom" {
		t.Fatalf("expected panic error, got %v", err)
	}
}

func TestRunnerRegisterValidation(t *testing.T) {
	r := NewRunner(1)
	handler := func(ctx context.Context, payload string) error { return nil }
	if err := r.Register(Definition{Handler: handler}); err == nil {
		t.Fatal("expected error for missing id")
	}
	if err := r.Register(Definition{ID: "a"}); err == nil {
		t.Fatal("expected error for missing handler")
	}
	if err := r.Register(Definition{ID: "a", Handler: handler}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(Definition{ID: "a", Handler: handler}); err == nil {
		t.Fatal("expected error for duplicate id")
	}
	if _, err := r.Trigger(context.Background(), "unknown", "p"); err == nil {
		t.Fatal("expected error for unknown task")
	}
	if err := r.Run(context.Background(), "unknown", "p"); err == nil {
		t.Fatal("expected error for unknown task")
	}
}

// A run parked in its retry backoff must wake up and bail out on
// shutdown without reporting exhaustion.
func TestRunnerShutdownInterruptsBackoff(t *testing.T) {
	r := NewRunner(1)
	started := make(chan struct{}, 1)
	var mu sync.Mutex
	exhaustedCalls := 0
	_ = r.Register(Definition{
		ID:    "parked",
		Retry: RetryPolicy{MaxAttempts: 3, BaseDelay: time.Minute, MaxDelay: time.Minute},
		Handler: func(ctx context.Context, payload string) error {
			select {
			case started <- struct{}{}:
			default:
			}
			return errors.New("transient")
		},
		OnExhausted: func(ctx context.Context, payload string, err error) {
			mu.Lock()
			exhaustedCalls++
			mu.Unlock()
		},
	})

	if _, err := r.Trigger(context.Background(), "parked", "p1"); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("task never started")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if exhaustedCalls != 0 {
		t.Fatal("OnExhausted fired for a run aborted by shutdown")
	}
	if _, err := r.Trigger(context.Background(), "parked", "p2"); !errors.Is(err, ErrRunnerClosed) {
		t.Fatalf("expected ErrRunnerClosed, got %v", err)
	}
}
