package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDo_SucceedsFirstTry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	}, WithMaxAttempts(3))

	if err != nil {
		t.Fatalf("Do error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	}, WithMaxAttempts(5), WithInitialDelay(time.Millisecond), WithMaxDelay(time.Millisecond))

	if err != nil {
		t.Fatalf("Do error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestDo_ExhaustsAttemptsReturnsLastError(t *testing.T) {
	sentinel := errors.New("connect refused")
	calls := 0

	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return sentinel
	}, WithMaxAttempts(3), WithInitialDelay(time.Millisecond), WithMaxDelay(time.Millisecond))

	if err == nil {
		t.Fatalf("expected error after exhausting attempts, got nil")
	}
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected wrapped sentinel error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestDo_RetryIfRejectsUnretryable(t *testing.T) {
	sentinel := errors.New("fatal")
	calls := 0

	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return sentinel
	}, WithMaxAttempts(5), WithRetryIf(func(err error) bool { return false }))

	if err == nil {
		t.Fatalf("expected error")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (should not retry unretryable error)", calls)
	}
}

func TestDo_ContextCanceledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, func(ctx context.Context) error {
		return errors.New("always fails")
	}, WithMaxAttempts(10), WithInitialDelay(50*time.Millisecond), WithMaxDelay(50*time.Millisecond))

	if err == nil {
		t.Fatalf("expected error")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled wrapped, got %v", err)
	}
}

func TestDo_OnRetryCallback(t *testing.T) {
	var attempts []int
	calls := 0

	_ = Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("boom")
	}, WithMaxAttempts(3),
		WithInitialDelay(time.Millisecond),
		WithMaxDelay(time.Millisecond),
		WithOnRetry(func(attempt int, err error, next time.Duration) {
			attempts = append(attempts, attempt)
		}))

	if len(attempts) != 2 {
		t.Fatalf("OnRetry called %d times, want 2 (not called after final attempt)", len(attempts))
	}
}

func TestWithExponentialBackoff(t *testing.T) {
	opts := WithExponentialBackoff(4, 10*time.Millisecond, time.Second)
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.MaxAttempts != 4 || cfg.InitialDelay != 10*time.Millisecond || cfg.MaxDelay != time.Second {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}
