package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		Multiplier:     2,
	}
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		if calls < 3 {
			return Retryable(errors.New("connection refused"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do returned %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, expected 3", calls)
	}
}

func TestDo_PermanentErrorStops(t *testing.T) {
	permanent := errors.New("bad request")
	calls := 0
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Errorf("Do returned %v, expected %v", err, permanent)
	}
	if calls != 1 {
		t.Errorf("calls = %d, expected 1", calls)
	}
}

func TestDo_ExhaustsRetries(t *testing.T) {
	transient := errors.New("503")
	calls := 0
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		return Retryable(transient)
	})
	if !errors.Is(err, transient) {
		t.Errorf("Do returned %v, expected wrapped %v", err, transient)
	}
	if calls != 4 {
		t.Errorf("calls = %d, expected 4", calls)
	}
}

func TestDo_HonoursRetryAfter(t *testing.T) {
	start := time.Now()
	calls := 0
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		if calls == 1 {
			return RetryableAfter(errors.New("429"), 30*time.Millisecond)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do returned %v", err)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("elapsed = %v, expected at least 30ms", elapsed)
	}
}

func TestDo_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, fastConfig(), func() error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do returned %v, expected context.Canceled", err)
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(errors.New("x")) {
		t.Error("plain error should not be retryable")
	}
	if !IsRetryable(Retryable(errors.New("x"))) {
		t.Error("wrapped error should be retryable")
	}
	if Retryable(nil) != nil {
		t.Error("Retryable(nil) should be nil")
	}
}
