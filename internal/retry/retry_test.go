package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoSucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	wantErr := errors.New("still broken")
	err := Do(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected %v, got %v", wantErr, err)
	}
	if calls != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", calls)
	}
}

func TestDoStopsOnPermanent(t *testing.T) {
	calls := 0
	wantErr := errors.New("fatal")
	err := Do(context.Background(), 5, time.Millisecond, func() error {
		calls++
		return Permanent(wantErr)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected 1 attempt for permanent error, got %d", calls)
	}
}

func TestDoRespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, 10, 50*time.Millisecond, func() error {
		calls++
		cancel()
		return errors.New("keep going")
	})
	if err == nil {
		t.Fatal("expected error after cancellation")
	}
	if calls > 2 {
		t.Fatalf("expected cancellation to stop retries, got %d attempts", calls)
	}
}

func TestDoZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	_ = Do(context.Background(), 0, time.Millisecond, func() error {
		calls++
		return errors.New("x")
	})
	if calls != 1 {
		t.Fatalf("expected 1 attempt, got %d", calls)
	}
}
