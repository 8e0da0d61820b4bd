package resilience

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ventureforge/orchestd/internal/agent"
)

func TestRetryBackoffSchedule(t *testing.T) {
	clock := newFakeClock()
	calls := 0

	err := Retry(context.Background(), RetryConfig{}, clock, nil, func(ctx context.Context) error {
		calls++
		return agent.Transient("invoke", errors.New("upstream timeout"))
	})

	if calls != 3 {
		t.Errorf("got %d attempts, want 3", calls)
	}
	if err == nil || !strings.Contains(err.Error(), "retries exhausted") {
		t.Errorf("error = %v, want retries exhausted", err)
	}

	waits := clock.Waits()
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(waits) != len(want) {
		t.Fatalf("got %d waits %v, want %v", len(waits), waits, want)
	}
	for i := range want {
		if waits[i] != want[i] {
			t.Errorf("wait[%d] = %v, want %v", i, waits[i], want[i])
		}
	}
}

func TestRetryRecoversAfterTransient(t *testing.T) {
	clock := newFakeClock()
	calls := 0

	err := Retry(context.Background(), RetryConfig{}, clock, nil, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return agent.Transient("invoke", errors.New("flaky"))
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("got %d attempts, want 3", calls)
	}
}

func TestRetryDoesNotRetryNonTransient(t *testing.T) {
	clock := newFakeClock()
	calls := 0
	permanent := agent.Permanent("invoke", errors.New("bad prompt"))

	err := Retry(context.Background(), RetryConfig{}, clock, nil, func(ctx context.Context) error {
		calls++
		return permanent
	})

	if calls != 1 {
		t.Errorf("got %d attempts, want 1", calls)
	}
	if !agent.IsPermanent(err) {
		t.Errorf("error = %v, want permanent", err)
	}
	if len(clock.Waits()) != 0 {
		t.Errorf("unexpected backoff waits: %v", clock.Waits())
	}
}

func TestRetryStopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Retry(ctx, RetryConfig{}, newFakeClock(), nil, func(ctx context.Context) error {
		calls++
		return agent.Transient("invoke", errors.New("timeout"))
	})

	if calls != 1 {
		t.Errorf("got %d attempts, want 1", calls)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestRetryBackoffCapped(t *testing.T) {
	clock := newFakeClock()
	cfg := RetryConfig{MaxAttempts: 5}

	_ = Retry(context.Background(), cfg, clock, nil, func(ctx context.Context) error {
		return agent.Transient("invoke", errors.New("timeout"))
	})

	waits := clock.Waits()
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 4 * time.Second}
	if len(waits) != len(want) {
		t.Fatalf("got waits %v, want %v", waits, want)
	}
	for i := range want {
		if waits[i] != want[i] {
			t.Errorf("wait[%d] = %v, want %v", i, waits[i], want[i])
		}
	}
}
