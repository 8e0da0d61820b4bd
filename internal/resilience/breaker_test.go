package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/ventureforge/orchestd/internal/agent"
	"github.com/ventureforge/orchestd/internal/contract"
)

const ventureExpert = contract.AgentType("venture_expert")

func TestBreakerOpensAfterThreshold(t *testing.T) {
	clock := newFakeClock()
	set := NewBreakerSet(BreakerConfig{}, clock)

	for i := 0; i < 5; i++ {
		if err := set.Allow(ventureExpert); err != nil {
			t.Fatalf("Allow() before threshold error = %v", err)
		}
		set.RecordFailure(ventureExpert)
	}

	if got := set.State(ventureExpert); got != BreakerOpen {
		t.Fatalf("State() = %v, want open", got)
	}
	if err := set.Allow(ventureExpert); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Allow() while open error = %v, want ErrCircuitOpen", err)
	}
}

func TestBreakerSuccessResetsCounter(t *testing.T) {
	set := NewBreakerSet(BreakerConfig{}, newFakeClock())

	for i := 0; i < 4; i++ {
		set.RecordFailure(ventureExpert)
	}
	set.RecordSuccess(ventureExpert)
	for i := 0; i < 4; i++ {
		set.RecordFailure(ventureExpert)
	}

	if got := set.State(ventureExpert); got != BreakerClosed {
		t.Errorf("State() = %v, want closed after counter reset", got)
	}
}

func TestBreakerHalfOpenSingleTrial(t *testing.T) {
	clock := newFakeClock()
	set := NewBreakerSet(BreakerConfig{}, clock)

	for i := 0; i < 5; i++ {
		set.RecordFailure(ventureExpert)
	}
	clock.Advance(61 * time.Second)

	// Exactly one trial call is permitted.
	if err := set.Allow(ventureExpert); err != nil {
		t.Fatalf("Allow() trial error = %v", err)
	}
	if got := set.State(ventureExpert); got != BreakerHalfOpen {
		t.Fatalf("State() = %v, want half_open", got)
	}
	if err := set.Allow(ventureExpert); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("second Allow() during trial error = %v, want ErrCircuitOpen", err)
	}

	t.Run("trial success closes", func(t *testing.T) {
		set.RecordSuccess(ventureExpert)
		if got := set.State(ventureExpert); got != BreakerClosed {
			t.Errorf("State() = %v, want closed", got)
		}
		if err := set.Allow(ventureExpert); err != nil {
			t.Errorf("Allow() after close error = %v", err)
		}
	})
}

func TestBreakerTrialFailureReopens(t *testing.T) {
	clock := newFakeClock()
	set := NewBreakerSet(BreakerConfig{}, clock)

	for i := 0; i < 5; i++ {
		set.RecordFailure(ventureExpert)
	}
	clock.Advance(61 * time.Second)

	if err := set.Allow(ventureExpert); err != nil {
		t.Fatalf("Allow() trial error = %v", err)
	}
	set.RecordFailure(ventureExpert)

	if got := set.State(ventureExpert); got != BreakerOpen {
		t.Fatalf("State() = %v, want open after failed trial", got)
	}

	// Cooldown restarted: still open just before the timer, half-open after.
	clock.Advance(59 * time.Second)
	if err := set.Allow(ventureExpert); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Allow() before restarted cooldown error = %v, want ErrCircuitOpen", err)
	}
	clock.Advance(2 * time.Second)
	if err := set.Allow(ventureExpert); err != nil {
		t.Fatalf("Allow() after restarted cooldown error = %v", err)
	}
}

func TestBreakerKeysAreIndependent(t *testing.T) {
	set := NewBreakerSet(BreakerConfig{}, newFakeClock())
	other := contract.AgentType("market_analyst")

	for i := 0; i < 5; i++ {
		set.RecordFailure(ventureExpert)
	}

	if err := set.Allow(other); err != nil {
		t.Errorf("Allow(%s) error = %v, want nil", other, err)
	}
}

func TestBreakerConcurrentFailures(t *testing.T) {
	set := NewBreakerSet(BreakerConfig{FailureThreshold: 100}, newFakeClock())

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			set.RecordFailure(ventureExpert)
		}()
	}
	wg.Wait()

	if got := set.State(ventureExpert); got != BreakerOpen {
		t.Errorf("State() = %v, want open after 100 concurrent failures", got)
	}
}

type countingInvoker struct {
	mu    sync.Mutex
	calls int
	fn    func(int) (contract.AgentOutput, error)
}

func (c *countingInvoker) Invoke(ctx context.Context, in contract.AgentInput) (contract.AgentOutput, error) {
	c.mu.Lock()
	c.calls++
	n := c.calls
	c.mu.Unlock()
	return c.fn(n)
}

func (c *countingInvoker) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestWrapShortCircuitsWhenOpen(t *testing.T) {
	clock := newFakeClock()
	set := NewBreakerSet(BreakerConfig{}, clock)
	inner := &countingInvoker{fn: func(int) (contract.AgentOutput, error) {
		return contract.AgentOutput{}, agent.Transient("invoke", errors.New("timeout"))
	}}
	wrapped := Wrap(inner, RetryConfig{}, set, nil, clock, nil)

	in := contract.AgentInput{AgentType: ventureExpert}

	// Two invocations, three attempts each: six downstream failures,
	// breaker opens at five.
	_, _ = wrapped.Invoke(context.Background(), in)
	_, _ = wrapped.Invoke(context.Background(), in)

	if got := set.State(ventureExpert); got != BreakerOpen {
		t.Fatalf("State() = %v, want open", got)
	}
	before := inner.count()

	_, err := wrapped.Invoke(context.Background(), in)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Invoke() error = %v, want ErrCircuitOpen", err)
	}
	if inner.count() != before {
		t.Errorf("downstream invoked %d times while open, want 0", inner.count()-before)
	}
}

func TestWrapLimiterAbortReleasesTrial(t *testing.T) {
	clock := newFakeClock()
	set := NewBreakerSet(BreakerConfig{}, clock)
	for i := 0; i < 5; i++ {
		set.RecordFailure(ventureExpert)
	}
	clock.Advance(61 * time.Second)

	healthy := &countingInvoker{fn: func(int) (contract.AgentOutput, error) {
		return contract.AgentOutput{Status: contract.StatusSuccess}, nil
	}}
	in := contract.AgentInput{AgentType: ventureExpert}

	// A zero-burst limiter rejects after the trial slot is admitted but
	// before the call reaches the agent.
	blocked := Wrap(healthy, RetryConfig{MaxAttempts: 1}, set, rate.NewLimiter(1, 0), clock, nil)
	if _, err := blocked.Invoke(context.Background(), in); err == nil {
		t.Fatal("Invoke() with zero-burst limiter error = nil, want error")
	}
	if healthy.count() != 0 {
		t.Fatalf("downstream invoked %d times, want 0", healthy.count())
	}

	// The aborted trial must not be consumed: the next caller gets it and
	// its success closes the breaker.
	if got := set.State(ventureExpert); got != BreakerHalfOpen {
		t.Fatalf("State() = %v, want half_open", got)
	}
	unblocked := Wrap(healthy, RetryConfig{MaxAttempts: 1}, set, nil, clock, nil)
	if _, err := unblocked.Invoke(context.Background(), in); err != nil {
		t.Fatalf("Invoke() after released trial error = %v", err)
	}
	if got := set.State(ventureExpert); got != BreakerClosed {
		t.Errorf("State() = %v, want closed after successful trial", got)
	}
}

func TestWrapCancellationNotCountedAsFailure(t *testing.T) {
	clock := newFakeClock()
	set := NewBreakerSet(BreakerConfig{}, clock)
	inner := &countingInvoker{fn: func(int) (contract.AgentOutput, error) {
		return contract.AgentOutput{}, context.Canceled
	}}
	wrapped := Wrap(inner, RetryConfig{MaxAttempts: 1}, set, nil, clock, nil)
	in := contract.AgentInput{AgentType: ventureExpert}

	for i := 0; i < 6; i++ {
		if _, err := wrapped.Invoke(context.Background(), in); !errors.Is(err, context.Canceled) {
			t.Fatalf("Invoke() error = %v, want context.Canceled", err)
		}
	}

	if got := set.State(ventureExpert); got != BreakerClosed {
		t.Errorf("State() = %v, want closed after cancellations", got)
	}
}

func TestWrapCancelledTrialStaysHalfOpen(t *testing.T) {
	clock := newFakeClock()
	set := NewBreakerSet(BreakerConfig{}, clock)
	for i := 0; i < 5; i++ {
		set.RecordFailure(ventureExpert)
	}
	clock.Advance(61 * time.Second)

	inner := &countingInvoker{fn: func(n int) (contract.AgentOutput, error) {
		if n == 1 {
			return contract.AgentOutput{}, context.Canceled
		}
		return contract.AgentOutput{Status: contract.StatusSuccess}, nil
	}}
	wrapped := Wrap(inner, RetryConfig{MaxAttempts: 1}, set, nil, clock, nil)
	in := contract.AgentInput{AgentType: ventureExpert}

	// A cancelled trial neither closes nor reopens the breaker; the slot
	// goes back so the next caller can run the trial.
	if _, err := wrapped.Invoke(context.Background(), in); !errors.Is(err, context.Canceled) {
		t.Fatalf("Invoke() error = %v, want context.Canceled", err)
	}
	if got := set.State(ventureExpert); got != BreakerHalfOpen {
		t.Fatalf("State() = %v, want half_open after cancelled trial", got)
	}
	if _, err := wrapped.Invoke(context.Background(), in); err != nil {
		t.Fatalf("Invoke() retried trial error = %v", err)
	}
	if got := set.State(ventureExpert); got != BreakerClosed {
		t.Errorf("State() = %v, want closed", got)
	}
}

func TestWrapSuccessPassesThrough(t *testing.T) {
	clock := newFakeClock()
	set := NewBreakerSet(BreakerConfig{}, clock)
	inner := &countingInvoker{fn: func(int) (contract.AgentOutput, error) {
		return contract.AgentOutput{Status: contract.StatusSuccess, Content: "ok"}, nil
	}}
	wrapped := Wrap(inner, RetryConfig{}, set, rate.NewLimiter(rate.Inf, 1), clock, nil)

	out, err := wrapped.Invoke(context.Background(), contract.AgentInput{AgentType: ventureExpert})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if out.Content != "ok" {
		t.Errorf("Invoke() content = %q", out.Content)
	}
	if inner.count() != 1 {
		t.Errorf("downstream invoked %d times, want 1", inner.count())
	}
}
