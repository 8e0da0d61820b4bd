package resilience

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ventureforge/orchestd/internal/contract"
)

// ErrCircuitOpen is returned when the breaker for an agent type is open.
// It is a fast-fail, not a new failure: it never increments the breaker.
var ErrCircuitOpen = errors.New("circuit open")

// BreakerState is the circuit breaker state.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// BreakerConfig configures circuit breakers shared across workflows.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the breaker. Default: 5
	FailureThreshold int

	// OpenTimeout is the cooldown before an open breaker permits a single
	// trial call. Default: 60 seconds
	OpenTimeout time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *BreakerConfig) ApplyDefaults() {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.OpenTimeout == 0 {
		c.OpenTimeout = 60 * time.Second
	}
}

// breaker is the per-agent-type state. All fields are guarded by mu; the
// read-modify-write on consecutiveFailures must never happen without it or
// concurrent failures under-count and the breaker fails to open.
type breaker struct {
	mu                  sync.Mutex
	state               BreakerState
	consecutiveFailures int
	openedAt            time.Time
	trialInFlight       bool
}

// BreakerSet holds one breaker per agent type, shared by every workflow
// invoking that agent type.
type BreakerSet struct {
	cfg      BreakerConfig
	clock    Clock
	mu       sync.RWMutex
	breakers map[contract.AgentType]*breaker
}

// NewBreakerSet creates a breaker set. clock may be nil for the wall clock.
func NewBreakerSet(cfg BreakerConfig, clock Clock) *BreakerSet {
	cfg.ApplyDefaults()
	if clock == nil {
		clock = SystemClock()
	}
	return &BreakerSet{
		cfg:      cfg,
		clock:    clock,
		breakers: make(map[contract.AgentType]*breaker),
	}
}

func (s *BreakerSet) get(agentType contract.AgentType) *breaker {
	s.mu.RLock()
	b, ok := s.breakers[agentType]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok = s.breakers[agentType]; ok {
		return b
	}
	b = &breaker{state: BreakerClosed}
	s.breakers[agentType] = b
	return b
}

// Allow reports whether a call to the agent type may proceed. While open it
// fails with ErrCircuitOpen until the cooldown elapses; in half-open exactly
// one trial call is admitted at a time.
func (s *BreakerSet) Allow(agentType contract.AgentType) error {
	b := s.get(agentType)
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return nil

	case BreakerOpen:
		if s.clock.Now().Sub(b.openedAt) < s.cfg.OpenTimeout {
			breakerFastFails.WithLabelValues(string(agentType)).Inc()
			return fmt.Errorf("%w: agent type %s", ErrCircuitOpen, agentType)
		}
		b.state = BreakerHalfOpen
		b.trialInFlight = true
		setBreakerStateGauge(agentType, BreakerHalfOpen)
		return nil

	case BreakerHalfOpen:
		if b.trialInFlight {
			breakerFastFails.WithLabelValues(string(agentType)).Inc()
			return fmt.Errorf("%w: agent type %s trial in flight", ErrCircuitOpen, agentType)
		}
		b.trialInFlight = true
		return nil
	}
	return nil
}

// RecordSuccess resets the breaker after a successful call.
func (s *BreakerSet) RecordSuccess(agentType contract.AgentType) {
	b := s.get(agentType)
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0
	b.trialInFlight = false
	if b.state != BreakerClosed {
		b.state = BreakerClosed
		setBreakerStateGauge(agentType, BreakerClosed)
	}
}

// Release returns an admitted slot without recording an outcome, for calls
// that aborted between admission and the downstream request. A half-open
// trial released this way stays half-open and the next caller may retry it.
func (s *BreakerSet) Release(agentType contract.AgentType) {
	b := s.get(agentType)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trialInFlight = false
}

// RecordFailure counts a downstream failure. Reaching the threshold, or any
// failure during a half-open trial, opens the breaker and restarts the
// cooldown. Fast-fails from ErrCircuitOpen must not be recorded here.
func (s *BreakerSet) RecordFailure(agentType contract.AgentType) {
	b := s.get(agentType)
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerHalfOpen {
		b.open(s.clock.Now())
		setBreakerStateGauge(agentType, BreakerOpen)
		return
	}

	b.consecutiveFailures++
	if b.state == BreakerClosed && b.consecutiveFailures >= s.cfg.FailureThreshold {
		b.open(s.clock.Now())
		setBreakerStateGauge(agentType, BreakerOpen)
	}
}

func (b *breaker) open(now time.Time) {
	b.state = BreakerOpen
	b.openedAt = now
	b.trialInFlight = false
	b.consecutiveFailures = 0
}

// State returns the current state for an agent type.
func (s *BreakerSet) State(agentType contract.AgentType) BreakerState {
	b := s.get(agentType)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
