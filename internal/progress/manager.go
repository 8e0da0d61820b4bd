package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ventureforge/orchestd/internal/contract"
	"github.com/ventureforge/orchestd/internal/execctx"
	"github.com/ventureforge/orchestd/internal/logging"
)

// DefaultTTL bounds how long a progress snapshot outlives its last write.
const DefaultTTL = 24 * time.Hour

// Manager owns the progress lifecycle for workflows. The TTL is fixed at
// creation: updates rewrite the value with the remaining portion of the
// original window, so a snapshot never lives past CreatedAt+TTL. Refresh
// mode (RefreshTTLOnUpdate) restarts the window on every write instead.
type Manager struct {
	store    TransientStore
	notifier Notifier
	log      *logging.Logger
	ttl      time.Duration
	refresh  bool
	now      func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithTTL overrides the default snapshot lifetime.
func WithTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) { m.ttl = ttl }
}

// RefreshTTLOnUpdate makes every update restart the TTL window instead of
// consuming the window fixed at creation.
func RefreshTTLOnUpdate() ManagerOption {
	return func(m *Manager) { m.refresh = true }
}

// WithManagerClock overrides the manager's clock for tests.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a progress manager. notifier may be nil to disable
// broadcasting; logger may be nil.
func NewManager(store TransientStore, notifier Notifier, log *logging.Logger, opts ...ManagerOption) *Manager {
	if log == nil {
		log = logging.NewNop()
	}
	m := &Manager{
		store:    store,
		notifier: notifier,
		log:      log.Named("progress"),
		ttl:      DefaultTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create writes the initial snapshot for a workflow and broadcasts it.
func (m *Manager) Create(ctx context.Context, ec execctx.ExecutionContext, workflowState string, agent contract.AgentType) (State, error) {
	now := m.now().UTC()
	state := State{
		CorrelationID: ec.CorrelationID(),
		Stage:         ec.Stage(),
		WorkflowState: workflowState,
		CurrentAgent:  agent,
		Percent:       0,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := m.put(ctx, state, m.ttl); err != nil {
		return State{}, err
	}
	m.broadcast(ctx, state)
	return state, nil
}

// Update mutates the snapshot for a correlation id. Percent must not
// decrease; equal percent is allowed so state-only updates pass through.
// Updating a missing (or expired) snapshot returns ErrNotFound.
func (m *Manager) Update(ctx context.Context, correlationID uuid.UUID, workflowState string, agent contract.AgentType, percent int) (State, error) {
	state, err := m.Get(ctx, correlationID)
	if err != nil {
		return State{}, err
	}
	if percent < state.Percent {
		return State{}, fmt.Errorf("%w: %d -> %d", ErrRegressingPercent, state.Percent, percent)
	}

	now := m.now().UTC()
	state.WorkflowState = workflowState
	state.CurrentAgent = agent
	state.Percent = percent
	state.UpdatedAt = now

	ttl := m.ttl
	if !m.refresh {
		ttl = m.ttl - now.Sub(state.CreatedAt)
		if ttl <= 0 {
			return State{}, ErrNotFound
		}
	}
	if err := m.put(ctx, state, ttl); err != nil {
		return State{}, err
	}
	m.broadcast(ctx, state)
	return state, nil
}

// Get returns the current snapshot, or ErrNotFound once the TTL has lapsed.
func (m *Manager) Get(ctx context.Context, correlationID uuid.UUID) (State, error) {
	raw, err := m.store.Get(ctx, Key(correlationID))
	if err != nil {
		return State{}, err
	}
	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		return State{}, fmt.Errorf("decode progress state: %w", err)
	}
	return state, nil
}

// Clear drops the snapshot for a correlation id. Clearing an absent
// snapshot is a no-op.
func (m *Manager) Clear(ctx context.Context, correlationID uuid.UUID) error {
	return m.store.Delete(ctx, Key(correlationID))
}

func (m *Manager) put(ctx context.Context, state State, ttl time.Duration) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode progress state: %w", err)
	}
	return m.store.Set(ctx, Key(state.CorrelationID), raw, ttl)
}

func (m *Manager) broadcast(ctx context.Context, state State) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.PublishProgress(ctx, state); err != nil {
		// Broadcast is best-effort; the store remains the source of truth.
		m.log.Warn(ctx, "progress broadcast failed", zap.Error(err))
	}
}
