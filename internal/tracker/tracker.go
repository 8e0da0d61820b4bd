package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ventureforge/orchestd/internal/contract"
	"github.com/ventureforge/orchestd/internal/execctx"
	"github.com/ventureforge/orchestd/internal/logging"
)

// Tracker is the sole writer of execution records.
type Tracker struct {
	store DurableStore
	log   *logging.Logger
	now   func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source. For tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// New creates a tracker over a durable store. logger may be nil.
func New(store DurableStore, logger *logging.Logger, opts ...Option) *Tracker {
	if logger == nil {
		logger = logging.NewNop()
	}
	t := &Tracker{
		store: store,
		log:   logger.Named("tracker"),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// StartExecution inserts a pending record for one agent invocation attempt
// and immediately transitions it to running. Input must already be
// sanitized; the tracker stores what it is given.
func (t *Tracker) StartExecution(ctx context.Context, ec execctx.ExecutionContext, agentType contract.AgentType, sanitizedInput map[string]any) (uuid.UUID, error) {
	rec := Record{
		ID:            uuid.New(),
		ProjectID:     ec.ProjectID(),
		CorrelationID: ec.CorrelationID(),
		AgentType:     string(agentType),
		InputData:     sanitizedInput,
		Status:        StatusPending,
		StartedAt:     t.now(),
	}

	if err := t.store.Insert(ctx, rec); err != nil {
		return uuid.Nil, fmt.Errorf("insert execution record: %w", err)
	}
	if err := t.store.Transition(ctx, rec.ID, StatusPending, StatusRunning); err != nil {
		return uuid.Nil, fmt.Errorf("mark execution running: %w", err)
	}

	t.log.Debug(ctx, "execution started", zap.String("execution_id", rec.ID.String()))
	return rec.ID, nil
}

// CompleteExecution applies the terminal success mutation: status, completion
// time and duration are written in one transaction.
func (t *Tracker) CompleteExecution(ctx context.Context, executionID uuid.UUID, sanitizedOutput map[string]any) error {
	rec, err := t.store.Get(ctx, executionID)
	if err != nil {
		return fmt.Errorf("load execution record: %w", err)
	}

	now := t.now()
	update := TerminalUpdate{
		Status:      StatusCompleted,
		OutputData:  sanitizedOutput,
		CompletedAt: now,
		DurationMS:  now.Sub(rec.StartedAt).Milliseconds(),
	}
	if err := t.store.UpdateTerminal(ctx, executionID, update); err != nil {
		return fmt.Errorf("complete execution record: %w", err)
	}

	t.log.Debug(ctx, "execution completed",
		zap.String("execution_id", executionID.String()),
		zap.Int64("duration_ms", update.DurationMS),
	)
	return nil
}

// FailExecution applies the terminal failure mutation with the captured
// error message.
func (t *Tracker) FailExecution(ctx context.Context, executionID uuid.UUID, errorMessage string) error {
	rec, err := t.store.Get(ctx, executionID)
	if err != nil {
		return fmt.Errorf("load execution record: %w", err)
	}

	now := t.now()
	update := TerminalUpdate{
		Status:       StatusFailed,
		ErrorMessage: contract.SanitizeText(errorMessage),
		CompletedAt:  now,
		DurationMS:   now.Sub(rec.StartedAt).Milliseconds(),
	}
	if err := t.store.UpdateTerminal(ctx, executionID, update); err != nil {
		return fmt.Errorf("fail execution record: %w", err)
	}

	t.log.Debug(ctx, "execution failed",
		zap.String("execution_id", executionID.String()),
		zap.String("reason", update.ErrorMessage),
	)
	return nil
}

// Get returns one record.
func (t *Tracker) Get(ctx context.Context, executionID uuid.UUID) (Record, error) {
	return t.store.Get(ctx, executionID)
}

// LatestByCorrelation returns the most recent record for a workflow.
func (t *Tracker) LatestByCorrelation(ctx context.Context, correlationID uuid.UUID) (Record, error) {
	return t.store.GetLatestByCorrelation(ctx, correlationID)
}

// ListByProject returns recent records for a project. Callers must authorize
// the project against their execution context before calling.
func (t *Tracker) ListByProject(ctx context.Context, projectID uuid.UUID, limit int) ([]Record, error) {
	return t.store.ListByProject(ctx, projectID, limit)
}
