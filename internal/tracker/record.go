// Package tracker owns the durable ExecutionRecord lifecycle.
//
// A record is inserted pending at invocation start, moved to running, and
// mutated exactly once more with a terminal update. Status transitions are
// monotonic; the store rejects anything that would move a record backward.
// Records are retained for audit and never deleted.
package tracker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is the execution record lifecycle status.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether s is a terminal status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Store errors.
var (
	ErrNotFound = errors.New("execution record not found")

	// ErrInvalidTransition is returned when an update would move a record
	// backward (e.g. completing an already failed record).
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Record is one agent invocation, durably tracked.
type Record struct {
	ID            uuid.UUID      `json:"id"`
	ProjectID     uuid.UUID      `json:"project_id"`
	CorrelationID uuid.UUID      `json:"correlation_id"`
	AgentType     string         `json:"agent_type"`
	InputData     map[string]any `json:"input_data,omitempty"`
	OutputData    map[string]any `json:"output_data,omitempty"`
	Status        Status         `json:"status"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	StartedAt     time.Time      `json:"started_at"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	DurationMS    *int64         `json:"duration_ms,omitempty"`
}

// TerminalUpdate carries the fields of the second (terminal) mutation.
type TerminalUpdate struct {
	Status       Status
	OutputData   map[string]any
	ErrorMessage string
	CompletedAt  time.Time
	DurationMS   int64
}

// DurableStore is the persistence boundary for execution records. Terminal
// updates must be applied atomically in a single transaction, and the store
// must provide at least read-committed isolation.
type DurableStore interface {
	// Insert writes a new record.
	Insert(ctx context.Context, rec Record) error

	// Transition moves a record from one non-terminal status to another.
	// Returns ErrInvalidTransition when the record is not in from.
	Transition(ctx context.Context, id uuid.UUID, from, to Status) error

	// UpdateTerminal atomically applies the terminal mutation. Returns
	// ErrInvalidTransition when the record is already terminal.
	UpdateTerminal(ctx context.Context, id uuid.UUID, update TerminalUpdate) error

	// Get returns a record by id.
	Get(ctx context.Context, id uuid.UUID) (Record, error)

	// GetLatestByCorrelation returns the most recently started record for
	// a correlation id.
	GetLatestByCorrelation(ctx context.Context, correlationID uuid.UUID) (Record, error)

	// ListByProject returns the most recent records for a project.
	ListByProject(ctx context.Context, projectID uuid.UUID, limit int) ([]Record, error)

	// FailStaleRunning marks records running since before cutoff as failed
	// with the given reason, returning how many were reaped.
	FailStaleRunning(ctx context.Context, cutoff time.Time, reason string) (int64, error)
}
