// Package progress manages the transient, TTL-bound view of a running
// workflow. State is written by exactly one workflow task per correlation id
// and read by any number of subscribers; when the TTL lapses the state is
// simply gone, never an error in itself.
package progress

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ventureforge/orchestd/internal/contract"
)

// ErrNotFound is returned when no unexpired state exists for a correlation id.
var ErrNotFound = errors.New("progress state not found")

// ErrRegressingPercent is returned when an update would move progress
// backward. The engine enforces monotonic percent; the store does not.
var ErrRegressingPercent = errors.New("progress percent must not decrease")

// State is the transient progress snapshot for one workflow.
type State struct {
	CorrelationID uuid.UUID          `json:"correlation_id"`
	Stage         contract.Stage     `json:"stage"`
	WorkflowState string             `json:"workflow_state"`
	CurrentAgent  contract.AgentType `json:"current_agent"`
	Percent       int                `json:"progress_percent"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// TransientStore is the TTL-bound key/value boundary. Keys follow the
// pattern "execution:{correlation_id}".
type TransientStore interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Notifier broadcasts progress snapshots to external subscribers. A nil
// notifier disables broadcasting.
type Notifier interface {
	PublishProgress(ctx context.Context, state State) error
}

// Key returns the transient-store key for a correlation id.
func Key(correlationID uuid.UUID) string {
	return "execution:" + correlationID.String()
}
