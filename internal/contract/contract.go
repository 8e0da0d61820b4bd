// Package contract defines the versioned input/output schemas exchanged with
// agents and the runtime validation that static types cannot express.
package contract

import (
	"time"

	"github.com/google/uuid"
)

// Stage identifies one of the four sequential project stages.
type Stage string

const (
	StageIdea         Stage = "idea"
	StageSpecs        Stage = "specs"
	StageArchitecture Stage = "architecture"
	StagePlanning     Stage = "planning"
)

// AllStages returns the stages in project order.
func AllStages() []Stage {
	return []Stage{StageIdea, StageSpecs, StageArchitecture, StagePlanning}
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	switch s {
	case StageIdea, StageSpecs, StageArchitecture, StagePlanning:
		return true
	}
	return false
}

// AgentType identifies an agent implementation (coordinator or specialist).
type AgentType string

// Coordinator is the top-level agent that delegates to specialists.
const Coordinator AgentType = "coordinator"

// CurrentSchemaVersion is the envelope version the engine emits. Older
// versions stay registered; this only selects what new inputs are built as.
const CurrentSchemaVersion = "v1"

// OutputStatus is the terminal disposition reported by an agent.
type OutputStatus string

const (
	StatusSuccess    OutputStatus = "success"
	StatusError      OutputStatus = "error"
	StatusNeedsInput OutputStatus = "needs_input"
)

// Valid reports whether s is a known output status.
func (s OutputStatus) Valid() bool {
	switch s {
	case StatusSuccess, StatusError, StatusNeedsInput:
		return true
	}
	return false
}

// AgentInput is the versioned envelope handed to an agent invocation.
//
// Tenant fields are embedded so every payload that crosses the invocation
// boundary carries its own isolation identity. Payload holds the
// agent-specific fields constrained by the registered schema.
type AgentInput struct {
	SchemaVersion string         `json:"schema_version"`
	AgentType     AgentType      `json:"agent_type"`
	ProjectID     uuid.UUID      `json:"project_id"`
	CorrelationID uuid.UUID      `json:"correlation_id"`
	UserID        uuid.UUID      `json:"user_id"`
	Language      string         `json:"language"`
	Stage         Stage          `json:"stage"`
	Payload       map[string]any `json:"payload,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// AgentOutput is the versioned envelope returned by an agent invocation.
//
// NextAgent points at the specialist the output delegates to; nil means
// control returns to the coordinator.
type AgentOutput struct {
	SchemaVersion string         `json:"schema_version"`
	Status        OutputStatus   `json:"status"`
	Content       string         `json:"content"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	NextAgent     *AgentType     `json:"next_agent,omitempty"`
}
