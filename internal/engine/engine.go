// Package engine drives workflows from start to a terminal state. One
// goroutine runs per active correlation id; workflows are independent except
// for the circuit breaker state shared through the invoker.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ventureforge/orchestd/internal/agent"
	"github.com/ventureforge/orchestd/internal/contract"
	"github.com/ventureforge/orchestd/internal/execctx"
	"github.com/ventureforge/orchestd/internal/isolation"
	"github.com/ventureforge/orchestd/internal/logging"
	"github.com/ventureforge/orchestd/internal/memsearch"
	"github.com/ventureforge/orchestd/internal/progress"
	"github.com/ventureforge/orchestd/internal/telemetry"
	"github.com/ventureforge/orchestd/internal/tracker"
)

var (
	// ErrWorkflowNotFound is returned when no workflow, progress state or
	// execution record exists for a correlation id.
	ErrWorkflowNotFound = errors.New("workflow not found")
	// ErrNotSuspended is returned by Resume when the workflow is not
	// waiting for input.
	ErrNotSuspended = errors.New("workflow is not awaiting input")
	// ErrDelegationDepth is returned when the delegation stack would
	// exceed the configured bound.
	ErrDelegationDepth = errors.New("delegation depth exceeded")
)

// Config holds engine limits.
type Config struct {
	// WorkflowTimeout is the hard ceiling on one run. Exceeding it fails
	// the workflow with reason "timeout".
	WorkflowTimeout time.Duration
	// MaxDelegationDepth bounds the delegation stack.
	MaxDelegationDepth int
	// Coordinator is the agent a workflow starts with when the request
	// names none.
	Coordinator contract.AgentType
}

// applyDefaults fills unset config fields.
func (c *Config) applyDefaults() {
	if c.WorkflowTimeout <= 0 {
		c.WorkflowTimeout = 300 * time.Second
	}
	if c.MaxDelegationDepth <= 0 {
		c.MaxDelegationDepth = 8
	}
	if c.Coordinator == "" {
		c.Coordinator = contract.Coordinator
	}
}

// Deps are the engine's collaborators. Invoker is expected to already be
// wrapped with the resilience layer. Memory is optional; when set, each step
// is enriched with project memories before invocation.
type Deps struct {
	Registry  *contract.Registry
	Isolation *isolation.Validator
	Tracker   *tracker.Tracker
	Progress  *progress.Manager
	Invoker   agent.Invoker
	Memory    memsearch.Searcher
	Telemetry *telemetry.Workflow
	Logger    *logging.Logger
}

// Engine coordinates workflow execution.
type Engine struct {
	cfg       Config
	registry  *contract.Registry
	iso       *isolation.Validator
	tracker   *tracker.Tracker
	progress  *progress.Manager
	invoker   agent.Invoker
	memory    memsearch.Searcher
	tel       *telemetry.Workflow
	log       *logging.Logger
	workflows *workflowTable
}

// New creates an engine. Logger and Telemetry may be nil.
func New(deps Deps, cfg Config) *Engine {
	cfg.applyDefaults()
	log := deps.Logger
	if log == nil {
		log = logging.NewNop()
	}
	tel := deps.Telemetry
	if tel == nil {
		tel = telemetry.NewWorkflow(nil)
	}
	return &Engine{
		cfg:       cfg,
		registry:  deps.Registry,
		iso:       deps.Isolation,
		tracker:   deps.Tracker,
		progress:  deps.Progress,
		invoker:   deps.Invoker,
		memory:    deps.Memory,
		tel:       tel,
		log:       log.Named("engine"),
		workflows: newWorkflowTable(),
	}
}

// StartRequest describes a new workflow.
type StartRequest struct {
	ProjectID uuid.UUID
	UserID    uuid.UUID
	Stage     contract.Stage
	Language  string
	// AgentType is the first agent to run; empty means the coordinator.
	AgentType contract.AgentType
	Input     map[string]any
	// CorrelationID ties the workflow to an externally supplied id. Zero
	// means one is generated.
	CorrelationID uuid.UUID
}

// Start validates the request and launches the workflow goroutine. It is
// idempotent on correlation id: while a workflow for the same correlation id
// is still active, Start returns that id instead of creating a duplicate.
// Validation and isolation failures are returned synchronously; no execution
// record is created for a request that never passes the gate.
func (e *Engine) Start(ctx context.Context, req StartRequest) (uuid.UUID, error) {
	ctx, span := e.tel.Start(ctx, telemetry.SpanContextLoad, execctx.ExecutionContext{})
	defer span.End()

	var opts []execctx.Option
	if req.CorrelationID != uuid.Nil {
		opts = append(opts, execctx.WithCorrelationID(req.CorrelationID))
	}
	ec, err := execctx.New(req.ProjectID, req.UserID, req.Stage, req.Language, opts...)
	if err != nil {
		return uuid.Nil, err
	}
	ctx = execctx.Into(ctx, ec)

	if existing, ok := e.activeWorkflow(ctx, ec.CorrelationID()); ok {
		e.log.Info(ctx, "start is idempotent, returning active workflow")
		return existing, nil
	}

	agentType := req.AgentType
	if agentType == "" {
		agentType = e.cfg.Coordinator
	}

	input := e.buildInput(ec, agentType, req.Input)
	if err := e.registry.ValidateInput(input); err != nil {
		return uuid.Nil, err
	}
	if err := e.iso.Authorize(ctx, ec, input.ProjectID, input.Language); err != nil {
		return uuid.Nil, err
	}

	wf := &workflow{
		ec:    ec,
		state: StatePending,
		done:  make(chan struct{}),
	}
	if !e.workflows.putIfAbsent(ec.CorrelationID(), wf) {
		// Lost the race to a concurrent Start with the same id.
		return ec.CorrelationID(), nil
	}

	if _, err := e.progress.Create(ctx, ec, string(StatePending), agentType); err != nil {
		e.workflows.remove(ec.CorrelationID())
		return uuid.Nil, fmt.Errorf("create progress state: %w", err)
	}

	workflowsStarted.Inc()
	activeWorkflows.Inc()
	wf.takeSlot()
	e.log.Info(ctx, "workflow started", zap.String("agent_type", string(agentType)))

	runCtx, cancel := context.WithTimeout(context.Background(), e.cfg.WorkflowTimeout)
	wf.cancel = cancel
	go e.run(execctx.Into(runCtx, ec), wf, []frame{{agent: agentType, payload: req.Input}})

	return ec.CorrelationID(), nil
}

// Resume re-enters RUNNING from NEEDS_INPUT. userInput is merged into the
// suspended agent's payload; the delegation stack is preserved.
func (e *Engine) Resume(ctx context.Context, correlationID uuid.UUID, userInput map[string]any) error {
	wf, ok := e.workflows.get(correlationID)
	if !ok {
		return ErrWorkflowNotFound
	}

	wf.mu.Lock()
	if wf.state != StateNeedsInput || wf.suspended == nil {
		wf.mu.Unlock()
		return ErrNotSuspended
	}
	sus := wf.suspended
	wf.suspended = nil
	wf.state = StateRunning
	wf.done = make(chan struct{})

	// A fresh context via WithOverride: same tenant and correlation, so
	// audit continuity holds across the suspend gap.
	ec, err := wf.ec.WithOverride(execctx.Override{})
	if err != nil {
		wf.mu.Unlock()
		return err
	}
	wf.ec = ec
	wf.mu.Unlock()

	payload := make(map[string]any, len(sus.payload)+len(userInput))
	for k, v := range sus.payload {
		payload[k] = v
	}
	for k, v := range userInput {
		payload[k] = v
	}

	ctx = execctx.Into(ctx, ec)
	activeWorkflows.Inc()
	wf.takeSlot()
	e.log.Info(ctx, "workflow resumed", zap.String("agent_type", string(sus.agent)))

	runCtx, cancel := context.WithTimeout(context.Background(), e.cfg.WorkflowTimeout)
	wf.cancel = cancel
	stack := append(sus.stack, frame{agent: sus.agent, payload: payload})
	go e.run(execctx.Into(runCtx, ec), wf, stack)
	return nil
}

// Status describes a workflow's current position.
type Status struct {
	CorrelationID uuid.UUID
	State         State
	Progress      *progress.State
	Record        *tracker.Record
}

// Status returns the live state for an active workflow, or falls back to
// the progress snapshot and finally the latest execution record once the
// in-memory handle is gone.
func (e *Engine) Status(ctx context.Context, correlationID uuid.UUID) (Status, error) {
	st := Status{CorrelationID: correlationID}

	if wf, ok := e.workflows.get(correlationID); ok {
		st.State = wf.currentState()
	}

	if ps, err := e.progress.Get(ctx, correlationID); err == nil {
		st.Progress = &ps
		if st.State == "" {
			st.State = State(ps.WorkflowState)
		}
	}

	if rec, err := e.tracker.LatestByCorrelation(ctx, correlationID); err == nil {
		st.Record = &rec
		if st.State == "" {
			st.State = stateFromRecord(rec.Status)
		}
	} else if !errors.Is(err, tracker.ErrNotFound) {
		return Status{}, err
	}

	if st.State == "" {
		return Status{}, ErrWorkflowNotFound
	}
	return st, nil
}

// Cancel aborts an in-flight workflow with reason "cancelled". The waiting
// task is released without blocking on any in-flight agent call.
func (e *Engine) Cancel(ctx context.Context, correlationID uuid.UUID) error {
	wf, ok := e.workflows.get(correlationID)
	if !ok {
		return ErrWorkflowNotFound
	}

	wf.mu.Lock()
	state := wf.state
	if state.Terminal() {
		wf.mu.Unlock()
		return nil
	}
	wf.reason = reasonCancelled
	suspended := state == StateNeedsInput
	cancel := wf.cancel
	wf.mu.Unlock()

	if suspended {
		// No goroutine is running; finalize directly.
		e.finalize(execctx.Into(ctx, wf.ec), wf, StateFailed)
		return nil
	}
	if cancel != nil {
		cancel()
	}
	return nil
}

// activeWorkflow reports whether a workflow for the correlation id is still
// in flight, consulting the in-memory table first and the progress store
// second so idempotency survives an engine restart.
func (e *Engine) activeWorkflow(ctx context.Context, correlationID uuid.UUID) (uuid.UUID, bool) {
	if wf, ok := e.workflows.get(correlationID); ok {
		if !wf.currentState().Terminal() {
			return correlationID, true
		}
		return uuid.Nil, false
	}
	if ps, err := e.progress.Get(ctx, correlationID); err == nil {
		if !State(ps.WorkflowState).Terminal() {
			return correlationID, true
		}
	}
	return uuid.Nil, false
}

func (e *Engine) buildInput(ec execctx.ExecutionContext, agentType contract.AgentType, payload map[string]any) contract.AgentInput {
	return contract.AgentInput{
		SchemaVersion: contract.CurrentSchemaVersion,
		AgentType:     agentType,
		ProjectID:     ec.ProjectID(),
		CorrelationID: ec.CorrelationID(),
		UserID:        ec.UserID(),
		Language:      ec.Language(),
		Stage:         ec.Stage(),
		Payload:       payload,
		CreatedAt:     time.Now().UTC(),
	}
}

func stateFromRecord(status tracker.Status) State {
	switch status {
	case tracker.StatusPending:
		return StatePending
	case tracker.StatusRunning:
		return StateRunning
	case tracker.StatusCompleted:
		return StateCompleted
	case tracker.StatusFailed:
		return StateFailed
	}
	return ""
}
