package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ventureforge/orchestd/internal/contract"
	"github.com/ventureforge/orchestd/internal/execctx"
	"github.com/ventureforge/orchestd/internal/telemetry"
)

// Cancellation reasons recorded on the execution record.
const (
	reasonCancelled = "cancelled"
	reasonTimeout   = "timeout"
)

// run drives one workflow to a terminal or suspend state. It owns wf for
// the duration; only Cancel touches it concurrently, through the guarded
// fields and the context.
func (e *Engine) run(ctx context.Context, wf *workflow, stack []frame) {
	defer close(wf.done)

	ec := wf.ec
	steps := 0

	for len(stack) > 0 {
		if ctx.Err() != nil {
			e.failWorkflow(ctx, wf, uuid.Nil, e.abortReason(ctx, wf))
			return
		}

		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		wf.setState(StateRunning)
		e.updateProgress(ctx, wf, StateRunning, f.agent, stepPercent(steps))

		input := e.buildInput(ec, f.agent, f.payload)

		stepCtx, span := e.tel.Start(ctx, telemetry.SpanExecutionStart, ec,
			telemetry.AgentType(string(f.agent)))

		if err := e.registry.ValidateInput(input); err != nil {
			e.tel.End(span, err)
			e.recordRejected(ctx, wf, f.agent, f.payload, err)
			return
		}
		if err := e.iso.Authorize(stepCtx, ec, input.ProjectID, input.Language); err != nil {
			e.tel.End(span, err)
			e.recordRejected(ctx, wf, f.agent, f.payload, err)
			return
		}

		execID, err := e.tracker.StartExecution(stepCtx, ec, f.agent, contract.SanitizePayload(f.payload))
		if err != nil {
			e.tel.End(span, err)
			e.log.Error(ctx, "start execution failed", zap.Error(err))
			e.failWorkflow(ctx, wf, uuid.Nil, "start execution: "+err.Error())
			return
		}
		e.tel.End(span, nil)

		input = e.enrichWithMemory(stepCtx, ec, f.agent, input)

		output, err := e.invoker.Invoke(stepCtx, input)

		_, completeSpan := e.tel.Start(ctx, telemetry.SpanExecutionComplete, ec,
			telemetry.AgentType(string(f.agent)), telemetry.Status(invokeStatus(output, err)))
		if err != nil {
			e.tel.End(completeSpan, err)
			e.failWorkflow(ctx, wf, execID, e.failureReason(ctx, wf, err))
			return
		}
		if verr := e.registry.ValidateOutput(output); verr != nil {
			e.tel.End(completeSpan, verr)
			e.failWorkflow(ctx, wf, execID, verr.Error())
			return
		}
		if output.Status == contract.StatusError {
			e.tel.End(completeSpan, errors.New("agent reported error"))
			e.failWorkflow(ctx, wf, execID, "agent error: "+contract.SanitizeText(output.Content))
			return
		}

		if cerr := e.tracker.CompleteExecution(context.WithoutCancel(ctx), execID, outputRecord(output)); cerr != nil {
			e.tel.End(completeSpan, cerr)
			e.log.Error(ctx, "complete execution failed", zap.Error(cerr))
			e.failWorkflow(ctx, wf, uuid.Nil, "complete execution: "+cerr.Error())
			return
		}
		e.tel.End(completeSpan, nil)
		steps++
		stepsCompleted.WithLabelValues(string(f.agent)).Inc()

		if output.Status == contract.StatusNeedsInput {
			e.suspend(ctx, wf, f, stack)
			return
		}

		if output.NextAgent != nil {
			if len(stack)+2 > e.cfg.MaxDelegationDepth {
				e.failWorkflow(ctx, wf, uuid.Nil, ErrDelegationDepth.Error())
				return
			}
			_, delegateSpan := e.tel.Start(ctx, telemetry.SpanExecutionDelegate, ec,
				telemetry.AgentType(string(*output.NextAgent)))
			e.tel.End(delegateSpan, nil)
			delegations.Inc()

			wf.setState(StateDelegating)
			e.updateProgress(ctx, wf, StateDelegating, *output.NextAgent, stepPercent(steps))

			// The current agent's return frame keeps its original payload;
			// the child's result is merged in when control comes back.
			stack = append(stack,
				frame{agent: f.agent, payload: f.payload},
				frame{agent: *output.NextAgent, payload: delegatePayload(output)},
			)
			continue
		}

		// Control returns to the delegating agent with the result merged
		// into its original payload.
		if len(stack) > 0 {
			parent := &stack[len(stack)-1]
			parent.payload = mergeResult(parent.payload, output)
		}
	}

	e.updateProgress(ctx, wf, StateCompleted, "", 100)
	e.finalize(ctx, wf, StateCompleted)
	e.log.Info(ctx, "workflow completed", zap.Int("steps", steps))
}

// suspend parks the workflow in NEEDS_INPUT with its resume point.
func (e *Engine) suspend(ctx context.Context, wf *workflow, f frame, stack []frame) {
	wf.mu.Lock()
	wf.state = StateNeedsInput
	wf.suspended = &suspension{
		agent:   f.agent,
		payload: f.payload,
		stack:   append([]frame(nil), stack...),
	}
	cancel := wf.cancel
	wf.mu.Unlock()

	e.updateProgress(ctx, wf, StateNeedsInput, f.agent, -1)
	if wf.releaseSlot() {
		activeWorkflows.Dec()
	}
	e.log.Info(ctx, "workflow awaiting input", zap.String("agent_type", string(f.agent)))

	if cancel != nil {
		cancel()
	}
}

// failWorkflow records the step failure (when a record was started) and
// moves the workflow to FAILED.
func (e *Engine) failWorkflow(ctx context.Context, wf *workflow, execID uuid.UUID, reason string) {
	bg := context.WithoutCancel(ctx)
	if execID != uuid.Nil {
		if err := e.tracker.FailExecution(bg, execID, reason); err != nil {
			e.log.Error(bg, "fail execution update failed", zap.Error(err))
		}
	}
	e.log.Warn(bg, "workflow failed", zap.String("reason", reason))
	e.finalize(ctx, wf, StateFailed)
}

// recordRejected persists a failed record for a delegated step that never
// passed the validation or isolation gate, so the rejection is auditable.
func (e *Engine) recordRejected(ctx context.Context, wf *workflow, agentType contract.AgentType, payload map[string]any, cause error) {
	bg := context.WithoutCancel(ctx)
	execID, err := e.tracker.StartExecution(bg, wf.ec, agentType, contract.SanitizePayload(payload))
	if err != nil {
		e.log.Error(bg, "record rejected step failed", zap.Error(err))
		e.finalize(ctx, wf, StateFailed)
		return
	}
	e.failWorkflow(ctx, wf, execID, cause.Error())
}

// finalize moves the workflow to a terminal state, emits the final progress
// broadcast, clears the transient state and drops the in-memory handle.
func (e *Engine) finalize(ctx context.Context, wf *workflow, state State) {
	bg := context.WithoutCancel(ctx)
	wf.setState(state)

	if state == StateFailed {
		if ps, err := e.progress.Get(bg, wf.ec.CorrelationID()); err == nil {
			if _, err := e.progress.Update(bg, wf.ec.CorrelationID(), string(state), ps.CurrentAgent, ps.Percent); err != nil {
				e.log.Warn(bg, "final progress update failed", zap.Error(err))
			}
		}
	}
	if err := e.progress.Clear(bg, wf.ec.CorrelationID()); err != nil {
		e.log.Warn(bg, "progress clear failed", zap.Error(err))
	}

	workflowsTerminal.WithLabelValues(strings.ToLower(string(state))).Inc()
	if wf.releaseSlot() {
		activeWorkflows.Dec()
	}
	e.workflows.remove(wf.ec.CorrelationID())
}

// updateProgress is best-effort: a lost snapshot never fails the workflow.
// percent < 0 keeps the current percent.
func (e *Engine) updateProgress(ctx context.Context, wf *workflow, state State, agentType contract.AgentType, percent int) {
	bg := context.WithoutCancel(ctx)
	id := wf.ec.CorrelationID()
	if percent < 0 || agentType == "" {
		ps, err := e.progress.Get(bg, id)
		if err != nil {
			return
		}
		if percent < 0 {
			percent = ps.Percent
		}
		if agentType == "" {
			agentType = ps.CurrentAgent
		}
	}
	if _, err := e.progress.Update(bg, id, string(state), agentType, percent); err != nil {
		e.log.Warn(bg, "progress update failed", zap.Error(err))
	}
}

// memoryLimit caps how many project memories one step receives.
const memoryLimit = 5

// enrichWithMemory attaches tenant-scoped project memories to the step input
// under the "memory" payload key. Enrichment is advisory: a search failure is
// logged and the step proceeds without memories.
func (e *Engine) enrichWithMemory(ctx context.Context, ec execctx.ExecutionContext, agentType contract.AgentType, input contract.AgentInput) contract.AgentInput {
	if e.memory == nil {
		return input
	}
	query := memoryQuery(input.Payload)
	if query == "" {
		return input
	}

	mctx, span := e.tel.Start(ctx, telemetry.SpanContextLoad, ec,
		telemetry.AgentType(string(agentType)))
	results, err := e.memory.Search(mctx, ec, query, memoryLimit)
	e.tel.End(span, err)
	if err != nil {
		e.log.Warn(ctx, "memory search failed", zap.Error(err))
		return input
	}
	if len(results) == 0 {
		return input
	}

	memories := make([]any, 0, len(results))
	for _, r := range results {
		memories = append(memories, map[string]any{
			"id":      r.ID,
			"content": r.Content,
			"score":   float64(r.Score),
		})
	}

	payload := make(map[string]any, len(input.Payload)+1)
	for k, v := range input.Payload {
		payload[k] = v
	}
	payload["memory"] = memories
	input.Payload = payload
	return input
}

// memoryQuery picks the free-text field to search memories with.
func memoryQuery(payload map[string]any) string {
	for _, key := range []string{"prompt", "content"} {
		if s, ok := payload[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// abortReason distinguishes an operator cancel from the workflow ceiling.
func (e *Engine) abortReason(ctx context.Context, wf *workflow) string {
	if r := wf.cancelReason(); r != "" {
		return r
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return reasonTimeout
	}
	return reasonCancelled
}

func (e *Engine) failureReason(ctx context.Context, wf *workflow, err error) string {
	if ctx.Err() != nil {
		return e.abortReason(ctx, wf)
	}
	return contract.SanitizeText(err.Error())
}

// stepPercent maps completed step count to a monotonic progress percent,
// leaving headroom for the terminal 100.
func stepPercent(steps int) int {
	p := 5 + steps*20
	if p > 90 {
		p = 90
	}
	return p
}

// delegatePayload is the input the delegation target receives.
func delegatePayload(output contract.AgentOutput) map[string]any {
	payload := make(map[string]any, len(output.Metadata)+1)
	for k, v := range output.Metadata {
		payload[k] = v
	}
	payload["content"] = output.Content
	return payload
}

// mergeResult overlays a child agent's result onto the delegating agent's
// original payload so its schema-required fields survive the round trip.
func mergeResult(parent map[string]any, output contract.AgentOutput) map[string]any {
	merged := make(map[string]any, len(parent)+2)
	for k, v := range parent {
		merged[k] = v
	}
	merged["result"] = output.Content
	if len(output.Metadata) > 0 {
		merged["result_metadata"] = output.Metadata
	}
	return merged
}

// outputRecord is the sanitized durable form of an agent output.
func outputRecord(output contract.AgentOutput) map[string]any {
	rec := map[string]any{
		"status":  string(output.Status),
		"content": contract.SanitizeText(output.Content),
	}
	if len(output.Metadata) > 0 {
		rec["metadata"] = contract.SanitizePayload(output.Metadata)
	}
	if output.NextAgent != nil {
		rec["next_agent"] = string(*output.NextAgent)
	}
	return rec
}

func invokeStatus(output contract.AgentOutput, err error) string {
	if err != nil {
		return "error"
	}
	return string(output.Status)
}
