package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/ventureforge/orchestd/internal/execctx"
)

// Span names emitted by the workflow engine. Dashboards and SLOs key on
// these; do not rename without migrating them.
const (
	SpanExecutionStart    = "execution.start"
	SpanExecutionComplete = "execution.complete"
	SpanExecutionDelegate = "execution.delegate"
	SpanContextLoad       = "context.load"
)

// Attribute keys shared across spans and metrics.
const (
	AttrAgentType   = "agent_type"
	AttrStage       = "stage"
	AttrStatus      = "status"
	AttrLanguage    = "language"
	AttrProjectHash = "project_hash"
	AttrCorrelation = "correlation_id"
)

// Workflow is the engine's tracer facade. All spans carry the tenant
// attributes from the execution context; the raw project UUID never
// appears, only its hash.
type Workflow struct {
	tracer oteltrace.Tracer
}

// NewWorkflow creates the engine instrumentation scope. t may be nil; all
// spans are then no-ops.
func NewWorkflow(t *Telemetry) *Workflow {
	return &Workflow{tracer: t.Tracer("orchestd.engine")}
}

// Start opens a span with the tenant attributes from ec plus any extras.
func (w *Workflow) Start(ctx context.Context, name string, ec execctx.ExecutionContext, extra ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	attrs := append(ContextAttributes(ec), extra...)
	return w.tracer.Start(ctx, name, oteltrace.WithAttributes(attrs...))
}

// End closes the span, recording err as the span status when non-nil.
func (w *Workflow) End(span oteltrace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// ContextAttributes returns the tenant attributes for an execution context.
func ContextAttributes(ec execctx.ExecutionContext) []attribute.KeyValue {
	if ec.Zero() {
		return nil
	}
	return []attribute.KeyValue{
		attribute.String(AttrProjectHash, ec.ProjectHash()),
		attribute.String(AttrCorrelation, ec.CorrelationID().String()),
		attribute.String(AttrStage, string(ec.Stage())),
		attribute.String(AttrLanguage, ec.Language()),
	}
}

// AgentType returns the agent type attribute.
func AgentType(agentType string) attribute.KeyValue {
	return attribute.String(AttrAgentType, agentType)
}

// Status returns the status attribute.
func Status(status string) attribute.KeyValue {
	return attribute.String(AttrStatus, status)
}
